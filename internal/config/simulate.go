package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Vault        VaultConfig
	RPCURL       string
	Ops          string
	EventsOut    string
	Errors       string
	PGDSN        string
	SnapshotFile string
	Now          uint64
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"events-out":    "./data/events.jsonl",
		"errors":        "./data/op_errors.jsonl",
		"snapshot-file": "./data/snapshot.json",
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	vault, err := loadVault(v)
	if err != nil {
		return SimulateConfig{}, err
	}
	now, err := ParseTimestamp(v.GetString("now"))
	if err != nil {
		return SimulateConfig{}, fmt.Errorf("parse now: %w", err)
	}

	cfg := SimulateConfig{
		Vault:        vault,
		RPCURL:       v.GetString("rpc"),
		Ops:          v.GetString("ops"),
		EventsOut:    v.GetString("events-out"),
		Errors:       v.GetString("errors"),
		PGDSN:        v.GetString("pg-dsn"),
		SnapshotFile: v.GetString("snapshot-file"),
		Now:          now,
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	return cfg, nil
}

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	Vault        VaultConfig
	SnapshotFile string
	PGDSN        string
	SnapshotName string
	LogLevel     string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"snapshot-file": "./data/snapshot.json",
		"snapshot-name": "vault",
	})
	if err != nil {
		return QuoteConfig{}, err
	}
	vault, err := loadVault(v)
	if err != nil {
		return QuoteConfig{}, err
	}
	return QuoteConfig{
		Vault:        vault,
		SnapshotFile: v.GetString("snapshot-file"),
		PGDSN:        v.GetString("pg-dsn"),
		SnapshotName: v.GetString("snapshot-name"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}
