package config

import (
	"github.com/spf13/pflag"
)

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Vault           VaultConfig
	In              string
	FromDB          bool
	PGDSN           string
	SnapshotFile    string
	SnapshotName    string
	CheckpointEvery int
	LogLevel        string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"in":               "./data/events.jsonl",
		"snapshot-name":    "replay",
		"checkpoint-every": 1000,
	})
	if err != nil {
		return ReplayConfig{}, err
	}
	vault, err := loadVault(v)
	if err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		Vault:           vault,
		In:              v.GetString("in"),
		FromDB:          v.GetBool("from-db"),
		PGDSN:           v.GetString("pg-dsn"),
		SnapshotFile:    v.GetString("snapshot-file"),
		SnapshotName:    v.GetString("snapshot-name"),
		CheckpointEvery: v.GetInt("checkpoint-every"),
		LogLevel:        v.GetString("log-level"),
	}
	return cfg, nil
}
