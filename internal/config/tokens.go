package config

import (
	"time"

	"github.com/spf13/pflag"
)

// TokensConfig holds configuration for the tokens command.
type TokensConfig struct {
	RPCURL       string
	Addresses    []string
	Tokens       []TokenConfig
	CacheSize    int
	Concurrency  int
	MaxRetries   int
	RetryBackoff time.Duration
	Out          string
	LogLevel     string
}

// LoadTokens merges config file, environment variables, and flags into TokensConfig.
// Addresses from the address flag are resolved along with every configured token.
func LoadTokens(cfgFile string, flags *pflag.FlagSet) (TokensConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"cache-size":    1024,
		"concurrency":   8,
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
	})
	if err != nil {
		return TokensConfig{}, err
	}
	vault, err := loadVault(v)
	if err != nil {
		return TokensConfig{}, err
	}

	cfg := TokensConfig{
		RPCURL:       v.GetString("rpc"),
		Addresses:    getStringSlice(v, "address"),
		Tokens:       vault.Tokens,
		CacheSize:    v.GetInt("cache-size"),
		Concurrency:  v.GetInt("concurrency"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Out:          v.GetString("out"),
		LogLevel:     v.GetString("log-level"),
	}
	return cfg, nil
}
