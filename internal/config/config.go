package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TokenConfig describes one asset. Decimals may be omitted when an RPC
// endpoint is configured; Balances funds holders before the first operation.
type TokenConfig struct {
	Address  string            `mapstructure:"address"`
	Symbol   string            `mapstructure:"symbol"`
	Decimals *uint8            `mapstructure:"decimals"`
	Balances map[string]string `mapstructure:"balances"`
}

// PoolConfig describes a pool registered at startup. An empty ID is derived
// from the assets, weights and salt.
type PoolConfig struct {
	ID      string   `mapstructure:"id"`
	Assets  []string `mapstructure:"assets"`
	Weights []string `mapstructure:"weights"`
	SwapFee string   `mapstructure:"swap-fee"`
	Salt    string   `mapstructure:"salt"`
}

// VaultConfig holds the vault parameters shared by every command.
type VaultConfig struct {
	Address            string
	Manager            string
	FeeReceiver        string
	FeeReceiverManager string
	ProtocolFee        string
	FlashloanFee       string
	Tokens             []TokenConfig
	Pools              []PoolConfig
}

// load merges config file, environment variables and flags. Environment
// variables use the VAULT_ prefix with dashes turned into underscores.
func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("vault-address", "0x000000000000000000000000000000000000Ba17")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func loadVault(v *viper.Viper) (VaultConfig, error) {
	cfg := VaultConfig{
		Address:            v.GetString("vault-address"),
		Manager:            v.GetString("manager"),
		FeeReceiver:        v.GetString("fee-receiver"),
		FeeReceiverManager: v.GetString("fee-receiver-manager"),
		ProtocolFee:        v.GetString("protocol-fee"),
		FlashloanFee:       v.GetString("flashloan-fee"),
	}
	if err := v.UnmarshalKey("tokens", &cfg.Tokens); err != nil {
		return VaultConfig{}, fmt.Errorf("decode tokens: %w", err)
	}
	if err := v.UnmarshalKey("pools", &cfg.Pools); err != nil {
		return VaultConfig{}, fmt.Errorf("decode pools: %w", err)
	}
	if cfg.FeeReceiverManager == "" {
		cfg.FeeReceiverManager = cfg.Manager
	}
	return cfg, nil
}

// Validate checks that every address in the vault config is well formed and
// that pools only reference configured tokens.
func (c VaultConfig) Validate() error {
	for name, addr := range map[string]string{
		"vault-address":        c.Address,
		"manager":              c.Manager,
		"fee-receiver":         c.FeeReceiver,
		"fee-receiver-manager": c.FeeReceiverManager,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", name, addr)
		}
	}
	known := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("tokens[%d]: invalid address %q", i, t.Address)
		}
		known[strings.ToLower(t.Address)] = true
	}
	for i, p := range c.Pools {
		if len(p.Assets) != len(p.Weights) {
			return fmt.Errorf("pools[%d]: %d assets, %d weights", i, len(p.Assets), len(p.Weights))
		}
		for _, a := range p.Assets {
			if !known[strings.ToLower(a)] {
				return fmt.Errorf("pools[%d]: asset %s is not a configured token", i, a)
			}
		}
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		return strconv.ParseUint(input, 10, 64)
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	if tm.Unix() < 0 {
		return 0, fmt.Errorf("timestamp before epoch: %s", input)
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
