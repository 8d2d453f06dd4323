package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"weightedVault/internal/chain"
	"weightedVault/internal/config"
	"weightedVault/internal/model"
	"weightedVault/internal/storage"
	"weightedVault/internal/tokenmeta"
)

type tokenReport struct {
	model.TokenMeta
	Holder  string `json:"holder,omitempty"`
	Balance string `json:"balance,omitempty"`
}

func runTokens(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadTokens(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	addresses, err := tokenAddresses(cfg)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("no token addresses given")
	}
	holderFlag, _ := cmd.Flags().GetString("holder")
	var holder common.Address
	if holderFlag != "" {
		if !common.IsHexAddress(holderFlag) {
			return fmt.Errorf("invalid holder %q", holderFlag)
		}
		holder = common.HexToAddress(holderFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	resolver, err := tokenmeta.NewResolver(chainClient, tokenmeta.ResolverConfig{
		CacheSize:   cfg.CacheSize,
		Concurrency: cfg.Concurrency,
		Retry:       tokenmeta.RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	metas, err := resolver.Tokens(ctx, addresses)
	if err != nil {
		return err
	}

	reports := make([]interface{}, 0, len(metas))
	for i, meta := range metas {
		report := tokenReport{TokenMeta: meta}
		if holderFlag != "" {
			balance, err := tokenmeta.FetchBalance(ctx, chainClient, addresses[i], holder)
			if err != nil {
				return fmt.Errorf("balance of %s: %w", addresses[i].Hex(), err)
			}
			report.Holder = holder.Hex()
			report.Balance = balance.Dec()
		}
		reports = append(reports, report)
	}

	if cfg.Out != "" {
		if err := storage.NewJsonlStorage(cfg.Out).Append(reports...); err != nil {
			return err
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		for _, report := range reports {
			if err := enc.Encode(report); err != nil {
				return err
			}
		}
	}

	hits, misses := resolver.Stats()
	logger.Info("tokens resolved",
		zap.Int("count", len(reports)),
		zap.Uint64("cache_hits", hits),
		zap.Uint64("cache_misses", misses),
	)
	return nil
}

// tokenAddresses merges the address flag with every configured token,
// dropping duplicates.
func tokenAddresses(cfg config.TokensConfig) ([]common.Address, error) {
	seen := make(map[common.Address]bool)
	var out []common.Address
	add := func(raw string) error {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("invalid token address %q", raw)
		}
		addr := common.HexToAddress(raw)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
		return nil
	}
	for _, raw := range cfg.Addresses {
		if err := add(raw); err != nil {
			return nil, err
		}
	}
	for _, tok := range cfg.Tokens {
		if err := add(tok.Address); err != nil {
			return nil, err
		}
	}
	return out, nil
}
