package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"weightedVault/internal/chain"
	"weightedVault/internal/config"
	"weightedVault/internal/scenario"
	"weightedVault/internal/snapshot"
	"weightedVault/internal/storage"
	"weightedVault/internal/storage/postgres"
	"weightedVault/internal/tokenmeta"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Ops == "" {
		return fmt.Errorf("ops script is required")
	}
	ops, err := scenario.ReadOps(cfg.Ops)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := storage.Multi{storage.NewJsonlStorage(cfg.EventsOut)}
	snaps := snapshot.Multi{snapshot.NewFileStore(cfg.SnapshotFile)}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		sinks = append(sinks, store)
		snaps = append(snaps, &snapshot.DBStore{Store: store, Name: "vault"})
	}

	opts := scenario.Options{Sink: sinks, Logger: logger}
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		resolver, err := tokenmeta.NewResolver(chainClient, tokenmeta.ResolverConfig{
			Retry:  tokenmeta.RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		opts.Meta = resolver

		if cfg.Now == 0 {
			start, err := chainClient.LatestTimestamp(ctx)
			if err != nil {
				return fmt.Errorf("latest block time: %w", err)
			}
			opts.Clock = chainClock(start)
		}
	}
	if cfg.Now > 0 {
		now := cfg.Now
		opts.Clock = func() uint64 { return now }
	}

	prev, ok, err := snaps.Load(ctx)
	if err != nil {
		return err
	}
	if ok {
		opts.Snapshot = &prev
		logger.Info("resuming vault", zap.Uint64("seq", prev.Seq), zap.Int("pools", len(prev.Pools)))
	}

	world, err := scenario.Build(ctx, cfg.Vault, opts)
	if err != nil {
		return err
	}

	logger.Info("simulate start",
		zap.String("ops", cfg.Ops),
		zap.Int("count", len(ops)),
		zap.String("events_out", cfg.EventsOut),
		zap.String("snapshot", cfg.SnapshotFile),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	runner := scenario.NewRunner(world, storage.NewJsonlStorage(cfg.Errors), logger)
	sum, runErr := runner.Run(ctx, ops)

	snap := world.Vault.Export()
	if err := snaps.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	logger.Info("simulate complete",
		zap.Int("applied", sum.Applied),
		zap.Int("failed", sum.Failed),
		zap.Uint64("seq", snap.Seq),
	)
	return runErr
}

// chainClock starts at the chain's latest block time and advances with the
// wall clock.
func chainClock(start uint64) func() uint64 {
	began := time.Now()
	return func() uint64 {
		return start + uint64(time.Since(began)/time.Second)
	}
}
