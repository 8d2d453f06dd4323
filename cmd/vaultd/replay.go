package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"weightedVault/internal/config"
	"weightedVault/internal/model"
	"weightedVault/internal/replay"
	"weightedVault/internal/snapshot"
	"weightedVault/internal/storage/postgres"
	"weightedVault/internal/vault"
)

type replayOutput struct {
	Seq        uint64             `json:"seq"`
	Flashloans uint64             `json:"flashloans"`
	Accrued    map[string]string  `json:"accrued"`
	Pools      []replay.PoolStats `json:"pools"`
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var snaps snapshot.Multi
	if cfg.SnapshotFile != "" {
		snaps = append(snaps, snapshot.NewFileStore(cfg.SnapshotFile))
	}

	var source replay.Source = replay.FileSource{Path: cfg.In}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		snaps = append(snaps, &snapshot.DBStore{Store: store, Name: cfg.SnapshotName})
		if cfg.FromDB {
			source = replay.DBSource{Store: store}
		}
	} else if cfg.FromDB {
		return fmt.Errorf("from-db requires pg-dsn")
	}

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.Bool("from_db", cfg.FromDB),
		zap.String("snapshot", cfg.SnapshotFile),
		zap.Int("checkpoint_every", cfg.CheckpointEvery),
	)

	runner := replay.NewRunner(replay.Config{
		Base:            baseSnapshot(cfg.Vault),
		Snapshots:       snaps,
		CheckpointEvery: cfg.CheckpointEvery,
	}, source, logger)
	ledger, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	snap := ledger.Snapshot()
	out := replayOutput{
		Seq:        ledger.Seq(),
		Flashloans: ledger.Flashloans(),
		Accrued:    snap.Accrued,
		Pools:      ledger.Stats(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// baseSnapshot is the state of a freshly deployed vault with the configured
// parameters.
func baseSnapshot(cfg config.VaultConfig) model.LedgerSnapshot {
	protocolFee := cfg.ProtocolFee
	if protocolFee == "" {
		protocolFee = strconv.FormatUint(vault.DefaultProtocolFee, 10)
	}
	flashloanFee := cfg.FlashloanFee
	if flashloanFee == "" {
		flashloanFee = strconv.FormatUint(vault.DefaultFlashloanFee, 10)
	}
	return model.LedgerSnapshot{
		Manager:      common.HexToAddress(cfg.Manager).Hex(),
		FeeReceiver:  common.HexToAddress(cfg.FeeReceiver).Hex(),
		ProtocolFee:  protocolFee,
		FlashloanFee: flashloanFee,
		Accrued:      map[string]string{},
	}
}
