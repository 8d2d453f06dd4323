package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"weightedVault/internal/model"
	"weightedVault/internal/snapshot"
	"weightedVault/internal/storage"
	"weightedVault/internal/storage/postgres"
)

// Source yields events with seq > after in seq order.
type Source interface {
	Events(ctx context.Context, after uint64) ([]model.EventRecord, error)
}

// FileSource reads a JSONL event log.
type FileSource struct {
	Path string
}

func (s FileSource) Events(ctx context.Context, after uint64) ([]model.EventRecord, error) {
	records, err := storage.ReadEvents(s.Path)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.Seq > after {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DBSource reads the vault_events table.
type DBSource struct {
	Store *postgres.Store
}

func (s DBSource) Events(ctx context.Context, after uint64) ([]model.EventRecord, error) {
	if s.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	return s.Store.LoadEvents(ctx, after)
}

// Config controls a replay run.
type Config struct {
	// Base seeds the ledger when no snapshot is stored.
	Base            model.LedgerSnapshot
	Snapshots       snapshot.Store
	CheckpointEvery int
}

// Runner replays a source into a Ledger, checkpointing snapshots as it goes.
type Runner struct {
	cfg    Config
	source Source
	logger *zap.Logger
}

func NewRunner(cfg Config, source Source, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, source: source, logger: logger}
}

// Run resumes from the stored snapshot when it is newer than Base, applies
// every later event and saves the final snapshot.
func (r *Runner) Run(ctx context.Context) (*Ledger, error) {
	if r.source == nil {
		return nil, fmt.Errorf("source is nil")
	}
	if r.cfg.CheckpointEvery <= 0 {
		r.cfg.CheckpointEvery = 1000
	}

	base, err := r.loadBase(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := New(base)
	if err != nil {
		return nil, fmt.Errorf("seed ledger: %w", err)
	}

	records, err := r.source.Events(ctx, ledger.Seq())
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	var applied, skipped, sinceCheckpoint int
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return ledger, err
		}
		ok, err := ledger.Apply(rec)
		if err != nil {
			r.logger.Error("replay event", zap.Uint64("seq", rec.Seq), zap.String("event", rec.EventName), zap.Error(err))
			return ledger, err
		}
		if !ok {
			skipped++
			continue
		}
		applied++
		sinceCheckpoint++
		if sinceCheckpoint >= r.cfg.CheckpointEvery {
			if err := r.checkpoint(ctx, ledger); err != nil {
				return ledger, err
			}
			sinceCheckpoint = 0
		}
	}

	if err := r.checkpoint(ctx, ledger); err != nil {
		return ledger, err
	}

	r.logger.Info("replay complete",
		zap.Int("total", len(records)),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
		zap.Uint64("seq", ledger.Seq()),
	)
	return ledger, nil
}

func (r *Runner) loadBase(ctx context.Context) (model.LedgerSnapshot, error) {
	if r.cfg.Snapshots == nil {
		return r.cfg.Base, nil
	}
	snap, ok, err := r.cfg.Snapshots.Load(ctx)
	if err != nil {
		return model.LedgerSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok || snap.Seq < r.cfg.Base.Seq {
		return r.cfg.Base, nil
	}
	r.logger.Info("resuming from snapshot", zap.Uint64("seq", snap.Seq))
	return snap, nil
}

func (r *Runner) checkpoint(ctx context.Context, ledger *Ledger) error {
	if r.cfg.Snapshots == nil {
		return nil
	}
	if err := r.cfg.Snapshots.Save(ctx, ledger.Snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	r.logger.Debug("checkpoint saved", zap.Uint64("seq", ledger.Seq()))
	return nil
}
