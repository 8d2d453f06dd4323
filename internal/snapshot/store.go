// Package snapshot persists ledger snapshots so a vault can be restored
// without replaying its whole event log.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"weightedVault/internal/model"
	"weightedVault/internal/storage/postgres"
)

// Store loads and saves the latest snapshot.
type Store interface {
	Load(ctx context.Context) (model.LedgerSnapshot, bool, error)
	Save(ctx context.Context, snap model.LedgerSnapshot) error
}

// FileStore keeps the snapshot in a JSON file, replaced atomically on save.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	if s == nil || s.path == "" {
		return model.LedgerSnapshot{}, false, nil
	}
	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.LedgerSnapshot{}, false, nil
		}
		return model.LedgerSnapshot{}, false, fmt.Errorf("stat snapshot: %w", err)
	}
	if stat.IsDir() {
		return model.LedgerSnapshot{}, false, fmt.Errorf("snapshot path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return model.LedgerSnapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.LedgerSnapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *FileStore) Save(ctx context.Context, snap model.LedgerSnapshot) error {
	if s == nil || s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// DBStore keeps the snapshot in the ledger_snapshots table under Name.
type DBStore struct {
	Store *postgres.Store
	Name  string
}

func (s *DBStore) Load(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	if s == nil || s.Store == nil {
		return model.LedgerSnapshot{}, false, nil
	}
	return s.Store.LoadSnapshot(ctx, s.Name)
}

func (s *DBStore) Save(ctx context.Context, snap model.LedgerSnapshot) error {
	if s == nil || s.Store == nil {
		return nil
	}
	if err := s.Store.SaveSnapshot(ctx, s.Name, snap); err != nil {
		return err
	}
	return s.Store.UpsertPoolStates(ctx, snap.Pools)
}

// Multi loads from the first store holding a snapshot and saves to all.
type Multi []Store

func (m Multi) Load(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	for _, s := range m {
		snap, ok, err := s.Load(ctx)
		if err != nil || ok {
			return snap, ok, err
		}
	}
	return model.LedgerSnapshot{}, false, nil
}

func (m Multi) Save(ctx context.Context, snap model.LedgerSnapshot) error {
	for _, s := range m {
		if err := s.Save(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}
