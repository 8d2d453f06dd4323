// Package scenario sets up a vault from configuration and drives it with
// scripted operations read from JSONL.
package scenario

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/config"
	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/storage"
	"weightedVault/internal/token"
	"weightedVault/internal/vault"
)

// MetaSource resolves token metadata, typically over RPC.
type MetaSource interface {
	Tokens(ctx context.Context, tokens []common.Address) ([]model.TokenMeta, error)
}

// Options wires a World to its collaborators.
type Options struct {
	Sink  storage.Storage
	Clock func() uint64
	// Meta fills in decimals and symbols the config leaves out.
	Meta MetaSource
	// Snapshot restores a ledger instead of registering the configured pools.
	Snapshot *model.LedgerSnapshot
	Logger   *zap.Logger
}

// World is a vault together with the in-memory asset ledgers it trades.
type World struct {
	Vault       *vault.Vault
	Tokens      map[common.Address]*token.Memory
	FeeReceiver *vault.FeeReceiver
}

// Build creates the assets, funds the configured holders, creates the vault
// and either registers the configured pools or restores opts.Snapshot.
func Build(ctx context.Context, cfg config.VaultConfig, opts Options) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metas, err := resolveTokens(ctx, cfg.Tokens, opts.Meta)
	if err != nil {
		return nil, err
	}

	w := &World{Tokens: make(map[common.Address]*token.Memory, len(metas))}
	set := token.NewSet()
	for i, meta := range metas {
		addr := common.HexToAddress(meta.Address)
		tok := token.NewMemory(addr, meta.Symbol, meta.Decimals)
		for holder, amount := range cfg.Tokens[i].Balances {
			if !common.IsHexAddress(holder) {
				return nil, fmt.Errorf("token %s: invalid holder %q", meta.Address, holder)
			}
			a, err := uint256.FromDecimal(amount)
			if err != nil {
				return nil, fmt.Errorf("token %s balance of %s: %w", meta.Address, holder, err)
			}
			if err := tok.Mint(common.HexToAddress(holder), a); err != nil {
				return nil, fmt.Errorf("token %s: %w", meta.Address, err)
			}
		}
		set.Add(tok)
		w.Tokens[addr] = tok
	}

	protocolFee, err := optionalAmount(cfg.ProtocolFee)
	if err != nil {
		return nil, fmt.Errorf("protocol fee: %w", err)
	}
	flashloanFee, err := optionalAmount(cfg.FlashloanFee)
	if err != nil {
		return nil, fmt.Errorf("flashloan fee: %w", err)
	}
	manager := common.HexToAddress(cfg.Manager)
	v, err := vault.New(vault.Config{
		Address:      common.HexToAddress(cfg.Address),
		Manager:      manager,
		FeeReceiver:  common.HexToAddress(cfg.FeeReceiver),
		ProtocolFee:  protocolFee,
		FlashloanFee: flashloanFee,
		Registry:     registry.New(manager),
		Assets:       set,
		Sink:         opts.Sink,
		Clock:        opts.Clock,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	w.Vault = v

	if opts.Snapshot != nil {
		if err := w.restore(*opts.Snapshot); err != nil {
			return nil, err
		}
	} else {
		for i, pc := range cfg.Pools {
			pool, err := w.register(pc)
			if err != nil {
				return nil, fmt.Errorf("pools[%d]: %w", i, err)
			}
			logger.Debug("pool ready", zap.String("pool", pool.ID.Hex()))
		}
	}
	w.FeeReceiver = v.FeeReceiver(common.HexToAddress(cfg.FeeReceiverManager))
	return w, nil
}

func resolveTokens(ctx context.Context, tokens []config.TokenConfig, meta MetaSource) ([]model.TokenMeta, error) {
	out := make([]model.TokenMeta, len(tokens))
	var missing []common.Address
	var missingIdx []int
	for i, t := range tokens {
		out[i] = model.TokenMeta{Address: common.HexToAddress(t.Address).Hex(), Symbol: t.Symbol}
		if t.Decimals != nil {
			out[i].Decimals = *t.Decimals
			continue
		}
		missing = append(missing, common.HexToAddress(t.Address))
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	if meta == nil {
		return nil, fmt.Errorf("token %s has no decimals and no rpc is configured", missing[0].Hex())
	}
	fetched, err := meta.Tokens(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("resolve token metadata: %w", err)
	}
	for j, i := range missingIdx {
		out[i] = out[i].Merge(fetched[j])
	}
	return out, nil
}

// register sorts the configured assets, carrying their weights along.
func (w *World) register(pc config.PoolConfig) (registry.Pool, error) {
	type entry struct {
		asset  common.Address
		weight *uint256.Int
	}
	entries := make([]entry, len(pc.Assets))
	for i, a := range pc.Assets {
		weight, err := uint256.FromDecimal(pc.Weights[i])
		if err != nil {
			return registry.Pool{}, fmt.Errorf("weight %q: %w", pc.Weights[i], err)
		}
		entries[i] = entry{asset: common.HexToAddress(a), weight: weight}
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].asset.Bytes(), entries[j].asset.Bytes()) < 0
	})

	cfg := registry.PoolConfig{Salt: []byte(pc.Salt)}
	if pc.ID != "" {
		if !common.IsHexAddress(pc.ID) {
			return registry.Pool{}, fmt.Errorf("invalid pool id %q", pc.ID)
		}
		cfg.ID = common.HexToAddress(pc.ID)
	}
	for _, e := range entries {
		tok, ok := w.Tokens[e.asset]
		if !ok {
			return registry.Pool{}, fmt.Errorf("unknown asset %s", e.asset.Hex())
		}
		cfg.Assets = append(cfg.Assets, e.asset)
		cfg.Weights = append(cfg.Weights, e.weight)
		cfg.Decimals = append(cfg.Decimals, tok.Decimals())
	}
	fee, err := optionalAmount(pc.SwapFee)
	if err != nil {
		return registry.Pool{}, fmt.Errorf("swap fee: %w", err)
	}
	if fee == nil {
		fee = new(uint256.Int)
	}
	cfg.SwapFee = fee
	return w.Vault.RegisterPool(cfg)
}

// restore imports snap and mints the vault account what the ledger says it
// holds: every pool reserve plus the accrued protocol fees.
func (w *World) restore(snap model.LedgerSnapshot) error {
	if err := w.Vault.Import(snap); err != nil {
		return err
	}
	owed := make(map[common.Address]*uint256.Int)
	add := func(asset string, amount string) error {
		a, err := uint256.FromDecimal(amount)
		if err != nil {
			return err
		}
		addr := common.HexToAddress(asset)
		if cur, ok := owed[addr]; ok {
			a = new(uint256.Int).Add(cur, a)
		}
		owed[addr] = a
		return nil
	}
	for _, ps := range snap.Pools {
		for i, asset := range ps.Assets {
			if err := add(asset, ps.Balances[i]); err != nil {
				return fmt.Errorf("pool %s: %w", ps.Pool, err)
			}
		}
	}
	for asset, amount := range snap.Accrued {
		if err := add(asset, amount); err != nil {
			return fmt.Errorf("accrual of %s: %w", asset, err)
		}
	}
	for asset, amount := range owed {
		tok, ok := w.Tokens[asset]
		if !ok {
			return fmt.Errorf("snapshot asset %s is not a configured token", asset.Hex())
		}
		if err := tok.Mint(w.Vault.Address(), amount); err != nil {
			return err
		}
	}
	return nil
}

func optionalAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return uint256.FromDecimal(s)
}
