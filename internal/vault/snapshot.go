package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/decimals"
	"weightedVault/internal/model"
	"weightedVault/internal/registry"
)

// Export copies the whole ledger.
func (v *Vault) Export() model.LedgerSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := model.LedgerSnapshot{
		Seq:          v.seq,
		Timestamp:    v.clock(),
		Manager:      v.manager.Address().Hex(),
		FeeReceiver:  v.feeReceiver.Hex(),
		ProtocolFee:  v.protocolFee.Dec(),
		FlashloanFee: v.flashloanFee.Dec(),
		Accrued:      make(map[string]string, len(v.accrued)),
	}
	for asset, amount := range v.accrued {
		if !amount.IsZero() {
			snap.Accrued[asset.Hex()] = amount.Dec()
		}
	}
	for _, pool := range v.registry.Pools() {
		st := v.state(pool)
		balances := make([]*uint256.Int, len(st.balances))
		for i, b := range st.balances {
			balances[i] = new(uint256.Int).Div(b, pool.Multipliers[i])
		}
		holders := make(map[string]string, len(st.holders))
		for holder, amount := range st.holders {
			holders[holder.Hex()] = amount.Dec()
		}
		snap.Pools = append(snap.Pools, model.PoolState{
			Pool:        pool.ID.Hex(),
			Assets:      addressStrings(pool.Assets),
			Weights:     amountStrings(pool.Weights),
			Decimals:    append([]uint8(nil), pool.Decimals...),
			Balances:    amountStrings(balances),
			TotalSupply: st.supply.Dec(),
			SwapFee:     pool.SwapFee.Dec(),
			Holders:     holders,
			LastSeq:     st.lastSeq,
		})
	}
	return snap
}

// Import loads a snapshot into a vault that has not emitted any event.
// Pools missing from the registry are registered under their recorded id.
// Asset ledgers are not touched; the caller funds the vault account.
func (v *Vault) Import(snap model.LedgerSnapshot) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	if v.seq != 0 {
		return fmt.Errorf("import snapshot: vault already at seq %d", v.seq)
	}

	protocolFee, err := parseRate(snap.ProtocolFee, MaxProtocolFee)
	if err != nil {
		return fmt.Errorf("import snapshot: protocol fee: %w", err)
	}
	flashloanFee, err := parseRate(snap.FlashloanFee, MaxFlashloanFee)
	if err != nil {
		return fmt.Errorf("import snapshot: flashloan fee: %w", err)
	}
	accrued := make(map[common.Address]*uint256.Int, len(snap.Accrued))
	for asset, amount := range snap.Accrued {
		a, err := uint256.FromDecimal(amount)
		if err != nil {
			return fmt.Errorf("import snapshot: accrual of %s: %w", asset, err)
		}
		accrued[common.HexToAddress(asset)] = a
	}

	states := make(map[common.Address]*poolState, len(snap.Pools))
	for _, ps := range snap.Pools {
		pool, st, err := v.importPool(ps)
		if err != nil {
			return fmt.Errorf("import snapshot: pool %s: %w", ps.Pool, err)
		}
		states[pool.ID] = st
	}

	for id, st := range states {
		v.pools[id] = st
	}
	v.accrued = accrued
	v.protocolFee = protocolFee
	v.flashloanFee = flashloanFee
	if snap.FeeReceiver != "" {
		v.feeReceiver = common.HexToAddress(snap.FeeReceiver)
	}
	if snap.Manager != "" {
		if err := v.manager.Change(v.manager.Address(), common.HexToAddress(snap.Manager)); err != nil {
			return fmt.Errorf("import snapshot: manager: %w", err)
		}
	}
	v.seq = snap.Seq
	v.logger.Info("snapshot imported", zap.Uint64("seq", snap.Seq), zap.Int("pools", len(states)))
	return nil
}

func (v *Vault) importPool(ps model.PoolState) (registry.Pool, *poolState, error) {
	id := common.HexToAddress(ps.Pool)
	pool, err := v.registry.Pool(id)
	if err != nil {
		cfg := registry.PoolConfig{ID: id, Decimals: ps.Decimals}
		for _, a := range ps.Assets {
			cfg.Assets = append(cfg.Assets, common.HexToAddress(a))
		}
		if cfg.Weights, err = parseAmounts(ps.Weights); err != nil {
			return registry.Pool{}, nil, err
		}
		if cfg.SwapFee, err = uint256.FromDecimal(ps.SwapFee); err != nil {
			return registry.Pool{}, nil, err
		}
		if err := v.checkAssetDecimals(cfg.Assets, cfg.Decimals); err != nil {
			return registry.Pool{}, nil, err
		}
		if pool, err = v.registry.Register(cfg); err != nil {
			return registry.Pool{}, nil, err
		}
	}
	if len(ps.Balances) != len(pool.Assets) {
		return registry.Pool{}, nil, fmt.Errorf("%w: %d balances for %d assets", ErrLengthMismatch, len(ps.Balances), len(pool.Assets))
	}
	native, err := parseAmounts(ps.Balances)
	if err != nil {
		return registry.Pool{}, nil, err
	}
	st := newPoolState(len(pool.Assets))
	if st.balances, err = decimals.NormalizeAll(native, pool.Multipliers); err != nil {
		return registry.Pool{}, nil, err
	}
	if st.supply, err = uint256.FromDecimal(ps.TotalSupply); err != nil {
		return registry.Pool{}, nil, err
	}
	for holder, amount := range ps.Holders {
		a, err := uint256.FromDecimal(amount)
		if err != nil {
			return registry.Pool{}, nil, err
		}
		st.holders[common.HexToAddress(holder)] = a
	}
	st.lastSeq = ps.LastSeq
	return pool, st, nil
}

func parseRate(s string, ceiling uint64) (*uint256.Int, error) {
	r, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	if r.Gt(uint256.NewInt(ceiling)) {
		return nil, ErrFeeTooHigh
	}
	return r, nil
}

func parseAmounts(values []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(values))
	for i, s := range values {
		a, err := uint256.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", s, err)
		}
		out[i] = a
	}
	return out, nil
}
