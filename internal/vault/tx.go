package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/fixedpoint"
	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/token"
	"weightedVault/internal/weighted"
)

var ErrTransferShortfall = errors.New("asset transfer moved less than requested")

type transfer struct {
	asset  token.Asset
	pull   bool // holder -> vault via TransferFrom, otherwise vault -> holder
	holder common.Address
	amount *uint256.Int
}

// ledgerTx stages ledger changes on top of the committed state. Nothing is
// visible outside the tx until commit.
type ledgerTx struct {
	v      *Vault
	dryRun bool

	balances  map[common.Address][]*uint256.Int
	supply    map[common.Address]*uint256.Int
	holders   map[common.Address]map[common.Address]*uint256.Int
	accrued   map[common.Address]*uint256.Int
	transfers []transfer
	events    []model.Event
}

// begin opens a tx. Must hold v.mu.
func (v *Vault) begin(dryRun bool) *ledgerTx {
	return &ledgerTx{
		v:        v,
		dryRun:   dryRun,
		balances: make(map[common.Address][]*uint256.Int),
		supply:   make(map[common.Address]*uint256.Int),
		holders:  make(map[common.Address]map[common.Address]*uint256.Int),
		accrued:  make(map[common.Address]*uint256.Int),
	}
}

func (tx *ledgerTx) poolBalances(pool registry.Pool) []*uint256.Int {
	if b, ok := tx.balances[pool.ID]; ok {
		return cloneAmounts(b)
	}
	return cloneAmounts(tx.v.state(pool).balances)
}

func (tx *ledgerTx) setPoolBalances(pool registry.Pool, balances []*uint256.Int) {
	tx.balances[pool.ID] = balances
}

func (tx *ledgerTx) totalSupply(pool registry.Pool) *uint256.Int {
	if s, ok := tx.supply[pool.ID]; ok {
		return new(uint256.Int).Set(s)
	}
	return new(uint256.Int).Set(tx.v.state(pool).supply)
}

func (tx *ledgerTx) lpBalance(pool registry.Pool, holder common.Address) *uint256.Int {
	if byPool, ok := tx.holders[pool.ID]; ok {
		if b, ok := byPool[holder]; ok {
			return new(uint256.Int).Set(b)
		}
	}
	if b, ok := tx.v.state(pool).holders[holder]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (tx *ledgerTx) setLPBalance(pool registry.Pool, holder common.Address, amount *uint256.Int) {
	byPool, ok := tx.holders[pool.ID]
	if !ok {
		byPool = make(map[common.Address]*uint256.Int)
		tx.holders[pool.ID] = byPool
	}
	byPool[holder] = amount
}

func (tx *ledgerTx) mint(pool registry.Pool, holder common.Address, amount *uint256.Int) error {
	supply, err := fixedpoint.Add(tx.totalSupply(pool), amount)
	if err != nil {
		return fmt.Errorf("mint liquidity: %w", err)
	}
	balance, err := fixedpoint.Add(tx.lpBalance(pool, holder), amount)
	if err != nil {
		return fmt.Errorf("mint liquidity: %w", err)
	}
	tx.supply[pool.ID] = supply
	tx.setLPBalance(pool, holder, balance)
	return nil
}

// burn removes liquidity tokens from holder. A dry run only checks supply.
func (tx *ledgerTx) burn(pool registry.Pool, holder common.Address, amount *uint256.Int) error {
	supply := tx.totalSupply(pool)
	if amount.Gt(supply) {
		return fmt.Errorf("%w: burn %s of supply %s", ErrInsufficientLP, amount.Dec(), supply.Dec())
	}
	balance := tx.lpBalance(pool, holder)
	if amount.Gt(balance) {
		if !tx.dryRun {
			return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientLP, holder.Hex(), balance.Dec(), amount.Dec())
		}
		balance = new(uint256.Int).Set(amount)
	}
	tx.supply[pool.ID] = new(uint256.Int).Sub(supply, amount)
	tx.setLPBalance(pool, holder, new(uint256.Int).Sub(balance, amount))
	return nil
}

func (tx *ledgerTx) collected(asset common.Address) *uint256.Int {
	if a, ok := tx.accrued[asset]; ok {
		return new(uint256.Int).Set(a)
	}
	if a, ok := tx.v.accrued[asset]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

func (tx *ledgerTx) accrue(asset common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	next, err := fixedpoint.Add(tx.collected(asset), amount)
	if err != nil {
		return fmt.Errorf("accrue protocol fee: %w", err)
	}
	tx.accrued[asset] = next
	return nil
}

func (tx *ledgerTx) drain(asset common.Address, amount *uint256.Int) error {
	current := tx.collected(asset)
	if amount.Gt(current) {
		return fmt.Errorf("%w: %s has %s, requested %s", ErrInsufficientFees, asset.Hex(), current.Dec(), amount.Dec())
	}
	tx.accrued[asset] = new(uint256.Int).Sub(current, amount)
	return nil
}

func (tx *ledgerTx) pull(asset common.Address, from common.Address, amount *uint256.Int) error {
	return tx.stage(asset, true, from, amount)
}

func (tx *ledgerTx) push(asset common.Address, to common.Address, amount *uint256.Int) error {
	return tx.stage(asset, false, to, amount)
}

func (tx *ledgerTx) stage(address common.Address, pull bool, holder common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	asset, err := tx.v.assets.Get(address)
	if err != nil {
		return err
	}
	tx.transfers = append(tx.transfers, transfer{asset: asset, pull: pull, holder: holder, amount: new(uint256.Int).Set(amount)})
	return nil
}

func (tx *ledgerTx) record(name string, pool common.Address, data interface{}) {
	tx.events = append(tx.events, tx.v.event(name, pool, data))
}

// commit moves the staged assets, then applies the staged ledger changes and
// emits the staged events. A failed transfer undoes the earlier ones and
// leaves the ledger unchanged. Must hold v.mu.
func (v *Vault) commit(tx *ledgerTx) error {
	if tx.dryRun {
		return fmt.Errorf("commit of dry-run tx")
	}
	if err := v.runTransfers(tx.transfers); err != nil {
		return err
	}
	for id, balances := range tx.balances {
		v.pools[id].balances = balances
	}
	for id, supply := range tx.supply {
		v.pools[id].supply = supply
	}
	for id, byPool := range tx.holders {
		holders := v.pools[id].holders
		for holder, amount := range byPool {
			if amount.IsZero() {
				delete(holders, holder)
				continue
			}
			holders[holder] = amount
		}
	}
	for asset, amount := range tx.accrued {
		v.accrued[asset] = amount
	}
	v.emit(tx.events)
	return nil
}

func (v *Vault) runTransfers(transfers []transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	snapshots := v.snapshotAssets(transfers)
	for i, t := range transfers {
		if err := v.move(t); err != nil {
			v.undoTransfers(transfers[:i], snapshots)
			return err
		}
	}
	return nil
}

func (v *Vault) move(t transfer) error {
	if !t.pull {
		if err := t.asset.Transfer(v.address, t.holder, t.amount); err != nil {
			return fmt.Errorf("pay %s to %s: %w", t.amount.Dec(), t.holder.Hex(), err)
		}
		return nil
	}
	before := t.asset.BalanceOf(v.address)
	if err := t.asset.TransferFrom(v.address, t.holder, v.address, t.amount); err != nil {
		return fmt.Errorf("collect %s from %s: %w", t.amount.Dec(), t.holder.Hex(), err)
	}
	after := t.asset.BalanceOf(v.address)
	received, underflow := new(uint256.Int).SubOverflow(after, before)
	if underflow || received.Lt(t.amount) {
		return fmt.Errorf("%w: %s from %s", ErrTransferShortfall, t.asset.Address().Hex(), t.holder.Hex())
	}
	return nil
}

// snapshotAssets saves the ledgers of every distinct asset that can be
// restored.
func (v *Vault) snapshotAssets(transfers []transfer) map[common.Address]any {
	snapshots := make(map[common.Address]any)
	for _, t := range transfers {
		addr := t.asset.Address()
		if _, seen := snapshots[addr]; seen {
			continue
		}
		if s, ok := t.asset.(token.Snapshotter); ok {
			snapshots[addr] = s.Snapshot()
		}
	}
	return snapshots
}

func (v *Vault) undoTransfers(done []transfer, snapshots map[common.Address]any) {
	restored := make(map[common.Address]bool)
	for i := len(done) - 1; i >= 0; i-- {
		t := done[i]
		addr := t.asset.Address()
		if snap, ok := snapshots[addr]; ok {
			if restored[addr] {
				continue
			}
			restored[addr] = true
			if err := t.asset.(token.Snapshotter).Restore(snap); err != nil {
				v.logger.Error("restore asset ledger failed", zap.String("asset", addr.Hex()), zap.Error(err))
			}
			continue
		}
		if !t.pull {
			v.logger.Error("cannot reclaim payout", zap.String("asset", addr.Hex()), zap.String("holder", t.holder.Hex()))
			continue
		}
		if err := t.asset.Transfer(v.address, t.holder, t.amount); err != nil {
			v.logger.Error("refund failed", zap.String("asset", addr.Hex()), zap.String("holder", t.holder.Hex()), zap.Error(err))
		}
	}
}

func invariantOf(balances, weights []*uint256.Int) (*uint256.Int, error) {
	return weighted.Invariant(balances, weights)
}
