// Package replay rebuilds the vault ledger from its event log. Events carry
// every native amount that moved, so pool reserves, liquidity supply, holder
// balances and protocol accruals follow without re-pricing anything.
package replay

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"weightedVault/internal/model"
)

var (
	ErrSeqGap      = errors.New("event sequence gap")
	ErrUnknownPool = errors.New("event for unregistered pool")
	ErrUnderflow   = errors.New("ledger underflow")
)

// PoolStats counts activity per pool since the replay started. Volumes are
// amounts swapped into the pool, in native units per asset.
type PoolStats struct {
	Pool        string   `json:"pool"`
	Swaps       uint64   `json:"swaps"`
	Deposits    uint64   `json:"deposits"`
	Withdrawals uint64   `json:"withdrawals"`
	VolumeIn    []string `json:"volume_in"`
	Fees        []string `json:"fees"`
}

type poolAccumulator struct {
	meta     model.PoolState
	id       common.Address
	index    map[common.Address]int
	balances []*uint256.Int
	supply   *uint256.Int
	holders  map[common.Address]*uint256.Int
	lastSeq  uint64

	swaps, deposits, withdrawals uint64
	volumeIn                     []*uint256.Int
	fees                         []*uint256.Int
}

func newPoolAccumulator(id common.Address, meta model.PoolState) *poolAccumulator {
	n := len(meta.Assets)
	acc := &poolAccumulator{
		meta:     meta,
		id:       id,
		index:    make(map[common.Address]int, n),
		balances: zeros(n),
		supply:   new(uint256.Int),
		holders:  make(map[common.Address]*uint256.Int),
		volumeIn: zeros(n),
		fees:     zeros(n),
	}
	for i, a := range meta.Assets {
		acc.index[common.HexToAddress(a)] = i
	}
	return acc
}

// Ledger is the replayed vault state. It is not safe for concurrent use.
type Ledger struct {
	seq          uint64
	timestamp    uint64
	manager      string
	feeReceiver  string
	protocolFee  string
	flashloanFee string
	pools        map[common.Address]*poolAccumulator
	accrued      map[common.Address]*uint256.Int
	flashloans   uint64
}

// New starts a ledger from base. A zero-value base with only the vault
// parameters set replays a log from its first event.
func New(base model.LedgerSnapshot) (*Ledger, error) {
	l := &Ledger{
		seq:          base.Seq,
		timestamp:    base.Timestamp,
		manager:      base.Manager,
		feeReceiver:  base.FeeReceiver,
		protocolFee:  base.ProtocolFee,
		flashloanFee: base.FlashloanFee,
		pools:        make(map[common.Address]*poolAccumulator, len(base.Pools)),
		accrued:      make(map[common.Address]*uint256.Int, len(base.Accrued)),
	}
	for asset, amount := range base.Accrued {
		a, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("accrual of %s: %w", asset, err)
		}
		l.accrued[common.HexToAddress(asset)] = a
	}
	for _, ps := range base.Pools {
		id := common.HexToAddress(ps.Pool)
		acc := newPoolAccumulator(id, ps)
		if len(ps.Balances) != len(ps.Assets) {
			return nil, fmt.Errorf("pool %s: %d balances for %d assets", ps.Pool, len(ps.Balances), len(ps.Assets))
		}
		for i, b := range ps.Balances {
			v, err := uint256.FromDecimal(b)
			if err != nil {
				return nil, fmt.Errorf("pool %s balance: %w", ps.Pool, err)
			}
			acc.balances[i] = v
		}
		supply, err := uint256.FromDecimal(ps.TotalSupply)
		if err != nil {
			return nil, fmt.Errorf("pool %s supply: %w", ps.Pool, err)
		}
		acc.supply = supply
		for holder, amount := range ps.Holders {
			v, err := uint256.FromDecimal(amount)
			if err != nil {
				return nil, fmt.Errorf("pool %s holder %s: %w", ps.Pool, holder, err)
			}
			acc.holders[common.HexToAddress(holder)] = v
		}
		acc.lastSeq = ps.LastSeq
		l.pools[id] = acc
	}
	return l, nil
}

// Seq is the last applied event.
func (l *Ledger) Seq() uint64 { return l.seq }

// Flashloans counts Flashloan events applied.
func (l *Ledger) Flashloans() uint64 { return l.flashloans }

// Apply folds one event into the ledger. Events at or below the current
// sequence are ignored and reported as not applied; any other gap is an error.
// A failed event leaves the ledger unchanged.
func (l *Ledger) Apply(rec model.EventRecord) (bool, error) {
	if rec.Seq <= l.seq {
		return false, nil
	}
	if rec.Seq != l.seq+1 {
		return false, fmt.Errorf("%w: have %d, got %d", ErrSeqGap, l.seq, rec.Seq)
	}
	decoded, err := rec.Decode()
	if err != nil {
		return false, fmt.Errorf("seq %d: %w", rec.Seq, err)
	}

	var acc *poolAccumulator
	if rec.Pool != "" && rec.EventName != model.EventPoolRegistered {
		acc = l.pools[common.HexToAddress(rec.Pool)]
		if acc == nil {
			return false, fmt.Errorf("seq %d %s: %w: %s", rec.Seq, rec.EventName, ErrUnknownPool, rec.Pool)
		}
	}

	switch data := decoded.(type) {
	case *model.PoolRegisteredData:
		err = l.register(rec, data)
	case *model.DepositData:
		err = l.deposit(acc, data)
	case *model.WithdrawData:
		err = l.withdraw(acc, data)
	case *model.SwapData:
		err = l.swap(acc, data)
	case *model.FlashloanData:
		l.flashloans++
	case *model.FeesWithdrawnData:
		if rec.EventName == model.EventProtocolFeesWithdrawn {
			err = l.drain(data)
		}
	case *model.FeeUpdateData:
		switch rec.EventName {
		case model.EventSwapFeeUpdate:
			acc.meta.SwapFee = data.Fee
		case model.EventProtocolFeeUpdate:
			l.protocolFee = data.Fee
		case model.EventFlashloanFeeUpdate:
			l.flashloanFee = data.Fee
		}
	case *model.AddressUpdateData:
		if rec.EventName == model.EventManagerUpdate {
			l.manager = data.Next
		} else {
			l.feeReceiver = data.Next
		}
	}
	if err != nil {
		return false, fmt.Errorf("seq %d %s: %w", rec.Seq, rec.EventName, err)
	}

	l.seq = rec.Seq
	l.timestamp = rec.Timestamp
	if rec.Pool != "" {
		l.pools[common.HexToAddress(rec.Pool)].lastSeq = rec.Seq
	}
	return true, nil
}

func (l *Ledger) register(rec model.EventRecord, data *model.PoolRegisteredData) error {
	id := common.HexToAddress(rec.Pool)
	if _, ok := l.pools[id]; ok {
		return fmt.Errorf("pool %s registered twice", rec.Pool)
	}
	if len(data.Weights) != len(data.Assets) || len(data.Decimals) != len(data.Assets) {
		return fmt.Errorf("pool %s: malformed registration", rec.Pool)
	}
	l.pools[id] = newPoolAccumulator(id, model.PoolState{
		Pool:     id.Hex(),
		Assets:   append([]string(nil), data.Assets...),
		Weights:  append([]string(nil), data.Weights...),
		Decimals: append([]uint8(nil), data.Decimals...),
		SwapFee:  data.SwapFee,
	})
	return nil
}

// deposit and withdraw stage every change before touching the accumulator.
func (l *Ledger) deposit(acc *poolAccumulator, data *model.DepositData) error {
	amounts, err := parseVector(data.Amounts, len(acc.balances))
	if err != nil {
		return err
	}
	protocol, err := parseVector(data.ProtocolFees, len(acc.balances))
	if err != nil {
		return err
	}
	fees, err := parseVector(data.Fees, len(acc.balances))
	if err != nil {
		return err
	}
	lp, err := uint256.FromDecimal(data.LPAmount)
	if err != nil {
		return err
	}
	next := make([]*uint256.Int, len(acc.balances))
	for i := range next {
		if protocol[i].Gt(amounts[i]) {
			return fmt.Errorf("%w: protocol fee above deposit", ErrUnderflow)
		}
		kept := new(uint256.Int).Sub(amounts[i], protocol[i])
		next[i] = new(uint256.Int).Add(acc.balances[i], kept)
	}
	holder := common.HexToAddress(data.Receiver)

	acc.balances = next
	acc.supply = new(uint256.Int).Add(acc.supply, lp)
	acc.credit(holder, lp)
	for i, asset := range acc.meta.Assets {
		l.accrue(common.HexToAddress(asset), protocol[i])
		acc.fees[i] = new(uint256.Int).Add(acc.fees[i], fees[i])
	}
	acc.deposits++
	return nil
}

func (l *Ledger) withdraw(acc *poolAccumulator, data *model.WithdrawData) error {
	amounts, err := parseVector(data.Amounts, len(acc.balances))
	if err != nil {
		return err
	}
	protocol, err := parseVector(data.ProtocolFees, len(acc.balances))
	if err != nil {
		return err
	}
	fees, err := parseVector(data.Fees, len(acc.balances))
	if err != nil {
		return err
	}
	lp, err := uint256.FromDecimal(data.LPAmount)
	if err != nil {
		return err
	}
	holder := common.HexToAddress(data.Sender)
	if lp.Gt(acc.supply) || lp.Gt(acc.holderBalance(holder)) {
		return fmt.Errorf("%w: burn %s from %s", ErrUnderflow, lp.Dec(), data.Sender)
	}
	next := make([]*uint256.Int, len(acc.balances))
	for i := range next {
		debit := new(uint256.Int).Add(amounts[i], protocol[i])
		if debit.Gt(acc.balances[i]) {
			return fmt.Errorf("%w: asset %s debit %s", ErrUnderflow, acc.meta.Assets[i], debit.Dec())
		}
		next[i] = new(uint256.Int).Sub(acc.balances[i], debit)
	}

	acc.balances = next
	acc.supply = new(uint256.Int).Sub(acc.supply, lp)
	acc.debit(holder, lp)
	for i, asset := range acc.meta.Assets {
		l.accrue(common.HexToAddress(asset), protocol[i])
		acc.fees[i] = new(uint256.Int).Add(acc.fees[i], fees[i])
	}
	acc.withdrawals++
	return nil
}

func (l *Ledger) swap(acc *poolAccumulator, data *model.SwapData) error {
	tokenIn, tokenOut := common.HexToAddress(data.TokenIn), common.HexToAddress(data.TokenOut)
	in, ok := acc.index[tokenIn]
	if !ok {
		return fmt.Errorf("token %s not in pool", data.TokenIn)
	}
	out, ok := acc.index[tokenOut]
	if !ok {
		return fmt.Errorf("token %s not in pool", data.TokenOut)
	}
	amountIn, err := uint256.FromDecimal(data.AmountIn)
	if err != nil {
		return err
	}
	amountOut, err := uint256.FromDecimal(data.AmountOut)
	if err != nil {
		return err
	}
	fee, err := uint256.FromDecimal(data.Fee)
	if err != nil {
		return err
	}
	protocol, err := uint256.FromDecimal(data.ProtocolFee)
	if err != nil {
		return err
	}
	if protocol.Gt(amountIn) {
		return fmt.Errorf("%w: protocol fee above amount in", ErrUnderflow)
	}
	credited := new(uint256.Int).Add(acc.balances[in], new(uint256.Int).Sub(amountIn, protocol))
	if amountOut.Gt(acc.balances[out]) {
		return fmt.Errorf("%w: asset %s debit %s", ErrUnderflow, data.TokenOut, amountOut.Dec())
	}

	acc.balances[in] = credited
	acc.balances[out] = new(uint256.Int).Sub(acc.balances[out], amountOut)
	l.accrue(tokenIn, protocol)
	acc.volumeIn[in] = new(uint256.Int).Add(acc.volumeIn[in], amountIn)
	acc.fees[in] = new(uint256.Int).Add(acc.fees[in], fee)
	acc.swaps++
	return nil
}

func (l *Ledger) drain(data *model.FeesWithdrawnData) error {
	if len(data.Tokens) != len(data.Amounts) {
		return fmt.Errorf("%d tokens, %d amounts", len(data.Tokens), len(data.Amounts))
	}
	next := make(map[common.Address]*uint256.Int, len(data.Tokens))
	for i, t := range data.Tokens {
		asset := common.HexToAddress(t)
		amount, err := uint256.FromDecimal(data.Amounts[i])
		if err != nil {
			return err
		}
		current, ok := next[asset]
		if !ok {
			current = l.accruedOf(asset)
		}
		if amount.Gt(current) {
			return fmt.Errorf("%w: withdraw %s of %s accrued %s", ErrUnderflow, amount.Dec(), t, current.Dec())
		}
		next[asset] = new(uint256.Int).Sub(current, amount)
	}
	for asset, amount := range next {
		l.accrued[asset] = amount
	}
	return nil
}

func (l *Ledger) accrue(asset common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	l.accrued[asset] = new(uint256.Int).Add(l.accruedOf(asset), amount)
}

func (l *Ledger) accruedOf(asset common.Address) *uint256.Int {
	if a, ok := l.accrued[asset]; ok {
		return a
	}
	return new(uint256.Int)
}

func (a *poolAccumulator) holderBalance(holder common.Address) *uint256.Int {
	if b, ok := a.holders[holder]; ok {
		return b
	}
	return new(uint256.Int)
}

func (a *poolAccumulator) credit(holder common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	a.holders[holder] = new(uint256.Int).Add(a.holderBalance(holder), amount)
}

func (a *poolAccumulator) debit(holder common.Address, amount *uint256.Int) {
	next := new(uint256.Int).Sub(a.holderBalance(holder), amount)
	if next.IsZero() {
		delete(a.holders, holder)
		return
	}
	a.holders[holder] = next
}

// Snapshot returns the replayed ledger in the same shape the vault exports.
// Timestamp is the timestamp of the last applied event.
func (l *Ledger) Snapshot() model.LedgerSnapshot {
	snap := model.LedgerSnapshot{
		Seq:          l.seq,
		Timestamp:    l.timestamp,
		Manager:      l.manager,
		FeeReceiver:  l.feeReceiver,
		ProtocolFee:  l.protocolFee,
		FlashloanFee: l.flashloanFee,
		Accrued:      make(map[string]string, len(l.accrued)),
	}
	for asset, amount := range l.accrued {
		if !amount.IsZero() {
			snap.Accrued[asset.Hex()] = amount.Dec()
		}
	}
	snap.Pools = l.PoolStates()
	return snap
}

// PoolStates returns every pool ordered by id.
func (l *Ledger) PoolStates() []model.PoolState {
	var out []model.PoolState
	for _, acc := range l.sorted() {
		ps := acc.meta
		ps.Assets = append([]string(nil), acc.meta.Assets...)
		ps.Weights = append([]string(nil), acc.meta.Weights...)
		ps.Decimals = append([]uint8(nil), acc.meta.Decimals...)
		ps.Balances = decStrings(acc.balances)
		ps.TotalSupply = acc.supply.Dec()
		ps.Holders = make(map[string]string, len(acc.holders))
		for holder, amount := range acc.holders {
			ps.Holders[holder.Hex()] = amount.Dec()
		}
		ps.LastSeq = acc.lastSeq
		out = append(out, ps)
	}
	return out
}

// Stats returns per-pool activity ordered by pool id.
func (l *Ledger) Stats() []PoolStats {
	var out []PoolStats
	for _, acc := range l.sorted() {
		out = append(out, PoolStats{
			Pool:        acc.id.Hex(),
			Swaps:       acc.swaps,
			Deposits:    acc.deposits,
			Withdrawals: acc.withdrawals,
			VolumeIn:    decStrings(acc.volumeIn),
			Fees:        decStrings(acc.fees),
		})
	}
	return out
}

func (l *Ledger) sorted() []*poolAccumulator {
	out := make([]*poolAccumulator, 0, len(l.pools))
	for _, acc := range l.pools {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].id.Bytes(), out[j].id.Bytes()) < 0
	})
	return out
}

func parseVector(values []string, n int) ([]*uint256.Int, error) {
	if len(values) != n {
		return nil, fmt.Errorf("%d amounts for %d assets", len(values), n)
	}
	out := make([]*uint256.Int, n)
	for i, s := range values {
		v, err := uint256.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}

func zeros(n int) []*uint256.Int {
	out := make([]*uint256.Int, n)
	for i := range out {
		out[i] = new(uint256.Int)
	}
	return out
}

func decStrings(values []*uint256.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Dec()
	}
	return out
}
