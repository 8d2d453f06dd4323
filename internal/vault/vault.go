// Package vault is the balance ledger: it holds every pool's reserves,
// liquidity-token supply and holder balances, and the protocol-fee accrual,
// and moves assets for joins, exits, swaps, routes and flashloans.
//
// All calls are serialized. A call either commits completely (transfers,
// ledger mutation and events) or leaves the ledger untouched.
package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/access"
	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/storage"
	"weightedVault/internal/token"
)

const (
	// MaxProtocolFee and MaxFlashloanFee are 100%.
	MaxProtocolFee  uint64 = 1e18
	MaxFlashloanFee uint64 = 1e18

	DefaultProtocolFee  uint64 = 1e15
	DefaultFlashloanFee uint64 = 1e15
)

var (
	ErrDeadlineExpired  = errors.New("deadline expired")
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrInvalidToken     = errors.New("token not in pool")
	ErrSameToken        = errors.New("token in equals token out")
	ErrInsufficientLP   = errors.New("insufficient liquidity tokens")
	ErrInsufficientFees = errors.New("amount exceeds collected fees")
	ErrLengthMismatch   = errors.New("input length mismatch")
	ErrFeeTooHigh       = fmt.Errorf("%w: fee above ceiling", registry.ErrConfiguration)
	ErrAssetDecimals    = fmt.Errorf("%w: decimals differ from the asset", registry.ErrConfiguration)

	ErrUnknownPool  = registry.ErrUnknownPool
	ErrUnauthorized = access.ErrUnauthorized
)

// Config wires a Vault to its collaborators.
type Config struct {
	// Address is the vault's own account in the asset ledgers.
	Address      common.Address
	Manager      common.Address
	FeeReceiver  common.Address
	ProtocolFee  *uint256.Int
	FlashloanFee *uint256.Int
	Registry     *registry.Registry
	Assets       *token.Set
	Sink         storage.Storage
	Clock        func() uint64
	Logger       *zap.Logger
}

type poolState struct {
	balances []*uint256.Int // normalized, pool asset order
	supply   *uint256.Int
	holders  map[common.Address]*uint256.Int
	lastSeq  uint64
}

// Vault is the ledger. It is safe for concurrent use; calls are serialized.
type Vault struct {
	mu sync.Mutex

	address  common.Address
	registry *registry.Registry
	assets   *token.Set
	manager  *access.Manager
	sink     storage.Storage
	clock    func() uint64
	logger   *zap.Logger

	protocolFee  *uint256.Int
	flashloanFee *uint256.Int
	feeReceiver  common.Address

	pools   map[common.Address]*poolState
	accrued map[common.Address]*uint256.Int // native units per asset
	flash   FlashState
	seq     uint64
}

func New(cfg Config) (*Vault, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Assets == nil {
		return nil, fmt.Errorf("asset set is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("vault address is required")
	}
	protocolFee := uint256.NewInt(DefaultProtocolFee)
	if cfg.ProtocolFee != nil {
		protocolFee = new(uint256.Int).Set(cfg.ProtocolFee)
	}
	if protocolFee.Gt(uint256.NewInt(MaxProtocolFee)) {
		return nil, fmt.Errorf("protocol fee: %w", ErrFeeTooHigh)
	}
	flashloanFee := uint256.NewInt(DefaultFlashloanFee)
	if cfg.FlashloanFee != nil {
		flashloanFee = new(uint256.Int).Set(cfg.FlashloanFee)
	}
	if flashloanFee.Gt(uint256.NewInt(MaxFlashloanFee)) {
		return nil, fmt.Errorf("flashloan fee: %w", ErrFeeTooHigh)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() uint64 { return uint64(time.Now().Unix()) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		address:      cfg.Address,
		registry:     cfg.Registry,
		assets:       cfg.Assets,
		manager:      access.NewManager(cfg.Manager),
		sink:         cfg.Sink,
		clock:        clock,
		logger:       logger,
		protocolFee:  protocolFee,
		flashloanFee: flashloanFee,
		feeReceiver:  cfg.FeeReceiver,
		pools:        make(map[common.Address]*poolState),
		accrued:      make(map[common.Address]*uint256.Int),
	}, nil
}

// Address returns the vault's account in the asset ledgers.
func (v *Vault) Address() common.Address { return v.address }

// Registry returns the pool registry backing the vault.
func (v *Vault) Registry() *registry.Registry { return v.registry }

// enter takes the ledger lock for a mutating call. It fails while a
// flashloan is in flight, including calls made from the borrower callback.
func (v *Vault) enter() error {
	v.mu.Lock()
	if v.flash != FlashIdle {
		v.mu.Unlock()
		return ErrReentrancy
	}
	return nil
}

func (v *Vault) checkDeadline(deadline uint64) error {
	if now := v.clock(); now > deadline {
		return fmt.Errorf("%w: now %d, deadline %d", ErrDeadlineExpired, now, deadline)
	}
	return nil
}

// RegisterPool registers a pool configuration and opens an empty ledger
// entry for it.
func (v *Vault) RegisterPool(cfg registry.PoolConfig) (registry.Pool, error) {
	if err := v.enter(); err != nil {
		return registry.Pool{}, err
	}
	defer v.mu.Unlock()

	for _, asset := range cfg.Assets {
		if _, err := v.assets.Get(asset); err != nil {
			return registry.Pool{}, fmt.Errorf("register pool: %w", err)
		}
	}
	if err := v.checkAssetDecimals(cfg.Assets, cfg.Decimals); err != nil {
		return registry.Pool{}, fmt.Errorf("register pool: %w", err)
	}
	pool, err := v.registry.Register(cfg)
	if err != nil {
		return registry.Pool{}, fmt.Errorf("register pool: %w", err)
	}
	v.pools[pool.ID] = newPoolState(len(pool.Assets))

	data := model.PoolRegisteredData{
		Assets:   addressStrings(pool.Assets),
		Weights:  amountStrings(pool.Weights),
		Decimals: append([]uint8(nil), pool.Decimals...),
		SwapFee:  pool.SwapFee.Dec(),
	}
	v.emit([]model.Event{v.event(model.EventPoolRegistered, pool.ID, data)})
	v.logger.Info("pool registered", zap.String("pool", pool.ID.Hex()), zap.Int("assets", len(pool.Assets)))
	return pool, nil
}

// checkAssetDecimals compares configured decimals with assets that report
// their own precision. Assets without a Decimals method are trusted.
func (v *Vault) checkAssetDecimals(assets []common.Address, decs []uint8) error {
	for i, addr := range assets {
		if i >= len(decs) {
			break
		}
		asset, err := v.assets.Get(addr)
		if err != nil {
			continue
		}
		if d, ok := asset.(interface{ Decimals() uint8 }); ok && d.Decimals() != decs[i] {
			return fmt.Errorf("%w: %s has %d, configured %d", ErrAssetDecimals, addr.Hex(), d.Decimals(), decs[i])
		}
	}
	return nil
}

func newPoolState(n int) *poolState {
	balances := make([]*uint256.Int, n)
	for i := range balances {
		balances[i] = new(uint256.Int)
	}
	return &poolState{
		balances: balances,
		supply:   new(uint256.Int),
		holders:  make(map[common.Address]*uint256.Int),
	}
}

// state returns the ledger entry of a registered pool, creating it for pools
// registered directly with the registry.
func (v *Vault) state(pool registry.Pool) *poolState {
	st, ok := v.pools[pool.ID]
	if !ok {
		st = newPoolState(len(pool.Assets))
		v.pools[pool.ID] = st
	}
	return st
}

func (v *Vault) pool(id common.Address) (registry.Pool, error) {
	return v.registry.Pool(id)
}

// event stamps an event; seq is assigned by emit.
func (v *Vault) event(name string, pool common.Address, data interface{}) model.Event {
	ev := model.Event{
		Timestamp: v.clock(),
		EventName: name,
		Decoded:   data,
	}
	if pool != (common.Address{}) {
		ev.Pool = pool.Hex()
	}
	return ev
}

// emit numbers events and hands them to the sink. Must hold v.mu.
func (v *Vault) emit(events []model.Event) {
	for i := range events {
		v.seq++
		events[i].Seq = v.seq
		if events[i].Pool == "" {
			continue
		}
		if st, ok := v.pools[common.HexToAddress(events[i].Pool)]; ok {
			st.lastSeq = v.seq
		}
	}
	if v.sink == nil || len(events) == 0 {
		return
	}
	if err := v.sink.PutEventBatch(events); err != nil {
		v.logger.Warn("event sink failed", zap.Uint64("seq", v.seq), zap.Error(err))
	}
}

// PoolBalances returns the reserves of a pool in native units.
func (v *Vault) PoolBalances(id common.Address) ([]*uint256.Int, error) {
	pool, err := v.pool(id)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.state(pool)
	out := make([]*uint256.Int, len(st.balances))
	for i, b := range st.balances {
		out[i] = new(uint256.Int).Div(b, pool.Multipliers[i])
	}
	return out, nil
}

// PoolTokenBalance returns one reserve of a pool in native units.
func (v *Vault) PoolTokenBalance(id, asset common.Address) (*uint256.Int, error) {
	pool, err := v.pool(id)
	if err != nil {
		return nil, err
	}
	idx, ok := pool.IndexOf(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, asset.Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Div(v.state(pool).balances[idx], pool.Multipliers[idx]), nil
}

// TotalSupply returns the liquidity-token supply of a pool.
func (v *Vault) TotalSupply(id common.Address) (*uint256.Int, error) {
	pool, err := v.pool(id)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.state(pool).supply), nil
}

// LPBalance returns holder's liquidity-token balance in a pool.
func (v *Vault) LPBalance(id, holder common.Address) (*uint256.Int, error) {
	pool, err := v.pool(id)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.state(pool).holders[holder]; ok {
		return new(uint256.Int).Set(b), nil
	}
	return new(uint256.Int), nil
}

// CollectedFees returns the protocol-fee accrual of an asset in native units.
func (v *Vault) CollectedFees(asset common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if a, ok := v.accrued[asset]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// Invariant returns the weighted invariant of a pool's current reserves.
func (v *Vault) Invariant(id common.Address) (*uint256.Int, error) {
	pool, err := v.pool(id)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	balances := cloneAmounts(v.state(pool).balances)
	v.mu.Unlock()
	return invariantOf(balances, pool.Weights)
}

func cloneAmounts(values []*uint256.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(values))
	for i, val := range values {
		out[i] = new(uint256.Int).Set(val)
	}
	return out
}

func zeroAmounts(n int) []*uint256.Int {
	out := make([]*uint256.Int, n)
	for i := range out {
		out[i] = new(uint256.Int)
	}
	return out
}

func addressStrings(values []common.Address) []string {
	out := make([]string, len(values))
	for i, a := range values {
		out[i] = a.Hex()
	}
	return out
}

func amountStrings(values []*uint256.Int) []string {
	out := make([]string, len(values))
	for i, a := range values {
		out[i] = a.Dec()
	}
	return out
}
