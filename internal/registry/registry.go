// Package registry stores the immutable configuration of every pool: its
// assets, weights and per-asset decimal multipliers. Only the swap fee can
// change after registration, through the manager.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"weightedVault/internal/access"
	"weightedVault/internal/decimals"
	"weightedVault/internal/weighted"
)

// MaxSwapFee is the swap-fee ceiling, 0.5%.
const MaxSwapFee uint64 = 5e15

var (
	ErrConfiguration    = errors.New("invalid pool configuration")
	ErrTooFewAssets     = fmt.Errorf("%w: need at least 2 assets", ErrConfiguration)
	ErrDuplicateAsset   = fmt.Errorf("%w: duplicate asset", ErrConfiguration)
	ErrUnsortedAssets   = fmt.Errorf("%w: assets not sorted", ErrConfiguration)
	ErrBadWeights       = fmt.Errorf("%w: bad weights", ErrConfiguration)
	ErrFeeTooHigh       = fmt.Errorf("%w: fee above ceiling", ErrConfiguration)
	ErrDecimalsMismatch = fmt.Errorf("%w: asset decimals differ from earlier registration", ErrConfiguration)
	ErrPoolExists       = errors.New("pool already registered")
	ErrUnknownPool      = errors.New("unknown pool")
)

// PoolConfig is the input to Register. A zero ID is replaced by DerivePoolID.
type PoolConfig struct {
	ID       common.Address
	Assets   []common.Address
	Weights  []*uint256.Int
	Decimals []uint8
	SwapFee  *uint256.Int
	Salt     []byte
}

// Pool is a registered pool. Values returned by the registry are copies.
type Pool struct {
	ID          common.Address
	Assets      []common.Address
	Weights     []*uint256.Int
	Decimals    []uint8
	Multipliers []*uint256.Int
	SwapFee     *uint256.Int
}

// IndexOf returns the position of asset in the pool.
func (p Pool) IndexOf(asset common.Address) (int, bool) {
	for i, a := range p.Assets {
		if a == asset {
			return i, true
		}
	}
	return -1, false
}

func (p Pool) clone() Pool {
	out := Pool{
		ID:          p.ID,
		Assets:      append([]common.Address(nil), p.Assets...),
		Weights:     make([]*uint256.Int, len(p.Weights)),
		Decimals:    append([]uint8(nil), p.Decimals...),
		Multipliers: make([]*uint256.Int, len(p.Multipliers)),
		SwapFee:     new(uint256.Int).Set(p.SwapFee),
	}
	for i := range p.Weights {
		out.Weights[i] = new(uint256.Int).Set(p.Weights[i])
		out.Multipliers[i] = new(uint256.Int).Set(p.Multipliers[i])
	}
	return out
}

// Registry is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	pools         map[common.Address]*Pool
	assetDecimals map[common.Address]uint8
	manager       *access.Manager
}

func New(manager common.Address) *Registry {
	return &Registry{
		pools:         make(map[common.Address]*Pool),
		assetDecimals: make(map[common.Address]uint8),
		manager:       access.NewManager(manager),
	}
}

// DerivePoolID hashes the sorted assets, weights and salt with BLAKE3 and
// keeps the last 20 bytes.
func DerivePoolID(assets []common.Address, weights []*uint256.Int, salt []byte) common.Address {
	h := blake3.New()
	for _, asset := range assets {
		h.Write(asset.Bytes())
	}
	for _, w := range weights {
		word := w.Bytes32()
		h.Write(word[:])
	}
	h.Write(salt)
	var digest common.Hash
	h.Digest().Read(digest[:])
	return common.BytesToAddress(digest[12:])
}

// Validate checks a pool configuration without registering it.
func Validate(cfg PoolConfig) error {
	n := len(cfg.Assets)
	if n < 2 {
		return ErrTooFewAssets
	}
	if len(cfg.Weights) != n || len(cfg.Decimals) != n {
		return fmt.Errorf("%w: %d assets, %d weights, %d decimals", ErrConfiguration, n, len(cfg.Weights), len(cfg.Decimals))
	}
	for i := 1; i < n; i++ {
		switch bytes.Compare(cfg.Assets[i-1].Bytes(), cfg.Assets[i].Bytes()) {
		case 0:
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, cfg.Assets[i].Hex())
		case 1:
			return fmt.Errorf("%w: %s before %s", ErrUnsortedAssets, cfg.Assets[i-1].Hex(), cfg.Assets[i].Hex())
		}
	}
	for _, asset := range cfg.Assets {
		if asset == (common.Address{}) {
			return fmt.Errorf("%w: zero asset address", ErrConfiguration)
		}
	}
	if err := weighted.ValidateWeights(cfg.Weights); err != nil {
		return fmt.Errorf("%w: %v", ErrBadWeights, err)
	}
	if cfg.SwapFee == nil || cfg.SwapFee.Gt(uint256.NewInt(MaxSwapFee)) {
		return ErrFeeTooHigh
	}
	for i, d := range cfg.Decimals {
		if _, err := decimals.Multiplier(d); err != nil {
			return fmt.Errorf("%w: asset %s: %v", ErrConfiguration, cfg.Assets[i].Hex(), err)
		}
	}
	return nil
}

// Register validates and stores a pool configuration.
func (r *Registry) Register(cfg PoolConfig) (Pool, error) {
	if err := Validate(cfg); err != nil {
		return Pool{}, err
	}
	id := cfg.ID
	if id == (common.Address{}) {
		id = DerivePoolID(cfg.Assets, cfg.Weights, cfg.Salt)
	}

	pool := Pool{
		ID:          id,
		Assets:      append([]common.Address(nil), cfg.Assets...),
		Weights:     make([]*uint256.Int, len(cfg.Weights)),
		Decimals:    append([]uint8(nil), cfg.Decimals...),
		Multipliers: make([]*uint256.Int, len(cfg.Assets)),
		SwapFee:     new(uint256.Int).Set(cfg.SwapFee),
	}
	for i := range cfg.Assets {
		pool.Weights[i] = new(uint256.Int).Set(cfg.Weights[i])
		mult, _ := decimals.Multiplier(cfg.Decimals[i])
		pool.Multipliers[i] = mult
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pools[id]; exists {
		return Pool{}, fmt.Errorf("%w: %s", ErrPoolExists, id.Hex())
	}
	for i, asset := range pool.Assets {
		if known, ok := r.assetDecimals[asset]; ok && known != pool.Decimals[i] {
			return Pool{}, fmt.Errorf("%w: %s has %d, got %d", ErrDecimalsMismatch, asset.Hex(), known, pool.Decimals[i])
		}
	}
	for i, asset := range pool.Assets {
		r.assetDecimals[asset] = pool.Decimals[i]
	}
	r.pools[id] = &pool
	return pool.clone(), nil
}

// Pool returns a copy of the pool configuration.
func (r *Registry) Pool(id common.Address) (Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.pools[id]
	if !ok {
		return Pool{}, fmt.Errorf("%w: %s", ErrUnknownPool, id.Hex())
	}
	return pool.clone(), nil
}

// Pools returns every registered pool ordered by id.
func (r *Registry) Pools() []Pool {
	r.mu.RLock()
	out := make([]Pool, 0, len(r.pools))
	for _, pool := range r.pools {
		out = append(out, pool.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID.Bytes(), out[j].ID.Bytes()) < 0
	})
	return out
}

// AssetDecimals returns the decimals an asset was registered with.
func (r *Registry) AssetDecimals(asset common.Address) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.assetDecimals[asset]
	return d, ok
}

// SetSwapFee updates a pool's swap fee. Manager only.
func (r *Registry) SetSwapFee(caller, id common.Address, fee *uint256.Int) error {
	if err := r.manager.Check(caller); err != nil {
		return err
	}
	if fee == nil || fee.Gt(uint256.NewInt(MaxSwapFee)) {
		return ErrFeeTooHigh
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pool, ok := r.pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, id.Hex())
	}
	pool.SwapFee = new(uint256.Int).Set(fee)
	return nil
}

// Manager returns the address allowed to change swap fees.
func (r *Registry) Manager() common.Address {
	return r.manager.Address()
}

// ChangeManager hands the manager role to next.
func (r *Registry) ChangeManager(caller, next common.Address) error {
	return r.manager.Change(caller, next)
}
