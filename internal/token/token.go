// Package token defines the asset interface the vault moves balances
// through, plus an in-memory ERC20-style ledger used by the simulator and
// tests.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownAsset          = errors.New("unknown asset")
)

// Asset is an external fungible token. from is the account initiating the
// call, standing in for the message sender.
type Asset interface {
	Address() common.Address
	BalanceOf(holder common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, holder, to common.Address, amount *uint256.Int) error
}

// Snapshotter is implemented by assets whose ledger can be saved and
// restored. The vault uses it to undo a failed flashloan together with
// everything the borrower did with the funds.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any) error
}

// Memory is an in-memory token ledger with ERC20 approval semantics.
type Memory struct {
	mu         sync.RWMutex
	address    common.Address
	symbol     string
	decimals   uint8
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func NewMemory(address common.Address, symbol string, decimals uint8) *Memory {
	return &Memory{
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (m *Memory) Address() common.Address { return m.address }
func (m *Memory) Symbol() string          { return m.symbol }
func (m *Memory) Decimals() uint8         { return m.decimals }

func (m *Memory) BalanceOf(holder common.Address) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[holder]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// Mint credits amount to holder.
func (m *Memory) Mint(holder common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, overflow := new(uint256.Int).AddOverflow(m.balanceLocked(holder), amount)
	if overflow {
		return fmt.Errorf("mint %s: balance overflow", m.symbol)
	}
	m.balances[holder] = next
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (m *Memory) Approve(owner, spender common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byOwner, ok := m.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		m.allowances[owner] = byOwner
	}
	byOwner[spender] = new(uint256.Int).Set(amount)
}

func (m *Memory) Allowance(owner, spender common.Address) *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

func (m *Memory) Transfer(from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(from, to, amount)
}

func (m *Memory) TransferFrom(spender, holder, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := m.allowances[holder][spender]
	if spender != holder {
		if allowed == nil || allowed.Lt(amount) {
			return fmt.Errorf("%s transfer from %s: %w", m.symbol, holder.Hex(), ErrInsufficientAllowance)
		}
	}
	if err := m.moveLocked(holder, to, amount); err != nil {
		return err
	}
	if spender != holder && !isMaxAllowance(allowed) {
		m.allowances[holder][spender] = new(uint256.Int).Sub(allowed, amount)
	}
	return nil
}

func (m *Memory) moveLocked(from, to common.Address, amount *uint256.Int) error {
	balance := m.balanceLocked(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%s transfer from %s: %w", m.symbol, from.Hex(), ErrInsufficientBalance)
	}
	if amount.IsZero() || from == to {
		return nil
	}
	m.balances[from] = new(uint256.Int).Sub(balance, amount)
	m.balances[to] = new(uint256.Int).Add(m.balanceLocked(to), amount)
	return nil
}

func (m *Memory) balanceLocked(holder common.Address) *uint256.Int {
	if b, ok := m.balances[holder]; ok {
		return b
	}
	return new(uint256.Int)
}

func isMaxAllowance(v *uint256.Int) bool {
	return v != nil && v.Eq(new(uint256.Int).SetAllOne())
}

type memorySnapshot struct {
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// Snapshot copies the ledger. Balances are never mutated in place, so the
// copy only needs fresh maps.
func (m *Memory) Snapshot() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		balances:   make(map[common.Address]*uint256.Int, len(m.balances)),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(m.allowances)),
	}
	for k, v := range m.balances {
		snap.balances[k] = v
	}
	for owner, byOwner := range m.allowances {
		copied := make(map[common.Address]*uint256.Int, len(byOwner))
		for spender, v := range byOwner {
			copied[spender] = v
		}
		snap.allowances[owner] = copied
	}
	return snap
}

func (m *Memory) Restore(snapshot any) error {
	snap, ok := snapshot.(memorySnapshot)
	if !ok {
		return fmt.Errorf("restore %s: unexpected snapshot type %T", m.symbol, snapshot)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = snap.balances
	m.allowances = snap.allowances
	return nil
}

// Set resolves assets by address.
type Set struct {
	mu     sync.RWMutex
	assets map[common.Address]Asset
}

func NewSet(assets ...Asset) *Set {
	s := &Set{assets: make(map[common.Address]Asset, len(assets))}
	for _, a := range assets {
		s.assets[a.Address()] = a
	}
	return s
}

func (s *Set) Add(asset Asset) {
	s.mu.Lock()
	s.assets[asset.Address()] = asset
	s.mu.Unlock()
}

func (s *Set) Get(address common.Address) (Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, address.Hex())
	}
	return asset, nil
}

// All returns every asset in the set.
func (s *Set) All() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	return out
}
