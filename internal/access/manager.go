// Package access holds the single-manager role shared by the registry, the
// vault and the fee receiver.
package access

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized = errors.New("caller is not the manager")
	ErrZeroAddress  = errors.New("zero address")
)

// Manager guards administrative calls behind one address.
type Manager struct {
	mu      sync.RWMutex
	manager common.Address
}

func NewManager(manager common.Address) *Manager {
	return &Manager{manager: manager}
}

// Address returns the current manager.
func (m *Manager) Address() common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manager
}

// Check returns ErrUnauthorized unless caller is the manager.
func (m *Manager) Check(caller common.Address) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if caller != m.manager {
		return ErrUnauthorized
	}
	return nil
}

// Change hands the role to next. Only the current manager may call it.
func (m *Manager) Change(caller, next common.Address) error {
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != m.manager {
		return ErrUnauthorized
	}
	m.manager = next
	return nil
}
