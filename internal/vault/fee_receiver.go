package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/access"
	"weightedVault/internal/fixedpoint"
	"weightedVault/internal/model"
	"weightedVault/internal/token"
)

// FeeReceiver manages the account flashloan proceeds are forwarded to. It
// has its own manager, independent of the vault's.
type FeeReceiver struct {
	address common.Address
	manager *access.Manager
	vault   *Vault
}

// FeeReceiver returns a handle on the account the vault currently forwards
// flashloan proceeds to, managed by manager.
func (v *Vault) FeeReceiver(manager common.Address) *FeeReceiver {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &FeeReceiver{
		address: v.feeReceiver,
		manager: access.NewManager(manager),
		vault:   v,
	}
}

func (f *FeeReceiver) Address() common.Address { return f.address }

func (f *FeeReceiver) Manager() common.Address { return f.manager.Address() }

func (f *FeeReceiver) ChangeManager(caller, next common.Address) error {
	return f.manager.Change(caller, next)
}

// Balance returns the receiver's holding of an asset.
func (f *FeeReceiver) Balance(asset common.Address) (*uint256.Int, error) {
	a, err := f.vault.assets.Get(asset)
	if err != nil {
		return nil, err
	}
	return a.BalanceOf(f.address), nil
}

// WithdrawFeesTo sends amounts[i] of tokens[i] to receivers[i]; a nil amount
// sends nothing. Either every transfer happens or none does. Like every
// mutating call it fails with ErrReentrancy while a flashloan is in flight.
func (f *FeeReceiver) WithdrawFeesTo(caller common.Address, tokens []common.Address, receivers []common.Address, amounts []*uint256.Int) error {
	if err := f.manager.Check(caller); err != nil {
		return err
	}
	if len(tokens) != len(amounts) || len(tokens) != len(receivers) {
		return fmt.Errorf("withdraw flashloan fees: %w: %d tokens, %d amounts, %d receivers", ErrLengthMismatch, len(tokens), len(amounts), len(receivers))
	}

	v := f.vault
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	sent := make([]*uint256.Int, len(amounts))
	for i, a := range amounts {
		sent[i] = new(uint256.Int)
		if a != nil {
			sent[i].Set(a)
		}
	}
	amounts = sent
	assets := make([]token.Asset, len(tokens))
	owed := make(map[common.Address]*uint256.Int)
	for i, addr := range tokens {
		asset, err := v.assets.Get(addr)
		if err != nil {
			return fmt.Errorf("withdraw flashloan fees: %w", err)
		}
		assets[i] = asset
		total, ok := owed[addr]
		if !ok {
			total = new(uint256.Int)
		}
		if total, err = fixedpoint.Add(total, amounts[i]); err != nil {
			return fmt.Errorf("withdraw flashloan fees: %w", err)
		}
		owed[addr] = total
		if held := asset.BalanceOf(f.address); held.Lt(total) {
			return fmt.Errorf("withdraw flashloan fees: %w: %s holds %s", ErrInsufficientFees, addr.Hex(), held.Dec())
		}
	}

	snapshots := make(map[common.Address]any)
	for i, asset := range assets {
		if s, ok := asset.(token.Snapshotter); ok {
			if _, seen := snapshots[tokens[i]]; !seen {
				snapshots[tokens[i]] = s.Snapshot()
			}
		}
	}
	for i, asset := range assets {
		if amounts[i].IsZero() {
			continue
		}
		if err := asset.Transfer(f.address, receivers[i], amounts[i]); err != nil {
			for j := 0; j < i; j++ {
				if snap, ok := snapshots[tokens[j]]; ok {
					if rerr := assets[j].(token.Snapshotter).Restore(snap); rerr != nil {
						v.logger.Error("restore asset ledger failed", zap.String("asset", tokens[j].Hex()), zap.Error(rerr))
					}
				}
			}
			return fmt.Errorf("withdraw flashloan fees: %w", err)
		}
	}

	v.emit([]model.Event{v.event(model.EventFlashloanFeesWithdrawn, common.Address{}, model.FeesWithdrawnData{
		Caller:    caller.Hex(),
		Tokens:    addressStrings(tokens),
		Amounts:   amountStrings(amounts),
		Receivers: addressStrings(receivers),
	})})
	v.logger.Info("flashloan fees withdrawn", zap.String("caller", caller.Hex()), zap.Int("assets", len(tokens)))
	return nil
}
