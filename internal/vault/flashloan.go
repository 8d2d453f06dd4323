package vault

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/fixedpoint"
	"weightedVault/internal/model"
	"weightedVault/internal/token"
)

// FlashState is the flashloan state machine:
// Idle -> Disbursing -> AwaitingCallback -> Settling -> Idle.
type FlashState uint8

const (
	FlashIdle FlashState = iota
	FlashDisbursing
	FlashAwaitingCallback
	FlashSettling
)

func (s FlashState) String() string {
	switch s {
	case FlashIdle:
		return "idle"
	case FlashDisbursing:
		return "disbursing"
	case FlashAwaitingCallback:
		return "awaiting_callback"
	case FlashSettling:
		return "settling"
	}
	return fmt.Sprintf("flash_state(%d)", uint8(s))
}

var (
	ErrReentrancy            = errors.New("reentrant call during flashloan")
	ErrUnsortedAssets        = errors.New("flashloan assets not in ascending order")
	ErrZeroAmount            = errors.New("flashloan amount is zero")
	ErrInsufficientRepayment = errors.New("flashloan not repaid with fee")
	ErrInsufficientLiquidity = errors.New("flashloan exceeds vault balance")
)

// Borrower receives a flashloan. OnFlashloan runs with the borrowed assets
// already in the borrower's account and must send amounts[i] + fees[i] of
// every asset back to the vault before returning. The vault may be read
// from the callback; mutating calls fail with ErrReentrancy.
type Borrower interface {
	Address() common.Address
	OnFlashloan(v *Vault, tokens []common.Address, amounts, fees []*uint256.Int) error
}

// FlashState reports the flashloan state.
func (v *Vault) FlashState() FlashState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flash
}

// Flashloan lends the vault's idle balances of tokens to borrower for the
// duration of its callback. Repayment plus fee is checked per asset; any
// shortfall restores the ledger of every known asset, borrowed or not, to
// its pre-loan state. The proceeds go to the fee receiver. It returns the
// fees charged.
func (v *Vault) Flashloan(borrower Borrower, tokens []common.Address, amounts []*uint256.Int) ([]*uint256.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()

	assets, fees, err := v.prepareFlashloan(tokens, amounts)
	if err != nil {
		return nil, fmt.Errorf("flashloan: %w", err)
	}

	v.flash = FlashDisbursing
	defer func() { v.flash = FlashIdle }()

	before := make([]*uint256.Int, len(assets))
	for i, asset := range assets {
		before[i] = asset.BalanceOf(v.address)
		if before[i].Lt(amounts[i]) {
			return nil, fmt.Errorf("flashloan: %w: %s holds %s, requested %s", ErrInsufficientLiquidity, tokens[i].Hex(), before[i].Dec(), amounts[i].Dec())
		}
	}
	rollback := v.checkpointAssets()

	for i, asset := range assets {
		if err := asset.Transfer(v.address, borrower.Address(), amounts[i]); err != nil {
			rollback()
			return nil, fmt.Errorf("flashloan: disburse %s: %w", tokens[i].Hex(), err)
		}
	}

	if err := v.callBorrower(borrower, tokens, amounts, fees); err != nil {
		rollback()
		v.logger.Warn("flashloan callback failed", zap.String("borrower", borrower.Address().Hex()), zap.Error(err))
		return nil, fmt.Errorf("flashloan: %w", err)
	}

	surplus := make([]*uint256.Int, len(assets))
	for i, asset := range assets {
		due, err := fixedpoint.Add(before[i], fees[i])
		if err != nil {
			rollback()
			return nil, fmt.Errorf("flashloan: %w", err)
		}
		after := asset.BalanceOf(v.address)
		if after.Lt(due) {
			rollback()
			v.logger.Warn("flashloan not repaid",
				zap.String("asset", tokens[i].Hex()),
				zap.String("due", due.Dec()),
				zap.String("balance", after.Dec()),
			)
			return nil, fmt.Errorf("flashloan: %w: %s short by %s", ErrInsufficientRepayment, tokens[i].Hex(), new(uint256.Int).Sub(due, after).Dec())
		}
		surplus[i] = new(uint256.Int).Sub(after, before[i])
	}
	for i, asset := range assets {
		if surplus[i].IsZero() {
			continue
		}
		if err := asset.Transfer(v.address, v.feeReceiver, surplus[i]); err != nil {
			rollback()
			return nil, fmt.Errorf("flashloan: forward fee %s: %w", tokens[i].Hex(), err)
		}
	}

	v.emit([]model.Event{v.event(model.EventFlashloan, common.Address{}, model.FlashloanData{
		Borrower: borrower.Address().Hex(),
		Tokens:   addressStrings(tokens),
		Amounts:  amountStrings(amounts),
		Fees:     amountStrings(fees),
	})})
	v.logger.Debug("flashloan", zap.String("borrower", borrower.Address().Hex()), zap.Int("assets", len(tokens)))
	return fees, nil
}

// checkpointAssets saves the ledger of every known asset, borrowed or not,
// and returns a function restoring all of them.
func (v *Vault) checkpointAssets() func() {
	all := v.assets.All()
	snapshots := make([]any, len(all))
	for i, asset := range all {
		if s, ok := asset.(token.Snapshotter); ok {
			snapshots[i] = s.Snapshot()
		}
	}
	return func() {
		for i, asset := range all {
			if snapshots[i] == nil {
				v.logger.Error("cannot roll back asset ledger", zap.String("asset", asset.Address().Hex()))
				continue
			}
			if err := asset.(token.Snapshotter).Restore(snapshots[i]); err != nil {
				v.logger.Error("restore asset ledger failed", zap.String("asset", asset.Address().Hex()), zap.Error(err))
			}
		}
	}
}

func (v *Vault) prepareFlashloan(tokens []common.Address, amounts []*uint256.Int) ([]token.Asset, []*uint256.Int, error) {
	if len(tokens) == 0 || len(tokens) != len(amounts) {
		return nil, nil, fmt.Errorf("%w: %d tokens, %d amounts", ErrLengthMismatch, len(tokens), len(amounts))
	}
	assets := make([]token.Asset, len(tokens))
	fees := make([]*uint256.Int, len(tokens))
	for i, addr := range tokens {
		if i > 0 && bytes.Compare(tokens[i-1].Bytes(), addr.Bytes()) >= 0 {
			return nil, nil, fmt.Errorf("%w: %s after %s", ErrUnsortedAssets, addr.Hex(), tokens[i-1].Hex())
		}
		if amounts[i] == nil || amounts[i].IsZero() {
			return nil, nil, fmt.Errorf("%w: %s", ErrZeroAmount, addr.Hex())
		}
		asset, err := v.assets.Get(addr)
		if err != nil {
			return nil, nil, err
		}
		fee, err := fixedpoint.MulUp(amounts[i], v.flashloanFee)
		if err != nil {
			return nil, nil, err
		}
		assets[i] = asset
		fees[i] = fee
	}
	return assets, fees, nil
}

// callBorrower runs the callback with the ledger lock released. A panic in
// the callback is reported as an error.
func (v *Vault) callBorrower(borrower Borrower, tokens []common.Address, amounts, fees []*uint256.Int) (err error) {
	v.flash = FlashAwaitingCallback
	v.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("borrower panicked: %v", r)
		}
		v.mu.Lock()
		v.flash = FlashSettling
	}()
	return borrower.OnFlashloan(v, cloneAddresses(tokens), cloneAmounts(amounts), cloneAmounts(fees))
}

func cloneAddresses(values []common.Address) []common.Address {
	return append([]common.Address(nil), values...)
}
