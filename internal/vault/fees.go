package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/model"
)

// WithdrawCollectedFees pays accrued protocol fees out to receivers. Only
// the manager may call it; each amount must fit the asset's accrual.
func (v *Vault) WithdrawCollectedFees(caller common.Address, tokens []common.Address, amounts []*uint256.Int, receivers []common.Address) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.manager.Check(caller); err != nil {
		return err
	}
	if len(tokens) != len(amounts) || len(tokens) != len(receivers) {
		return fmt.Errorf("withdraw fees: %w: %d tokens, %d amounts, %d receivers", ErrLengthMismatch, len(tokens), len(amounts), len(receivers))
	}

	tx := v.begin(false)
	paid := make([]*uint256.Int, len(tokens))
	for i, asset := range tokens {
		amount := amounts[i]
		if amount == nil {
			amount = new(uint256.Int)
		}
		paid[i] = amount
		if err := tx.drain(asset, amount); err != nil {
			return fmt.Errorf("withdraw fees: %w", err)
		}
		if err := tx.push(asset, receivers[i], amount); err != nil {
			return fmt.Errorf("withdraw fees: %w", err)
		}
	}
	tx.record(model.EventProtocolFeesWithdrawn, common.Address{}, model.FeesWithdrawnData{
		Caller:    caller.Hex(),
		Tokens:    addressStrings(tokens),
		Amounts:   amountStrings(paid),
		Receivers: addressStrings(receivers),
	})
	if err := v.commit(tx); err != nil {
		return fmt.Errorf("withdraw fees: %w", err)
	}
	v.logger.Info("protocol fees withdrawn", zap.String("caller", caller.Hex()), zap.Int("assets", len(tokens)))
	return nil
}
