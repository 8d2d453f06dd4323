package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"weightedVault/internal/decimals"
	"weightedVault/internal/fixedpoint"
	"weightedVault/internal/model"
	"weightedVault/internal/registry"
	"weightedVault/internal/weighted"
)

// ExitRequest describes a withdrawal.
//
// ExitPool burns LPIn and pays every asset pro rata, checked against
// MinAmountsOut (pool order, optional). ExitPoolSingleAsset burns LPIn for
// Assets[0], checked against MinAmountsOut[0]. ExitPoolPartial pays exact
// Amounts of Assets and burns at most MaxLPIn.
type ExitRequest struct {
	Pool          common.Address
	LPIn          *uint256.Int
	Assets        []common.Address
	Amounts       []*uint256.Int
	MinAmountsOut []*uint256.Int
	MaxLPIn       *uint256.Int
	Sender        common.Address
	Receiver      common.Address
	Deadline      uint64
}

// ExitResult reports a withdrawal in native units, pool asset order.
type ExitResult struct {
	Pool         common.Address
	Kind         string
	LPIn         *uint256.Int
	AmountsOut   []*uint256.Int
	Fees         []*uint256.Int
	ProtocolFees []*uint256.Int
}

// ExitPool burns liquidity for a proportional share of every asset. It is
// fee-free.
func (v *Vault) ExitPool(req ExitRequest) (ExitResult, error) {
	return v.exit(model.KindProportional, req, false)
}

// ExitPoolSingleAsset burns liquidity for one asset.
func (v *Vault) ExitPoolSingleAsset(req ExitRequest) (ExitResult, error) {
	return v.exit(model.KindSingleAsset, req, false)
}

// ExitPoolPartial withdraws exact amounts of some assets.
func (v *Vault) ExitPoolPartial(req ExitRequest) (ExitResult, error) {
	return v.exit(model.KindPartial, req, false)
}

// CalculateExitPool quotes ExitPool without moving assets.
func (v *Vault) CalculateExitPool(req ExitRequest) (ExitResult, error) {
	return v.exit(model.KindProportional, req, true)
}

// CalculateExitSingleAsset quotes ExitPoolSingleAsset without moving assets.
func (v *Vault) CalculateExitSingleAsset(req ExitRequest) (ExitResult, error) {
	return v.exit(model.KindSingleAsset, req, true)
}

// CalculateExitPartial quotes ExitPoolPartial without moving assets.
func (v *Vault) CalculateExitPartial(req ExitRequest) (ExitResult, error) {
	return v.exit(model.KindPartial, req, true)
}

func (v *Vault) exit(kind string, req ExitRequest, dryRun bool) (ExitResult, error) {
	if dryRun {
		v.mu.Lock()
	} else if err := v.enter(); err != nil {
		return ExitResult{}, err
	}
	defer v.mu.Unlock()

	if !dryRun {
		if err := v.checkDeadline(req.Deadline); err != nil {
			return ExitResult{}, err
		}
	}
	pool, err := v.pool(req.Pool)
	if err != nil {
		return ExitResult{}, err
	}

	tx := v.begin(dryRun)
	var result ExitResult
	switch kind {
	case model.KindProportional:
		result, err = v.planExit(tx, pool, req)
	case model.KindSingleAsset:
		result, err = v.planExitSingle(tx, pool, req)
	default:
		result, err = v.planExitPartial(tx, pool, req)
	}
	if err != nil {
		return ExitResult{}, fmt.Errorf("exit pool %s: %w", pool.ID.Hex(), err)
	}
	if dryRun {
		return result, nil
	}
	if err := checkExitLimits(kind, req, result); err != nil {
		return ExitResult{}, err
	}
	if err := v.commit(tx); err != nil {
		v.logger.Warn("exit failed", zap.String("pool", pool.ID.Hex()), zap.Error(err))
		return ExitResult{}, fmt.Errorf("exit pool %s: %w", pool.ID.Hex(), err)
	}
	v.logger.Debug("exit",
		zap.String("pool", pool.ID.Hex()),
		zap.String("kind", kind),
		zap.String("lp_in", result.LPIn.Dec()),
	)
	return result, nil
}

func checkExitLimits(kind string, req ExitRequest, result ExitResult) error {
	switch kind {
	case model.KindProportional:
		if len(req.MinAmountsOut) == 0 {
			return nil
		}
		if len(req.MinAmountsOut) != len(result.AmountsOut) {
			return fmt.Errorf("%w: %d minimums for %d assets", ErrLengthMismatch, len(req.MinAmountsOut), len(result.AmountsOut))
		}
		for i, min := range req.MinAmountsOut {
			if min != nil && result.AmountsOut[i].Lt(min) {
				return fmt.Errorf("%w: asset %d pays %s below minimum %s", ErrSlippageExceeded, i, result.AmountsOut[i].Dec(), min.Dec())
			}
		}
	case model.KindSingleAsset:
		if len(req.MinAmountsOut) == 0 || req.MinAmountsOut[0] == nil {
			return nil
		}
		for _, out := range result.AmountsOut {
			if !out.IsZero() && out.Lt(req.MinAmountsOut[0]) {
				return fmt.Errorf("%w: pays %s below minimum %s", ErrSlippageExceeded, out.Dec(), req.MinAmountsOut[0].Dec())
			}
		}
		if allZero(result.AmountsOut) && !req.MinAmountsOut[0].IsZero() {
			return fmt.Errorf("%w: pays nothing", ErrSlippageExceeded)
		}
	default:
		if req.MaxLPIn != nil && result.LPIn.Gt(req.MaxLPIn) {
			return fmt.Errorf("%w: burns %s above maximum %s", ErrSlippageExceeded, result.LPIn.Dec(), req.MaxLPIn.Dec())
		}
	}
	return nil
}

func allZero(values []*uint256.Int) bool {
	for _, v := range values {
		if !v.IsZero() {
			return false
		}
	}
	return true
}

func lpAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func (v *Vault) planExit(tx *ledgerTx, pool registry.Pool, req ExitRequest) (ExitResult, error) {
	n := len(pool.Assets)
	lpIn := lpAmount(req.LPIn)
	balances := tx.poolBalances(pool)
	quote, err := weighted.Exit(balances, lpIn, tx.totalSupply(pool))
	if err != nil {
		return ExitResult{}, err
	}
	result := ExitResult{
		Pool:         pool.ID,
		Kind:         model.KindProportional,
		LPIn:         lpIn,
		AmountsOut:   make([]*uint256.Int, n),
		Fees:         zeroAmounts(n),
		ProtocolFees: zeroAmounts(n),
	}
	for i := range pool.Assets {
		result.AmountsOut[i] = decimals.DenormalizeDown(quote.AmountsOut[i], pool.Multipliers[i])
	}
	if err := v.applyExit(tx, pool, balances, &result, req.Sender, req.Receiver); err != nil {
		return ExitResult{}, err
	}
	return result, nil
}

func (v *Vault) planExitSingle(tx *ledgerTx, pool registry.Pool, req ExitRequest) (ExitResult, error) {
	if len(req.Assets) != 1 {
		return ExitResult{}, fmt.Errorf("%w: single-asset exit names %d assets", ErrLengthMismatch, len(req.Assets))
	}
	idx, ok := pool.IndexOf(req.Assets[0])
	if !ok {
		return ExitResult{}, fmt.Errorf("%w: %s", ErrInvalidToken, req.Assets[0].Hex())
	}
	n := len(pool.Assets)
	lpIn := lpAmount(req.LPIn)
	balances := tx.poolBalances(pool)
	quote, err := weighted.ExitSingleToken(balances[idx], pool.Weights[idx], lpIn, tx.totalSupply(pool), pool.SwapFee, v.protocolFee)
	if err != nil {
		return ExitResult{}, err
	}
	mult := pool.Multipliers[idx]
	result := ExitResult{
		Pool:         pool.ID,
		Kind:         model.KindSingleAsset,
		LPIn:         lpIn,
		AmountsOut:   zeroAmounts(n),
		Fees:         zeroAmounts(n),
		ProtocolFees: zeroAmounts(n),
	}
	result.AmountsOut[idx] = decimals.DenormalizeDown(quote.Amount, mult)
	result.Fees[idx] = decimals.DenormalizeDown(quote.Fee, mult)
	result.ProtocolFees[idx] = decimals.DenormalizeDown(quote.ProtocolFee, mult)
	if err := v.applyExit(tx, pool, balances, &result, req.Sender, req.Receiver); err != nil {
		return ExitResult{}, err
	}
	return result, nil
}

func (v *Vault) planExitPartial(tx *ledgerTx, pool registry.Pool, req ExitRequest) (ExitResult, error) {
	amounts, _, err := expandAmounts(pool, model.KindPartial, req.Assets, req.Amounts)
	if err != nil {
		return ExitResult{}, err
	}
	normalized, err := decimals.NormalizeAll(amounts, pool.Multipliers)
	if err != nil {
		return ExitResult{}, err
	}
	n := len(pool.Assets)
	balances := tx.poolBalances(pool)
	quote, err := weighted.ExitPartial(normalized, balances, pool.Weights, tx.totalSupply(pool), pool.SwapFee, v.protocolFee)
	if err != nil {
		return ExitResult{}, err
	}
	result := ExitResult{
		Pool:         pool.ID,
		Kind:         model.KindPartial,
		LPIn:         quote.LPIn,
		AmountsOut:   amounts,
		Fees:         make([]*uint256.Int, n),
		ProtocolFees: make([]*uint256.Int, n),
	}
	for i := range pool.Assets {
		result.Fees[i] = decimals.DenormalizeDown(quote.Fees[i], pool.Multipliers[i])
		result.ProtocolFees[i] = decimals.DenormalizeDown(quote.ProtocolFees[i], pool.Multipliers[i])
	}
	if err := v.applyExit(tx, pool, balances, &result, req.Sender, req.Receiver); err != nil {
		return ExitResult{}, err
	}
	return result, nil
}

// applyExit burns the liquidity, debits each reserve by the payout plus
// the protocol fee, and stages the payouts and the Withdraw event.
func (v *Vault) applyExit(tx *ledgerTx, pool registry.Pool, balances []*uint256.Int, result *ExitResult, sender, receiver common.Address) error {
	if err := tx.burn(pool, sender, result.LPIn); err != nil {
		return err
	}
	for i, asset := range pool.Assets {
		native, err := fixedpoint.Add(result.AmountsOut[i], result.ProtocolFees[i])
		if err != nil {
			return err
		}
		debit, err := decimals.Normalize(native, pool.Multipliers[i])
		if err != nil {
			return err
		}
		if !debit.IsZero() && !debit.Lt(balances[i]) {
			return fmt.Errorf("%w: asset %s debit %s empties reserve", weighted.ErrInvariantViolation, asset.Hex(), debit.Dec())
		}
		balances[i] = new(uint256.Int).Sub(balances[i], debit)
		if err := tx.accrue(asset, result.ProtocolFees[i]); err != nil {
			return err
		}
		if err := tx.push(asset, receiver, result.AmountsOut[i]); err != nil {
			return err
		}
	}
	tx.setPoolBalances(pool, balances)
	tx.record(model.EventWithdraw, pool.ID, model.WithdrawData{
		Kind:         result.Kind,
		Sender:       sender.Hex(),
		Receiver:     receiver.Hex(),
		LPAmount:     result.LPIn.Dec(),
		Amounts:      amountStrings(result.AmountsOut),
		Fees:         amountStrings(result.Fees),
		ProtocolFees: amountStrings(result.ProtocolFees),
	})
	return nil
}
