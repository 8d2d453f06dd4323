package weighted

import (
	"fmt"

	"github.com/holiman/uint256"

	"weightedVault/internal/fixedpoint"
)

// Exit prices a proportional exit. It is fee-free: every asset pays
// floor(balance * lpIn / totalSupply). Burning the whole supply would empty
// every reserve and is rejected.
func Exit(balances []*uint256.Int, lpIn, totalSupply *uint256.Int) (ExitQuote, error) {
	n := len(balances)
	if !lpIn.IsZero() && !lpIn.Lt(totalSupply) {
		return ExitQuote{}, ErrInvariantViolation
	}
	quote := ExitQuote{
		LPIn:          new(uint256.Int).Set(lpIn),
		AmountsOut:    zeros(n),
		Fees:          zeros(n),
		ProtocolFees:  zeros(n),
		ReserveDeltas: zeros(n),
	}
	if lpIn.IsZero() {
		return quote, nil
	}
	for i, balance := range balances {
		amount, err := fixedpoint.MulDivDown(balance, lpIn, totalSupply)
		if err != nil {
			return ExitQuote{}, fmt.Errorf("exit: %w", err)
		}
		quote.AmountsOut[i] = amount
		quote.ReserveDeltas[i] = new(uint256.Int).Set(amount)
	}
	return quote, nil
}

// ExitSingleToken prices burning lpIn for a single asset. The share of the
// payout that stands for the other assets, (1 - weight), is charged the
// swap fee.
func ExitSingleToken(balanceOut, weightOut, lpIn, totalSupply, swapFee, protocolFee *uint256.Int) (TokenQuote, error) {
	if lpIn.IsZero() {
		return TokenQuote{
			Amount:       new(uint256.Int),
			Fee:          new(uint256.Int),
			ProtocolFee:  new(uint256.Int),
			ReserveDelta: new(uint256.Int),
		}, nil
	}
	if !lpIn.Lt(totalSupply) {
		return TokenQuote{}, ErrInvariantViolation
	}

	var c fixedpoint.Calc
	invariantRatio := c.DivUp(c.Sub(totalSupply, lpIn), totalSupply)
	if c.Err() == nil && invariantRatio.Lt(uint256.NewInt(MinInvariantRatio)) {
		return TokenQuote{}, ErrInvariantRatio
	}

	balanceRatio := c.PowUp(invariantRatio, c.DivDown(fixedpoint.One(), weightOut))
	amountWithoutFee := c.MulDown(balanceOut, fixedpoint.Complement(balanceRatio))
	taxable := c.MulUp(amountWithoutFee, fixedpoint.Complement(weightOut))
	fee := c.MulUp(taxable, swapFee)
	amountOut := fixedpoint.SubFloor(amountWithoutFee, fee)
	protocol := c.MulDown(fee, protocolFee)
	delta := c.Add(amountOut, protocol)
	if err := c.Err(); err != nil {
		return TokenQuote{}, fmt.Errorf("exit single token: %w", err)
	}
	if !delta.Lt(balanceOut) {
		return TokenQuote{}, ErrInvariantViolation
	}
	return TokenQuote{
		Amount:       amountOut,
		Fee:          fee,
		ProtocolFee:  protocol,
		ReserveDelta: delta,
	}, nil
}

// ExitPartial prices an exact-tokens-out exit and returns the liquidity to
// burn, rounded up. Withdrawing more than the proportional share of an asset
// is charged the swap fee on the excess, mirroring Join.
func ExitPartial(amountsOut, balances, weights []*uint256.Int, totalSupply, swapFee, protocolFee *uint256.Int) (ExitQuote, error) {
	n := len(balances)
	if len(amountsOut) != n || len(weights) != n {
		return ExitQuote{}, ErrLengthMismatch
	}
	for i := range balances {
		if !amountsOut[i].Lt(balances[i]) && !amountsOut[i].IsZero() {
			return ExitQuote{}, ErrInvariantViolation
		}
	}

	quote := ExitQuote{
		LPIn:          new(uint256.Int),
		AmountsOut:    clone(amountsOut),
		Fees:          zeros(n),
		ProtocolFees:  zeros(n),
		ReserveDeltas: clone(amountsOut),
	}

	var c fixedpoint.Calc
	ratiosWithoutFee := make([]*uint256.Int, n)
	invariantRatioWithoutFees := new(uint256.Int)
	for i := range balances {
		ratiosWithoutFee[i] = c.DivUp(c.Sub(balances[i], amountsOut[i]), balances[i])
		invariantRatioWithoutFees = c.Add(invariantRatioWithoutFees, c.MulUp(ratiosWithoutFee[i], weights[i]))
	}

	invariantRatio := fixedpoint.One()
	for i := range balances {
		if amountsOut[i].IsZero() {
			continue
		}
		amountWithFee := new(uint256.Int).Set(amountsOut[i])
		if invariantRatioWithoutFees.Gt(ratiosWithoutFee[i]) {
			nonTaxable := c.MulDown(balances[i], fixedpoint.Complement(invariantRatioWithoutFees))
			taxable := fixedpoint.SubFloor(amountsOut[i], nonTaxable)
			taxableWithFee := c.DivUp(taxable, fixedpoint.Complement(swapFee))
			fee := c.Sub(taxableWithFee, taxable)
			amountWithFee = c.Add(amountsOut[i], fee)
			quote.Fees[i] = fee
			quote.ProtocolFees[i] = c.MulDown(fee, protocolFee)
			quote.ReserveDeltas[i] = c.Add(amountsOut[i], quote.ProtocolFees[i])
		}
		if c.Err() == nil && !amountWithFee.Lt(balances[i]) {
			return ExitQuote{}, ErrInvariantViolation
		}
		balanceRatio := c.DivDown(c.Sub(balances[i], amountWithFee), balances[i])
		invariantRatio = c.MulDown(invariantRatio, c.PowDown(balanceRatio, weights[i]))
	}
	quote.LPIn = c.MulUp(totalSupply, fixedpoint.Complement(invariantRatio))
	if err := c.Err(); err != nil {
		return ExitQuote{}, fmt.Errorf("exit partial: %w", err)
	}
	if quote.LPIn.Gt(totalSupply) {
		return ExitQuote{}, ErrInvariantViolation
	}
	return quote, nil
}
