package weighted

import (
	"fmt"

	"github.com/holiman/uint256"

	"weightedVault/internal/fixedpoint"
)

// Initialize prices the first deposit into an empty pool. Every asset must
// be supplied; the minted liquidity is the weighted geometric mean of the
// amounts times InitialLiquidityScale. No fee is charged.
func Initialize(amountsIn, weights []*uint256.Int) (JoinQuote, error) {
	if len(amountsIn) != len(weights) {
		return JoinQuote{}, ErrLengthMismatch
	}
	for _, amount := range amountsIn {
		if amount == nil || amount.IsZero() {
			return JoinQuote{}, ErrZeroContribution
		}
	}
	invariant, err := Invariant(amountsIn, weights)
	if err != nil {
		return JoinQuote{}, err
	}
	lp, overflow := new(uint256.Int).MulOverflow(invariant, uint256.NewInt(InitialLiquidityScale))
	if overflow {
		return JoinQuote{}, fmt.Errorf("initial liquidity: %w", fixedpoint.ErrArithmeticOverflow)
	}
	if lp.IsZero() {
		return JoinQuote{}, ErrZeroContribution
	}
	return JoinQuote{
		LPOut:         lp,
		Fees:          zeros(len(amountsIn)),
		ProtocolFees:  zeros(len(amountsIn)),
		ReserveDeltas: clone(amountsIn),
	}, nil
}

// Join prices an exact-tokens-in join into an initialized pool. The part of
// each amount above the pool-wide proportional increase is charged the swap
// fee; the proportional part is free.
func Join(amountsIn, balances, weights []*uint256.Int, totalSupply, swapFee, protocolFee *uint256.Int) (JoinQuote, error) {
	n := len(balances)
	if len(amountsIn) != n || len(weights) != n {
		return JoinQuote{}, ErrLengthMismatch
	}
	if totalSupply.IsZero() {
		return Initialize(amountsIn, weights)
	}

	quote := JoinQuote{
		LPOut:         new(uint256.Int),
		Fees:          zeros(n),
		ProtocolFees:  zeros(n),
		ReserveDeltas: clone(amountsIn),
	}

	var c fixedpoint.Calc
	ratiosWithFee := make([]*uint256.Int, n)
	invariantRatioWithFees := new(uint256.Int)
	for i := range balances {
		ratiosWithFee[i] = c.DivDown(c.Add(balances[i], amountsIn[i]), balances[i])
		invariantRatioWithFees = c.Add(invariantRatioWithFees, c.MulDown(ratiosWithFee[i], weights[i]))
	}

	invariantRatio := fixedpoint.One()
	for i := range balances {
		if amountsIn[i].IsZero() {
			continue
		}
		amountWithoutFee := new(uint256.Int).Set(amountsIn[i])
		if ratiosWithFee[i].Gt(invariantRatioWithFees) {
			nonTaxable := c.MulDown(balances[i], fixedpoint.SubFloor(invariantRatioWithFees, fixedpoint.One()))
			taxable := fixedpoint.SubFloor(amountsIn[i], nonTaxable)
			fee := c.MulUp(taxable, swapFee)
			amountWithoutFee = c.Sub(amountsIn[i], fee)
			quote.Fees[i] = fee
			quote.ProtocolFees[i] = c.MulDown(fee, protocolFee)
			quote.ReserveDeltas[i] = c.Sub(amountsIn[i], quote.ProtocolFees[i])
		}
		balanceRatio := c.DivDown(c.Add(balances[i], amountWithoutFee), balances[i])
		invariantRatio = c.MulDown(invariantRatio, c.PowDown(balanceRatio, weights[i]))
	}
	if err := c.Err(); err != nil {
		return JoinQuote{}, fmt.Errorf("join: %w", err)
	}

	if invariantRatio.Gt(fixedpoint.One()) {
		quote.LPOut = c.MulDown(totalSupply, c.Sub(invariantRatio, fixedpoint.One()))
		if err := c.Err(); err != nil {
			return JoinQuote{}, fmt.Errorf("join: %w", err)
		}
	}
	return quote, nil
}

// JoinSingleToken prices an exact-in join of one asset.
func JoinSingleToken(index int, amountIn *uint256.Int, balances, weights []*uint256.Int, totalSupply, swapFee, protocolFee *uint256.Int) (JoinQuote, error) {
	if index < 0 || index >= len(balances) {
		return JoinQuote{}, ErrLengthMismatch
	}
	amounts := zeros(len(balances))
	amounts[index] = new(uint256.Int).Set(amountIn)
	quote, err := Join(amounts, balances, weights, totalSupply, swapFee, protocolFee)
	if err != nil {
		return JoinQuote{}, err
	}
	if !totalSupply.IsZero() {
		var c fixedpoint.Calc
		ratio := c.DivDown(c.Add(totalSupply, quote.LPOut), totalSupply)
		if err := c.Err(); err != nil {
			return JoinQuote{}, fmt.Errorf("join single token: %w", err)
		}
		if ratio.Gt(uint256.NewInt(MaxInvariantRatio)) {
			return JoinQuote{}, ErrInvariantRatio
		}
	}
	return quote, nil
}

// JoinExactLPOut prices a fee-free proportional join that mints exactly
// lpOut. Amounts in are rounded up.
func JoinExactLPOut(balances []*uint256.Int, lpOut, totalSupply *uint256.Int) ([]*uint256.Int, error) {
	if totalSupply.IsZero() {
		return nil, ErrZeroContribution
	}
	amounts := make([]*uint256.Int, len(balances))
	for i, balance := range balances {
		amount, err := fixedpoint.MulDivUp(balance, lpOut, totalSupply)
		if err != nil {
			return nil, fmt.Errorf("join exact lp out: %w", err)
		}
		amounts[i] = amount
	}
	return amounts, nil
}
