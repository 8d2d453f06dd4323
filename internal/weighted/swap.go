package weighted

import (
	"fmt"

	"github.com/holiman/uint256"

	"weightedVault/internal/fixedpoint"
)

// OutGivenIn prices an exact-in swap. The swap fee is taken from amountIn
// before the invariant formula is applied.
func OutGivenIn(balanceIn, weightIn, balanceOut, weightOut, amountIn, swapFee, protocolFee *uint256.Int) (SwapQuote, error) {
	if amountIn.IsZero() {
		return zeroSwap(), nil
	}
	if !amountIn.Lt(balanceIn) {
		return SwapQuote{}, ErrInvariantViolation
	}

	var c fixedpoint.Calc
	fee := c.MulUp(amountIn, swapFee)
	adjusted := c.Sub(amountIn, fee)
	maxIn := c.MulDown(balanceIn, uint256.NewInt(MaxInRatio))
	if c.Err() == nil && adjusted.Gt(maxIn) {
		return SwapQuote{}, ErrSwapInLimit
	}

	amountOut := outGivenIn(&c, balanceIn, weightIn, balanceOut, weightOut, adjusted)
	protocol := c.MulDown(fee, protocolFee)
	keep := c.Sub(amountIn, protocol)
	if err := c.Err(); err != nil {
		return SwapQuote{}, fmt.Errorf("out given in: %w", err)
	}
	if !amountOut.Lt(balanceOut) {
		return SwapQuote{}, ErrInvariantViolation
	}

	return SwapQuote{
		AmountIn:        new(uint256.Int).Set(amountIn),
		AmountOut:       amountOut,
		FeeAmount:       fee,
		ProtocolFee:     protocol,
		ReserveDeltaIn:  keep,
		ReserveDeltaOut: new(uint256.Int).Set(amountOut),
	}, nil
}

// InGivenOut prices an exact-out swap: the fee-free input that yields
// amountOut, grossed up so the fee is charged on top.
func InGivenOut(balanceIn, weightIn, balanceOut, weightOut, amountOut, swapFee, protocolFee *uint256.Int) (SwapQuote, error) {
	if amountOut.IsZero() {
		return zeroSwap(), nil
	}
	if !amountOut.Lt(balanceOut) {
		return SwapQuote{}, ErrInvariantViolation
	}

	var c fixedpoint.Calc
	maxOut := c.MulDown(balanceOut, uint256.NewInt(MaxOutRatio))
	if c.Err() == nil && amountOut.Gt(maxOut) {
		return SwapQuote{}, ErrSwapOutLimit
	}

	adjusted := inGivenOut(&c, balanceIn, weightIn, balanceOut, weightOut, amountOut)
	amountIn := c.DivUp(adjusted, fixedpoint.Complement(swapFee))
	fee := c.Sub(amountIn, adjusted)
	protocol := c.MulDown(fee, protocolFee)
	keep := c.Sub(amountIn, protocol)
	if err := c.Err(); err != nil {
		return SwapQuote{}, fmt.Errorf("in given out: %w", err)
	}

	return SwapQuote{
		AmountIn:        amountIn,
		AmountOut:       new(uint256.Int).Set(amountOut),
		FeeAmount:       fee,
		ProtocolFee:     protocol,
		ReserveDeltaIn:  keep,
		ReserveDeltaOut: new(uint256.Int).Set(amountOut),
	}, nil
}

// outGivenIn: bOut * (1 - (bIn / (bIn + in)) ^ (wIn / wOut)).
func outGivenIn(c *fixedpoint.Calc, balanceIn, weightIn, balanceOut, weightOut, amountIn *uint256.Int) *uint256.Int {
	denominator := c.Add(balanceIn, amountIn)
	base := c.DivUp(balanceIn, denominator)
	exponent := c.DivDown(weightIn, weightOut)
	power := c.PowUp(base, exponent)
	return c.MulDown(balanceOut, fixedpoint.Complement(power))
}

// inGivenOut: bIn * ((bOut / (bOut - out)) ^ (wOut / wIn) - 1).
//
// The power carries floor(wOut/wIn) + 2 pow error bounds so that
// inGivenOut(outGivenIn(x)) >= x also holds for unbalanced weights.
func inGivenOut(c *fixedpoint.Calc, balanceIn, weightIn, balanceOut, weightOut, amountOut *uint256.Int) *uint256.Int {
	remaining := c.Sub(balanceOut, amountOut)
	base := c.DivUp(balanceOut, remaining)
	exponent := c.DivUp(weightOut, weightIn)
	margin := new(uint256.Int).Div(exponent, fixedpoint.One()).Uint64() + 2
	power := c.PowUpWithMargin(base, exponent, margin)
	ratio := fixedpoint.SubFloor(power, fixedpoint.One())
	return c.MulUp(balanceIn, ratio)
}

func zeroSwap() SwapQuote {
	return SwapQuote{
		AmountIn:        new(uint256.Int),
		AmountOut:       new(uint256.Int),
		FeeAmount:       new(uint256.Int),
		ProtocolFee:     new(uint256.Int),
		ReserveDeltaIn:  new(uint256.Int),
		ReserveDeltaOut: new(uint256.Int),
	}
}
