// Package weighted prices swaps, joins and exits against the weighted
// invariant V = prod(balance_i ^ weight_i). Every function is pure and works
// on 18-decimal normalized balances; rounding always favors the pool.
package weighted

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"weightedVault/internal/fixedpoint"
)

const (
	MinWeight uint64 = 1e16 // 1%

	MaxInRatio  uint64 = 3e17 // 30% of balanceIn
	MaxOutRatio uint64 = 3e17 // 30% of balanceOut

	MaxInvariantRatio uint64 = 3e18
	MinInvariantRatio uint64 = 7e17

	// InitialLiquidityScale multiplies the invariant of the first deposit to
	// produce the initial liquidity-token supply.
	InitialLiquidityScale uint64 = 100
)

var (
	ErrInvariantViolation = errors.New("invariant violation")
	ErrSwapInLimit        = errors.New("swap amount in exceeds max in ratio")
	ErrSwapOutLimit       = errors.New("swap amount out exceeds max out ratio")
	ErrZeroContribution   = errors.New("zero contribution")
	ErrInvariantRatio     = errors.New("invariant ratio out of bounds")
	ErrLengthMismatch     = errors.New("input length mismatch")
)

// SwapQuote is the result of pricing a single swap. ReserveDeltaIn is what
// the pool keeps (AmountIn minus ProtocolFee); ReserveDeltaOut is what it pays.
type SwapQuote struct {
	AmountIn        *uint256.Int
	AmountOut       *uint256.Int
	FeeAmount       *uint256.Int
	ProtocolFee     *uint256.Int
	ReserveDeltaIn  *uint256.Int
	ReserveDeltaOut *uint256.Int
}

// JoinQuote is the result of a multi-asset join. ReserveDeltas are added to
// the pool balances.
type JoinQuote struct {
	LPOut         *uint256.Int
	Fees          []*uint256.Int
	ProtocolFees  []*uint256.Int
	ReserveDeltas []*uint256.Int
}

// ExitQuote is the result of a multi-asset exit. ReserveDeltas are removed
// from the pool balances and include the protocol fee.
type ExitQuote struct {
	LPIn          *uint256.Int
	AmountsOut    []*uint256.Int
	Fees          []*uint256.Int
	ProtocolFees  []*uint256.Int
	ReserveDeltas []*uint256.Int
}

// TokenQuote is the result of a single-asset exit.
type TokenQuote struct {
	Amount       *uint256.Int
	Fee          *uint256.Int
	ProtocolFee  *uint256.Int
	ReserveDelta *uint256.Int
}

// ValidateWeights checks that there are at least two weights, each at least
// MinWeight, summing to exactly one.
func ValidateWeights(weights []*uint256.Int) error {
	if len(weights) < 2 {
		return fmt.Errorf("need at least 2 weights, got %d", len(weights))
	}
	minWeight := uint256.NewInt(MinWeight)
	sum := new(uint256.Int)
	for i, w := range weights {
		if w == nil || w.Lt(minWeight) {
			return fmt.Errorf("weight %d below minimum %s", i, fixedpoint.Format(minWeight))
		}
		next, err := fixedpoint.Add(sum, w)
		if err != nil {
			return fmt.Errorf("sum weights: %w", err)
		}
		sum = next
	}
	if !sum.Eq(fixedpoint.One()) {
		return fmt.Errorf("weights sum to %s, want 1", fixedpoint.Format(sum))
	}
	return nil
}

// Invariant returns prod(balance_i ^ weight_i), rounded down.
func Invariant(balances, weights []*uint256.Int) (*uint256.Int, error) {
	if len(balances) != len(weights) {
		return nil, ErrLengthMismatch
	}
	var c fixedpoint.Calc
	invariant := fixedpoint.One()
	for i := range balances {
		invariant = c.MulDown(invariant, c.PowDown(balances[i], weights[i]))
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("compute invariant: %w", err)
	}
	return invariant, nil
}

// SpotPrice returns (balanceI / weightI) / (balanceJ / weightJ): the amount
// of asset i that one unit of asset j is worth at the margin.
func SpotPrice(balanceI, weightI, balanceJ, weightJ *uint256.Int) (*uint256.Int, error) {
	var c fixedpoint.Calc
	scaled := c.MulDivDown(balanceI, weightJ, weightI)
	price := c.DivDown(scaled, balanceJ)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("spot price: %w", err)
	}
	return price, nil
}

func zeros(n int) []*uint256.Int {
	out := make([]*uint256.Int, n)
	for i := range out {
		out[i] = new(uint256.Int)
	}
	return out
}

func clone(values []*uint256.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(values))
	for i, v := range values {
		out[i] = new(uint256.Int).Set(v)
	}
	return out
}
