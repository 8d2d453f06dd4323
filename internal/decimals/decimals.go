// Package decimals converts between an asset's native precision and the
// 18-decimal scale used by the pricing engine.
package decimals

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"weightedVault/internal/fixedpoint"
)

var ErrTooManyDecimals = errors.New("asset has more than 18 decimals")

// Multiplier returns 10^(18 - decimals).
func Multiplier(decimals uint8) (*uint256.Int, error) {
	if decimals > fixedpoint.Decimals {
		return nil, fmt.Errorf("%w: %d", ErrTooManyDecimals, decimals)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(fixedpoint.Decimals-decimals))), nil
}

// Normalize scales a native amount up to 18 decimals.
func Normalize(amount, multiplier *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(amount, multiplier)
	if overflow {
		return nil, fmt.Errorf("normalize %s: %w", amount.Dec(), fixedpoint.ErrArithmeticOverflow)
	}
	return z, nil
}

// DenormalizeDown converts back to native units, rounding down. Use it for
// amounts paid to a caller.
func DenormalizeDown(amount, multiplier *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(amount, multiplier)
}

// DenormalizeUp converts back to native units, rounding up. Use it for
// amounts charged to a caller.
func DenormalizeUp(amount, multiplier *uint256.Int) *uint256.Int {
	q, r := new(uint256.Int).DivMod(amount, multiplier, new(uint256.Int))
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}

// NormalizeAll normalizes amounts against their per-asset multipliers.
func NormalizeAll(amounts, multipliers []*uint256.Int) ([]*uint256.Int, error) {
	if len(amounts) != len(multipliers) {
		return nil, fmt.Errorf("normalize: %d amounts for %d assets", len(amounts), len(multipliers))
	}
	out := make([]*uint256.Int, len(amounts))
	for i := range amounts {
		v, err := Normalize(amounts[i], multipliers[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
