// Package fixedpoint implements 18-decimal fixed-point arithmetic on 256-bit
// unsigned integers. Every operation takes an explicit rounding direction and
// reports overflow instead of wrapping.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional decimal digits of a fixed-point value.
const Decimals = 18

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = fmt.Errorf("division by zero: %w", ErrArithmeticOverflow)
	ErrPowOutOfBounds     = fmt.Errorf("pow operand out of bounds: %w", ErrArithmeticOverflow)
)

var (
	one  = uint256.NewInt(1e18)
	two  = uint256.NewInt(2e18)
	four = uint256.NewInt(4e18)

	// maxPowRelativeError is 1e-14 expressed in 18-decimal fixed point.
	maxPowRelativeError = uint256.NewInt(10000)
)

// One returns 1.0.
func One() *uint256.Int {
	return new(uint256.Int).Set(one)
}

// Zero returns 0.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// New returns an unscaled integer value.
func New(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Scaled returns whole * 1e18.
func Scaled(whole uint64) *uint256.Int {
	z, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(whole), one)
	if overflow {
		// uint64 * 1e18 always fits in 256 bits.
		panic("fixedpoint: scaled overflow")
	}
	return z
}

// MaxPowRelativeError returns the relative error bound applied by PowDown and PowUp.
func MaxPowRelativeError() *uint256.Int {
	return new(uint256.Int).Set(maxPowRelativeError)
}

// ParseDecimal parses a decimal string such as "0.003" or "1500" into an
// 18-decimal fixed-point value. Digits beyond the 18th fractional place are
// rejected rather than rounded.
func ParseDecimal(input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty decimal")
	}
	whole, frac, _ := strings.Cut(input, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("decimal %q has more than %d fractional digits", input, Decimals)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid decimal %q", input)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	value, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", input, err)
	}
	return value, nil
}

// Format renders an 18-decimal value as a decimal string without trailing zeros.
func Format(value *uint256.Int) string {
	if value == nil || value.IsZero() {
		return "0"
	}
	whole := new(uint256.Int).Div(value, one)
	frac := new(uint256.Int).Mod(value, one)
	if frac.IsZero() {
		return whole.Dec()
	}
	fracText := frac.Dec()
	fracText = strings.Repeat("0", Decimals-len(fracText)) + fracText
	return whole.Dec() + "." + strings.TrimRight(fracText, "0")
}

// Add returns a + b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// Sub returns a - b; underflow is reported as overflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// MulDown returns a * b / 1e18 rounded down.
func MulDown(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return product.Div(product, one), nil
}

// MulUp returns a * b / 1e18 rounded up.
func MulUp(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	if product.IsZero() {
		return product, nil
	}
	product.SubUint64(product, 1)
	product.Div(product, one)
	return product.AddUint64(product, 1), nil
}

// DivDown returns a * 1e18 / b rounded down.
func DivDown(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	if a.IsZero() {
		return new(uint256.Int), nil
	}
	inflated, overflow := new(uint256.Int).MulOverflow(a, one)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return inflated.Div(inflated, b), nil
}

// DivUp returns a * 1e18 / b rounded up.
func DivUp(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	if a.IsZero() {
		return new(uint256.Int), nil
	}
	inflated, overflow := new(uint256.Int).MulOverflow(a, one)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	inflated.SubUint64(inflated, 1)
	inflated.Div(inflated, b)
	return inflated.AddUint64(inflated, 1), nil
}

// MulDivDown returns a * b / d rounded down using a 512-bit intermediate.
func MulDivDown(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// MulDivUp returns a * b / d rounded up using a 512-bit intermediate.
func MulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	numerator := new(big.Int).Mul(a.ToBig(), b.ToBig())
	quotient, remainder := new(big.Int).QuoRem(numerator, d.ToBig(), new(big.Int))
	if remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	z, overflow := uint256.FromBig(quotient)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// Complement returns 1 - x, or 0 when x >= 1.
func Complement(x *uint256.Int) *uint256.Int {
	if x.Lt(one) {
		return new(uint256.Int).Sub(one, x)
	}
	return new(uint256.Int)
}

// PowDown returns x^y rounded down. The result is at most the exact value.
func PowDown(x, y *uint256.Int) (*uint256.Int, error) {
	switch {
	case y.Eq(one):
		return new(uint256.Int).Set(x), nil
	case y.Eq(two):
		return MulDown(x, x)
	case y.Eq(four):
		square, err := MulDown(x, x)
		if err != nil {
			return nil, err
		}
		return MulDown(square, square)
	}

	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError, err := powMaxError(raw)
	if err != nil {
		return nil, err
	}
	if raw.Lt(maxError) {
		return new(uint256.Int), nil
	}
	return raw.Sub(raw, maxError), nil
}

// PowUp returns x^y rounded up. The result is at least the exact value.
func PowUp(x, y *uint256.Int) (*uint256.Int, error) {
	switch {
	case y.Eq(one):
		return new(uint256.Int).Set(x), nil
	case y.Eq(two):
		return MulUp(x, x)
	case y.Eq(four):
		square, err := MulUp(x, x)
		if err != nil {
			return nil, err
		}
		return MulUp(square, square)
	}

	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError, err := powMaxError(raw)
	if err != nil {
		return nil, err
	}
	return Add(raw, maxError)
}

// PowUpWithMargin returns x^y plus margin times the standard pow error bound.
// Exponents handled exactly by PowUp still receive the margin.
func PowUpWithMargin(x, y *uint256.Int, margin uint64) (*uint256.Int, error) {
	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	bound, overflow := new(uint256.Int).MulOverflow(maxPowRelativeError, uint256.NewInt(margin))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	extra, err := MulUp(raw, bound)
	if err != nil {
		return nil, err
	}
	extra.AddUint64(extra, margin)
	return Add(raw, extra)
}

func powMaxError(raw *uint256.Int) (*uint256.Int, error) {
	maxError, err := MulUp(raw, maxPowRelativeError)
	if err != nil {
		return nil, err
	}
	return maxError.AddUint64(maxError, 1), nil
}
