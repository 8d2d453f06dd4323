package fixedpoint

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Natural logarithm and exponent on signed 18-decimal values, computed by
// decomposing the argument over precomputed powers of e and finishing with a
// short series. Intermediate values use math/big with truncating division so
// every step rounds toward zero.

func bigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: bad constant " + s)
	}
	return v
}

var (
	one18 = bigInt("1000000000000000000")
	one20 = bigInt("100000000000000000000")
	one36 = bigInt("1000000000000000000000000000000000000")

	maxNaturalExponent = bigInt("130000000000000000000")
	minNaturalExponent = bigInt("-41000000000000000000")

	ln36LowerBound = bigInt("900000000000000000")
	ln36UpperBound = bigInt("1100000000000000000")

	// 2^255 bounds the base; 2^254 / 1e20 bounds the exponent.
	maxBase         = new(big.Int).Lsh(big.NewInt(1), 255)
	mildExponentMax = new(big.Int).Quo(new(big.Int).Lsh(big.NewInt(1), 254), bigInt("100000000000000000000"))

	bigHundred = big.NewInt(100)
	bigTwo     = big.NewInt(2)
)

// e^(x_n) pairs. The first two use 18 decimals with an unscaled a_n, the
// rest use 20 decimals.
var (
	x0 = bigInt("128000000000000000000")
	a0 = bigInt("38877084059945950922200000000000000000000000000000000000")
	x1 = bigInt("64000000000000000000")
	a1 = bigInt("6235149080811616882910000000")

	x2  = bigInt("3200000000000000000000")
	a2  = bigInt("7896296018268069516100000000000000")
	x3  = bigInt("1600000000000000000000")
	a3  = bigInt("888611052050787263676000000")
	x4  = bigInt("800000000000000000000")
	a4  = bigInt("298095798704172827474000")
	x5  = bigInt("400000000000000000000")
	a5  = bigInt("5459815003314423907810")
	x6  = bigInt("200000000000000000000")
	a6  = bigInt("738905609893065022723")
	x7  = bigInt("100000000000000000000")
	a7  = bigInt("271828182845904523536")
	x8  = bigInt("50000000000000000000")
	a8  = bigInt("164872127070012814685")
	x9  = bigInt("25000000000000000000")
	a9  = bigInt("128402541668774148407")
	x10 = bigInt("12500000000000000000")
	a10 = bigInt("113314845306682631683")
	x11 = bigInt("6250000000000000000")
	a11 = bigInt("106449445891785942956")
)

type expTerm struct{ x, a *big.Int }

var expTerms20 = []expTerm{
	{x2, a2}, {x3, a3}, {x4, a4}, {x5, a5}, {x6, a6}, {x7, a7}, {x8, a8}, {x9, a9},
}

var lnTerms20 = []expTerm{
	{x2, a2}, {x3, a3}, {x4, a4}, {x5, a5}, {x6, a6}, {x7, a7}, {x8, a8}, {x9, a9}, {x10, a10}, {x11, a11},
}

// Pow returns x^y with both operands in 18-decimal fixed point and no
// rounding adjustment. The relative error is below 1e-14 inside the
// supported domain.
func Pow(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return One(), nil
	}
	if x.IsZero() {
		return new(uint256.Int), nil
	}

	bx := x.ToBig()
	if bx.Cmp(maxBase) >= 0 {
		return nil, ErrPowOutOfBounds
	}
	by := y.ToBig()
	if by.Cmp(mildExponentMax) >= 0 {
		return nil, ErrPowOutOfBounds
	}

	var logxTimesY *big.Int
	if bx.Cmp(ln36LowerBound) > 0 && bx.Cmp(ln36UpperBound) < 0 {
		ln36x := ln36(bx)
		// Split the 36-decimal logarithm to keep the product in range.
		whole := new(big.Int).Quo(ln36x, one18)
		whole.Mul(whole, by)
		frac := new(big.Int).Rem(ln36x, one18)
		frac.Mul(frac, by)
		frac.Quo(frac, one18)
		logxTimesY = whole.Add(whole, frac)
	} else {
		logxTimesY = new(big.Int).Mul(ln(bx), by)
	}
	logxTimesY.Quo(logxTimesY, one18)

	if logxTimesY.Cmp(minNaturalExponent) < 0 || logxTimesY.Cmp(maxNaturalExponent) > 0 {
		return nil, ErrPowOutOfBounds
	}

	result, overflow := uint256.FromBig(exp(logxTimesY))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return result, nil
}

// Exp returns e^x for a signed 18-decimal x in [-41, 130].
func Exp(x *big.Int) (*big.Int, error) {
	if x.Cmp(minNaturalExponent) < 0 || x.Cmp(maxNaturalExponent) > 0 {
		return nil, ErrPowOutOfBounds
	}
	return exp(x), nil
}

// Ln returns the natural logarithm of a positive 18-decimal value.
func Ln(a *big.Int) (*big.Int, error) {
	if a.Sign() <= 0 {
		return nil, ErrPowOutOfBounds
	}
	if a.Cmp(ln36LowerBound) > 0 && a.Cmp(ln36UpperBound) < 0 {
		return new(big.Int).Quo(ln36(a), one18), nil
	}
	return ln(a), nil
}

func exp(x *big.Int) *big.Int {
	if x.Sign() < 0 {
		inverse := exp(new(big.Int).Neg(x))
		out := new(big.Int).Mul(one18, one18)
		return out.Quo(out, inverse)
	}

	x = new(big.Int).Set(x)
	var firstAN *big.Int
	switch {
	case x.Cmp(x0) >= 0:
		x.Sub(x, x0)
		firstAN = new(big.Int).Set(a0)
	case x.Cmp(x1) >= 0:
		x.Sub(x, x1)
		firstAN = new(big.Int).Set(a1)
	default:
		firstAN = big.NewInt(1)
	}

	x.Mul(x, bigHundred)

	product := new(big.Int).Set(one20)
	for _, term := range expTerms20 {
		if x.Cmp(term.x) >= 0 {
			x.Sub(x, term.x)
			product.Mul(product, term.a)
			product.Quo(product, one20)
		}
	}

	// Taylor series for the remaining x < 0.25 at 20 decimals.
	seriesSum := new(big.Int).Add(one20, x)
	term := new(big.Int).Set(x)
	for i := int64(2); i <= 12; i++ {
		term.Mul(term, x)
		term.Quo(term, one20)
		term.Quo(term, big.NewInt(i))
		seriesSum.Add(seriesSum, term)
	}

	out := product.Mul(product, seriesSum)
	out.Quo(out, one20)
	out.Mul(out, firstAN)
	return out.Quo(out, bigHundred)
}

func ln(a *big.Int) *big.Int {
	if a.Cmp(one18) < 0 {
		inverse := new(big.Int).Mul(one18, one18)
		inverse.Quo(inverse, a)
		return new(big.Int).Neg(ln(inverse))
	}

	a = new(big.Int).Set(a)
	sum := new(big.Int)
	if a.Cmp(new(big.Int).Mul(a0, one18)) >= 0 {
		a.Quo(a, a0)
		sum.Add(sum, x0)
	}
	if a.Cmp(new(big.Int).Mul(a1, one18)) >= 0 {
		a.Quo(a, a1)
		sum.Add(sum, x1)
	}

	sum.Mul(sum, bigHundred)
	a.Mul(a, bigHundred)

	for _, term := range lnTerms20 {
		if a.Cmp(term.a) >= 0 {
			a.Mul(a, one20)
			a.Quo(a, term.a)
			sum.Add(sum, term.x)
		}
	}

	// atanh series: ln(a) = 2 * (z + z^3/3 + z^5/5 + ...), z = (a-1)/(a+1).
	z := new(big.Int).Sub(a, one20)
	z.Mul(z, one20)
	z.Quo(z, new(big.Int).Add(a, one20))
	zSquared := new(big.Int).Mul(z, z)
	zSquared.Quo(zSquared, one20)

	num := new(big.Int).Set(z)
	seriesSum := new(big.Int).Set(num)
	for i := int64(3); i <= 11; i += 2 {
		num.Mul(num, zSquared)
		num.Quo(num, one20)
		seriesSum.Add(seriesSum, new(big.Int).Quo(num, big.NewInt(i)))
	}
	seriesSum.Mul(seriesSum, bigTwo)

	out := sum.Add(sum, seriesSum)
	return out.Quo(out, bigHundred)
}

// ln36 returns ln(x) with 36 decimals for x close to one.
func ln36(x *big.Int) *big.Int {
	x = new(big.Int).Mul(x, one18)

	z := new(big.Int).Sub(x, one36)
	z.Mul(z, one36)
	z.Quo(z, new(big.Int).Add(x, one36))
	zSquared := new(big.Int).Mul(z, z)
	zSquared.Quo(zSquared, one36)

	num := new(big.Int).Set(z)
	seriesSum := new(big.Int).Set(num)
	for i := int64(3); i <= 15; i += 2 {
		num.Mul(num, zSquared)
		num.Quo(num, one36)
		seriesSum.Add(seriesSum, new(big.Int).Quo(num, big.NewInt(i)))
	}
	return seriesSum.Mul(seriesSum, bigTwo)
}
