package fixedpoint

import "github.com/holiman/uint256"

// Calc chains fixed-point operations and keeps the first error. Once an
// error is recorded every later call returns zero, so a formula can be
// written straight through and checked once with Err.
type Calc struct {
	err error
}

// Err returns the first error seen by the chain.
func (c *Calc) Err() error {
	return c.err
}

func (c *Calc) keep(v *uint256.Int, err error) *uint256.Int {
	if c.err != nil {
		return new(uint256.Int)
	}
	if err != nil {
		c.err = err
		return new(uint256.Int)
	}
	return v
}

func (c *Calc) Add(a, b *uint256.Int) *uint256.Int     { return c.keep(Add(a, b)) }
func (c *Calc) Sub(a, b *uint256.Int) *uint256.Int     { return c.keep(Sub(a, b)) }
func (c *Calc) MulDown(a, b *uint256.Int) *uint256.Int { return c.keep(MulDown(a, b)) }
func (c *Calc) MulUp(a, b *uint256.Int) *uint256.Int   { return c.keep(MulUp(a, b)) }
func (c *Calc) DivDown(a, b *uint256.Int) *uint256.Int { return c.keep(DivDown(a, b)) }
func (c *Calc) DivUp(a, b *uint256.Int) *uint256.Int   { return c.keep(DivUp(a, b)) }
func (c *Calc) PowDown(x, y *uint256.Int) *uint256.Int { return c.keep(PowDown(x, y)) }
func (c *Calc) PowUp(x, y *uint256.Int) *uint256.Int   { return c.keep(PowUp(x, y)) }

func (c *Calc) MulDivDown(a, b, d *uint256.Int) *uint256.Int {
	return c.keep(MulDivDown(a, b, d))
}

func (c *Calc) PowUpWithMargin(x, y *uint256.Int, margin uint64) *uint256.Int {
	return c.keep(PowUpWithMargin(x, y, margin))
}

// Fail records err unless an earlier error is already held.
func (c *Calc) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// SubFloor returns a - b, or zero when b > a.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}
