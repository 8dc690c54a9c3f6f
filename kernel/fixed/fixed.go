// Package fixed implements the 17.14 signed fixed-point arithmetic used by
// the MLFQS scheduler to track recent CPU usage and the system load average
// without requiring a floating point unit.
package fixed

const fractionalBits = 14

// Fixed is a signed 17.14 fixed-point number stored in an int64 to avoid
// overflow during intermediate multiplications.
type Fixed int64

// FromInt converts an integer to its fixed-point representation.
func FromInt(n int) Fixed {
	return Fixed(n) << fractionalBits
}

// ToIntTruncate converts f to an integer, rounding toward zero.
func (f Fixed) ToIntTruncate() int {
	return int(f / (1 << fractionalBits))
}

// ToIntRound converts f to an integer, rounding to the nearest integer
// (ties away from zero).
func (f Fixed) ToIntRound() int {
	if f >= 0 {
		return int((f + (1 << (fractionalBits - 1))) >> fractionalBits)
	}
	return int((f - (1 << (fractionalBits - 1))) / (1 << fractionalBits))
}

// Add returns f + g.
func (f Fixed) Add(g Fixed) Fixed { return f + g }

// Sub returns f - g.
func (f Fixed) Sub(g Fixed) Fixed { return f - g }

// AddInt returns f + n.
func (f Fixed) AddInt(n int) Fixed { return f + FromInt(n) }

// SubInt returns f - n.
func (f Fixed) SubInt(n int) Fixed { return f - FromInt(n) }

// Mul returns f * g.
func (f Fixed) Mul(g Fixed) Fixed {
	return Fixed((int64(f) * int64(g)) >> fractionalBits)
}

// MulInt returns f * n.
func (f Fixed) MulInt(n int) Fixed { return f * Fixed(n) }

// Div returns f / g.
func (f Fixed) Div(g Fixed) Fixed {
	return Fixed((int64(f) << fractionalBits) / int64(g))
}

// DivInt returns f / n.
func (f Fixed) DivInt(n int) Fixed { return f / Fixed(n) }
