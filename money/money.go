// Package money provides an exact fixed-point currency type.
//
// Amounts are held as an integer count of minor units (cents) so that
// sums, differences and GST extraction never accumulate float error.
// Untrusted inputs (statement files, booking exports) are parsed through
// shopspring/decimal and rejected when they carry more than two decimal
// places or are not finite numbers.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a currency input is malformed.
var ErrInvalidAmount = errors.New("invalid currency amount")

// InvalidAmountError wraps ErrInvalidAmount with the offending input.
func InvalidAmountError(input string) error {
	return fmt.Errorf("%w, %s", ErrInvalidAmount, input)
}

// Money is a signed amount in minor currency units (cents).
type Money int64

// Zero is the additive identity.
const Zero Money = 0

// FromCents builds a Money from a raw minor-unit count.
func FromCents(cents int64) Money {
	return Money(cents)
}

// Parse converts a decimal string such as "-152.62" into Money.
// Inputs with more than two decimal places are rejected rather than
// silently rounded: anything finer than a cent coming from an external
// source is a data error, not a rounding problem.
func Parse(input string) (Money, error) {
	d, err := decimal.NewFromString(input)
	if err != nil {
		return Zero, InvalidAmountError(input)
	}

	return FromDecimal(d)
}

// FromDecimal converts an exact decimal into Money, rejecting values
// finer than the minor unit.
func FromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return Zero, InvalidAmountError(d.String())
	}

	return Money(cents.IntPart()), nil
}

// FromFloat converts a float64 dollar amount into Money, rounding
// half-up at the minor unit. Non-finite values are rejected.
func FromFloat(f float64) (Money, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Zero, InvalidAmountError(fmt.Sprintf("%v", f))
	}

	return roundHalfUp(decimal.NewFromFloat(f).Mul(decimal.NewFromInt(100))), nil
}

// roundHalfUp rounds a cent-scaled decimal to an integer number of
// cents, half away from zero. Rounding an already-rounded value is a
// no-op, which keeps penny rounding idempotent.
func roundHalfUp(cents decimal.Decimal) Money {
	return Money(cents.Round(0).IntPart())
}

// Add returns m + other. Exact.
func (m Money) Add(other Money) Money { return m + other }

// Sub returns m - other. Exact.
func (m Money) Sub(other Money) Money { return m - other }

// Neg returns -m.
func (m Money) Neg() Money { return -m }

// Abs returns the magnitude of m.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// Cmp returns -1, 0 or +1 comparing m against other.
func (m Money) Cmp(other Money) int {
	switch {
	case m < other:
		return -1
	case m > other:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m == 0 }

// Sign returns -1 for negative amounts, +1 for positive, 0 for zero.
func (m Money) Sign() int { return m.Cmp(0) }

// Cents returns the raw minor-unit count.
func (m Money) Cents() int64 { return int64(m) }

// Decimal returns the exact dollar value of m.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String formats m as a plain dollar amount, e.g. "-12.34".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// ExtractGST splits a GST-included gross amount into its tax and net
// components: gst = round(gross * rate / (1 + rate)) half-up at the
// minor unit, net = gross - gst. The two parts always sum back to the
// gross amount exactly.
func ExtractGST(gross Money, rate decimal.Decimal) (gst, net Money) {
	if rate.IsZero() {
		return Zero, gross
	}

	grossCents := decimal.NewFromInt(int64(gross))
	gst = roundHalfUp(grossCents.Mul(rate).Div(decimal.NewFromInt(1).Add(rate)))
	return gst, gross - gst
}

// Sum adds a series of amounts exactly.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}
