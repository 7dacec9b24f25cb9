package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Cents is an integer amount in the smallest currency unit. The database
// stores dollar amounts as numeric(12,2); the payment provider only takes
// integer cents, so everything crossing that boundary goes through here.
type Cents int64

var (
	// ErrMalformedAmount means the string is not a dollar amount.
	ErrMalformedAmount = errors.New("malformed amount")
	// ErrAmountRange means the amount is non-positive or above the cap.
	ErrAmountRange = errors.New("amount out of range")
)

// MaxAmount caps any single amount at one million dollars.
const MaxAmount Cents = 100_000_000

var hundred = decimal.NewFromInt(100)

// ParseDollars converts a user-supplied dollar string ("12.34") to cents.
// Sub-cent precision is rejected rather than rounded; trailing zeros
// ("12.340") are fine.
func ParseDollars(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrMalformedAmount
	}
	if !d.Equal(d.Round(2)) {
		return 0, ErrMalformedAmount
	}
	c := FromDecimal(d)
	if c <= 0 || c > MaxAmount {
		return 0, ErrAmountRange
	}
	return c, nil
}

// FromDecimal converts a dollar decimal to cents, rounding half away
// from zero at the cent.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

// Decimal returns the dollar value of c.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats cents as a dollar string with two decimal places.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Fee computes the platform fee for a total: percent of the total plus a
// fixed part, rounded at the cent and never more than the total itself.
func Fee(total Cents, percent decimal.Decimal, fixed Cents) Cents {
	if total <= 0 {
		return 0
	}
	pct := total.Decimal().Mul(percent).Div(hundred)
	fee := FromDecimal(pct.Round(2)) + fixed
	if fee > total {
		return total
	}
	if fee < 0 {
		return 0
	}
	return fee
}

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}
