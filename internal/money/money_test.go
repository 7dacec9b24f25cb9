package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseDollars(t *testing.T) {
	c, err := ParseDollars("12.34")
	assert.NoError(t, err)
	assert.Equal(t, Cents(1234), c)

	c, err = ParseDollars("5")
	assert.NoError(t, err)
	assert.Equal(t, Cents(500), c)

	c, err = ParseDollars("0.01")
	assert.NoError(t, err)
	assert.Equal(t, Cents(1), c)

	// trailing zeros don't add precision
	c, err = ParseDollars("12.340")
	assert.NoError(t, err)
	assert.Equal(t, Cents(1234), c)

	_, err = ParseDollars("12.345")
	assert.ErrorIs(t, err, ErrMalformedAmount)

	_, err = ParseDollars("abc")
	assert.ErrorIs(t, err, ErrMalformedAmount)

	_, err = ParseDollars("0")
	assert.ErrorIs(t, err, ErrAmountRange)

	_, err = ParseDollars("-3.50")
	assert.ErrorIs(t, err, ErrAmountRange)

	_, err = ParseDollars("1000001")
	assert.ErrorIs(t, err, ErrAmountRange)
}

func TestFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.01", "1.00", "12.34", "999.99", "1000000.00"} {
		c, err := ParseDollars(s)
		assert.NoError(t, err)
		assert.Equal(t, s, c.String())
	}
}

func TestFromDecimal(t *testing.T) {
	assert.Equal(t, Cents(1050), FromDecimal(decimal.RequireFromString("10.50")))
	// half cents round away from zero
	assert.Equal(t, Cents(101), FromDecimal(decimal.RequireFromString("1.005")))
}

func TestFee(t *testing.T) {
	pct := decimal.NewFromInt(10)

	// 10% of $100 plus $0.99 fixed
	assert.Equal(t, Cents(1099), Fee(10000, pct, 99))

	// fee never exceeds the total
	assert.Equal(t, Cents(50), Fee(50, pct, 99))

	// zero and negative totals carry no fee
	assert.Equal(t, Cents(0), Fee(0, pct, 99))
	assert.Equal(t, Cents(0), Fee(-100, pct, 99))

	// fractional percent rounds at the cent: 7.5% of $10.01 = 0.750750 -> 0.75
	assert.Equal(t, Cents(75), Fee(1001, decimal.RequireFromString("7.5"), 0))
}
