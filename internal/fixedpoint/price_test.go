package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOutOfRange(t *testing.T) {
	_, err := New(0, 0)
	require.ErrorIs(t, err, ErrInvalidMantissa)

	_, err = New(1, -19)
	require.ErrorIs(t, err, ErrInvalidExponent)

	_, err = New(1, 9)
	require.ErrorIs(t, err, ErrInvalidExponent)
}

func TestQuoteForBaseExactAtExponentEight(t *testing.T) {
	// exponent=8 zeroes out the 10^(8-exponent) scale term, so
	// price_int = mantissa * 10^18 and quote = mantissa * base exactly.
	p := MustNew(140, 8)

	quote, err := p.QuoteForBase(1_000, RoundDown)
	require.NoError(t, err)
	require.Equal(t, uint64(140_000), quote)
}

func TestQuoteForBaseRoundingDirection(t *testing.T) {
	// A Price constructed via New always carries an exact multiple of
	// PriceScale, so it never produces a division remainder against
	// PriceScale by itself; exercise the rounding split directly against a
	// raw value that does not divide evenly.
	p := FromRaw(uint256.NewInt(3))
	base := uint64(2) // num = 6, PriceScale = 1e18 -> quotient 0, remainder 6

	down, err := p.QuoteForBase(base, RoundDown)
	require.NoError(t, err)
	require.Equal(t, uint64(0), down)

	up, err := p.QuoteForBase(base, RoundUp)
	require.NoError(t, err)
	require.Equal(t, uint64(1), up)
}

func TestBaseForQuoteInverse(t *testing.T) {
	p := MustNew(140, 8)
	base, err := p.BaseForQuote(140_000, RoundDown)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), base)
}

func TestCmpOrdering(t *testing.T) {
	low := MustNew(100, -5)
	high := MustNew(200, -5)
	require.True(t, low.LessThan(high))
	require.True(t, high.GreaterThan(low))
	require.False(t, low.Equal(high))
}

func TestMid(t *testing.T) {
	a := MustNew(100, -5)
	b := MustNew(300, -5)
	mid := Mid(a, b)
	require.True(t, mid.Equal(MustNew(200, -5)))
}
