// Package fixedpoint implements the 128-bit fixed-point price representation
// used throughout the matching and margin engines.
//
// A Price is conceptually quote_atoms / base_atom, stored as
//
//	mantissa * 10^(8-exponent) * 10^18
//
// with mantissa in [1, 2^32-1] and exponent in [-18, 8]. The scale factor
// gives ~11 decimal digits of precision and lets every comparison be a plain
// integer compare. The widest representable value exceeds what fits in a
// literal 128-bit word (mantissa near 2^32 with exponent -18 needs roughly
// 178 bits), so the value is carried in a uint256.Int rather than two
// uint64 words; every operation still only ever produces values that would
// fit a 128-bit accumulator for realistic mantissa/exponent pairs, this
// just avoids modeling the corner cases as overflow.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// PriceScale is the 10^18 scale applied on top of the mantissa/exponent
// encoding (§3.6).
var PriceScale = uint256.NewInt(1_000_000_000_000_000_000)

// ErrOverflow is returned when a conversion would not fit the accumulator.
var ErrOverflow = errors.New("fixedpoint: overflow")

// ErrInvalidMantissa is returned by New when mantissa is out of range.
var ErrInvalidMantissa = errors.New("fixedpoint: mantissa out of range")

// ErrInvalidExponent is returned by New when exponent is out of range.
var ErrInvalidExponent = errors.New("fixedpoint: exponent out of range")

// Rounding selects the rounding direction of a division.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// Price is a 128-bit (carried in a 256-bit word) fixed-point price.
type Price struct {
	v uint256.Int
}

// Zero is the zero price. Not a valid traded price (mantissa must be >= 1)
// but useful as a sentinel for "no price" fields.
var Zero = Price{}

// New builds a Price from the wire mantissa/exponent pair (§3.6).
func New(mantissa uint32, exponent int32) (Price, error) {
	if mantissa == 0 {
		return Price{}, fmt.Errorf("%w: %d", ErrInvalidMantissa, mantissa)
	}
	if exponent < -18 || exponent > 8 {
		return Price{}, fmt.Errorf("%w: %d", ErrInvalidExponent, exponent)
	}

	pow := 8 - exponent // in [0, 26]
	scale := pow10(uint(pow))

	v := new(uint256.Int).SetUint64(uint64(mantissa))
	v.Mul(v, scale)
	v.Mul(v, PriceScale)

	return Price{v: *v}, nil
}

// MustNew is New but panics on error; used for compile-time-known constants
// in tests and fixtures.
func MustNew(mantissa uint32, exponent int32) Price {
	p, err := New(mantissa, exponent)
	if err != nil {
		panic(err)
	}
	return p
}

func pow10(n uint) *uint256.Int {
	r := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint(0); i < n; i++ {
		r.Mul(r, ten)
	}
	return r
}

// IsZero reports whether the price is the zero value.
func (p Price) IsZero() bool { return p.v.IsZero() }

// Cmp compares two prices (-1, 0, 1).
func (p Price) Cmp(o Price) int { return p.v.Cmp(&o.v) }

// LessThan reports whether p < o.
func (p Price) LessThan(o Price) bool { return p.v.Lt(&o.v) }

// GreaterThan reports whether p > o.
func (p Price) GreaterThan(o Price) bool { return p.v.Gt(&o.v) }

// Equal reports whether p == o.
func (p Price) Equal(o Price) bool { return p.v.Eq(&o.v) }

// Raw returns the underlying scaled integer, mostly for wire serialization.
func (p Price) Raw() *uint256.Int { return new(uint256.Int).Set(&p.v) }

// FromRaw reconstructs a Price from a previously serialized raw value.
func FromRaw(v *uint256.Int) Price { return Price{v: *v} }

// Mid returns the midpoint of two prices, rounding down.
func Mid(a, b Price) Price {
	sum := new(uint256.Int).Add(&a.v, &b.v)
	sum.Div(sum, uint256.NewInt(2))
	return Price{v: *sum}
}

// QuoteForBase computes floor/ceil(price * base / 10^18), i.e. the quote
// atoms corresponding to a base-atom amount at this price. The rounding
// direction is chosen by the caller per the matching engine's per-fill rule
// (§4.2): full consumption of a maker rounds toward the taker, partial
// consumption rounds toward the maker.
func (p Price) QuoteForBase(baseAtoms uint64, rounding Rounding) (uint64, error) {
	base := uint256.NewInt(baseAtoms)
	num := new(uint256.Int).Mul(&p.v, base)

	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(num, PriceScale, r)
	if rounding == RoundUp && !r.IsZero() {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// BaseForQuote computes floor/ceil(10^18 * quote / price), the inverse
// conversion used when a taker specifies a quote-denominated amount.
func (p Price) BaseForQuote(quoteAtoms uint64, rounding Rounding) (uint64, error) {
	if p.v.IsZero() {
		return 0, fmt.Errorf("%w: division by zero price", ErrOverflow)
	}
	quote := uint256.NewInt(quoteAtoms)
	num := new(uint256.Int).Mul(PriceScale, quote)

	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(num, &p.v, r)
	if rounding == RoundUp && !r.IsZero() {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// BigInt returns the price as a math/big.Int for callers doing widened
// signed arithmetic (equity/notional math, §4.6) alongside it.
func (p Price) BigInt() *big.Int { return p.v.ToBig() }

// String renders the price as a decimal quote-per-base-atom string, purely
// for logs and API snapshots.
func (p Price) String() string {
	b := p.v.ToBig()
	scale := new(big.Int).SetUint64(1_000_000_000_000_000_000)
	q, r := new(big.Int).QuoRem(b, scale, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	return fmt.Sprintf("%s.%018s", q.String(), r.String())
}
