package market

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatBaseAtoms renders a raw base-atom quantity as a human-readable
// decimal string at the market's base_decimals, e.g. 1_500_000_000 atoms at
// 9 decimals becomes "1.5". Used by cmd/marketd's reporting surface and by
// clients that want a display value without reimplementing the decimal
// shift themselves.
func (m *Market) FormatBaseAtoms(atoms int64) string {
	return formatAtoms(atoms, m.Header.BaseDecimals)
}

// FormatQuoteAtoms renders a raw quote-atom quantity at the market's
// quote_decimals.
func (m *Market) FormatQuoteAtoms(atoms uint64) string {
	return formatAtoms(int64(atoms), m.Header.QuoteDecimals)
}

func formatAtoms(atoms int64, decimals uint8) string {
	d := decimal.NewFromBigInt(big.NewInt(atoms), -int32(decimals))
	return d.String()
}
