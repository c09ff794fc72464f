package market

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatAtomsAppliesDecimalShift(t *testing.T) {
	m := newTestMarket(t)
	require.Equal(t, "1.5", m.FormatBaseAtoms(1_500_000_000))  // 9 base decimals
	require.Equal(t, "0.25", m.FormatQuoteAtoms(250_000))      // 6 quote decimals
	require.Equal(t, "-2", m.FormatBaseAtoms(-2_000_000_000))
}
