package market

import "math/big"

// updatePosition applies one fill's base/quote atoms to a seat's position
// and cost basis (§4.4). isBuy is relative to this seat: true means the
// seat received base exposure (a long fill or a short-covering fill), false
// means it gave up base exposure. Returns the quote-atoms of realized pnl
// (positive is a gain). Callers do not apply it to margin: each fill
// already moves its full quote between the buyer's and seller's margin.
//
// The four cases mirror §4.4 exactly:
//
//  1. Open: no existing position, so the fill simply becomes the position.
//  2. Increase: fill is on the same side as the existing position, so cost
//     basis accumulates.
//  3. Partial close: fill is smaller than the existing (opposite-signed)
//     position; a proportional slice of cost basis is realized.
//  4. Full close and flip: fill is larger than or equal to the existing
//     position; the old position is fully realized and any remainder opens
//     a new position on the other side.
func (m *Market) updatePosition(seat *ClaimedSeat, fillBaseAtoms, fillQuoteAtoms uint64, isBuy bool) int64 {
	oldPosition := seat.Position
	delta := int64(fillBaseAtoms)
	if !isBuy {
		delta = -delta
	}

	var realized int64

	switch {
	case oldPosition == 0:
		// Case 1: open.
		seat.Position = delta
		seat.CostBasis = fillQuoteAtoms

	case sameSign(oldPosition, delta):
		// Case 2: increase.
		seat.Position = oldPosition + delta
		seat.CostBasis += fillQuoteAtoms

	default:
		oldAbs := abs64(oldPosition)
		fillAbs := int64(fillBaseAtoms)

		if fillAbs < oldAbs {
			// Case 3: partial close. Realize a proportional slice of cost
			// basis: proceeds - costBasis*fillAbs/oldAbs, rounded toward
			// the market (down for the realized-cost side).
			closedCost := new(big.Int).Mul(new(big.Int).SetUint64(seat.CostBasis), big.NewInt(fillAbs))
			closedCost.Quo(closedCost, big.NewInt(oldAbs))

			proceeds := new(big.Int).SetUint64(fillQuoteAtoms)
			pnl := new(big.Int).Sub(proceeds, closedCost)
			if oldPosition < 0 {
				pnl.Neg(pnl)
			}
			realized = pnl.Int64()

			seat.CostBasis -= closedCost.Uint64()
			seat.Position = oldPosition + delta

		} else {
			// Case 4: full close, and flip if the fill overshoots.
			proceedsForClose := new(big.Int).SetUint64(fillQuoteAtoms)
			if fillAbs > oldAbs {
				// Only the closing slice of proceeds realizes against the
				// old cost basis; the rest funds the new position.
				proceedsForClose.Mul(proceedsForClose, big.NewInt(oldAbs))
				proceedsForClose.Quo(proceedsForClose, big.NewInt(fillAbs))
			}
			pnl := new(big.Int).Sub(proceedsForClose, new(big.Int).SetUint64(seat.CostBasis))
			if oldPosition < 0 {
				pnl.Neg(pnl)
			}
			realized = pnl.Int64()

			remainder := fillAbs - oldAbs
			seat.Position = oldPosition + delta
			if remainder == 0 {
				seat.CostBasis = 0
			} else {
				remainderQuote := new(big.Int).SetUint64(fillQuoteAtoms)
				remainderQuote.Sub(remainderQuote, proceedsForClose)
				seat.CostBasis = remainderQuote.Uint64()
			}
		}
	}

	m.adjustOpenInterest(oldPosition, seat.Position)
	return realized
}

func sameSign(a, b int64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// adjustOpenInterest maintains the header's long/short open-interest
// aggregates as the sum of |position| across all seats on each side.
func (m *Market) adjustOpenInterest(oldPosition, newPosition int64) {
	switch {
	case oldPosition > 0:
		m.Header.LongOpenInterest -= uint64(oldPosition)
	case oldPosition < 0:
		m.Header.ShortOpenInterest -= uint64(-oldPosition)
	}
	switch {
	case newPosition > 0:
		m.Header.LongOpenInterest += uint64(newPosition)
	case newPosition < 0:
		m.Header.ShortOpenInterest += uint64(-newPosition)
	}
}
