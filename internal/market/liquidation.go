package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/dhruvja/manifest/internal/event"
	"github.com/dhruvja/manifest/internal/fixedpoint"
)

// LiquidateResult summarizes one liquidation call.
type LiquidateResult struct {
	ClosedBaseAtoms uint64
	ClosedNotional  uint64
	RewardAtoms     uint64
	InsuranceDrawn  uint64
	FullyLiquidated bool
}

// Liquidate implements `liquidate` (§4.6): settles funding for both
// parties, cancels the target's resting orders, checks liquidatability
// against the oracle-anchored mark price, closes some or all of the
// position at mark, and pays the liquidator a reward out of the target's
// remaining margin (falling back to the insurance fund on a shortfall).
func (m *Market) Liquidate(ctx context.Context, liquidator, target Key) (LiquidateResult, error) {
	if liquidator == target {
		return LiquidateResult{}, ErrSelfLiquidation
	}

	liqIdx, err := m.findSeat(liquidator)
	if err != nil {
		return LiquidateResult{}, err
	}
	targetIdx, err := m.findSeat(target)
	if err != nil {
		return LiquidateResult{}, err
	}

	if err := m.settleFunding(targetIdx); err != nil {
		return LiquidateResult{}, err
	}
	if err := m.settleFunding(liqIdx); err != nil {
		return LiquidateResult{}, err
	}

	m.cancelAllOrders(targetIdx)

	mark, err := m.markPrice()
	if err != nil {
		return LiquidateResult{}, err
	}
	if _, err := m.Oracle.Read(m.Header.OracleFeedID); err != nil {
		return LiquidateResult{}, fmt.Errorf("%w: %v", ErrOracleStale, err)
	}

	targetSeat := m.seat(targetIdx)
	ok, err := isLiquidatable(targetSeat, mark, m.Header.MaintenanceMarginBps)
	if err != nil {
		return LiquidateResult{}, err
	}
	if !ok {
		return LiquidateResult{}, fmt.Errorf("%w: %s", ErrNotLiquidatable, target)
	}

	num, denom, err := liquidationCloseFraction(targetSeat, mark, m.Header.MaintenanceMarginBps, m.Header.LiquidationBufferBps, LiquidationRewardBps)
	if err != nil {
		return LiquidateResult{}, err
	}
	posAbs := abs64(targetSeat.Position)

	// close_base = ceil(f * |position|) = ceil(posAbs*num / denom) (§4.6
	// step 7), computed in integer arithmetic to avoid float64 rounding.
	closeProduct := new(big.Int).Mul(big.NewInt(posAbs), num)
	closeQuotient, closeRemainder := new(big.Int).QuoRem(closeProduct, denom, new(big.Int))
	if closeRemainder.Sign() != 0 {
		closeQuotient.Add(closeQuotient, big.NewInt(1))
	}
	closeBaseAtoms := closeQuotient.Uint64()
	if closeBaseAtoms > uint64(posAbs) {
		closeBaseAtoms = uint64(posAbs)
	}
	// Dust threshold: never leave a remainder too small to manage (§4.6).
	if uint64(posAbs)-closeBaseAtoms < MinPositionAtoms {
		closeBaseAtoms = uint64(posAbs)
	}
	if closeBaseAtoms == 0 {
		closeBaseAtoms = uint64(posAbs)
	}

	closeQuote, err := mark.QuoteForBase(closeBaseAtoms, fixedpoint.RoundDown)
	if err != nil {
		return LiquidateResult{}, err
	}

	liquidatorSeat := m.seat(liqIdx)
	targetIsLong := targetSeat.Position > 0
	if targetIsLong {
		// Target sells to the liquidator; the liquidator must be able to
		// pay for what it's buying.
		if closeQuote > liquidatorSeat.Margin {
			return LiquidateResult{}, fmt.Errorf("%w: liquidator cannot fund %d quote", ErrInsufficientMargin, closeQuote)
		}
		targetSeat.Margin += closeQuote
		liquidatorSeat.Margin -= closeQuote
		m.updatePosition(targetSeat, closeBaseAtoms, closeQuote, false)
		m.updatePosition(liquidatorSeat, closeBaseAtoms, closeQuote, true)
	} else {
		targetSeat.Margin -= min64(closeQuote, targetSeat.Margin)
		liquidatorSeat.Margin += closeQuote
		m.updatePosition(targetSeat, closeBaseAtoms, closeQuote, true)
		m.updatePosition(liquidatorSeat, closeBaseAtoms, closeQuote, false)
	}

	reward := bps(closeQuote, LiquidationRewardBps).Uint64()
	var insuranceDrawn uint64
	if targetSeat.Margin >= reward {
		targetSeat.Margin -= reward
		liquidatorSeat.Margin += reward
	} else {
		available := targetSeat.Margin
		targetSeat.Margin = 0
		shortfall := reward - available
		if shortfall > m.Header.InsuranceFund {
			shortfall = m.Header.InsuranceFund
		}
		m.Header.InsuranceFund -= shortfall
		insuranceDrawn = shortfall
		liquidatorSeat.Margin += available + shortfall
	}

	fullyLiquidated := targetSeat.Position == 0

	m.storeFundingCheckpoint(targetIdx)
	m.storeFundingCheckpoint(liqIdx)

	m.emit(event.LiquidateLog{
		Liquidator:      liquidator.String(),
		Target:          target.String(),
		ClosedBaseAtoms: closeBaseAtoms,
		ClosedNotional:  closeQuote,
		RewardAtoms:     reward,
		InsuranceDrawn:  insuranceDrawn,
		FullyLiquidated: fullyLiquidated,
	})

	return LiquidateResult{
		ClosedBaseAtoms: closeBaseAtoms,
		ClosedNotional:  closeQuote,
		RewardAtoms:     reward,
		InsuranceDrawn:  insuranceDrawn,
		FullyLiquidated: fullyLiquidated,
	}, nil
}

// cancelAllOrders removes every resting order belonging to seatIdx from
// both sides of the book, refunding committed quote on bids. Used by
// Liquidate, which must not leave a liquidated trader's stale orders on the
// book (§4.6).
func (m *Market) cancelAllOrders(seatIdx arena.Index) {
	m.cancelAllOnSide(m.bidsHandle(), &m.Header.BidsBest, seatIdx)
	m.cancelAllOnSide(m.asksHandle(), &m.Header.AsksBest, seatIdx)
}

func (m *Market) cancelAllOnSide(h *rbTreeHandle, best *arena.Index, seatIdx arena.Index) {
	for {
		found := m.findAnyOrderFor(h, seatIdx)
		if found == arena.NIL {
			return
		}
		m.removeRestingAndSettle(h, best, found)
	}
}

// findAnyOrderFor does a full in-order walk of the tree rooted at *h.root
// looking for any order belonging to seatIdx.
func (m *Market) findAnyOrderFor(h *rbTreeHandle, seatIdx arena.Index) arena.Index {
	idx := h.tree.Min(*h.root)
	for idx != arena.NIL {
		if m.order(idx).TraderIndex == seatIdx {
			return idx
		}
		idx = h.tree.Successor(idx)
	}
	return arena.NIL
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
