package market

import (
	"fmt"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/dhruvja/manifest/internal/event"
)

// Cancel implements `cancel_order` (§4.2): removes one resting order by its
// sequence number, refunding any committed quote back to the owner's
// margin (bids only — asks never committed anything at rest time).
func (m *Market) Cancel(trader Key, sequenceNumber uint64) error {
	seatIdx, err := m.findSeat(trader)
	if err != nil {
		return err
	}

	for _, h := range []*rbTreeHandle{m.bidsHandle(), m.asksHandle()} {
		best := &m.Header.BidsBest
		if !h.isBid {
			best = &m.Header.AsksBest
		}
		idx := m.findOrder(h, seatIdx, sequenceNumber)
		if idx == arena.NIL {
			continue
		}
		_, refunded := m.removeRestingAndSettle(h, best, idx)

		m.emit(event.CancelOrderLog{
			Trader:         trader.String(),
			SequenceNumber: sequenceNumber,
			RefundedQuote:  refunded,
		})
		return nil
	}
	return fmt.Errorf("%w: sequence %d for %s", ErrOrderNotFound, sequenceNumber, trader)
}

// findOrder walks the tree in order looking for seatIdx's order with the
// given sequence number. Orders are keyed by (price, sequence) rather than
// by trader, so this is a linear scan; a real deployment with per-trader
// cancel volume would maintain a side index, which SPEC_FULL.md's §4.1
// arena model does not call for.
func (m *Market) findOrder(h *rbTreeHandle, seatIdx arena.Index, sequenceNumber uint64) arena.Index {
	idx := h.tree.Min(*h.root)
	for idx != arena.NIL {
		ord := m.order(idx)
		if ord.TraderIndex == seatIdx && ord.SequenceNumber == sequenceNumber {
			return idx
		}
		idx = h.tree.Successor(idx)
	}
	return arena.NIL
}
