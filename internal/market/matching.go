package market

import (
	"context"
	"fmt"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/dhruvja/manifest/internal/event"
	"github.com/dhruvja/manifest/internal/fixedpoint"
	"github.com/dhruvja/manifest/internal/rbtree"
)

// PlaceParams describes an incoming order (§4.2).
type PlaceParams struct {
	Trader        Key
	IsBid         bool
	OrderType     OrderType
	Price         fixedpoint.Price
	BaseAtoms     uint64
	LastValidSlot uint64 // 0 means no expiry
}

// PlaceResult summarizes what happened to an order once matching settles.
type PlaceResult struct {
	FilledBaseAtoms  uint64
	FilledQuoteAtoms uint64
	RestedBaseAtoms  uint64
	SequenceNumber   uint64
	FillCount        uint32
}

// Place implements `place_order` (§4.2): the full matching loop, followed
// by resting any remainder that the order type allows to rest, followed by
// a post-trade initial-margin check (skipped when no mark price is
// available). When that check fails Place returns the error; the fills and
// any rested remainder it already applied are not undone.
func (m *Market) Place(ctx context.Context, currentSlot uint64, p PlaceParams) (PlaceResult, error) {
	takerIdx, err := m.findSeat(p.Trader)
	if err != nil {
		return PlaceResult{}, err
	}
	if err := m.settleFunding(takerIdx); err != nil {
		return PlaceResult{}, err
	}
	if p.BaseAtoms == 0 {
		return PlaceResult{}, fmt.Errorf("%w: base_atoms must be > 0", ErrInvalidParams)
	}

	oppositeTree, oppositeBestField := m.oppositeSide(p.IsBid)
	sameTree, sameBestField := m.sameSide(p.IsBid)

	if p.OrderType == PostOnly {
		if best := *oppositeBestField; best != arena.NIL {
			if crosses(p.IsBid, p.Price, m.order(best).Price) {
				return PlaceResult{}, fmt.Errorf("%w: post-only order at %s would cross", ErrWouldCrossBook, p.Price)
			}
		}
	}

	remaining := p.BaseAtoms
	var filledBase, filledQuote uint64
	var fillCount uint32

	for remaining > 0 {
		bestIdx := *oppositeBestField
		if bestIdx == arena.NIL {
			break
		}
		maker := m.order(bestIdx)

		if maker.LastValidSlot != 0 && maker.LastValidSlot < currentSlot {
			expiredTrader := m.seat(maker.TraderIndex).Trader.String()
			expiredSeq := maker.SequenceNumber
			_, refunded := m.removeRestingAndSettle(oppositeTree, oppositeBestField, bestIdx)
			m.emit(event.CancelOrderLog{Trader: expiredTrader, SequenceNumber: expiredSeq, RefundedQuote: refunded})
			continue
		}
		if !crosses(p.IsBid, p.Price, maker.Price) {
			break
		}
		if maker.TraderIndex == takerIdx {
			// Self-trade prevention (§4.2): a "cancel" of the resting order
			// rather than a match against it or an abort of the whole
			// placement.
			selfTradeSeq := maker.SequenceNumber
			_, refunded := m.removeRestingAndSettle(oppositeTree, oppositeBestField, bestIdx)
			m.emit(event.CancelOrderLog{Trader: p.Trader.String(), SequenceNumber: selfTradeSeq, RefundedQuote: refunded})
			continue
		}

		tradeBase := remaining
		if maker.BaseAtomsRemaining < tradeBase {
			tradeBase = maker.BaseAtomsRemaining
		}
		fullConsumption := tradeBase == maker.BaseAtomsRemaining

		quote, err := fillQuote(maker.Price, tradeBase, fullConsumption, p.IsBid)
		if err != nil {
			return PlaceResult{}, err
		}

		fee, err := ceilFee(quote, m.Header.TakerFeeBps)
		if err != nil {
			return PlaceResult{}, err
		}

		// Global makers don't pre-commit margin at rest time (§4.2); a
		// resting Global bid draws exactly what this fill needs from the
		// shared pool right before the trade applies. A funding failure
		// removes the maker from the book and matching continues — it
		// never aborts the taker's placement.
		if maker.OrderType == Global && maker.IsBid {
			makerSeat := m.seat(maker.TraderIndex)
			if err := m.Pool.Fund(ctx, makerSeat.Trader.String(), quote); err != nil {
				fundFailedTrader := makerSeat.Trader.String()
				fundFailedSeq := maker.SequenceNumber
				_, refunded := m.removeRestingAndSettle(oppositeTree, oppositeBestField, bestIdx)
				m.emit(event.CancelOrderLog{Trader: fundFailedTrader, SequenceNumber: fundFailedSeq, RefundedQuote: refunded})
				continue
			}
			makerSeat.Margin += quote
		}
		// A resting non-Global bid already holds this fill's quote in
		// CommittedQuoteAtoms; release it to margin so applyFill's debit
		// spends the committed quote instead of charging the maker twice.
		if maker.IsBid && maker.OrderType != Global {
			maker.CommittedQuoteAtoms -= quote
			m.seat(maker.TraderIndex).Margin += quote
		}

		if err := m.applyFill(p.IsBid, takerIdx, maker.TraderIndex, tradeBase, quote, fee, maker.Price); err != nil {
			return PlaceResult{}, err
		}

		maker.BaseAtomsRemaining -= tradeBase
		remaining -= tradeBase
		filledBase += tradeBase
		filledQuote += quote
		fillCount++

		// Read the maker's fields before removal: Free zeroes the block.
		makerSeatIdx := maker.TraderIndex
		makerPrice := maker.Price
		makerDone := maker.BaseAtomsRemaining == 0
		if makerDone {
			m.removeResting(oppositeTree, oppositeBestField, bestIdx)
			m.seat(makerSeatIdx).OpenOrderCount--
		}

		m.emit(event.FillLog{
			Taker:      p.Trader.String(),
			Maker:      m.seat(makerSeatIdx).Trader.String(),
			TakerIsBid: p.IsBid,
			Price:      makerPrice.String(),
			BaseAtoms:  tradeBase,
			QuoteAtoms: quote,
			FeeAtoms:   fee,
			MakerDone:  makerDone,
		})
	}

	seq := m.Header.OrderSequenceNumber
	var rested uint64
	if remaining > 0 && p.OrderType.restsOnBook() {
		m.Header.OrderSequenceNumber++
		if err := m.rest(sameTree, sameBestField, takerIdx, p, remaining, seq); err != nil {
			return PlaceResult{}, err
		}
		rested = remaining
	}
	// TODO(Reverse/ReverseTight): once filled, these should auto-repost the
	// closed size on the opposite side (a "flip and rest" reduce-then-open
	// combinator); cross-phase behavior is Limit-equivalent for now and no
	// repost happens here.

	mark, err := m.markPrice()
	if err == nil {
		if merr := m.checkInitialMargin(m.seat(takerIdx), mark); merr != nil {
			return PlaceResult{}, merr
		}
	}

	m.emit(event.PlaceOrderLog{
		Trader:          p.Trader.String(),
		Side:            sideString(p.IsBid),
		OrderType:       p.OrderType.String(),
		Price:           p.Price.String(),
		BaseAtoms:       p.BaseAtoms,
		FilledBaseAtoms: filledBase,
		FilledQuote:     filledQuote,
		RestedAtoms:     rested,
		SequenceNumber:  seq,
	})

	return PlaceResult{
		FilledBaseAtoms:  filledBase,
		FilledQuoteAtoms: filledQuote,
		RestedBaseAtoms:  rested,
		SequenceNumber:   seq,
		FillCount:        fillCount,
	}, nil
}

func sideString(isBid bool) string {
	if isBid {
		return "bid"
	}
	return "ask"
}

// crosses reports whether a taker at takerPrice would trade against a
// resting order at makerPrice.
func crosses(takerIsBid bool, takerPrice, makerPrice fixedpoint.Price) bool {
	if takerIsBid {
		return makerPrice.Cmp(takerPrice) <= 0
	}
	return makerPrice.Cmp(takerPrice) >= 0
}

// fillQuote computes the quote atoms for one fill, applying §4.2's rounding
// rule: full consumption of the maker's order rounds toward the taker,
// partial consumption rounds toward the maker.
func fillQuote(price fixedpoint.Price, baseAtoms uint64, fullConsumption, takerIsBid bool) (uint64, error) {
	favorTaker := fullConsumption
	var rounding fixedpoint.Rounding
	switch {
	case takerIsBid && favorTaker, !takerIsBid && !favorTaker:
		rounding = fixedpoint.RoundDown
	default:
		rounding = fixedpoint.RoundUp
	}
	return price.QuoteForBase(baseAtoms, rounding)
}

// ceilFee computes the taker fee, always rounding up (§4.2).
func ceilFee(quote uint64, feeBps uint16) (uint64, error) {
	num := quote * uint64(feeBps)
	fee := num / 10_000
	if num%10_000 != 0 {
		fee++
	}
	return fee, nil
}

// applyFill moves quote between buyer and seller, credits the fee to the
// insurance fund, and updates both sides' positions (§4.3, §4.4).
func (m *Market) applyFill(takerIsBid bool, takerIdx, makerIdx arena.Index, baseAtoms, quote, fee uint64, price fixedpoint.Price) error {
	var buyerIdx, sellerIdx arena.Index
	var buyerIsTaker bool
	if takerIsBid {
		buyerIdx, sellerIdx, buyerIsTaker = takerIdx, makerIdx, true
	} else {
		buyerIdx, sellerIdx, buyerIsTaker = makerIdx, takerIdx, false
	}

	buyer := m.seat(buyerIdx)
	seller := m.seat(sellerIdx)

	buyerCost := quote
	sellerProceeds := quote
	if buyerIsTaker {
		buyerCost += fee
	} else {
		sellerProceeds -= fee
	}
	if buyerCost > buyer.Margin {
		return fmt.Errorf("%w: buyer margin %d cannot cover fill cost %d", ErrInsufficientMargin, buyer.Margin, buyerCost)
	}

	buyer.Margin -= buyerCost
	seller.Margin += sellerProceeds
	m.Header.InsuranceFund += fee

	m.updatePosition(buyer, baseAtoms, quote, true)
	m.updatePosition(seller, baseAtoms, quote, false)
	return nil
}

// oppositeSide returns the tree and best-cache pointer an incoming order of
// side isBid matches against.
func (m *Market) oppositeSide(isBid bool) (*rbTreeHandle, *arena.Index) {
	if isBid {
		return m.asksHandle(), &m.Header.AsksBest
	}
	return m.bidsHandle(), &m.Header.BidsBest
}

// sameSide returns the tree and best-cache pointer an order of side isBid
// rests on.
func (m *Market) sameSide(isBid bool) (*rbTreeHandle, *arena.Index) {
	if isBid {
		return m.bidsHandle(), &m.Header.BidsBest
	}
	return m.asksHandle(), &m.Header.AsksBest
}

func (m *Market) rest(h *rbTreeHandle, best *arena.Index, traderIdx arena.Index, p PlaceParams, remaining uint64, seq uint64) error {
	if err := m.ensureCapacity(); err != nil {
		return err
	}
	idx, err := m.arena.Alloc()
	if err != nil {
		return err
	}
	blk := m.arena.Payload(idx)
	blk.Tag = TagOrder
	blk.Order = OrderNode{
		TraderIndex:        traderIdx,
		Price:              p.Price,
		BaseAtomsRemaining: remaining,
		SequenceNumber:     seq,
		LastValidSlot:      p.LastValidSlot,
		OrderType:          p.OrderType,
		IsBid:              p.IsBid,
	}

	if p.IsBid && p.OrderType != Global {
		committed, err := p.Price.QuoteForBase(remaining, fixedpoint.RoundUp)
		if err != nil {
			return err
		}
		seat := m.seat(traderIdx)
		if committed > seat.Margin {
			return fmt.Errorf("%w: cannot commit %d quote to rest bid", ErrInsufficientMargin, committed)
		}
		seat.Margin -= committed
		blk.Order.CommittedQuoteAtoms = committed
	}

	*h.root = h.tree.Insert(*h.root, idx)
	m.seat(traderIdx).OpenOrderCount++
	m.refreshBest(h, best, p.IsBid)
	return nil
}

// removeResting deletes idx from tree h and returns its block to the arena,
// refreshing the best-price cache.
func (m *Market) removeResting(h *rbTreeHandle, best *arena.Index, idx arena.Index) {
	*h.root = h.tree.Remove(*h.root, idx)
	m.arena.Free(idx)
	m.refreshBest(h, best, h.isBid)
}

// removeRestingAndSettle takes a resting order off the book exactly the way
// Cancel does: refunding any quote the order still had committed back to
// its owner's margin (bids only) and decrementing the owner's open-order
// count. Every non-fill removal path — expired-order cleanup, self-trade
// prevention, a Global maker's funding draw failing, Liquidate's forced
// cancellation — goes through this so a swept order never strands
// committed margin or leaves OpenOrderCount permanently nonzero (which
// would lock the owner out of ReleaseSeat).
func (m *Market) removeRestingAndSettle(h *rbTreeHandle, best *arena.Index, idx arena.Index) (traderIdx arena.Index, refundedQuote uint64) {
	ord := m.order(idx)
	traderIdx = ord.TraderIndex
	if ord.IsBid {
		refundedQuote = ord.CommittedQuoteAtoms
		m.seat(traderIdx).Margin += refundedQuote
	}
	m.removeResting(h, best, idx)
	m.seat(traderIdx).OpenOrderCount--
	return traderIdx, refundedQuote
}

// refreshBest recomputes the best-cache pointer: max for bids, min for asks
// (§3.2).
func (m *Market) refreshBest(h *rbTreeHandle, best *arena.Index, isBid bool) {
	if isBid {
		*best = h.tree.Max(*h.root)
	} else {
		*best = h.tree.Min(*h.root)
	}
}

// rbTreeHandle bundles a tree with the header field holding its root, so
// matching.go's helpers can thread (tree, root) pairs without repeating the
// bids/asks branch everywhere.
type rbTreeHandle struct {
	tree  *rbtree.Tree[Block]
	root  *arena.Index
	isBid bool
}

// OpenOrderCounts walks both sides of the book and reports how many resting
// orders each holds, for observability's per-side gauge.
func (m *Market) OpenOrderCounts() (bids, asks int) {
	for idx := m.bidsHandle().tree.Min(m.Header.BidsRoot); idx != arena.NIL; idx = m.bidsHandle().tree.Successor(idx) {
		bids++
	}
	for idx := m.asksHandle().tree.Min(m.Header.AsksRoot); idx != arena.NIL; idx = m.asksHandle().tree.Successor(idx) {
		asks++
	}
	return bids, asks
}

func (m *Market) bidsHandle() *rbTreeHandle {
	return &rbTreeHandle{tree: m.bids, root: &m.Header.BidsRoot, isBid: true}
}

func (m *Market) asksHandle() *rbTreeHandle {
	return &rbTreeHandle{tree: m.asks, root: &m.Header.AsksRoot, isBid: false}
}
