package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/dhruvja/manifest/internal/custodian"
	"github.com/dhruvja/manifest/internal/event"
	"github.com/dhruvja/manifest/internal/oracle"
	"github.com/dhruvja/manifest/internal/rbtree"
)

// Market is the single mutable account described by §2: one shared block
// arena, three red-black trees over it, and the header scalars. Methods
// are not internally locked (§5: the host — here, cmd/marketd's per-market
// command loop — is responsible for serializing access).
type Market struct {
	ID     string
	Header MarketFixed

	arena *arena.Arena[Block]
	bids  *rbtree.Tree[Block]
	asks  *rbtree.Tree[Block]
	seats *rbtree.Tree[Block]

	Emitter   event.Emitter
	Oracle    oracle.Feed
	Custodian custodian.Custodian
	Pool      custodian.Pool
}

// NewMarket implements `create_market` (§6): validates params, initializes
// the header, grows one free block, and wires the vault/oracle/pool
// capabilities. Emits CreateMarketLog.
func NewMarket(id string, p Params, feed oracle.Feed, cust custodian.Custodian, pool custodian.Pool, emitter event.Emitter) (*Market, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = event.NopEmitter{}
	}

	a := arena.New[Block]()
	a.Grow(1)

	m := &Market{
		ID:    id,
		arena: a,
		bids:  rbtree.New(a, blockBidCmp),
		asks:  rbtree.New(a, blockAskCmp),
		seats: rbtree.New(a, blockSeatCmp),
		Header: MarketFixed{
			Version:              1,
			BaseDecimals:         p.BaseDecimals,
			QuoteDecimals:        p.QuoteDecimals,
			QuoteMint:            p.QuoteMint,
			BidsRoot:             arena.NIL,
			BidsBest:             arena.NIL,
			AsksRoot:             arena.NIL,
			AsksBest:             arena.NIL,
			SeatsRoot:            arena.NIL,
			InitialMarginBps:     p.InitialMarginBps,
			MaintenanceMarginBps: p.MaintenanceMarginBps,
			TakerFeeBps:          p.TakerFeeBps,
			LiquidationBufferBps: p.LiquidationBufferBps,
			OracleFeedID:         p.OracleFeedID,
		},
		Emitter:   emitter,
		Oracle:    feed,
		Custodian: cust,
		Pool:      pool,
	}

	m.emit(event.CreateMarketLog{
		QuoteMint:            fmt.Sprintf("%x", p.QuoteMint[:]),
		BaseDecimals:         p.BaseDecimals,
		QuoteDecimals:        p.QuoteDecimals,
		InitialMarginBps:     p.InitialMarginBps,
		MaintenanceMarginBps: p.MaintenanceMarginBps,
		TakerFeeBps:          p.TakerFeeBps,
		LiquidationBufferBps: p.LiquidationBufferBps,
	})
	return m, nil
}

func (m *Market) emit(e event.Event) {
	m.Emitter.Emit(event.Envelope{
		ID:        uuid.New(),
		MarketID:  m.ID,
		Timestamp: time.Now(),
		Event:     e,
	})
}

// Expand implements `expand` (§6): grows the shared arena by n blocks and
// pushes them onto the free list.
func (m *Market) Expand(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: expand count must be positive", ErrInvalidParams)
	}
	m.arena.Grow(n)
	return nil
}

// ensureCapacity implements the §4.1/§5 "ensure at least one free block
// before any allocation path" discipline. It does not itself grow the
// arena (§9 original_source supplement: claim_seat in the original
// explicitly refuses to self-expand); the caller must have already called
// Expand.
func (m *Market) ensureCapacity() error {
	if !m.arena.HasFree() {
		return ErrOutOfBlocks
	}
	return nil
}

// findSeat returns the arena index of trader's seat, or ErrSeatNotFound.
func (m *Market) findSeat(trader Key) (arena.Index, error) {
	key := &Block{Tag: TagSeat, Seat: ClaimedSeat{Trader: trader}}
	idx := m.seats.Find(m.Header.SeatsRoot, key)
	if idx == arena.NIL {
		return arena.NIL, fmt.Errorf("%w: %s", ErrSeatNotFound, trader)
	}
	return idx, nil
}

func (m *Market) seat(idx arena.Index) *ClaimedSeat { return &m.arena.Payload(idx).Seat }
func (m *Market) order(idx arena.Index) *OrderNode  { return &m.arena.Payload(idx).Order }

// ClaimSeat implements `claim_seat` (§6): allocates a seat block, inserts
// it into the seats tree, and zeroes its accounting fields.
func (m *Market) ClaimSeat(trader Key) error {
	if err := m.ensureCapacity(); err != nil {
		return err
	}
	if _, err := m.findSeat(trader); err == nil {
		return fmt.Errorf("%w: seat already claimed for %s", ErrInvalidParams, trader)
	}

	idx, err := m.arena.Alloc()
	if err != nil {
		return err
	}
	blk := m.arena.Payload(idx)
	blk.Tag = TagSeat
	blk.Seat = ClaimedSeat{Trader: trader}

	m.Header.SeatsRoot = m.seats.Insert(m.Header.SeatsRoot, idx)

	m.emit(event.ClaimSeatLog{Trader: trader.String()})
	return nil
}

// ReleaseSeat implements `release_seat` (§6): only if position == 0 and no
// open orders (§9 original_source supplement extends this to margin == 0,
// mirroring the original's zero-quote-balance check under the virtual-base
// model where margin *is* the quote balance).
func (m *Market) ReleaseSeat(trader Key) error {
	idx, err := m.findSeat(trader)
	if err != nil {
		return err
	}
	if err := m.settleFunding(idx); err != nil {
		return err
	}
	seat := m.seat(idx)
	if seat.Position != 0 || seat.Margin != 0 || seat.OpenOrderCount != 0 {
		return fmt.Errorf("%w: %s", ErrSeatNotEmpty, trader)
	}

	m.Header.SeatsRoot = m.seats.Remove(m.Header.SeatsRoot, idx)
	m.arena.Free(idx)

	m.emit(event.ReleaseSeatLog{Trader: trader.String()})
	return nil
}

// Deposit implements `deposit` (§6): pulls quote via the custodian and
// credits margin.
func (m *Market) Deposit(ctx context.Context, trader Key, qty uint64) error {
	idx, err := m.findSeat(trader)
	if err != nil {
		return err
	}
	if err := m.Custodian.MoveQuote(ctx, trader.String(), m.vaultAccount(), qty); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	m.seat(idx).Margin += qty

	m.emit(event.DepositLog{Trader: trader.String(), Amount: qty})
	return nil
}

// Withdraw implements `withdraw` (§6): settles funding, checks maintenance
// margin, debits margin, and pushes quote back out via the custodian.
func (m *Market) Withdraw(ctx context.Context, trader Key, qty uint64) error {
	idx, err := m.findSeat(trader)
	if err != nil {
		return err
	}
	if err := m.settleFunding(idx); err != nil {
		return err
	}
	seat := m.seat(idx)
	if qty > seat.Margin {
		return fmt.Errorf("%w: withdraw %d exceeds margin %d", ErrInsufficientMargin, qty, seat.Margin)
	}

	postMargin := seat.Margin - qty
	if err := m.checkMaintenanceMargin(seat, postMargin); err != nil {
		return err
	}

	if err := m.Custodian.MoveQuote(ctx, m.vaultAccount(), trader.String(), qty); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	seat.Margin = postMargin

	m.storeFundingCheckpoint(idx)
	m.emit(event.WithdrawLog{Trader: trader.String(), Amount: qty})
	return nil
}

func (m *Market) vaultAccount() string { return "market:" + m.ID + ":vault" }

// ArenaStats reports the shared arena's live and free block counts, for
// observability's gauge pair (§8 invariant 5: the two must always sum to
// the arena's total block count).
func (m *Market) ArenaStats() (live, free int) {
	return m.arena.LiveCount(), m.arena.FreeListLen()
}
