// Package market implements the single mutable "market" account: the
// order book (bids + asks), trader seats, and the funding/liquidation
// bookkeeping that sit on top of the arena and rbtree packages (§2, §3).
package market

import (
	"bytes"
	"fmt"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/dhruvja/manifest/internal/fixedpoint"
)

// Key is a 32-byte trader/mint identity (§3.4).
type Key [32]byte

func (k Key) String() string { return fmt.Sprintf("%x", k[:8]) }

// KeyFromBytes builds a Key from a byte slice, panicking if the length is
// wrong; used for test fixtures and CLI argument parsing.
func KeyFromBytes(b []byte) Key {
	if len(b) != 32 {
		panic(fmt.Sprintf("market: key must be 32 bytes, got %d", len(b)))
	}
	var k Key
	copy(k[:], b)
	return k
}

// OrderType enumerates the resting-order semantics of §4.2.
type OrderType uint8

const (
	Limit OrderType = iota
	PostOnly
	ImmediateOrCancel
	Global
	Reverse
	ReverseTight
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "Limit"
	case PostOnly:
		return "PostOnly"
	case ImmediateOrCancel:
		return "ImmediateOrCancel"
	case Global:
		return "Global"
	case Reverse:
		return "Reverse"
	case ReverseTight:
		return "ReverseTight"
	default:
		return "Unknown"
	}
}

// restsOnBook reports whether an order of this type may rest after the
// cross phase leaves a remainder (§4.2: IOC never rests).
func (t OrderType) restsOnBook() bool { return t != ImmediateOrCancel }

// OrderNode is the resting-order payload (§3.3).
type OrderNode struct {
	TraderIndex        arena.Index
	Price              fixedpoint.Price
	BaseAtomsRemaining uint64
	SequenceNumber     uint64
	LastValidSlot      uint64
	OrderType          OrderType
	IsBid              bool
	// CommittedQuoteAtoms is the quote reserved out of the bidder's margin
	// at rest time (bids only — a resting ask has no quote to commit, its
	// exposure is covered by ordinary margin-ratio checks). Cancel refunds
	// this amount; a fill consumes it pro-rata.
	CommittedQuoteAtoms uint64
}

// askOrderCmp orders two OrderNodes ascending by (price, sequence number).
// asks_best is the tree minimum (§3.2), so ascending price puts the best
// ask first; within a price tier, ascending sequence number puts the
// earliest-resting order first — the tree minimum at a given price is
// always the order with the lowest sequence number, satisfying §4.2's
// "within a price, lower sequence_number first" guarantee.
func askOrderCmp(a, b *OrderNode) int {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c
	}
	switch {
	case a.SequenceNumber < b.SequenceNumber:
		return -1
	case a.SequenceNumber > b.SequenceNumber:
		return 1
	default:
		return 0
	}
}

// bidOrderCmp orders two OrderNodes ascending by price, but descending by
// sequence number within a price tier. bids_best is the tree maximum
// (§3.2): reusing askOrderCmp's ascending-sequence tie-break would make the
// maximum at the best price the most recently inserted order rather than
// the earliest, violating §4.2's same ordering guarantee on the bid side.
// Reversing the sequence comparison so a lower sequence number sorts as
// "greater" within a price tier makes the tree maximum at that price the
// earliest-resting order, matching the ask side's FIFO behavior.
func bidOrderCmp(a, b *OrderNode) int {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c
	}
	switch {
	case a.SequenceNumber > b.SequenceNumber:
		return -1
	case a.SequenceNumber < b.SequenceNumber:
		return 1
	default:
		return 0
	}
}

// ClaimedSeat is the per-trader seat payload (§3.4). FundingCheckpoint has
// no second role here (§9 redesign note; see SPEC_FULL.md §3.4) — it is a
// plain persisted field, never aliased as transaction scratch space.
type ClaimedSeat struct {
	Trader            Key
	Margin            uint64
	Position          int64
	CostBasis         uint64
	FundingCheckpoint int64
	// OpenOrderCount supplements spec.md's ClaimedSeat with an explicit
	// counter so ReleaseSeat can reject in O(1) instead of scanning the
	// orders tree (see SPEC_FULL.md's original_source supplement note).
	OpenOrderCount uint32
}

func seatCmp(a, b *ClaimedSeat) int { return bytes.Compare(a.Trader[:], b.Trader[:]) }

// BlockTag identifies which payload a shared arena block currently holds
// (§3.1: "Each block is one of three logical tags").
type BlockTag uint8

const (
	TagFree BlockTag = iota
	TagOrder
	TagSeat
)

// Block is the arena's fixed-size slot payload. All three trees (bids,
// asks, seats) index into one shared arena.Arena[Block] and free list
// (§9 redesign note: "share alloc/free across all three trees via a
// single Arena abstraction") — a freed order block's slot can be recycled
// as a seat block and vice versa. Order and Seat overlap in memory the way
// spec.md's literal 80-byte union block would; Go's type system doesn't
// give us a real union, so both fields exist side by side and Tag says
// which one is meaningful.
type Block struct {
	Tag   BlockTag
	Order OrderNode
	Seat  ClaimedSeat
}

func blockBidCmp(a, b *Block) int  { return bidOrderCmp(&a.Order, &b.Order) }
func blockAskCmp(a, b *Block) int  { return askOrderCmp(&a.Order, &b.Order) }
func blockSeatCmp(a, b *Block) int { return seatCmp(&a.Seat, &b.Seat) }

// MarketFixed is the fixed-size market header (§3.5).
type MarketFixed struct {
	Version       uint8
	BaseDecimals  uint8
	QuoteDecimals uint8
	QuoteMint     Key

	OrderSequenceNumber uint64

	BidsRoot, BidsBest arena.Index
	AsksRoot, AsksBest arena.Index
	SeatsRoot          arena.Index

	LongOpenInterest  uint64
	ShortOpenInterest uint64

	InitialMarginBps     uint16
	MaintenanceMarginBps uint16
	TakerFeeBps          uint16
	LiquidationBufferBps uint16

	OraclePriceMantissa uint64
	OraclePriceExponent int32
	OracleFeedID        string

	CumulativeFunding    int64
	LastFundingTimestamp int64

	InsuranceFund uint64
}

// Params bundles the caller-supplied, validated-at-creation risk
// parameters (§3.5 "Parameter bounds").
type Params struct {
	QuoteMint            Key
	BaseDecimals         uint8
	QuoteDecimals        uint8
	InitialMarginBps     uint16
	MaintenanceMarginBps uint16
	TakerFeeBps          uint16
	LiquidationBufferBps uint16
	OracleFeedID         string
}

// Validate enforces the §3.5 bounds.
func (p Params) Validate() error {
	if p.MaintenanceMarginBps == 0 {
		return fmt.Errorf("%w: maintenance_margin_bps must be > 0", ErrInvalidParams)
	}
	if p.MaintenanceMarginBps > p.InitialMarginBps {
		return fmt.Errorf("%w: maintenance_margin_bps must be <= initial_margin_bps", ErrInvalidParams)
	}
	if p.InitialMarginBps > 50_000 {
		return fmt.Errorf("%w: initial_margin_bps must be <= 50000", ErrInvalidParams)
	}
	if p.TakerFeeBps > 1_000 {
		return fmt.Errorf("%w: taker_fee_bps must be <= 1000", ErrInvalidParams)
	}
	if p.LiquidationBufferBps >= p.MaintenanceMarginBps {
		return fmt.Errorf("%w: liquidation_buffer_bps must be < maintenance_margin_bps", ErrInvalidParams)
	}
	return nil
}

// Engine-wide constants (§4.5, §4.6).
const (
	FundingScale               = 1_000_000_000 // 1e9
	FundingPeriodSeconds       = int64(3600)    // continuous marking against a fixed nominal hour
	OneHourSeconds             = int64(3600)
	MaxFundingRatePerPeriod    = FundingScale / 100 // 1% per hour, scaled by FundingScale
	LiquidationRewardBps       = 250
	MinPositionAtoms           = 1000
)
