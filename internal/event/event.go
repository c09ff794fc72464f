// Package event implements the market's typed event log (§6). Market
// operations emit one event of their own kind; Place also emits a FillLog
// per fill and a CancelOrderLog per resting order it removes without a fill.
// Expand, and the first CrankFunding call (which only records the
// timestamp), emit no event. Each event kind carries an 8-byte discriminator derived deterministically from a
// domain-separated hash of its name, mirroring the chained-hash discipline
// in Khanh-21522203-PerpLedger's core.StateHasher but computed once (no
// chaining) since the market itself is not building a hash chain.
package event

import (
	"crypto/sha256"
	"time"

	"github.com/google/uuid"
)

// Discriminator is the 8-byte type tag prefixed to every serialized event.
type Discriminator [8]byte

// discriminatorFor computes sha256("event:" + name)[:8], the domain
// separation matching §6 ("a constant domain-separated hash of the event
// name").
func discriminatorFor(name string) Discriminator {
	sum := sha256.Sum256([]byte("event:" + name))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

var (
	discCreateMarket   = discriminatorFor("CreateMarketLog")
	discClaimSeat      = discriminatorFor("ClaimSeatLog")
	discReleaseSeat    = discriminatorFor("ReleaseSeatLog")
	discDeposit        = discriminatorFor("DepositLog")
	discWithdraw       = discriminatorFor("WithdrawLog")
	discPlaceOrder     = discriminatorFor("PlaceOrderLog")
	discCancelOrder    = discriminatorFor("CancelOrderLog")
	discFill           = discriminatorFor("FillLog")
	discLiquidate      = discriminatorFor("LiquidateLog")
	discFundingCrank   = discriminatorFor("FundingCrankLog")
)

// Event is implemented by every typed log record.
type Event interface {
	Discriminator() Discriminator
	EventName() string
}

// Envelope wraps a typed Event with the bookkeeping every log entry needs:
// a unique id, the market it belongs to, and a wall-clock timestamp. This
// mirrors PerpLedger's EventEnvelope wrapper.
type Envelope struct {
	ID        uuid.UUID
	MarketID  string
	Timestamp time.Time
	Event     Event
}

// Emitter is the capability the market calls into to publish an event; the
// market core stays pure/deterministic (§9 "surface... as small interfaces
// consumed by the core") and never itself decides how events are shipped
// out (logged, published to NATS, etc — that's cmd/marketd's job).
type Emitter interface {
	Emit(Envelope)
}

// NopEmitter discards every event; used in tests that don't care about the
// log.
type NopEmitter struct{}

func (NopEmitter) Emit(Envelope) {}

// CreateMarketLog records market creation.
type CreateMarketLog struct {
	QuoteMint             string
	BaseDecimals          uint8
	QuoteDecimals         uint8
	InitialMarginBps      uint16
	MaintenanceMarginBps  uint16
	TakerFeeBps           uint16
	LiquidationBufferBps  uint16
}

func (CreateMarketLog) Discriminator() Discriminator { return discCreateMarket }
func (CreateMarketLog) EventName() string             { return "CreateMarketLog" }

// ClaimSeatLog records a new seat.
type ClaimSeatLog struct {
	Trader string
}

func (ClaimSeatLog) Discriminator() Discriminator { return discClaimSeat }
func (ClaimSeatLog) EventName() string             { return "ClaimSeatLog" }

// ReleaseSeatLog records a seat freed back to the arena.
type ReleaseSeatLog struct {
	Trader string
}

func (ReleaseSeatLog) Discriminator() Discriminator { return discReleaseSeat }
func (ReleaseSeatLog) EventName() string             { return "ReleaseSeatLog" }

// DepositLog records quote moved into a trader's margin.
type DepositLog struct {
	Trader string
	Amount uint64
}

func (DepositLog) Discriminator() Discriminator { return discDeposit }
func (DepositLog) EventName() string             { return "DepositLog" }

// WithdrawLog records quote moved out of a trader's margin.
type WithdrawLog struct {
	Trader string
	Amount uint64
}

func (WithdrawLog) Discriminator() Discriminator { return discWithdraw }
func (WithdrawLog) EventName() string             { return "WithdrawLog" }

// PlaceOrderLog records the outcome of a place operation.
type PlaceOrderLog struct {
	Trader          string
	Side            string
	OrderType       string
	Price           string
	BaseAtoms       uint64
	FilledBaseAtoms uint64
	FilledQuote     uint64
	RestedAtoms     uint64
	SequenceNumber  uint64
}

func (PlaceOrderLog) Discriminator() Discriminator { return discPlaceOrder }
func (PlaceOrderLog) EventName() string             { return "PlaceOrderLog" }

// CancelOrderLog records an order removed from the book.
type CancelOrderLog struct {
	Trader         string
	SequenceNumber uint64
	RefundedQuote  uint64
}

func (CancelOrderLog) Discriminator() Discriminator { return discCancelOrder }
func (CancelOrderLog) EventName() string             { return "CancelOrderLog" }

// FillLog records one match between a taker and a maker.
type FillLog struct {
	Taker      string
	Maker      string
	TakerIsBid bool
	Price      string
	BaseAtoms  uint64
	QuoteAtoms uint64
	FeeAtoms   uint64
	MakerDone  bool
}

func (FillLog) Discriminator() Discriminator { return discFill }
func (FillLog) EventName() string             { return "FillLog" }

// LiquidateLog records a partial or full liquidation.
type LiquidateLog struct {
	Liquidator      string
	Target          string
	ClosedBaseAtoms uint64
	ClosedNotional  uint64
	RewardAtoms     uint64
	InsuranceDrawn  uint64
	FullyLiquidated bool
}

func (LiquidateLog) Discriminator() Discriminator { return discLiquidate }
func (LiquidateLog) EventName() string             { return "LiquidateLog" }

// FundingCrankLog records one funding crank.
type FundingCrankLog struct {
	MarkPrice         string
	OraclePrice       string
	Rate              int64
	CumulativeFunding int64
}

func (FundingCrankLog) Discriminator() Discriminator { return discFundingCrank }
func (FundingCrankLog) EventName() string             { return "FundingCrankLog" }
