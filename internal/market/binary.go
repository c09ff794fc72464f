package market

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/dhruvja/manifest/internal/fixedpoint"
	"github.com/dhruvja/manifest/internal/rbtree"
	"github.com/holiman/uint256"
)

// wireVersion tags the account layout so UnmarshalBinary can reject a
// snapshot written by an incompatible version of this package.
const wireVersion = 1

// MarshalBinary serializes the market little-endian: the header (its
// oracle feed id and market id are length-prefixed, so its size varies)
// followed by every arena block (live or free) in index order, each with
// its tree-overhead header, a live flag, and its tagged payload. Every block
// carries both the order and the seat payload, so blocks are not a fixed
// 80 bytes and the header is not a fixed-size prefix. It backs test
// round-trips and cmd/marketd's optional snapshot flag.
func (m *Market) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := binary.LittleEndian

	put := func(v any) error { return binary.Write(&buf, w, v) }

	if err := put(uint8(wireVersion)); err != nil {
		return nil, err
	}
	if err := put(m.Header.Version); err != nil {
		return nil, err
	}
	if err := put(m.Header.BaseDecimals); err != nil {
		return nil, err
	}
	if err := put(m.Header.QuoteDecimals); err != nil {
		return nil, err
	}
	if _, err := buf.Write(m.Header.QuoteMint[:]); err != nil {
		return nil, err
	}
	for _, v := range []any{
		m.Header.OrderSequenceNumber,
		uint32(m.Header.BidsRoot), uint32(m.Header.BidsBest),
		uint32(m.Header.AsksRoot), uint32(m.Header.AsksBest),
		uint32(m.Header.SeatsRoot),
		m.Header.LongOpenInterest, m.Header.ShortOpenInterest,
		m.Header.InitialMarginBps, m.Header.MaintenanceMarginBps,
		m.Header.TakerFeeBps, m.Header.LiquidationBufferBps,
		m.Header.OraclePriceMantissa, m.Header.OraclePriceExponent,
		m.Header.CumulativeFunding, m.Header.LastFundingTimestamp,
		m.Header.InsuranceFund,
	} {
		if err := put(v); err != nil {
			return nil, err
		}
	}

	feedBytes := []byte(m.Header.OracleFeedID)
	if err := put(uint32(len(feedBytes))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(feedBytes); err != nil {
		return nil, err
	}

	idBytes := []byte(m.ID)
	if err := put(uint32(len(idBytes))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(idBytes); err != nil {
		return nil, err
	}

	total := m.arena.Len()
	if err := put(uint32(total)); err != nil {
		return nil, err
	}
	for i := 0; i < total; i++ {
		idx := arena.Index(i)
		if err := marshalBlockHeader(&buf, w, m.arena.Header(idx), m.arena.Live(idx)); err != nil {
			return nil, err
		}
		if err := marshalBlockPayload(&buf, w, m.arena.Payload(idx)); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func marshalBlockHeader(buf *bytes.Buffer, w binary.ByteOrder, h *arena.NodeHeader, live bool) error {
	for _, v := range []any{uint32(h.Left), uint32(h.Right), uint32(h.Parent), h.Red, live} {
		if err := binary.Write(buf, w, v); err != nil {
			return err
		}
	}
	return nil
}

func marshalBlockPayload(buf *bytes.Buffer, w binary.ByteOrder, b *Block) error {
	if err := binary.Write(buf, w, b.Tag); err != nil {
		return err
	}
	priceRaw := b.Order.Price.Raw().Bytes32()
	fields := []any{
		uint32(b.Order.TraderIndex),
		priceRaw,
		b.Order.BaseAtomsRemaining,
		b.Order.SequenceNumber,
		b.Order.LastValidSlot,
		b.Order.OrderType,
		b.Order.IsBid,
		b.Order.CommittedQuoteAtoms,
	}
	for _, v := range fields {
		if err := binary.Write(buf, w, v); err != nil {
			return err
		}
	}

	if _, err := buf.Write(b.Seat.Trader[:]); err != nil {
		return err
	}
	seatFields := []any{
		b.Seat.Margin,
		b.Seat.Position,
		b.Seat.CostBasis,
		b.Seat.FundingCheckpoint,
		b.Seat.OpenOrderCount,
	}
	for _, v := range seatFields {
		if err := binary.Write(buf, w, v); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalBinary reconstructs a Market from the layout MarshalBinary
// writes. The caller must still supply the runtime capabilities (oracle,
// custodian, pool, emitter) via the returned Market's exported fields —
// they are never part of the persisted account.
func (m *Market) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	w := binary.LittleEndian

	get := func(v any) error { return binary.Read(r, w, v) }

	var version uint8
	if err := get(&version); err != nil {
		return err
	}
	if version != wireVersion {
		return fmt.Errorf("market: unsupported wire version %d", version)
	}

	if err := get(&m.Header.Version); err != nil {
		return err
	}
	if err := get(&m.Header.BaseDecimals); err != nil {
		return err
	}
	if err := get(&m.Header.QuoteDecimals); err != nil {
		return err
	}
	if _, err := r.Read(m.Header.QuoteMint[:]); err != nil {
		return err
	}

	var bidsRoot, bidsBest, asksRoot, asksBest, seatsRoot uint32
	for _, v := range []any{
		&m.Header.OrderSequenceNumber,
		&bidsRoot, &bidsBest, &asksRoot, &asksBest, &seatsRoot,
		&m.Header.LongOpenInterest, &m.Header.ShortOpenInterest,
		&m.Header.InitialMarginBps, &m.Header.MaintenanceMarginBps,
		&m.Header.TakerFeeBps, &m.Header.LiquidationBufferBps,
		&m.Header.OraclePriceMantissa, &m.Header.OraclePriceExponent,
		&m.Header.CumulativeFunding, &m.Header.LastFundingTimestamp,
		&m.Header.InsuranceFund,
	} {
		if err := get(v); err != nil {
			return err
		}
	}
	m.Header.BidsRoot, m.Header.BidsBest = arena.Index(bidsRoot), arena.Index(bidsBest)
	m.Header.AsksRoot, m.Header.AsksBest = arena.Index(asksRoot), arena.Index(asksBest)
	m.Header.SeatsRoot = arena.Index(seatsRoot)

	var feedLen uint32
	if err := get(&feedLen); err != nil {
		return err
	}
	feedBytes := make([]byte, feedLen)
	if _, err := r.Read(feedBytes); err != nil {
		return err
	}
	m.Header.OracleFeedID = string(feedBytes)

	var idLen uint32
	if err := get(&idLen); err != nil {
		return err
	}
	idBytes := make([]byte, idLen)
	if _, err := r.Read(idBytes); err != nil {
		return err
	}
	m.ID = string(idBytes)

	var total uint32
	if err := get(&total); err != nil {
		return err
	}

	a := arena.New[Block]()
	a.Grow(int(total))
	for i := uint32(0); i < total; i++ {
		idx := arena.Index(i)
		header, live, err := unmarshalBlockHeader(r, w)
		if err != nil {
			return err
		}
		if err := unmarshalBlockPayload(r, w, a.Payload(idx)); err != nil {
			return err
		}
		a.SetLive(idx, live)
		if live {
			a.SetHeader(idx, header)
		}
	}
	m.arena = a
	// Live blocks keep the header just read off the wire; free blocks get
	// their header (and the free-list thread through it) rebuilt here,
	// since Grow's initial threading assumed every block was free from
	// the start rather than restored from a snapshot.
	a.RebuildFreeList()

	// The tree structure itself lives entirely in the restored headers and
	// header root pointers; Tree values carry no other state, so rebuilding
	// them is just re-binding the same arena and comparators NewMarket uses.
	m.bids = rbtree.New(a, blockBidCmp)
	m.asks = rbtree.New(a, blockAskCmp)
	m.seats = rbtree.New(a, blockSeatCmp)

	return nil
}

func unmarshalBlockHeader(r *bytes.Reader, w binary.ByteOrder) (arena.NodeHeader, bool, error) {
	var left, right, parent uint32
	var red, live bool
	for _, v := range []any{&left, &right, &parent, &red, &live} {
		if err := binary.Read(r, w, v); err != nil {
			return arena.NodeHeader{}, false, err
		}
	}
	h := arena.NodeHeader{Left: arena.Index(left), Right: arena.Index(right), Parent: arena.Index(parent), Red: red}
	return h, live, nil
}

func unmarshalBlockPayload(r *bytes.Reader, w binary.ByteOrder, b *Block) error {
	if err := binary.Read(r, w, &b.Tag); err != nil {
		return err
	}
	var traderIdx uint32
	var priceRaw [32]byte
	fields := []any{
		&traderIdx,
		&priceRaw,
		&b.Order.BaseAtomsRemaining,
		&b.Order.SequenceNumber,
		&b.Order.LastValidSlot,
		&b.Order.OrderType,
		&b.Order.IsBid,
		&b.Order.CommittedQuoteAtoms,
	}
	for _, v := range fields {
		if err := binary.Read(r, w, v); err != nil {
			return err
		}
	}
	b.Order.TraderIndex = arena.Index(traderIdx)
	b.Order.Price = fixedpoint.FromRaw(new(uint256.Int).SetBytes32(priceRaw[:]))

	if _, err := r.Read(b.Seat.Trader[:]); err != nil {
		return err
	}
	seatFields := []any{
		&b.Seat.Margin,
		&b.Seat.Position,
		&b.Seat.CostBasis,
		&b.Seat.FundingCheckpoint,
		&b.Seat.OpenOrderCount,
	}
	for _, v := range seatFields {
		if err := binary.Read(r, w, v); err != nil {
			return err
		}
	}
	return nil
}
