package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/dhruvja/manifest/internal/custodian"
	"github.com/dhruvja/manifest/internal/event"
	"github.com/dhruvja/manifest/internal/fixedpoint"
	"github.com/dhruvja/manifest/internal/oracle"
)

func testKey(b byte) Key {
	var k Key
	k[0] = b
	return k
}

func newTestMarket(t *testing.T) *Market {
	t.Helper()
	feed := oracle.NewStaticFeed()
	feed.Set("BTC-PERP", oracle.Reading{Mantissa: 100, Exponent: 8}) // 100 * 10^0 quote/base after scaling

	m, err := NewMarket("BTC-PERP", Params{
		BaseDecimals:         9,
		QuoteDecimals:        6,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		TakerFeeBps:          10,
		LiquidationBufferBps: 100,
		OracleFeedID:         "BTC-PERP",
	}, feed, custodian.NopCustodian{}, custodian.AlwaysFundPool{}, event.NopEmitter{})
	require.NoError(t, err)
	require.NoError(t, m.Expand(64))
	return m
}

func claimAndFund(t *testing.T, m *Market, trader Key, margin uint64) {
	t.Helper()
	require.NoError(t, m.ClaimSeat(trader))
	require.NoError(t, m.Deposit(context.Background(), trader, margin))
}

func TestClaimSeatRejectsDuplicate(t *testing.T) {
	m := newTestMarket(t)
	trader := testKey(1)
	require.NoError(t, m.ClaimSeat(trader))
	require.Error(t, m.ClaimSeat(trader))
}

func TestReleaseSeatRequiresEmptyAccount(t *testing.T) {
	m := newTestMarket(t)
	trader := testKey(1)
	claimAndFund(t, m, trader, 1000)

	require.ErrorIs(t, m.ReleaseSeat(trader), ErrSeatNotEmpty)

	require.NoError(t, m.Withdraw(context.Background(), trader, 1000))
	require.NoError(t, m.ReleaseSeat(trader))
	require.ErrorIs(t, m.findSeatErr(trader), ErrSeatNotFound)
}

func (m *Market) findSeatErr(trader Key) error {
	_, err := m.findSeat(trader)
	return err
}

func TestPlaceLimitOrdersMatchAcrossBook(t *testing.T) {
	m := newTestMarket(t)
	maker := testKey(1)
	taker := testKey(2)
	claimAndFund(t, m, maker, 1_000_000)
	claimAndFund(t, m, taker, 1_000_000)

	price := fixedpoint.MustNew(100, 8) // clean price: quote = 100 * base

	_, err := m.Place(context.Background(), 0, PlaceParams{
		Trader:    maker,
		IsBid:     false,
		OrderType: Limit,
		Price:     price,
		BaseAtoms: 500,
	})
	require.NoError(t, err)

	result, err := m.Place(context.Background(), 0, PlaceParams{
		Trader:    taker,
		IsBid:     true,
		OrderType: Limit,
		Price:     price,
		BaseAtoms: 300,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(300), result.FilledBaseAtoms)
	require.Equal(t, uint64(300*100), result.FilledQuoteAtoms)

	makerSeat, err := m.findSeat(maker)
	require.NoError(t, err)
	require.EqualValues(t, -300, m.seat(makerSeat).Position)

	takerSeat, err := m.findSeat(taker)
	require.NoError(t, err)
	require.EqualValues(t, 300, m.seat(takerSeat).Position)
}

func TestPostOnlyAbortsWhenCrossing(t *testing.T) {
	m := newTestMarket(t)
	maker := testKey(1)
	taker := testKey(2)
	claimAndFund(t, m, maker, 1_000_000)
	claimAndFund(t, m, taker, 1_000_000)

	price := fixedpoint.MustNew(100, 8)
	_, err := m.Place(context.Background(), 0, PlaceParams{
		Trader: maker, IsBid: false, OrderType: Limit, Price: price, BaseAtoms: 500,
	})
	require.NoError(t, err)

	_, err = m.Place(context.Background(), 0, PlaceParams{
		Trader: taker, IsBid: true, OrderType: PostOnly, Price: price, BaseAtoms: 100,
	})
	require.ErrorIs(t, err, ErrWouldCrossBook)
}

func TestImmediateOrCancelNeverRests(t *testing.T) {
	m := newTestMarket(t)
	taker := testKey(1)
	claimAndFund(t, m, taker, 1_000_000)

	price := fixedpoint.MustNew(100, 8)
	result, err := m.Place(context.Background(), 0, PlaceParams{
		Trader: taker, IsBid: true, OrderType: ImmediateOrCancel, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.FilledBaseAtoms)
	require.Equal(t, uint64(0), result.RestedBaseAtoms)
	require.Equal(t, arena.NIL, m.Header.BidsBest)
}

func TestCancelRefundsCommittedQuote(t *testing.T) {
	m := newTestMarket(t)
	trader := testKey(1)
	claimAndFund(t, m, trader, 1_000_000)

	price := fixedpoint.MustNew(100, 8)
	result, err := m.Place(context.Background(), 0, PlaceParams{
		Trader: trader, IsBid: true, OrderType: Limit, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)

	idx, err := m.findSeat(trader)
	require.NoError(t, err)
	marginAfterRest := m.seat(idx).Margin
	require.Less(t, marginAfterRest, uint64(1_000_000))

	require.NoError(t, m.Cancel(trader, result.SequenceNumber))
	require.Equal(t, uint64(1_000_000), m.seat(idx).Margin)
}

func TestSelfTradePreventionRefundsAndClosesRestingOrder(t *testing.T) {
	m := newTestMarket(t)
	trader := testKey(1)
	claimAndFund(t, m, trader, 1_000_000)

	price := fixedpoint.MustNew(100, 8)
	rest, err := m.Place(context.Background(), 0, PlaceParams{
		Trader: trader, IsBid: true, OrderType: Limit, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)

	idx, err := m.findSeat(trader)
	require.NoError(t, err)
	marginAfterRest := m.seat(idx).Margin
	require.Less(t, marginAfterRest, uint64(1_000_000))
	require.Equal(t, uint32(1), m.seat(idx).OpenOrderCount)

	// Same trader crosses their own resting bid: §4.2 self-trade prevention
	// removes the resting order as a cancel rather than matching it. With
	// nothing left to cross, the new Limit ask rests in full, so it is the
	// trader's only open order.
	result, err := m.Place(context.Background(), 0, PlaceParams{
		Trader: trader, IsBid: false, OrderType: Limit, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.FilledBaseAtoms)

	require.Equal(t, uint64(1_000_000), m.seat(idx).Margin)
	require.Equal(t, uint32(1), m.seat(idx).OpenOrderCount)
	require.Equal(t, arena.NIL, m.Header.BidsBest)
	require.Equal(t, uint64(0), rest.SequenceNumber) // first order on this market
}

func TestExpiredOrderCleanupRefundsAndClosesRestingOrder(t *testing.T) {
	m := newTestMarket(t)
	maker := testKey(1)
	taker := testKey(2)
	claimAndFund(t, m, maker, 1_000_000)
	claimAndFund(t, m, taker, 1_000_000)

	price := fixedpoint.MustNew(100, 8)
	_, err := m.Place(context.Background(), 5, PlaceParams{
		Trader: maker, IsBid: true, OrderType: Limit, Price: price, BaseAtoms: 100, LastValidSlot: 10,
	})
	require.NoError(t, err)

	makerIdx, err := m.findSeat(maker)
	require.NoError(t, err)
	require.Less(t, m.seat(makerIdx).Margin, uint64(1_000_000))
	require.Equal(t, uint32(1), m.seat(makerIdx).OpenOrderCount)

	// A later ask crossing the same price, placed past the maker's
	// LastValidSlot, sweeps the stale resting bid as an expiry cleanup
	// (§4.2) instead of matching it, and finds nothing left to trade
	// against.
	result, err := m.Place(context.Background(), 20, PlaceParams{
		Trader: taker, IsBid: false, OrderType: Limit, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.FilledBaseAtoms)

	require.Equal(t, uint64(1_000_000), m.seat(makerIdx).Margin)
	require.Equal(t, uint32(0), m.seat(makerIdx).OpenOrderCount)
	require.Equal(t, arena.NIL, m.Header.BidsBest)
}

func TestFundingSettlesOnNextTouch(t *testing.T) {
	m := newTestMarket(t)
	trader := testKey(1)
	claimAndFund(t, m, trader, 1_000_000)

	idx, err := m.findSeat(trader)
	require.NoError(t, err)
	m.seat(idx).Position = 1000

	m.Header.CumulativeFunding = FundingScale // 1 full unit of funding per base atom
	require.NoError(t, m.settleFunding(idx))
	require.EqualValues(t, 1_000_000-1000, m.seat(idx).Margin)
	require.Equal(t, m.Header.CumulativeFunding, m.seat(idx).FundingCheckpoint)
}

func TestCrankFundingClampsAtMaxRateOnTenPercentDivergence(t *testing.T) {
	m := newTestMarket(t)

	rate, err := m.CrankFunding(1000)
	require.NoError(t, err)
	require.Zero(t, rate)
	require.Equal(t, int64(1000), m.Header.LastFundingTimestamp)

	// Simulate the mark this crank should use as its baseline: whatever the
	// oracle read as of the *previous* crank, cached in the header.
	m.Header.OraclePriceMantissa = 110
	m.Header.OraclePriceExponent = 8

	// The oracle now reads 100, so the cached mark sits 10% above it.
	m.Oracle.(*oracle.StaticFeed).Set("BTC-PERP", oracle.Reading{Mantissa: 100, Exponent: 8})

	rate, err = m.CrankFunding(1000 + OneHourSeconds)
	require.NoError(t, err)
	require.Equal(t, int64(MaxFundingRatePerPeriod), rate)
	require.Equal(t, int64(MaxFundingRatePerPeriod), m.Header.CumulativeFunding)

	// The fresh reading this crank took is now the cache the next crank
	// will treat as its own baseline mark.
	require.Equal(t, uint64(100), m.Header.OraclePriceMantissa)
	require.Equal(t, int32(8), m.Header.OraclePriceExponent)
}

func TestLiquidateRejectsSelfLiquidation(t *testing.T) {
	m := newTestMarket(t)
	trader := testKey(1)
	claimAndFund(t, m, trader, 1_000_000)

	_, err := m.Liquidate(context.Background(), trader, trader)
	require.ErrorIs(t, err, ErrSelfLiquidation)
}

func TestBidSideMatchesEarliestOrderAtTiedPrice(t *testing.T) {
	m := newTestMarket(t)
	makerA := testKey(1)
	makerB := testKey(2)
	taker := testKey(3)
	claimAndFund(t, m, makerA, 1_000_000)
	claimAndFund(t, m, makerB, 1_000_000)
	claimAndFund(t, m, taker, 1_000_000)

	price := fixedpoint.MustNew(100, 8)

	// Two resting bids at the same price: A rests first (lower sequence
	// number), B second. §4.2's ordering guarantee says a taker crossing
	// this price level fills A before B.
	_, err := m.Place(context.Background(), 0, PlaceParams{
		Trader: makerA, IsBid: true, OrderType: Limit, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)
	_, err = m.Place(context.Background(), 0, PlaceParams{
		Trader: makerB, IsBid: true, OrderType: Limit, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)

	result, err := m.Place(context.Background(), 0, PlaceParams{
		Trader: taker, IsBid: false, OrderType: Limit, Price: price, BaseAtoms: 100,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(100), result.FilledBaseAtoms)

	idxA, err := m.findSeat(makerA)
	require.NoError(t, err)
	idxB, err := m.findSeat(makerB)
	require.NoError(t, err)

	// A's whole resting bid was filled (A bought 100, B is still resting
	// untouched with nothing filled).
	require.EqualValues(t, 100, m.seat(idxA).Position)
	require.EqualValues(t, 0, m.seat(idxB).Position)
	require.Equal(t, uint32(0), m.seat(idxA).OpenOrderCount)
	require.Equal(t, uint32(1), m.seat(idxB).OpenOrderCount)
}

func TestLiquidationCloseFractionMatchesSpecWorkedExample(t *testing.T) {
	m := newTestMarket(t)
	liquidator := testKey(1)
	target := testKey(2)
	claimAndFund(t, m, liquidator, 1_000_000_000)
	claimAndFund(t, m, target, 30_000)

	m.Oracle.(*oracle.StaticFeed).Set("BTC-PERP", oracle.Reading{Mantissa: 10, Exponent: 8}) // mark = 10/base
	m.Header.LiquidationBufferBps = 200                                                      // maintenance 500 + buffer 200 = target 700

	idx, err := m.findSeat(target)
	require.NoError(t, err)
	// Scaled 1000x from the spec's worked example (position 100, notional
	// 1000, margin 30) so the remainder after closing clears MinPositionAtoms
	// and the dust-threshold full-close fallback doesn't mask the fraction.
	m.seat(idx).Position = 100_000
	m.seat(idx).CostBasis = 1_000_000 // notional at mark == cost basis: equity == margin == 30_000

	// equity_bps = 300, target_bps = 700, reward_bps = 250 (LiquidationRewardBps):
	// f = (700-300)/(700-250) = 400/450 ≈ 0.8889, close_base = ceil(100000*400/450) = ceil(88888.9) = 88889.
	result, err := m.Liquidate(context.Background(), liquidator, target)
	require.NoError(t, err)
	require.EqualValues(t, 88889, result.ClosedBaseAtoms)
	require.False(t, result.FullyLiquidated)
}

func TestLiquidateClosesUnderwaterPosition(t *testing.T) {
	m := newTestMarket(t)
	liquidator := testKey(1)
	target := testKey(2)
	claimAndFund(t, m, liquidator, 10_000_000)
	claimAndFund(t, m, target, 1000)

	idx, err := m.findSeat(target)
	require.NoError(t, err)
	m.seat(idx).Position = 100
	m.seat(idx).CostBasis = 50_000 // well above current notional: deep unrealized loss

	result, err := m.Liquidate(context.Background(), liquidator, target)
	require.NoError(t, err)
	require.Greater(t, result.ClosedBaseAtoms, uint64(0))
	require.True(t, result.FullyLiquidated)
}
