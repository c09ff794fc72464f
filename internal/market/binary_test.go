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

// TestBinaryRoundTripsHeaderAndBlocks exercises §6.1: after a claimed seat,
// a resting order, and a fill have all touched the arena, marshaling and
// then unmarshaling must reproduce the header and every live block exactly.
func TestBinaryRoundTripsHeaderAndBlocks(t *testing.T) {
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
		Trader: taker, IsBid: true, OrderType: Limit, Price: price, BaseAtoms: 200,
	})
	require.NoError(t, err)

	data, err := m.MarshalBinary()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var restored Market
	require.NoError(t, restored.UnmarshalBinary(data))

	require.Equal(t, m.ID, restored.ID)
	require.Equal(t, m.Header, restored.Header)
	require.Equal(t, m.arena.Len(), restored.arena.Len())

	for i := 0; i < m.arena.Len(); i++ {
		idx := arena.Index(i)
		require.Equal(t, m.arena.Live(idx), restored.arena.Live(idx), "live flag mismatch at %d", i)
		if m.arena.Live(idx) {
			require.Equal(t, *m.arena.Payload(idx), *restored.arena.Payload(idx), "payload mismatch at %d", i)
			require.Equal(t, *m.arena.Header(idx), *restored.arena.Header(idx), "header mismatch at %d", i)
		}
	}

	// The restored market still needs its runtime capabilities wired back
	// in before it can serve any operation that touches them.
	restored.Emitter = event.NopEmitter{}
	restored.Oracle = oracle.NewStaticFeed()
	restored.Custodian = custodian.NopCustodian{}
	restored.Pool = custodian.AlwaysFundPool{}

	idx, err := restored.findSeat(taker)
	require.NoError(t, err)
	require.EqualValues(t, 200, restored.seat(idx).Position)
}
