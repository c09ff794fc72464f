package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type payload struct{ V int }

func TestAllocOutOfBlocks(t *testing.T) {
	a := New[payload]()
	_, err := a.Alloc()
	require.ErrorIs(t, err, ErrOutOfBlocks)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := New[payload]()
	a.Grow(4)
	require.Equal(t, 4, a.Len())
	require.Equal(t, 4, a.FreeListLen())

	idx, err := a.Alloc()
	require.NoError(t, err)
	require.True(t, a.Live(idx))
	require.Equal(t, 3, a.FreeListLen())
	require.Equal(t, 1, a.LiveCount())

	a.Payload(idx).V = 42
	require.Equal(t, 42, a.Payload(idx).V)

	a.Free(idx)
	require.False(t, a.Live(idx))
	require.Equal(t, 4, a.FreeListLen())
	require.Equal(t, 0, a.LiveCount())
}

func TestFreedBlockPayloadZeroedOnRealloc(t *testing.T) {
	a := New[payload]()
	a.Grow(1)
	idx, _ := a.Alloc()
	a.Payload(idx).V = 7
	a.Free(idx)

	idx2, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, idx, idx2) // LIFO free list reuses the same slot
	require.Equal(t, 0, a.Payload(idx2).V)
}

func TestSetLiveAndRebuildFreeListRestoresSnapshot(t *testing.T) {
	a := New[payload]()
	a.Grow(4)
	idx0, _ := a.Alloc()
	a.Payload(idx0).V = 1
	idx1, _ := a.Alloc()
	a.Payload(idx1).V = 2
	a.Free(idx1)

	// Simulate what UnmarshalBinary does: rebuild a fresh arena of the same
	// size and replay each block's liveness and payload from a snapshot.
	b := New[payload]()
	b.Grow(4)
	for i := 0; i < a.Len(); i++ {
		idx := Index(i)
		b.SetLive(idx, a.Live(idx))
		if a.Live(idx) {
			b.SetHeader(idx, *a.Header(idx))
		}
		*b.Payload(idx) = *a.Payload(idx)
	}
	b.RebuildFreeList()

	require.Equal(t, a.LiveCount(), b.LiveCount())
	require.Equal(t, a.FreeListLen(), b.FreeListLen())
	require.True(t, b.Live(idx0))
	require.Equal(t, 1, b.Payload(idx0).V)
	require.False(t, b.Live(idx1))

	idx2, err := b.Alloc()
	require.NoError(t, err)
	require.Equal(t, idx1, idx2) // highest free index is handed out first, as in a
}

func TestInvariantLiveAndFreeSumToTotal(t *testing.T) {
	a := New[payload]()
	a.Grow(10)
	var live []Index
	for i := 0; i < 6; i++ {
		idx, err := a.Alloc()
		require.NoError(t, err)
		live = append(live, idx)
	}
	a.Free(live[0])
	a.Free(live[3])

	require.Equal(t, a.Len(), a.LiveCount()+a.FreeListLen())
}
