package rbtree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/dhruvja/manifest/internal/arena"
	"github.com/stretchr/testify/require"
)

type kv struct{ key int }

func intCmp(a, b *kv) int {
	switch {
	case a.key < b.key:
		return -1
	case a.key > b.key:
		return 1
	default:
		return 0
	}
}

// checkInvariants walks the whole tree (test-only, recursion is fine here
// since it is verification code, not the production matching path) and
// asserts BST ordering, no red-red violations, and equal black height on
// every root-to-leaf path.
func checkInvariants(t *testing.T, tr *Tree[kv], root arena.Index) {
	t.Helper()
	if root == arena.NIL {
		return
	}
	require.False(t, tr.isRed(root), "root must be black")

	var walk func(x arena.Index, lo, hi *int) int
	walk = func(x arena.Index, lo, hi *int) int {
		if x == arena.NIL {
			return 1
		}
		k := tr.arena.Payload(x).key
		if lo != nil {
			require.GreaterOrEqual(t, k, *lo)
		}
		if hi != nil {
			require.LessOrEqual(t, k, *hi)
		}
		if tr.isRed(x) {
			require.False(t, tr.isRed(tr.left(x)), "red-red violation")
			require.False(t, tr.isRed(tr.right(x)), "red-red violation")
		}
		lh := walk(tr.left(x), lo, &k)
		rh := walk(tr.right(x), &k, hi)
		require.Equal(t, lh, rh, "unequal black height")
		if !tr.isRed(x) {
			return lh + 1
		}
		return lh
	}
	walk(root, nil, nil)
}

func inorder(tr *Tree[kv], root arena.Index) []int {
	var out []int
	x := tr.Min(root)
	for x != arena.NIL {
		out = append(out, tr.arena.Payload(x).key)
		x = tr.Successor(x)
	}
	return out
}

func TestInsertMaintainsInvariantsAndOrder(t *testing.T) {
	a := arena.New[kv]()
	a.Grow(200)
	tr := New(a, intCmp)

	r := rand.New(rand.NewSource(1))
	keys := r.Perm(150)

	var root arena.Index = arena.NIL
	var inserted []int
	for _, k := range keys {
		idx, err := a.Alloc()
		require.NoError(t, err)
		a.Payload(idx).key = k
		root = tr.Insert(root, idx)
		inserted = append(inserted, k)
		checkInvariants(t, tr, root)
	}

	sort.Ints(inserted)
	require.Equal(t, inserted, inorder(tr, root))
}

func TestRemoveMaintainsInvariantsAndOrder(t *testing.T) {
	a := arena.New[kv]()
	a.Grow(200)
	tr := New(a, intCmp)

	r := rand.New(rand.NewSource(2))
	keys := r.Perm(120)

	var root arena.Index = arena.NIL
	idxOf := map[int]arena.Index{}
	for _, k := range keys {
		idx, _ := a.Alloc()
		a.Payload(idx).key = k
		root = tr.Insert(root, idx)
		idxOf[k] = idx
	}

	toRemove := keys[:60]
	remaining := map[int]bool{}
	for _, k := range keys {
		remaining[k] = true
	}
	for _, k := range toRemove {
		root = tr.Remove(root, idxOf[k])
		a.Free(idxOf[k])
		delete(remaining, k)
		checkInvariants(t, tr, root)
	}

	var want []int
	for k := range remaining {
		want = append(want, k)
	}
	sort.Ints(want)
	require.Equal(t, want, inorder(tr, root))
}

func TestMinMaxSuccessorPredecessor(t *testing.T) {
	a := arena.New[kv]()
	a.Grow(10)
	tr := New(a, intCmp)

	var root arena.Index = arena.NIL
	idxOf := map[int]arena.Index{}
	for _, k := range []int{5, 3, 8, 1, 4, 7, 9} {
		idx, _ := a.Alloc()
		a.Payload(idx).key = k
		root = tr.Insert(root, idx)
		idxOf[k] = idx
	}

	require.Equal(t, 1, a.Payload(tr.Min(root)).key)
	require.Equal(t, 9, a.Payload(tr.Max(root)).key)
	require.Equal(t, 5, a.Payload(tr.Successor(idxOf[4])).key)
	require.Equal(t, 3, a.Payload(tr.Predecessor(idxOf[4])).key)
	require.Equal(t, arena.NIL, tr.Successor(idxOf[9]))
	require.Equal(t, arena.NIL, tr.Predecessor(idxOf[1]))
}

func TestFindExactMatch(t *testing.T) {
	a := arena.New[kv]()
	a.Grow(10)
	tr := New(a, intCmp)

	var root arena.Index = arena.NIL
	for _, k := range []int{5, 3, 8} {
		idx, _ := a.Alloc()
		a.Payload(idx).key = k
		root = tr.Insert(root, idx)
	}

	found := tr.Find(root, &kv{key: 8})
	require.NotEqual(t, arena.NIL, found)
	require.Equal(t, 8, a.Payload(found).key)

	require.Equal(t, arena.NIL, tr.Find(root, &kv{key: 100}))
}
