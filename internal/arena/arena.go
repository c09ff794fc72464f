// Package arena implements the fixed-size block arena and free list that
// back every tree in the market (§3.1, §4.1). Blocks are never returned to
// the operating system; the arena only grows (Grow) and blocks are recycled
// through the free list (Alloc/Free).
package arena

import "errors"

// Index is a 32-bit arena slot index. NIL encodes "no node", matching the
// wire sentinel used by the account layout (§3.1).
type Index uint32

// NIL is the sentinel "no node" index.
const NIL Index = 0xFFFF_FFFF

// ErrOutOfBlocks is returned by Alloc when the free list is empty; callers
// must Grow the arena first (§4.1 Failure modes).
var ErrOutOfBlocks = errors.New("arena: out of blocks")

// NodeHeader is the 16 bytes of tree overhead every live block carries:
// left/right/parent child indices and the red/black color bit. On a free
// block, Parent doubles as the free-list forward link and Left/Right are
// always NIL (§3.1: "all-ones left/right/parent" identifies a free block on
// the wire; in-memory, the Live flag on the owning entry is authoritative).
type NodeHeader struct {
	Left, Right, Parent Index
	Red                 bool
}

func nilHeader() NodeHeader { return NodeHeader{Left: NIL, Right: NIL, Parent: NIL} }

type entry[T any] struct {
	header NodeHeader
	live   bool
	payload T
}

// Arena is a generic append-only block store with a free list. Per §3.1/§9,
// a market's bids, asks, and seats trees all share ONE Arena instance (over
// a tagged union payload type) and its free list, so a freed order block's
// slot can be recycled as a seat block or vice versa.
type Arena[T any] struct {
	blocks   []entry[T]
	freeHead Index
}

// New returns an empty arena. Call Grow before the first Alloc.
func New[T any]() *Arena[T] {
	return &Arena[T]{freeHead: NIL}
}

// Len returns the total number of blocks ever allocated to the arena (live
// and free).
func (a *Arena[T]) Len() int { return len(a.blocks) }

// HasFree reports whether Alloc would succeed without a prior Grow.
func (a *Arena[T]) HasFree() bool { return a.freeHead != NIL }

// Grow appends n fresh blocks to the arena and pushes them onto the free
// list (§6 `expand`).
func (a *Arena[T]) Grow(n int) {
	for i := 0; i < n; i++ {
		idx := Index(len(a.blocks))
		h := nilHeader()
		h.Parent = a.freeHead
		a.blocks = append(a.blocks, entry[T]{header: h})
		a.freeHead = idx
	}
}

// Alloc pops a block off the free list and returns its index, with a
// zeroed payload and header. Returns ErrOutOfBlocks if the free list is
// empty (§4.1 Failure modes).
func (a *Arena[T]) Alloc() (Index, error) {
	if a.freeHead == NIL {
		return NIL, ErrOutOfBlocks
	}
	idx := a.freeHead
	e := &a.blocks[idx]
	a.freeHead = e.header.Parent
	e.header = nilHeader()
	e.live = true
	var zero T
	e.payload = zero
	return idx, nil
}

// Free returns a live block to the free list.
func (a *Arena[T]) Free(idx Index) {
	e := &a.blocks[idx]
	e.live = false
	h := nilHeader()
	h.Parent = a.freeHead
	e.header = h
	var zero T
	e.payload = zero
	a.freeHead = idx
}

// Live reports whether idx currently holds a live (non-free, in-tree or
// just-allocated) block.
func (a *Arena[T]) Live(idx Index) bool {
	return idx != NIL && int(idx) < len(a.blocks) && a.blocks[idx].live
}

// Header returns a mutable pointer to the block's tree-overhead fields.
func (a *Arena[T]) Header(idx Index) *NodeHeader { return &a.blocks[idx].header }

// Payload returns a mutable pointer to the block's logical payload.
func (a *Arena[T]) Payload(idx Index) *T { return &a.blocks[idx].payload }

// FreeListLen walks the free list and counts its entries; used by the
// arena's own invariant checks and by tests asserting invariant 5 of §8
// ("live blocks + free-list length = total block count").
func (a *Arena[T]) FreeListLen() int {
	n := 0
	for idx := a.freeHead; idx != NIL; idx = a.blocks[idx].header.Parent {
		n++
	}
	return n
}

// LiveCount returns the number of currently live blocks.
func (a *Arena[T]) LiveCount() int {
	n := 0
	for i := range a.blocks {
		if a.blocks[i].live {
			n++
		}
	}
	return n
}

// SetHeader overwrites a block's tree-overhead fields directly. Used when
// restoring an arena from a serialized snapshot, where the header is read
// off the wire rather than produced by Alloc/Insert.
func (a *Arena[T]) SetHeader(idx Index, h NodeHeader) { a.blocks[idx].header = h }

// SetLive marks idx live or free without touching its header or payload.
// Used when restoring a snapshot: the wire format records liveness per
// block directly, ahead of rebuilding the free list.
func (a *Arena[T]) SetLive(idx Index, live bool) { a.blocks[idx].live = live }

// RebuildFreeList re-threads the free list from each block's Live flag,
// for use right after a snapshot restore has set every block's liveness
// and header via SetLive/SetHeader. Free blocks are threaded in descending
// index order, matching the order Grow would have produced them in.
func (a *Arena[T]) RebuildFreeList() {
	a.freeHead = NIL
	for i := 0; i < len(a.blocks); i++ {
		if !a.blocks[i].live {
			h := nilHeader()
			h.Parent = a.freeHead
			a.blocks[i].header = h
			a.freeHead = Index(i)
		}
	}
}
