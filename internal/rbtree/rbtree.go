// Package rbtree implements a generic, iterative red-black tree over an
// arena.Arena index space (§3.2, §4.1). A Tree value holds only its arena
// and comparator, so several trees can share one arena; the tree itself is
// stateless between calls — the root index lives in the caller (the market header) and is
// threaded through every operation, matching the "insert(root, node) ->
// new_root" contract of §4.1.
//
// Tree operations are written iteratively rather than recursively (§9
// redesign note: "node recursion into arena... should be written
// iteratively... to keep stack bounded and make the structure verifiable").
package rbtree

import "github.com/dhruvja/manifest/internal/arena"

// Comparator orders two payloads for tree placement. It must be a strict
// weak ordering consistent with the tree's key (e.g. (price asc, sequence
// desc) for bids, whose best order is the tree maximum; trader key asc for
// seats).
type Comparator[T any] func(a, b *T) int

// Tree is a red-black tree of arena-indexed nodes of payload type T.
type Tree[T any] struct {
	arena *arena.Arena[T]
	cmp   Comparator[T]
}

// New builds a Tree bound to the given arena and ordering.
func New[T any](a *arena.Arena[T], cmp Comparator[T]) *Tree[T] {
	return &Tree[T]{arena: a, cmp: cmp}
}

func (t *Tree[T]) h(x arena.Index) *arena.NodeHeader { return t.arena.Header(x) }

func (t *Tree[T]) left(x arena.Index) arena.Index {
	if x == arena.NIL {
		return arena.NIL
	}
	return t.h(x).Left
}
func (t *Tree[T]) right(x arena.Index) arena.Index {
	if x == arena.NIL {
		return arena.NIL
	}
	return t.h(x).Right
}
func (t *Tree[T]) parent(x arena.Index) arena.Index {
	if x == arena.NIL {
		return arena.NIL
	}
	return t.h(x).Parent
}
func (t *Tree[T]) isRed(x arena.Index) bool { return x != arena.NIL && t.h(x).Red }

func (t *Tree[T]) setLeft(x, v arena.Index) {
	t.h(x).Left = v
}
func (t *Tree[T]) setRight(x, v arena.Index) {
	t.h(x).Right = v
}
func (t *Tree[T]) setParent(x, v arena.Index) {
	if x == arena.NIL {
		return
	}
	t.h(x).Parent = v
}
func (t *Tree[T]) setColor(x arena.Index, red bool) {
	if x == arena.NIL {
		return
	}
	t.h(x).Red = red
}

func (t *Tree[T]) less(a, b arena.Index) bool {
	return t.cmp(t.arena.Payload(a), t.arena.Payload(b)) < 0
}

// rotateLeft/rotateRight are the standard RB rotations, operating purely on
// header fields; they return the (possibly updated) root.
func (t *Tree[T]) rotateLeft(root, x arena.Index) arena.Index {
	y := t.right(x)
	t.setRight(x, t.left(y))
	if t.left(y) != arena.NIL {
		t.setParent(t.left(y), x)
	}
	t.setParent(y, t.parent(x))
	switch {
	case t.parent(x) == arena.NIL:
		root = y
	case x == t.left(t.parent(x)):
		t.setLeft(t.parent(x), y)
	default:
		t.setRight(t.parent(x), y)
	}
	t.setLeft(y, x)
	t.setParent(x, y)
	return root
}

func (t *Tree[T]) rotateRight(root, x arena.Index) arena.Index {
	y := t.left(x)
	t.setLeft(x, t.right(y))
	if t.right(y) != arena.NIL {
		t.setParent(t.right(y), x)
	}
	t.setParent(y, t.parent(x))
	switch {
	case t.parent(x) == arena.NIL:
		root = y
	case x == t.right(t.parent(x)):
		t.setRight(t.parent(x), y)
	default:
		t.setLeft(t.parent(x), y)
	}
	t.setRight(y, x)
	t.setParent(x, y)
	return root
}

// Insert places node z (its payload already populated; its header may be
// anything, it is overwritten) into the tree rooted at root and returns
// the new root. z must not already be part of any tree.
func (t *Tree[T]) Insert(root, z arena.Index) arena.Index {
	var y arena.Index = arena.NIL
	x := root
	for x != arena.NIL {
		y = x
		if t.less(z, x) {
			x = t.left(x)
		} else {
			x = t.right(x)
		}
	}
	t.setParent(z, y)
	t.setLeft(z, arena.NIL)
	t.setRight(z, arena.NIL)
	t.setColor(z, true) // new nodes start red
	switch {
	case y == arena.NIL:
		root = z
	case t.less(z, y):
		t.setLeft(y, z)
	default:
		t.setRight(y, z)
	}
	return t.insertFixup(root, z)
}

func (t *Tree[T]) insertFixup(root, z arena.Index) arena.Index {
	for t.parent(z) != arena.NIL && t.isRed(t.parent(z)) {
		gp := t.parent(t.parent(z))
		if t.parent(z) == t.left(gp) {
			y := t.right(gp)
			if t.isRed(y) {
				t.setColor(t.parent(z), false)
				t.setColor(y, false)
				t.setColor(gp, true)
				z = gp
			} else {
				if z == t.right(t.parent(z)) {
					z = t.parent(z)
					root = t.rotateLeft(root, z)
				}
				t.setColor(t.parent(z), false)
				t.setColor(t.parent(t.parent(z)), true)
				root = t.rotateRight(root, t.parent(t.parent(z)))
			}
		} else {
			y := t.left(gp)
			if t.isRed(y) {
				t.setColor(t.parent(z), false)
				t.setColor(y, false)
				t.setColor(gp, true)
				z = gp
			} else {
				if z == t.left(t.parent(z)) {
					z = t.parent(z)
					root = t.rotateRight(root, z)
				}
				t.setColor(t.parent(z), false)
				t.setColor(t.parent(t.parent(z)), true)
				root = t.rotateLeft(root, t.parent(t.parent(z)))
			}
		}
	}
	t.setColor(root, false)
	return root
}

func (t *Tree[T]) transplant(root, u, v arena.Index) arena.Index {
	switch {
	case t.parent(u) == arena.NIL:
		root = v
	case u == t.left(t.parent(u)):
		t.setLeft(t.parent(u), v)
	default:
		t.setRight(t.parent(u), v)
	}
	if v != arena.NIL {
		t.setParent(v, t.parent(u))
	}
	return root
}

// Remove deletes node z from the tree rooted at root and returns the new
// root. z's header fields are left in an unspecified state; callers must
// arena.Free it (or otherwise not touch it as a tree node again).
func (t *Tree[T]) Remove(root, z arena.Index) arena.Index {
	y := z
	yWasRed := t.isRed(y)
	var x, xParent arena.Index
	var xIsLeft bool

	switch {
	case t.left(z) == arena.NIL:
		x = t.right(z)
		xParent = t.parent(z)
		xIsLeft = t.parent(z) != arena.NIL && z == t.left(t.parent(z))
		root = t.transplant(root, z, x)
	case t.right(z) == arena.NIL:
		x = t.left(z)
		xParent = t.parent(z)
		xIsLeft = t.parent(z) != arena.NIL && z == t.left(t.parent(z))
		root = t.transplant(root, z, x)
	default:
		y = t.Min(t.right(z))
		yWasRed = t.isRed(y)
		x = t.right(y)
		if t.parent(y) == z {
			xParent = y
			xIsLeft = false
		} else {
			xParent = t.parent(y)
			xIsLeft = y == t.left(t.parent(y))
			root = t.transplant(root, y, t.right(y))
			t.setRight(y, t.right(z))
			t.setParent(t.right(y), y)
		}
		root = t.transplant(root, z, y)
		t.setLeft(y, t.left(z))
		t.setParent(t.left(y), y)
		t.setColor(y, t.isRed(z))
	}

	if !yWasRed {
		root = t.deleteFixup(root, x, xParent, xIsLeft)
	}
	return root
}

func (t *Tree[T]) deleteFixup(root, x, xParent arena.Index, xIsLeftInitial bool) arena.Index {
	first := true
	for x != root && !t.isRed(x) {
		var isLeft bool
		if first {
			isLeft = xIsLeftInitial
			first = false
		} else {
			isLeft = t.left(xParent) == x
		}

		if isLeft {
			w := t.right(xParent)
			if t.isRed(w) {
				t.setColor(w, false)
				t.setColor(xParent, true)
				root = t.rotateLeft(root, xParent)
				w = t.right(xParent)
			}
			if !t.isRed(t.left(w)) && !t.isRed(t.right(w)) {
				t.setColor(w, true)
				x = xParent
				xParent = t.parent(x)
			} else {
				if !t.isRed(t.right(w)) {
					t.setColor(t.left(w), false)
					t.setColor(w, true)
					root = t.rotateRight(root, w)
					w = t.right(xParent)
				}
				t.setColor(w, t.isRed(xParent))
				t.setColor(xParent, false)
				t.setColor(t.right(w), false)
				root = t.rotateLeft(root, xParent)
				x = root
				xParent = arena.NIL
			}
		} else {
			w := t.left(xParent)
			if t.isRed(w) {
				t.setColor(w, false)
				t.setColor(xParent, true)
				root = t.rotateRight(root, xParent)
				w = t.left(xParent)
			}
			if !t.isRed(t.right(w)) && !t.isRed(t.left(w)) {
				t.setColor(w, true)
				x = xParent
				xParent = t.parent(x)
			} else {
				if !t.isRed(t.left(w)) {
					t.setColor(t.right(w), false)
					t.setColor(w, true)
					root = t.rotateLeft(root, w)
					w = t.left(xParent)
				}
				t.setColor(w, t.isRed(xParent))
				t.setColor(xParent, false)
				t.setColor(t.left(w), false)
				root = t.rotateRight(root, xParent)
				x = root
				xParent = arena.NIL
			}
		}
	}
	if x != arena.NIL {
		t.setColor(x, false)
	}
	return root
}

// Min returns the minimum node of the subtree rooted at x, or NIL if x is
// NIL.
func (t *Tree[T]) Min(x arena.Index) arena.Index {
	if x == arena.NIL {
		return arena.NIL
	}
	for t.left(x) != arena.NIL {
		x = t.left(x)
	}
	return x
}

// Max returns the maximum node of the subtree rooted at x, or NIL if x is
// NIL.
func (t *Tree[T]) Max(x arena.Index) arena.Index {
	if x == arena.NIL {
		return arena.NIL
	}
	for t.right(x) != arena.NIL {
		x = t.right(x)
	}
	return x
}

// Successor returns the in-order successor of x, or NIL if x is the
// maximum.
func (t *Tree[T]) Successor(x arena.Index) arena.Index {
	if t.right(x) != arena.NIL {
		return t.Min(t.right(x))
	}
	y := t.parent(x)
	for y != arena.NIL && x == t.right(y) {
		x = y
		y = t.parent(y)
	}
	return y
}

// Predecessor returns the in-order predecessor of x, or NIL if x is the
// minimum.
func (t *Tree[T]) Predecessor(x arena.Index) arena.Index {
	if t.left(x) != arena.NIL {
		return t.Max(t.left(x))
	}
	y := t.parent(x)
	for y != arena.NIL && x == t.left(y) {
		x = y
		y = t.parent(y)
	}
	return y
}

// Find performs an exact-match search for key (compared via cmp against
// 0) starting at root, returning NIL if no node compares equal.
func (t *Tree[T]) Find(root arena.Index, key *T) arena.Index {
	x := root
	for x != arena.NIL {
		c := t.cmp(key, t.arena.Payload(x))
		switch {
		case c == 0:
			return x
		case c < 0:
			x = t.left(x)
		default:
			x = t.right(x)
		}
	}
	return arena.NIL
}

// BlackHeight walks from x to a NIL leaf counting black nodes, for
// invariant tests (equal black-height on all paths, §3.2).
func (t *Tree[T]) BlackHeight(x arena.Index) int {
	h := 0
	for x != arena.NIL {
		if !t.isRed(x) {
			h++
		}
		x = t.left(x)
	}
	return h
}

// Header exposes the raw node header, for callers that need to read
// left/right/color directly (e.g. best-cache maintenance, invariant walks).
func (t *Tree[T]) Header(x arena.Index) *arena.NodeHeader { return t.h(x) }
