package model

import (
	"sisort/pkg/common"
)

// Node is an internal node of a classification tree. A probe v goes Left when
// v < Value (= b[Split]) and Right otherwise. Child references >= 0 index
// Tree.Nodes; negative references are leaves, -(k+1) for interval k.
type Node struct {
	Split int32
	Value float64
	Left  int32
	Right int32
}

// Tree 每个位置一棵 Di 树: an alphabetic binary tree whose leaves, read left
// to right, are the intervals 0..M-1. Fields are exported for gob; a built
// tree is never modified.
type Tree struct {
	M     int
	Root  int32
	Nodes []Node
}

func leafRef(k int) int32 { return int32(-k - 1) }

func leafOf(ref int32) int { return int(-ref - 1) }

// Intervals returns m.
func (t *Tree) Intervals() int {
	return t.M
}

// Locate descends the tree and returns the interval of v.
func (t *Tree) Locate(v float64) int {
	ref := t.Root
	for ref >= 0 {
		n := &t.Nodes[ref]
		if v < n.Value {
			ref = n.Left
		} else {
			ref = n.Right
		}
	}
	return leafOf(ref)
}

// LocateCounted is Locate plus the number of boundary comparisons made.
func (t *Tree) LocateCounted(v float64) (k int, comparisons int) {
	ref := t.Root
	for ref >= 0 {
		n := &t.Nodes[ref]
		comparisons++
		if v < n.Value {
			ref = n.Left
		} else {
			ref = n.Right
		}
	}
	return leafOf(ref), comparisons
}

type depthFrame struct {
	ref   int32
	depth int
}

// Depths returns, per interval, the number of comparisons needed to reach it.
func (t *Tree) Depths() []int {
	depths := make([]int, t.M)
	stack := []depthFrame{{ref: t.Root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.ref < 0 {
			depths[leafOf(f.ref)] = f.depth
			continue
		}
		n := &t.Nodes[f.ref]
		stack = append(stack, depthFrame{n.Right, f.depth + 1}, depthFrame{n.Left, f.depth + 1})
	}
	return depths
}

// MaxDepth returns the height of the tree in comparisons.
func (t *Tree) MaxDepth() int {
	h := 0
	for _, d := range t.Depths() {
		h = max(h, d)
	}
	return h
}

// ExpectedDepth returns sum_k row[k] * depth(k) for a dense row of length M.
func (t *Tree) ExpectedDepth(row []float64) float64 {
	depths := t.Depths()
	e := 0.0
	for k, p := range row {
		e += p * float64(depths[k])
	}
	return e
}

// ExpectedDepthCells is ExpectedDepth over sparse cells.
func (t *Tree) ExpectedDepthCells(cells []Cell) float64 {
	depths := t.Depths()
	e := 0.0
	for _, c := range cells {
		e += c.P * float64(depths[c.Index])
	}
	return e
}

// InOrder returns the leaves in inorder sequence, using an explicit stack.
func (t *Tree) InOrder() []int {
	out := make([]int, 0, t.M)
	var stack []int32
	ref := t.Root
	for {
		for ref >= 0 {
			stack = append(stack, ref)
			ref = t.Nodes[ref].Left
		}
		out = append(out, leafOf(ref))
		if len(stack) == 0 {
			return out
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ref = t.Nodes[top].Right
	}
}

type checkFrame struct {
	ref    int32
	lo, hi int
}

// Validate checks that t is a well-formed tree over the intervals of b: every
// node is reached once, splits separate [lo, s) from [s, hi), node values
// match the boundaries, and the leaves are 0..M-1 in order.
func (t *Tree) Validate(b Boundaries) error {
	if t.M != b.Intervals() {
		return common.DataErrorf("tree has %d intervals, boundaries have %d", t.M, b.Intervals())
	}
	if t.M < 1 {
		return common.DataErrorf("tree has no intervals")
	}
	if len(t.Nodes) != t.M-1 {
		return common.DataErrorf("tree has %d internal nodes, want %d", len(t.Nodes), t.M-1)
	}
	seen := make([]bool, len(t.Nodes))
	stack := []checkFrame{{ref: t.Root, lo: 0, hi: t.M}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.ref < 0 {
			if f.hi-f.lo != 1 || leafOf(f.ref) != f.lo {
				return common.DataErrorf("leaf %d sits where intervals [%d, %d) belong", leafOf(f.ref), f.lo, f.hi)
			}
			continue
		}
		if int(f.ref) >= len(t.Nodes) || seen[f.ref] {
			return common.DataErrorf("node reference %d is invalid or shared", f.ref)
		}
		seen[f.ref] = true
		n := &t.Nodes[f.ref]
		s := int(n.Split)
		if s <= f.lo || s >= f.hi {
			return common.DataErrorf("node %d splits at %d outside (%d, %d)", f.ref, s, f.lo, f.hi)
		}
		if n.Value != b[s] {
			return common.DataErrorf("node %d carries %v, boundary %d is %v", f.ref, n.Value, s, b[s])
		}
		stack = append(stack, checkFrame{n.Right, s, f.hi}, checkFrame{n.Left, f.lo, s})
	}
	return nil
}
