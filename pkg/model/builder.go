package model

import (
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"sisort/pkg/common"
	"sisort/pkg/logger"
)

// BuilderKind selects how classification trees are constructed.
type BuilderKind int

const (
	// Optimal minimizes the expected comparison count exactly.
	Optimal BuilderKind = iota
	// Bisection is the near-optimal substitution: within H + 2.5 comparisons
	// of the row entropy H, in O(S log S) instead of O(S^2).
	Bisection
	// Auto uses Optimal up to the exact limit and Bisection above it.
	Auto
)

// DefaultExactLimit bounds the collapsed leaf count handed to the exact DP
// under Auto; the tables need 12 bytes per (range start, range end) pair.
const DefaultExactLimit = 1024

// bisectionFloor is the uniform mass mixed into rows before bisection.
const bisectionFloor = 0.25

func (k BuilderKind) String() string {
	switch k {
	case Optimal:
		return "optimal"
	case Bisection:
		return "bisection"
	case Auto:
		return "auto"
	}
	return "unknown"
}

func ParseBuilderKind(s string) (BuilderKind, error) {
	switch strings.ToLower(s) {
	case "optimal", "":
		return Optimal, nil
	case "bisection", "approximate":
		return Bisection, nil
	case "auto":
		return Auto, nil
	}
	return Optimal, common.DataErrorf("unknown tree builder %q", s)
}

// Builder turns probability rows into classification trees over a fixed
// boundary sequence. It is safe for concurrent use.
type Builder struct {
	kind          BuilderKind
	exactLimit    int
	bounds        Boundaries
	substitutions atomic.Int64
}

func NewBuilder(b Boundaries, kind BuilderKind, exactLimit int) *Builder {
	if exactLimit <= 0 {
		exactLimit = DefaultExactLimit
	}
	return &Builder{kind: kind, exactLimit: exactLimit, bounds: b}
}

func (bd *Builder) Kind() BuilderKind { return bd.kind }

// Substitutions counts the trees Auto built with Bisection.
func (bd *Builder) Substitutions() int64 {
	return bd.substitutions.Load()
}

// Build builds a tree from a dense row of length m.
func (bd *Builder) Build(row []float64) (*Tree, error) {
	m := bd.bounds.Intervals()
	if len(row) != m {
		return nil, common.DataErrorf("probability row has %d entries, want %d", len(row), m)
	}
	cells := make([]Cell, 0, 16)
	for k, p := range row {
		if p != 0 {
			cells = append(cells, Cell{Index: k, P: p})
		}
	}
	return bd.BuildCells(cells)
}

// BuildCells builds a tree from the nonzero cells of a row, ordered by index.
// An empty row yields a balanced tree.
func (bd *Builder) BuildCells(cells []Cell) (*Tree, error) {
	m := bd.bounds.Intervals()
	if m < 1 {
		return nil, common.DataErrorf("no intervals to build a tree over")
	}
	segs, err := collapse(m, cells)
	if err != nil {
		return nil, err
	}

	w := &treeWriter{
		bounds: bd.bounds,
		tree:   &Tree{M: m, Nodes: make([]Node, 0, m-1)},
	}
	kind := bd.kind
	if kind == Auto {
		kind = Optimal
		if len(segs) > bd.exactLimit {
			kind = Bisection
			bd.substitutions.Add(1)
			logger.Debug("tree builder substituted bisection",
				zap.Int("leaves", len(segs)), zap.Int("exact_limit", bd.exactLimit))
		}
	}
	switch {
	case len(segs) == 1:
		w.span(segs[0].lo, segs[0].hi, rootSlot)
	case kind == Bisection:
		buildBisection(w, segs)
	default:
		buildOptimal(w, segs)
	}
	return w.tree, nil
}

// segment is a run of intervals [lo, hi) that the tree treats as one leaf:
// either a single interval with positive weight or a maximal zero run.
type segment struct {
	lo, hi int
	w      float64
}

// collapse turns cells into segments covering [0, m). Zero runs become one
// segment each; expanding a zero run into a balanced subtree later costs
// nothing, so optimizing over segments is exact.
func collapse(m int, cells []Cell) ([]segment, error) {
	segs := make([]segment, 0, 2*len(cells)+1)
	next := 0
	for _, c := range cells {
		if c.Index < next || c.Index >= m {
			return nil, common.DataErrorf("cell index %d out of order or outside [0, %d)", c.Index, m)
		}
		if math.IsNaN(c.P) || math.IsInf(c.P, 0) || c.P < 0 {
			return nil, common.DataErrorf("cell %d has invalid weight %v", c.Index, c.P)
		}
		if c.P == 0 {
			continue
		}
		if c.Index > next {
			segs = append(segs, segment{lo: next, hi: c.Index})
		}
		segs = append(segs, segment{lo: c.Index, hi: c.Index + 1, w: c.P})
		next = c.Index + 1
	}
	if next < m {
		segs = append(segs, segment{lo: next, hi: m})
	}
	return segs, nil
}

// slot names where a built subtree hangs: a parent node and a side, or the root.
type slot struct {
	parent int32
	right  bool
}

var rootSlot = slot{parent: -1}

type treeWriter struct {
	bounds Boundaries
	tree   *Tree
}

func (w *treeWriter) attach(at slot, ref int32) {
	switch {
	case at.parent < 0:
		w.tree.Root = ref
	case at.right:
		w.tree.Nodes[at.parent].Right = ref
	default:
		w.tree.Nodes[at.parent].Left = ref
	}
}

// node appends an internal node splitting at boundary s and returns the
// slots of its children.
func (w *treeWriter) node(s int, at slot) (left, right slot) {
	idx := int32(len(w.tree.Nodes))
	w.tree.Nodes = append(w.tree.Nodes, Node{Split: int32(s), Value: w.bounds[s]})
	w.attach(at, idx)
	return slot{parent: idx}, slot{parent: idx, right: true}
}

type spanFrame struct {
	lo, hi int
	at     slot
}

// span hangs a balanced subtree over intervals [lo, hi).
func (w *treeWriter) span(lo, hi int, at slot) {
	stack := []spanFrame{{lo, hi, at}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.hi-f.lo == 1 {
			w.attach(f.at, leafRef(f.lo))
			continue
		}
		mid := f.lo + (f.hi-f.lo)/2
		l, r := w.node(mid, f.at)
		stack = append(stack, spanFrame{mid, f.hi, r}, spanFrame{f.lo, mid, l})
	}
}

type rangeFrame struct {
	i, j int
	at   slot
}

// buildOptimal solves
//
//	cost(i, j) = min_{i<s<j} cost(i, s) + cost(s, j) + W(i, j),  cost(i, i+1) = 0
//
// over segment ranges by increasing length. The leftmost optimal split is
// monotone in both ends (Knuth, Yao), which bounds each search to
// [K(i, j-1), K(i+1, j)].
func buildOptimal(w *treeWriter, segs []segment) {
	S := len(segs)
	stride := S + 1
	prefix := make([]float64, stride)
	for k, s := range segs {
		prefix[k+1] = prefix[k] + s.w
	}
	cost := make([]float64, stride*stride)
	split := make([]int32, stride*stride)

	for length := 2; length <= S; length++ {
		for i := 0; i+length <= S; i++ {
			j := i + length
			lo, hi := i+1, j-1
			if length > 2 {
				lo = max(lo, int(split[i*stride+j-1]))
				hi = min(hi, int(split[(i+1)*stride+j]))
				if lo > hi {
					lo, hi = i+1, j-1
				}
			}
			best, bestS := math.Inf(1), lo
			for s := lo; s <= hi; s++ {
				if c := cost[i*stride+s] + cost[s*stride+j]; c < best {
					best, bestS = c, s
				}
			}
			cost[i*stride+j] = best + prefix[j] - prefix[i]
			split[i*stride+j] = int32(bestS)
		}
	}

	// Reconstruct, choosing among equal-cost splits the one nearest the
	// middle of the range's intervals.
	stack := []rangeFrame{{0, S, rootSlot}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.j-f.i == 1 {
			w.span(segs[f.i].lo, segs[f.i].hi, f.at)
			continue
		}
		total := cost[f.i*stride+f.j]
		target := total - (prefix[f.j] - prefix[f.i])
		tol := 1e-12 * (1 + math.Abs(total))
		mid := float64(segs[f.i].lo+segs[f.j-1].hi) / 2
		chosen := -1
		for s := f.i + 1; s < f.j; s++ {
			if cost[f.i*stride+s]+cost[s*stride+f.j] > target+tol {
				continue
			}
			if chosen < 0 || math.Abs(float64(segs[s].lo)-mid) < math.Abs(float64(segs[chosen].lo)-mid) {
				chosen = s
			}
		}
		if chosen < 0 {
			chosen = int(split[f.i*stride+f.j])
		}
		l, r := w.node(segs[chosen].lo, f.at)
		stack = append(stack, rangeFrame{chosen, f.j, r}, rangeFrame{f.i, chosen, l})
	}
}

type bisectFrame struct {
	i, j int
	a, b float64
	at   slot
}

// buildBisection places every segment at the center of its share of the
// cumulative distribution and halves the dyadic range [a, b) until each
// segment is alone. A split is only emitted when a halving separates
// segments. With p' = (1-α)p + α/S a leaf ends at depth at most
// ceil(log2(1/p'))+1, hence cost <= H + 2 + log2(1/(1-α)).
func buildBisection(w *treeWriter, segs []segment) {
	S := len(segs)
	total := 0.0
	for _, s := range segs {
		total += s.w
	}
	centers := make([]float64, S)
	acc := 0.0
	for k, s := range segs {
		p := 1 / float64(S)
		if total > 0 {
			p = (1-bisectionFloor)*s.w/total + bisectionFloor/float64(S)
		}
		centers[k] = acc + p/2
		acc += p
	}

	stack := []bisectFrame{{0, S, 0, 1, rootSlot}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for {
			if f.j-f.i == 1 {
				w.span(segs[f.i].lo, segs[f.i].hi, f.at)
				break
			}
			mid := f.a + (f.b-f.a)/2
			s := f.i + sort.SearchFloat64s(centers[f.i:f.j], mid)
			if mid <= f.a || mid >= f.b {
				// range exhausted float precision
				s = f.i + (f.j-f.i)/2
			} else if s == f.i {
				f.a = mid
				continue
			} else if s == f.j {
				f.b = mid
				continue
			}
			l, r := w.node(segs[s].lo, f.at)
			stack = append(stack,
				bisectFrame{s, f.j, mid, f.b, r},
				bisectFrame{f.i, s, f.a, mid, l})
			break
		}
	}
}

// Entropy returns the Shannon entropy of a row in bits.
func Entropy(row []float64) float64 {
	h := 0.0
	for _, p := range row {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}

// EntropyCells is Entropy over sparse cells.
func EntropyCells(cells []Cell) float64 {
	h := 0.0
	for _, c := range cells {
		if c.P > 0 {
			h -= c.P * math.Log2(c.P)
		}
	}
	return h
}
