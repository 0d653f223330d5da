package kde

import (
	"math"
	"sort"
)

// TreeKind selects the bounding region and split rule of a Tree.
type TreeKind string

const (
	// KDTree nodes own axis-aligned boxes and split at the median of the
	// widest dimension.
	KDTree TreeKind = "kdtree"
	// BallTree nodes own enclosing balls and split between two far-apart
	// pivots.
	BallTree TreeKind = "balltree"
)

// GeometryOnly reports whether the kind's partition depends only on point
// coordinates. Trees of such kinds can be reused across bandwidths.
func (k TreeKind) GeometryOnly() bool {
	switch k {
	case KDTree, BallTree:
		return true
	default:
		return false
	}
}

// DefaultLeafSize is the leaf size used when TreeConfig.LeafSize is zero.
const DefaultLeafSize = 20

// boundSlack widens every distance bound by a relative margin so bounds
// stay valid when point distances are computed with rounding error.
const boundSlack = 1e-10

// TreeConfig controls tree construction.
type TreeConfig struct {
	// Kind is KDTree or BallTree. Default: KDTree.
	Kind TreeKind

	// LeafSize is the largest point count a node may hold without being
	// split. Must be >= 1. Default: 20.
	LeafSize int

	// Metric is the distance used for regions and kernel evaluation.
	// KD-trees accept the Lp family; ball trees accept any true metric.
	// Default: EuclideanMetric.
	Metric DistanceMetric
}

// DefaultTreeConfig returns a TreeConfig with reasonable defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{Kind: KDTree, LeafSize: DefaultLeafSize, Metric: EuclideanMetric{}}
}

func (c *TreeConfig) applyDefaults() {
	if c.Kind == "" {
		c.Kind = KDTree
	}
	if c.LeafSize == 0 {
		c.LeafSize = DefaultLeafSize
	}
	if c.Metric == nil {
		c.Metric = EuclideanMetric{}
	}
}

func (c *TreeConfig) validate() error {
	if c.LeafSize < 1 {
		return configErrorf("LeafSize must be >= 1, got %d", c.LeafSize)
	}
	switch c.Kind {
	case KDTree:
		if !KDTreeValidMetric(c.Metric) {
			return configErrorf("metric %T is not supported by KD-trees", c.Metric)
		}
	case BallTree:
		if !BallTreeValidMetric(c.Metric) {
			return configErrorf("metric %T is not supported by ball trees", c.Metric)
		}
	default:
		return configErrorf("unknown tree kind %q", c.Kind)
	}
	return nil
}

// Node is one entry of a tree's node arena. Its points are
// IdxArray()[Start:End]; children are referenced by handle.
type Node struct {
	Start, End  int
	Left, Right int     // child handles, -1 for leaves
	Radius      float64 // enclosing ball radius; 0 for KD-tree nodes
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool { return n.Left < 0 }

// Count returns the number of points under the node.
func (n Node) Count() int { return n.End - n.Start }

// Tree is a binary space-partitioning tree over an immutable point set.
// Points are stored once in a flat row-major array and reordered through an
// index permutation; nodes live in an arena and reference their points by a
// contiguous range of that permutation.
type Tree struct {
	data     []float64 // flat row-major point data (n * dims), original order
	n        int
	dims     int
	leafSize int
	kind     TreeKind
	metric   DistanceMetric
	idxArray []int // permutation: tree-order position → original index
	nodes    []Node

	// KD-tree regions: boundsMin[node*dims + j], boundsMax[node*dims + j].
	boundsMin []float64
	boundsMax []float64

	// Ball-tree regions: centroids[node*dims .. (node+1)*dims).
	centroids []float64
}

// BuildTree builds a Euclidean KD-tree over points.
func BuildTree(points [][]float64, leafSize int) (*Tree, error) {
	cfg := DefaultTreeConfig()
	cfg.LeafSize = leafSize
	if leafSize == 0 {
		return nil, configErrorf("LeafSize must be >= 1, got 0")
	}
	return NewTree(points, cfg)
}

// NewTree builds a tree over points according to cfg. Points must be
// non-empty, rectangular and finite.
func NewTree(points [][]float64, cfg TreeConfig) (*Tree, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	data, n, dims, err := flattenPoints(points)
	if err != nil {
		return nil, err
	}
	return newTree(data, n, dims, cfg), nil
}

// newTree builds a tree over already-validated flat data. cfg must have
// defaults applied.
func newTree(data []float64, n, dims int, cfg TreeConfig) *Tree {
	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	// A median split tree with n points has fewer than 2*ceil(n/leafSize)
	// nodes.
	capNodes := 2*((n+cfg.LeafSize-1)/cfg.LeafSize) + 1

	t := &Tree{
		data:     data,
		n:        n,
		dims:     dims,
		leafSize: cfg.LeafSize,
		kind:     cfg.Kind,
		metric:   cfg.Metric,
		idxArray: idxArray,
		nodes:    make([]Node, 0, capNodes),
	}
	switch t.kind {
	case KDTree:
		t.boundsMin = make([]float64, 0, capNodes*dims)
		t.boundsMax = make([]float64, 0, capNodes*dims)
	case BallTree:
		t.centroids = make([]float64, 0, capNodes*dims)
	}

	t.buildNode(0, n)
	return t
}

// flattenPoints copies points into a row-major array, rejecting empty,
// ragged or non-finite input.
func flattenPoints(points [][]float64) ([]float64, int, int, error) {
	n := len(points)
	if n == 0 {
		return nil, 0, 0, invalidInputf("point set is empty")
	}
	dims := len(points[0])
	if dims == 0 {
		return nil, 0, 0, invalidInputf("points have zero dimensions")
	}
	flat := make([]float64, n*dims)
	for i, row := range points {
		if len(row) != dims {
			return nil, 0, 0, invalidInputf("point %d has %d dimensions, want %d", i, len(row), dims)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, 0, 0, invalidInputf("point %d has non-finite coordinate %v at dimension %d", i, v, j)
			}
		}
		copy(flat[i*dims:], row)
	}
	return flat, n, dims, nil
}

// buildNode appends the node for idxArray[start:end] and its subtree,
// returning its handle. Regions are filled in after the children exist.
func (t *Tree) buildNode(start, end int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, Node{Start: start, End: end, Left: -1, Right: -1})
	switch t.kind {
	case KDTree:
		t.boundsMin = append(t.boundsMin, make([]float64, t.dims)...)
		t.boundsMax = append(t.boundsMax, make([]float64, t.dims)...)
	case BallTree:
		t.centroids = append(t.centroids, make([]float64, t.dims)...)
	}

	if end-start <= t.leafSize {
		t.leafRegion(id)
		return id
	}

	switch t.kind {
	case KDTree:
		t.sortByDimension(start, end, t.spreadDimension(start, end))
	case BallTree:
		t.sortByPivots(start, end)
	}
	mid := start + (end-start)/2

	left := t.buildNode(start, mid)
	right := t.buildNode(mid, end)
	t.nodes[id].Left = left
	t.nodes[id].Right = right
	t.mergeRegion(id)
	return id
}

func (t *Tree) leafRegion(id int) {
	switch t.kind {
	case KDTree:
		t.computeNodeBounds(id)
	case BallTree:
		t.computeLeafBall(id)
	}
}

func (t *Tree) mergeRegion(id int) {
	switch t.kind {
	case KDTree:
		t.mergeNodeBounds(id)
	case BallTree:
		t.mergeBalls(id)
	}
}

// sortKeyed orders idxArray[start:end] by key, breaking ties by original
// index so duplicate points always split the same way.
func (t *Tree) sortKeyed(start, end int, key func(ptIdx int) float64) {
	ks := keyedIndices{idx: t.idxArray[start:end], keys: make([]float64, end-start)}
	for i, p := range ks.idx {
		ks.keys[i] = key(p)
	}
	sort.Sort(ks)
}

// keyedIndices sorts point indices by a precomputed key.
type keyedIndices struct {
	idx  []int
	keys []float64
}

func (k keyedIndices) Len() int { return len(k.idx) }
func (k keyedIndices) Less(i, j int) bool {
	if k.keys[i] != k.keys[j] {
		return k.keys[i] < k.keys[j]
	}
	return k.idx[i] < k.idx[j]
}
func (k keyedIndices) Swap(i, j int) {
	k.idx[i], k.idx[j] = k.idx[j], k.idx[i]
	k.keys[i], k.keys[j] = k.keys[j], k.keys[i]
}

// point returns the coordinates of the point with original index ptIdx.
func (t *Tree) point(ptIdx int) []float64 {
	return t.data[ptIdx*t.dims : (ptIdx+1)*t.dims]
}

// --- accessors ---

// Root returns the handle of the root node.
func (t *Tree) Root() int { return 0 }

// Node returns the node with handle h.
func (t *Tree) Node(h int) Node { return t.nodes[h] }

// IsLeaf reports whether node h is a leaf.
func (t *Tree) IsLeaf(h int) bool { return t.nodes[h].IsLeaf() }

// Count returns the number of points under node h.
func (t *Tree) Count(h int) int { return t.nodes[h].Count() }

// Children returns the child handles of node h, or (-1, -1) for a leaf.
func (t *Tree) Children(h int) (left, right int) { return t.nodes[h].Left, t.nodes[h].Right }

// PointRange returns the range of IdxArray positions owned by node h.
func (t *Tree) PointRange(h int) (start, end int) { return t.nodes[h].Start, t.nodes[h].End }

// Nodes returns a copy of the node arena.
func (t *Tree) Nodes() []Node { return append([]Node(nil), t.nodes...) }

// NumNodes returns the number of nodes in the tree.
func (t *Tree) NumNodes() int { return len(t.nodes) }

// NumPoints returns the number of points in the tree.
func (t *Tree) NumPoints() int { return t.n }

// NumFeatures returns the dimensionality of the points.
func (t *Tree) NumFeatures() int { return t.dims }

// LeafSize returns the maximum number of points in a leaf.
func (t *Tree) LeafSize() int { return t.leafSize }

// Kind returns the partitioning scheme.
func (t *Tree) Kind() TreeKind { return t.kind }

// Metric returns the distance metric the tree was built with.
func (t *Tree) Metric() DistanceMetric { return t.metric }

// Data returns the flat row-major point data in original order. It must not
// be modified.
func (t *Tree) Data() []float64 { return t.data }

// IdxArray returns the permutation mapping tree-order positions back to
// original point indices. It must not be modified.
func (t *Tree) IdxArray() []int { return t.idxArray }

// Point returns the coordinates of the point at tree-order position pos.
func (t *Tree) Point(pos int) []float64 { return t.point(t.idxArray[pos]) }

// Config returns the configuration the tree was built with.
func (t *Tree) Config() TreeConfig {
	return TreeConfig{Kind: t.kind, LeafSize: t.leafSize, Metric: t.metric}
}

// --- distance bounds ---

// MinDistance returns a lower bound on the distance between any point of
// node a and any point of node b.
func (t *Tree) MinDistance(a, b int) float64 {
	lo, _ := t.nodeBounds(t, a, b)
	return lo
}

// MaxDistance returns an upper bound on the distance between any point of
// node a and any point of node b.
func (t *Tree) MaxDistance(a, b int) float64 {
	_, hi := t.nodeBounds(t, a, b)
	return hi
}

// DistanceBounds returns lower and upper bounds on the distance between any
// point of node a in t and any point of node b in other. Both trees must
// share kind, metric and dimensionality.
func (t *Tree) DistanceBounds(other *Tree, a, b int) (lo, hi float64, err error) {
	if err := t.compatible(other); err != nil {
		return 0, 0, err
	}
	lo, hi = t.nodeBounds(other, a, b)
	return lo, hi, nil
}

func (t *Tree) compatible(other *Tree) error {
	if t.dims != other.dims {
		return invalidInputf("trees have %d and %d dimensions", t.dims, other.dims)
	}
	if t.kind != other.kind {
		return configErrorf("trees have kinds %q and %q", t.kind, other.kind)
	}
	if !sameMetric(t.metric, other.metric) {
		return configErrorf("trees use metrics %T and %T", t.metric, other.metric)
	}
	return nil
}

// nodeBounds returns the slack-widened distance bounds between node a of t
// and node b of other.
func (t *Tree) nodeBounds(other *Tree, a, b int) (lo, hi float64) {
	switch t.kind {
	case KDTree:
		lo, hi = t.boxBounds(other, a, b)
	default:
		lo, hi = t.ballBounds(other, a, b)
	}
	return lo * (1 - boundSlack), hi * (1 + boundSlack)
}

// sameMetric reports whether two metrics measure the same distance. Custom
// functions cannot be compared and are trusted to match.
func sameMetric(a, b DistanceMetric) bool {
	switch ma := a.(type) {
	case MinkowskiMetric:
		mb, ok := b.(MinkowskiMetric)
		return ok && ma.P == mb.P
	case DistanceFunc:
		_, ok := b.(DistanceFunc)
		return ok
	default:
		return MetricName(a) == MetricName(b)
	}
}
