package kde

import "math"

// Ball-tree regions are balls around the node centroid. A leaf's radius is
// the largest centroid-to-point distance; an internal node's ball is grown
// to enclose both child balls, so regions nest the same way as point sets.

// BallTreeValidMetric reports whether the metric supports ball-tree bounds.
// Ball trees work with any metric that satisfies the triangle inequality,
// including user-supplied DistanceFunc values.
func BallTreeValidMetric(m DistanceMetric) bool {
	if _, ok := metricP(m); ok {
		return true
	}
	_, ok := m.(DistanceFunc)
	return ok
}

// computeCentroid computes the mean of the points of node nodeID and stores
// it in the centroids array.
func (t *Tree) computeCentroid(nodeID int) {
	nd := t.nodes[nodeID]
	base := nodeID * t.dims
	count := float64(nd.Count())
	for d := 0; d < t.dims; d++ {
		t.centroids[base+d] = 0
	}
	for i := nd.Start; i < nd.End; i++ {
		ptIdx := t.idxArray[i]
		for d := 0; d < t.dims; d++ {
			t.centroids[base+d] += t.data[ptIdx*t.dims+d]
		}
	}
	for d := 0; d < t.dims; d++ {
		t.centroids[base+d] /= count
	}
}

func (t *Tree) centroid(nodeID int) []float64 {
	return t.centroids[nodeID*t.dims : (nodeID+1)*t.dims]
}

// computeLeafBall sets a leaf's centroid and the radius reaching its
// farthest point.
func (t *Tree) computeLeafBall(nodeID int) {
	t.computeCentroid(nodeID)
	c := t.centroid(nodeID)
	nd := t.nodes[nodeID]
	var radius float64
	for i := nd.Start; i < nd.End; i++ {
		if d := t.metric.Distance(c, t.point(t.idxArray[i])); d > radius {
			radius = d
		}
	}
	t.nodes[nodeID].Radius = radius
}

// mergeBalls sets an internal node's centroid to the count-weighted mean of
// its children's centroids and its radius to the smallest value enclosing
// both child balls.
func (t *Tree) mergeBalls(nodeID int) {
	nd := t.nodes[nodeID]
	left, right := t.nodes[nd.Left], t.nodes[nd.Right]
	wl := float64(left.Count()) / float64(nd.Count())
	wr := float64(right.Count()) / float64(nd.Count())

	c := t.centroid(nodeID)
	cl := t.centroid(nd.Left)
	cr := t.centroid(nd.Right)
	for d := range c {
		c[d] = wl*cl[d] + wr*cr[d]
	}
	t.nodes[nodeID].Radius = math.Max(
		t.metric.Distance(c, cl)+left.Radius,
		t.metric.Distance(c, cr)+right.Radius,
	)
}

// sortByPivots orders idxArray[start:end] for a two-pivot split: pivot a is
// the point farthest from the centroid of the range, pivot b the point
// farthest from a, and points are sorted by d(x, a) - d(x, b). Ties in the
// pivot search go to the earliest position.
func (t *Tree) sortByPivots(start, end int) {
	centroid := make([]float64, t.dims)
	for i := start; i < end; i++ {
		p := t.point(t.idxArray[i])
		for d := range centroid {
			centroid[d] += p[d]
		}
	}
	for d := range centroid {
		centroid[d] /= float64(end - start)
	}

	a := t.farthestFrom(start, end, centroid)
	b := t.farthestFrom(start, end, a)

	t.sortKeyed(start, end, func(p int) float64 {
		x := t.point(p)
		return t.metric.Distance(x, a) - t.metric.Distance(x, b)
	})
}

// farthestFrom returns the coordinates of the point in idxArray[start:end]
// farthest from target.
func (t *Tree) farthestFrom(start, end int, target []float64) []float64 {
	best := t.idxArray[start]
	bestDist := -1.0
	for i := start; i < end; i++ {
		p := t.idxArray[i]
		if d := t.metric.Distance(t.point(p), target); d > bestDist {
			bestDist = d
			best = p
		}
	}
	return t.point(best)
}

// ballBounds returns the triangle-inequality bounds between the ball of node
// a in t and the ball of node b in other:
// max(0, d(c_a, c_b) - r_a - r_b) and d(c_a, c_b) + r_a + r_b.
func (t *Tree) ballBounds(other *Tree, a, b int) (lo, hi float64) {
	dc := t.metric.Distance(t.centroid(a), other.centroid(b))
	ra := t.nodes[a].Radius
	rb := other.nodes[b].Radius
	lo = dc - ra - rb
	if lo < 0 {
		lo = 0
	}
	return lo, dc + ra + rb
}

// Ball returns a copy of the centroid and the radius of ball-tree node h.
// It returns a nil centroid for KD-trees.
func (t *Tree) Ball(h int) (centroid []float64, radius float64) {
	if t.kind != BallTree {
		return nil, 0
	}
	return append([]float64(nil), t.centroid(h)...), t.nodes[h].Radius
}
