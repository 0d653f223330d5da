package kde

import "math"

// KD-tree regions are axis-aligned boxes. A leaf's box is the bounding box
// of its points; an internal node's box is the union of its children's boxes,
// which for median splits is again the bounding box of its points.

// KDTreeValidMetric reports whether the metric supports KD-tree bounds.
// KD-trees require metrics that decompose along coordinate axes:
// Euclidean, Manhattan, Chebyshev, Minkowski with P >= 1.
func KDTreeValidMetric(m DistanceMetric) bool {
	_, ok := metricP(m)
	return ok
}

// spreadDimension returns the dimension with the greatest spread among the
// points in idxArray[start:end]. Ties go to the lowest dimension.
func (t *Tree) spreadDimension(start, end int) int {
	bestDim := 0
	bestSpread := -1.0
	for d := 0; d < t.dims; d++ {
		minVal := math.Inf(1)
		maxVal := math.Inf(-1)
		for i := start; i < end; i++ {
			v := t.data[t.idxArray[i]*t.dims+d]
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
		if spread := maxVal - minVal; spread > bestSpread {
			bestSpread = spread
			bestDim = d
		}
	}
	return bestDim
}

// sortByDimension sorts idxArray[start:end] by the given dimension.
func (t *Tree) sortByDimension(start, end, dim int) {
	t.sortKeyed(start, end, func(p int) float64 { return t.data[p*t.dims+dim] })
}

// computeNodeBounds computes min/max per dimension for the points of a leaf.
func (t *Tree) computeNodeBounds(nodeID int) {
	nd := t.nodes[nodeID]
	base := nodeID * t.dims
	for d := 0; d < t.dims; d++ {
		t.boundsMin[base+d] = math.Inf(1)
		t.boundsMax[base+d] = math.Inf(-1)
	}
	for i := nd.Start; i < nd.End; i++ {
		ptIdx := t.idxArray[i]
		for d := 0; d < t.dims; d++ {
			v := t.data[ptIdx*t.dims+d]
			if v < t.boundsMin[base+d] {
				t.boundsMin[base+d] = v
			}
			if v > t.boundsMax[base+d] {
				t.boundsMax[base+d] = v
			}
		}
	}
}

// mergeNodeBounds sets an internal node's box to the union of its
// children's boxes.
func (t *Tree) mergeNodeBounds(nodeID int) {
	nd := t.nodes[nodeID]
	base := nodeID * t.dims
	lb := nd.Left * t.dims
	rb := nd.Right * t.dims
	for d := 0; d < t.dims; d++ {
		t.boundsMin[base+d] = math.Min(t.boundsMin[lb+d], t.boundsMin[rb+d])
		t.boundsMax[base+d] = math.Max(t.boundsMax[lb+d], t.boundsMax[rb+d])
	}
}

// boxBounds returns the exact minimum and maximum Lp distance between the
// box of node a in t and the box of node b in other.
func (t *Tree) boxBounds(other *Tree, a, b int) (lo, hi float64) {
	p, _ := metricP(t.metric)
	near := lpCombine{p: p}
	far := lpCombine{p: p}

	dims := t.dims
	baseA := a * dims
	baseB := b * dims
	for j := 0; j < dims; j++ {
		minA, maxA := t.boundsMin[baseA+j], t.boundsMax[baseA+j]
		minB, maxB := other.boundsMin[baseB+j], other.boundsMax[baseB+j]

		// Gap between the boxes along dimension j: max(d1, d2, 0).
		gap := math.Max(minA-maxB, math.Max(minB-maxA, 0))
		// Largest separation along dimension j.
		span := math.Max(maxA-minB, maxB-minA)

		near.add(gap)
		far.add(span)
	}
	return near.result(), far.result()
}

// Box returns copies of the lower and upper corners of KD-tree node h.
// It returns nil slices for ball trees.
func (t *Tree) Box(h int) (lower, upper []float64) {
	if t.kind != KDTree {
		return nil, nil
	}
	base := h * t.dims
	lower = append([]float64(nil), t.boundsMin[base:base+t.dims]...)
	upper = append([]float64(nil), t.boundsMax[base:base+t.dims]...)
	return lower, upper
}
