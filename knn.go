package kde

import (
	"container/heap"
	"runtime"
)

// KNNBandwidths returns, for every point t was built from, the distance to
// its k-th nearest other point under t's metric. The result is indexed like
// the original points and can be passed as [Config.Bandwidths] for an
// adaptive estimate, optionally after scaling by a constant.
//
// Returns ErrConfiguration for k < 1 and ErrInvalidInput when the tree has
// no more than k points or a point has k duplicates, which would give it a
// zero bandwidth.
func KNNBandwidths(t *Tree, k int) ([]float64, error) {
	if t == nil {
		return nil, invalidInputf("tree is nil")
	}
	if k < 1 {
		return nil, configErrorf("k must be >= 1, got %d", k)
	}
	if k >= t.n {
		return nil, invalidInputf("k = %d needs more than %d points", k, t.n)
	}

	leafOf := make([]int, t.n)
	for id, nd := range t.nodes {
		if nd.IsLeaf() {
			for pos := nd.Start; pos < nd.End; pos++ {
				leafOf[pos] = id
			}
		}
	}

	out := make([]float64, t.n)
	parallelRows(t.n, runtime.NumCPU(), func(start, end int) {
		h := make(neighborHeap, 0, k)
		for pos := start; pos < end; pos++ {
			h = h[:0]
			t.knnSearch(t.Root(), pos, leafOf[pos], k, &h)
			out[t.idxArray[pos]] = h[0].dist
		}
	})

	for i, d := range out {
		if d <= 0 {
			return nil, invalidInputf("point %d has %d or more duplicates", i, k)
		}
	}
	return out, nil
}

// knnSearch collects the k nearest other points of tree position pos into h.
// Node distances are bounded from pos's leaf, which contains the point.
func (t *Tree) knnSearch(id, pos, leaf, k int, h *neighborHeap) {
	nd := t.nodes[id]
	if nd.IsLeaf() {
		q := t.Point(pos)
		for j := nd.Start; j < nd.End; j++ {
			if j == pos {
				continue
			}
			d := t.metric.Distance(q, t.Point(j))
			if h.Len() < k {
				heap.Push(h, neighbor{pos: j, dist: d})
			} else if d < (*h)[0].dist {
				(*h)[0] = neighbor{pos: j, dist: d}
				heap.Fix(h, 0)
			}
		}
		return
	}

	near, far := nd.Left, nd.Right
	nearLo, farLo := t.MinDistance(leaf, near), t.MinDistance(leaf, far)
	if farLo < nearLo {
		near, far = far, near
		nearLo, farLo = farLo, nearLo
	}
	if h.Len() < k || nearLo < (*h)[0].dist {
		t.knnSearch(near, pos, leaf, k, h)
	}
	if h.Len() < k || farLo < (*h)[0].dist {
		t.knnSearch(far, pos, leaf, k, h)
	}
}

type neighbor struct {
	pos  int
	dist float64
}

// neighborHeap is a max-heap on distance holding the best k so far.
type neighborHeap []neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)        { *h = append(*h, x.(neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
