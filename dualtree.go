package kde

import (
	"fmt"
	"math"
)

// queryTaskDepth is the depth at which the query tree is cut into
// independent traversal tasks. It is fixed so that the set of tasks, and
// therefore every pruning decision, is the same for any worker count.
const queryTaskDepth = 4

// Stats counts the work done by one density evaluation.
type Stats struct {
	PairsVisited      int   // node pairs examined
	PrunedPairs       int   // node pairs approximated without visiting points
	BaseCases         int   // leaf pairs evaluated exactly
	KernelEvaluations int64 // point-to-point kernel evaluations
	Tasks             int   // independent query subtrees traversed
}

func (s *Stats) add(o Stats) {
	s.PairsVisited += o.PairsVisited
	s.PrunedPairs += o.PrunedPairs
	s.BaseCases += o.BaseCases
	s.KernelEvaluations += o.KernelEvaluations
}

// dualTreeTask is the traversal of one query subtree against the whole
// reference tree.
type dualTreeTask struct {
	root int

	// kFloor is a kernel lower bound valid for every (query, reference) pair
	// of this task. Unresolved reference mass is credited at kFloor, so the
	// running lower bound of a query node is nRef*kFloor + statLo[node].
	kFloor float64

	stats Stats
}

// dualTree holds the accumulators of one dual-tree evaluation.
//
// Contributions resolved for a whole query node are postponed on the node
// and pushed to its children when the node is split. Per query node:
//   - postLo/postHi/postEst/postCount: postponed lower, upper, estimate and
//     reference count;
//   - statLo: min over the node's queries of (lo - count*kFloor), including
//     the node's own and its descendants' postponed values but not those of
//     its ancestors. Stale values only err low, which keeps them valid.
//
// Per query position (tree order): lo, hi, est and count are the resolved
// lower bound, upper bound, estimate and reference count.
type dualTree struct {
	qt, rt      *Tree
	kernel      refKernel
	relErr      float64
	absSlack    float64 // allowed midpoint error per reference, kernel units
	leaveOneOut bool
	nRef        int

	postLo, postHi, postEst []float64
	postCount               []int
	statLo                  []float64

	lo, hi, est []float64
	count       []int
}

func newDualTree(qt, rt *Tree, kernel refKernel, relErr, absSlack float64, leaveOneOut bool) *dualTree {
	nRef := rt.n
	if leaveOneOut {
		nRef--
	}
	numNodes := len(qt.nodes)
	return &dualTree{
		qt:          qt,
		rt:          rt,
		kernel:      kernel,
		relErr:      relErr,
		absSlack:    absSlack,
		leaveOneOut: leaveOneOut,
		nRef:        nRef,

		postLo:    make([]float64, numNodes),
		postHi:    make([]float64, numNodes),
		postEst:   make([]float64, numNodes),
		postCount: make([]int, numNodes),
		statLo:    make([]float64, numNodes),

		lo:    make([]float64, qt.n),
		hi:    make([]float64, qt.n),
		est:   make([]float64, qt.n),
		count: make([]int, qt.n),
	}
}

// run traverses every query task and finalizes the accumulators.
func (d *dualTree) run(workers int) (Stats, error) {
	roots := d.qt.frontier(queryTaskDepth)
	tasks := make([]dualTreeTask, len(roots))

	err := forEachTask(len(roots), workers, func(i int) error {
		task := &tasks[i]
		task.root = roots[i]
		lo, hi := d.qt.nodeBounds(d.rt, task.root, d.rt.Root())
		task.kFloor, _ = d.kernel.bounds(lo, hi, d.rt.Root())

		d.visit(task, task.root, d.rt.Root())
		d.finalize(task, task.root)
		return d.checkCounts(task.root)
	})

	var total Stats
	for i := range tasks {
		total.add(tasks[i].stats)
	}
	total.Tasks = len(tasks)
	return total, err
}

// visit processes the node pair (q, r).
func (d *dualTree) visit(task *dualTreeTask, q, r int) {
	task.stats.PairsVisited++

	distLo, distHi := d.qt.nodeBounds(d.rt, q, r)
	kLo, kHi := d.kernel.bounds(distLo, distHi, r)
	kLo = math.Max(kLo, task.kFloor)
	qn, rn := d.qt.nodes[q], d.rt.nodes[r]

	// A query may not count itself under leave-one-out, so a pair whose
	// ranges overlap has no uniform reference count and is never pruned.
	if !(d.leaveOneOut && overlaps(qn, rn)) && d.canPrune(task, q, kLo, kHi) {
		d.prune(task, q, rn.Count(), kLo, kHi)
		return
	}

	switch {
	case qn.IsLeaf() && rn.IsLeaf():
		d.baseCase(task, q, r)
	case qn.IsLeaf():
		d.visitNearestFirst(task, q, rn.Left, rn.Right)
	case rn.IsLeaf():
		d.pushDown(task, q)
		d.visit(task, qn.Left, r)
		d.visit(task, qn.Right, r)
		d.statLo[q] = math.Min(d.statLo[qn.Left], d.statLo[qn.Right])
	default:
		d.pushDown(task, q)
		d.visitNearestFirst(task, qn.Left, rn.Left, rn.Right)
		d.visitNearestFirst(task, qn.Right, rn.Left, rn.Right)
		d.statLo[q] = math.Min(d.statLo[qn.Left], d.statLo[qn.Right])
	}
}

// visitNearestFirst visits (q, r1) and (q, r2), closer pair first. The
// order only affects how quickly lower bounds grow, not correctness.
func (d *dualTree) visitNearestFirst(task *dualTreeTask, q, r1, r2 int) {
	d1, _ := d.qt.nodeBounds(d.rt, q, r1)
	d2, _ := d.qt.nodeBounds(d.rt, q, r2)
	if d2 < d1 {
		r1, r2 = r2, r1
	}
	d.visit(task, q, r1)
	d.visit(task, q, r2)
}

// canPrune reports whether approximating every kernel value of the pair by
// the midpoint of [kLo, kHi] stays within the error budget. Each reference
// may contribute relErr/nRef of the query's density lower bound plus
// absSlack, so the budgets of all pairs covering a query add up to
// relErr·density + absolute error.
func (d *dualTree) canPrune(task *dualTreeTask, q int, kLo, kHi float64) bool {
	lower := math.Max(float64(d.nRef)*task.kFloor+d.statLo[q], 0)
	return (kHi-kLo)/2 <= d.relErr*lower/float64(d.nRef)+d.absSlack
}

// prune credits count references to every query under q at the midpoint of
// [kLo, kHi].
func (d *dualTree) prune(task *dualTreeTask, q, count int, kLo, kHi float64) {
	c := float64(count)
	d.postLo[q] += c * kLo
	d.postHi[q] += c * kHi
	d.postEst[q] += c * (kLo + kHi) / 2
	d.postCount[q] += count
	d.statLo[q] += c * (kLo - task.kFloor)
	task.stats.PrunedPairs++
}

// baseCase evaluates every (query, reference) pair of two leaves exactly.
func (d *dualTree) baseCase(task *dualTreeTask, q, r int) {
	d.flushLeaf(q)
	qn, rn := d.qt.nodes[q], d.rt.nodes[r]
	metric := d.qt.metric

	worst := math.Inf(1)
	for i := qn.Start; i < qn.End; i++ {
		qp := d.qt.Point(i)
		var s float64
		c := 0
		for j := rn.Start; j < rn.End; j++ {
			// Positions coincide only when both sides are the same tree.
			if d.leaveOneOut && i == j {
				continue
			}
			s += d.kernel.value(metric.Distance(qp, d.rt.Point(j)), d.rt.idxArray[j])
			c++
		}
		d.lo[i] += s
		d.hi[i] += s
		d.est[i] += s
		d.count[i] += c
		task.stats.KernelEvaluations += int64(c)

		if v := d.lo[i] - float64(d.count[i])*task.kFloor; v < worst {
			worst = v
		}
	}
	d.statLo[q] = worst
	task.stats.BaseCases++
}

// pushDown moves the postponed contributions of internal node q to its
// children.
func (d *dualTree) pushDown(task *dualTreeTask, q int) {
	if d.postCount[q] == 0 {
		return
	}
	qn := d.qt.nodes[q]
	delta := d.postLo[q] - float64(d.postCount[q])*task.kFloor
	for _, c := range [2]int{qn.Left, qn.Right} {
		d.postLo[c] += d.postLo[q]
		d.postHi[c] += d.postHi[q]
		d.postEst[c] += d.postEst[q]
		d.postCount[c] += d.postCount[q]
		d.statLo[c] += delta
	}
	d.postLo[q], d.postHi[q], d.postEst[q], d.postCount[q] = 0, 0, 0, 0
}

// flushLeaf moves the postponed contributions of leaf q to its queries.
func (d *dualTree) flushLeaf(q int) {
	if d.postCount[q] == 0 {
		return
	}
	qn := d.qt.nodes[q]
	for i := qn.Start; i < qn.End; i++ {
		d.lo[i] += d.postLo[q]
		d.hi[i] += d.postHi[q]
		d.est[i] += d.postEst[q]
		d.count[i] += d.postCount[q]
	}
	d.postLo[q], d.postHi[q], d.postEst[q], d.postCount[q] = 0, 0, 0, 0
}

// finalize pushes every postponed contribution under q down to its queries.
func (d *dualTree) finalize(task *dualTreeTask, q int) {
	qn := d.qt.nodes[q]
	if qn.IsLeaf() {
		d.flushLeaf(q)
		return
	}
	d.pushDown(task, q)
	d.finalize(task, qn.Left)
	d.finalize(task, qn.Right)
}

// checkCounts verifies that every query under q accounted for each
// reference exactly once.
func (d *dualTree) checkCounts(q int) error {
	qn := d.qt.nodes[q]
	for i := qn.Start; i < qn.End; i++ {
		if d.count[i] != d.nRef {
			return fmt.Errorf("kde: internal error: query %d resolved %d of %d references",
				d.qt.idxArray[i], d.count[i], d.nRef)
		}
	}
	return nil
}

// overlaps reports whether two nodes of the same tree share points.
func overlaps(a, b Node) bool {
	return a.Start < b.End && b.Start < a.End
}

// frontier returns the nodes at the given depth, plus any shallower leaves,
// in left-to-right order. Together they partition the points.
func (t *Tree) frontier(depth int) []int {
	var out []int
	var walk func(h, level int)
	walk = func(h, level int) {
		nd := t.nodes[h]
		if nd.IsLeaf() || level == depth {
			out = append(out, h)
			return
		}
		walk(nd.Left, level+1)
		walk(nd.Right, level+1)
	}
	walk(t.Root(), 0)
	return out
}
