package kde

import "math"

// refKernel gives the contribution of one reference point to a query's
// kernel sum and brackets it over a node pair.
type refKernel interface {
	// value is the contribution at dist of the reference with original
	// index ref.
	value(dist float64, ref int) float64

	// bounds brackets value over distances in [lo, hi] and every reference
	// under node r of the reference tree.
	bounds(lo, hi float64, r int) (kLo, kHi float64)
}

// fixedKernel applies one kernel to every reference.
type fixedKernel struct{ k Kernel }

func (f fixedKernel) value(dist float64, _ int) float64 { return f.k.Evaluate(dist) }

func (f fixedKernel) bounds(lo, hi float64, _ int) (float64, float64) {
	return f.k.LowerBound(lo, hi), f.k.UpperBound(lo, hi)
}

// variableKernel gives every reference its own bandwidth. Each value is
// divided by that reference's normalizer unless normalization is skipped,
// so kernel sums are already in density units times the reference count.
type variableKernel struct {
	kernels []Kernel  // per reference, original order
	weights []float64 // 1/normalizer per reference

	// Per reference-tree node: kernels at the smallest and largest bandwidth
	// under the node and their weights.
	narrow, wide       []Kernel
	weightHi, weightLo []float64
}

// newVariableKernel builds per-reference kernels of family name over rt.
// bandwidths are indexed like the points rt was built from and must be
// valid for NewKernel.
func newVariableKernel(name KernelName, bandwidths []float64, rt *Tree, skipNorm bool) (*variableKernel, error) {
	v := &variableKernel{
		kernels:  make([]Kernel, len(bandwidths)),
		weights:  make([]float64, len(bandwidths)),
		narrow:   make([]Kernel, len(rt.nodes)),
		wide:     make([]Kernel, len(rt.nodes)),
		weightHi: make([]float64, len(rt.nodes)),
		weightLo: make([]float64, len(rt.nodes)),
	}
	weight := func(k Kernel) float64 {
		if skipNorm {
			return 1
		}
		return 1 / k.Normalizer(rt.dims)
	}
	for i, h := range bandwidths {
		k, err := NewKernel(name, h)
		if err != nil {
			return nil, err
		}
		v.kernels[i] = k
		v.weights[i] = weight(k)
	}

	// Children follow their parent in the arena, so a reverse sweep sees
	// both children before the parent.
	hMin := make([]float64, len(rt.nodes))
	hMax := make([]float64, len(rt.nodes))
	for id := len(rt.nodes) - 1; id >= 0; id-- {
		nd := rt.nodes[id]
		if nd.IsLeaf() {
			lo, hi := math.Inf(1), 0.0
			for pos := nd.Start; pos < nd.End; pos++ {
				h := bandwidths[rt.idxArray[pos]]
				lo = math.Min(lo, h)
				hi = math.Max(hi, h)
			}
			hMin[id], hMax[id] = lo, hi
		} else {
			hMin[id] = math.Min(hMin[nd.Left], hMin[nd.Right])
			hMax[id] = math.Max(hMax[nd.Left], hMax[nd.Right])
		}
		// hMin and hMax are existing bandwidths, so NewKernel cannot fail.
		v.narrow[id], _ = NewKernel(name, hMin[id])
		v.wide[id], _ = NewKernel(name, hMax[id])
		v.weightHi[id] = weight(v.narrow[id])
		v.weightLo[id] = weight(v.wide[id])
	}
	return v, nil
}

func (v *variableKernel) value(dist float64, ref int) float64 {
	return v.kernels[ref].Evaluate(dist) * v.weights[ref]
}

// bounds uses that kernel values fall with distance and rise with
// bandwidth, while normalizers rise with bandwidth.
func (v *variableKernel) bounds(lo, hi float64, r int) (float64, float64) {
	kLo := v.narrow[r].LowerBound(lo, hi) * v.weightLo[r]
	kHi := v.wide[r].UpperBound(lo, hi) * v.weightHi[r]
	return kLo, kHi
}
