package kde

import (
	"errors"
	"math"
	"testing"
)

// exactVariable evaluates the naive estimator with one bandwidth per
// reference point.
func exactVariable(t *testing.T, queries [][]float64, ref *Tree, name KernelName, bandwidths []float64, leaveOneOut bool) []float64 {
	t.Helper()
	qData, nq, dims, err := flattenPoints(queries)
	if err != nil {
		t.Fatal(err)
	}
	v, err := newVariableKernel(name, bandwidths, ref, false)
	if err != nil {
		t.Fatal(err)
	}
	sums := naiveSums(qData, nq, ref.Data(), ref.NumPoints(), dims, v, ref.Metric(), leaveOneOut, 1)
	nRef := ref.NumPoints()
	if leaveOneOut {
		nRef--
	}
	for i := range sums {
		sums[i] /= float64(nRef)
	}
	return sums
}

func constantBandwidths(n int, h float64) []float64 {
	bws := make([]float64, n)
	for i := range bws {
		bws[i] = h
	}
	return bws
}

func TestVariable_HandComputed(t *testing.T) {
	ref := mustTree(t, [][]float64{{0}, {2}}, TreeConfig{LeafSize: 1})
	queries := [][]float64{{1}}
	phi := func(d, h float64) float64 {
		return math.Exp(-d*d/(2*h*h)) / (math.Sqrt(2*math.Pi) * h)
	}
	want := (phi(1, 1) + phi(1, 0.5)) / 2

	for _, mode := range []Mode{ModeNaive, ModeDualTree} {
		cfg := DefaultConfig()
		cfg.Mode = mode
		cfg.RelativeError = 0
		cfg.Bandwidths = []float64{1, 0.5}
		res, err := Estimate(queries, ref, cfg)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if !almostEqual(res.Densities[0], want, 1e-12*want) {
			t.Errorf("%s: density = %v, want %v", mode, res.Densities[0], want)
		}
	}

	cfg := DefaultConfig()
	cfg.Mode = ModeNaive
	cfg.Bandwidths = []float64{1, 0.5}
	cfg.SkipNormalization = true
	res, err := Estimate(queries, ref, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if raw := (math.Exp(-0.5) + math.Exp(-2)) / 2; !almostEqual(res.Densities[0], raw, 1e-12) {
		t.Errorf("unnormalized density = %v, want %v", res.Densities[0], raw)
	}
}

func TestVariable_ConstantMatchesFixed(t *testing.T) {
	pts := gaussianBlobs(71, [][]float64{{0, 0}, {4, 1}}, 150, 0.8)
	queries := gaussianBlobs(72, [][]float64{{2, 0}}, 80, 2)
	ref := mustTree(t, pts, TreeConfig{LeafSize: 8})
	for _, kernel := range []KernelName{KernelGaussian, KernelEpanechnikov} {
		for _, mode := range []Mode{ModeNaive, ModeDualTree} {
			fixed := DefaultConfig()
			fixed.Kernel = kernel
			fixed.Bandwidth = 0.6
			fixed.RelativeError = 0
			fixed.Mode = mode
			want, err := Estimate(queries, ref, fixed)
			if err != nil {
				t.Fatal(err)
			}

			variable := fixed
			variable.Bandwidth = 0
			variable.Bandwidths = constantBandwidths(len(pts), 0.6)
			got, err := Estimate(queries, ref, variable)
			if err != nil {
				t.Fatal(err)
			}
			for i := range want.Densities {
				if !almostEqual(got.Densities[i], want.Densities[i], 1e-12*want.Densities[i]+1e-300) {
					t.Fatalf("%s/%s: query %d: variable %v, fixed %v", kernel, mode, i, got.Densities[i], want.Densities[i])
				}
			}
		}
	}
}

func TestVariable_DualTreeMatchesNaiveWithinTolerance(t *testing.T) {
	pts := gaussianBlobs(73, [][]float64{{0, 0}, {5, 0}, {0, 5}}, 120, 0.6)
	// A sparse tail gets wide bandwidths.
	pts = append(pts, gaussianBlobs(74, [][]float64{{10, 10}}, 20, 3)...)
	queries := gaussianBlobs(75, [][]float64{{3, 3}}, 150, 4)

	for _, kind := range []TreeKind{KDTree, BallTree} {
		ref := mustTree(t, pts, TreeConfig{Kind: kind, LeafSize: 6})
		bws, err := KNNBandwidths(ref, 5)
		if err != nil {
			t.Fatal(err)
		}
		for _, kernel := range []KernelName{KernelGaussian, KernelEpanechnikov, KernelUniform, KernelTriangular} {
			for _, tau := range []float64{0, 0.01, 0.1} {
				label := string(kind) + "/" + string(kernel)
				cfg := dualTreeConfig(kernel, 0, tau)
				cfg.Bandwidths = bws

				res, err := Estimate(queries, ref, cfg)
				if err != nil {
					t.Fatalf("%s: %v", label, err)
				}
				checkWithinTolerance(t, label, res, exactVariable(t, queries, ref, kernel, bws, false), tau, 0)

				cfg.LeaveOneOut = true
				self, err := EstimateSelf(ref, cfg)
				if err != nil {
					t.Fatalf("%s/loo: %v", label, err)
				}
				checkWithinTolerance(t, label+"/loo", self, exactVariable(t, pts, ref, kernel, bws, true), tau, 0)
			}
		}
	}
}

func TestVariable_AbsoluteError(t *testing.T) {
	pts := gaussianBlobs(76, [][]float64{{0}, {6}}, 200, 1)
	ref := mustTree(t, pts, TreeConfig{LeafSize: 4})
	bws, err := KNNBandwidths(ref, 8)
	if err != nil {
		t.Fatal(err)
	}
	queries := [][]float64{{-20}, {0}, {3}, {6}, {30}}
	cfg := dualTreeConfig(KernelGaussian, 0, 0)
	cfg.AbsoluteError = 1e-3
	cfg.Bandwidths = bws
	res, err := Estimate(queries, ref, cfg)
	if err != nil {
		t.Fatal(err)
	}
	checkWithinTolerance(t, "abs", res, exactVariable(t, queries, ref, KernelGaussian, bws, false), 0, 1e-3)
}

func TestVariable_ParallelMatchesSequential(t *testing.T) {
	pts := gaussianBlobs(77, [][]float64{{0, 0}, {5, 5}}, 300, 1)
	queries := gaussianBlobs(78, [][]float64{{2, 2}}, 300, 3)
	ref := mustTree(t, pts, TreeConfig{Kind: BallTree, LeafSize: 10})
	bws, err := KNNBandwidths(ref, 10)
	if err != nil {
		t.Fatal(err)
	}
	cfg := dualTreeConfig(KernelGaussian, 0, 0.05)
	cfg.Bandwidths = bws
	cfg.Workers = 1
	seq, err := Estimate(queries, ref, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, workers := range []int{2, 8} {
		cfg.Workers = workers
		par, err := Estimate(queries, ref, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if par.Stats != seq.Stats {
			t.Errorf("workers=%d: stats %+v, sequential %+v", workers, par.Stats, seq.Stats)
		}
		for i := range seq.Densities {
			if par.Densities[i] != seq.Densities[i] {
				t.Fatalf("workers=%d: query %d: %v vs %v", workers, i, par.Densities[i], seq.Densities[i])
			}
		}
	}
}

func TestVariable_NodeBoundsBracketEveryReference(t *testing.T) {
	pts := gaussianBlobs(79, [][]float64{{0, 0}, {3, 3}}, 60, 1)
	ref := mustTree(t, pts, TreeConfig{LeafSize: 4})
	bws, err := KNNBandwidths(ref, 3)
	if err != nil {
		t.Fatal(err)
	}
	v, err := newVariableKernel(KernelEpanechnikov, bws, ref, false)
	if err != nil {
		t.Fatal(err)
	}
	for id := 0; id < ref.NumNodes(); id++ {
		start, end := ref.PointRange(id)
		for _, d := range []float64{0, 0.2, 0.7, 1.5, 4} {
			lo, hi := v.bounds(d, d, id)
			for pos := start; pos < end; pos++ {
				val := v.value(d, ref.IdxArray()[pos])
				if val < lo-floatTol || val > hi+floatTol {
					t.Fatalf("node %d, dist %v: value %v outside [%v, %v]", id, d, val, lo, hi)
				}
			}
		}
	}
}

func TestVariable_Errors(t *testing.T) {
	pts := [][]float64{{0}, {1}, {2}}
	ref := mustTree(t, pts, TreeConfig{})
	tests := []struct {
		name string
		bws  []float64
		want error
	}{
		{"too few", []float64{1, 1}, ErrInvalidInput},
		{"too many", []float64{1, 1, 1, 1}, ErrInvalidInput},
		{"zero entry", []float64{1, 0, 1}, ErrConfiguration},
		{"negative entry", []float64{1, 1, -1}, ErrConfiguration},
		{"nan entry", []float64{math.NaN(), 1, 1}, ErrConfiguration},
		{"infinite entry", []float64{1, math.Inf(1), 1}, ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Bandwidths = tt.bws
			if _, err := Estimate(pts, ref, cfg); !errors.Is(err, tt.want) {
				t.Errorf("Estimate error = %v, want %v", err, tt.want)
			}
			cfg.LeaveOneOut = true
			if _, err := EstimateSelf(ref, cfg); !errors.Is(err, tt.want) {
				t.Errorf("EstimateSelf error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("scalar bandwidth ignored", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Bandwidth = -1
		cfg.Bandwidths = []float64{1, 1, 1}
		if _, err := Estimate(pts, ref, cfg); err != nil {
			t.Errorf("Estimate: %v", err)
		}
	})
}
