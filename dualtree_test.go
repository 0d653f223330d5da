package kde

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"
)

// gaussianBlobs returns perCluster normal samples with deviation sigma
// around each center.
func gaussianBlobs(seed uint64, centers [][]float64, perCluster int, sigma float64) [][]float64 {
	src := rand.NewPCG(seed, seed+1)
	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	var pts [][]float64
	for _, c := range centers {
		for i := 0; i < perCluster; i++ {
			p := make([]float64, len(c))
			for j := range c {
				p[j] = c[j] + noise.Rand()
			}
			pts = append(pts, p)
		}
	}
	return pts
}

// exactDensities evaluates the naive estimator, optionally leaving each
// reference point out of its own density.
func exactDensities(t *testing.T, queries [][]float64, ref *Tree, k Kernel, leaveOneOut bool) []float64 {
	t.Helper()
	qData, nq, dims, err := flattenPoints(queries)
	if err != nil {
		t.Fatal(err)
	}
	sums := naiveKernelSums(qData, nq, ref.Data(), ref.NumPoints(), dims, k, ref.Metric(), leaveOneOut, 1)
	nRef := ref.NumPoints()
	if leaveOneOut {
		nRef--
	}
	scale := 1 / (float64(nRef) * k.Normalizer(dims))
	for i := range sums {
		sums[i] *= scale
	}
	return sums
}

func dualTreeConfig(kernel KernelName, h, tau float64) Config {
	cfg := DefaultConfig()
	cfg.Kernel = kernel
	cfg.Bandwidth = h
	cfg.RelativeError = tau
	cfg.Mode = ModeDualTree
	return cfg
}

func checkWithinTolerance(t *testing.T, label string, res *Result, exact []float64, tau, eps float64) {
	t.Helper()
	for i, want := range exact {
		got := res.Densities[i]
		tol := tau*want + eps + 1e-12*want
		if math.Abs(got-want) > tol {
			t.Fatalf("%s: query %d: density %v, exact %v, error %v > %v", label, i, got, want, math.Abs(got-want), tol)
		}
		slack := 1e-9 * want
		if res.Lower[i] > want+slack || res.Upper[i] < want-slack {
			t.Fatalf("%s: query %d: exact %v outside [%v, %v]", label, i, want, res.Lower[i], res.Upper[i])
		}
	}
}

func TestDualTree_MatchesNaiveWithinTolerance(t *testing.T) {
	refPts := gaussianBlobs(31, [][]float64{{0, 0}, {3, 1}, {-2, 4}}, 150, 0.7)
	rng := rand.New(rand.NewPCG(32, 33))
	queries := randomPoints(rng, 200, 2, 6)
	for i := range queries {
		queries[i][0] -= 3
	}

	kernels := []KernelName{KernelGaussian, KernelEpanechnikov, KernelUniform, KernelTriangular}
	for _, tcfg := range []TreeConfig{
		{Kind: KDTree, LeafSize: 8},
		{Kind: BallTree, LeafSize: 8},
	} {
		ref := mustTree(t, refPts, tcfg)
		for _, kname := range kernels {
			for _, tau := range []float64{0.1, 0.01} {
				cfg := dualTreeConfig(kname, 0.6, tau)
				res, err := Estimate(queries, ref, cfg)
				if err != nil {
					t.Fatalf("Estimate: %v", err)
				}
				if res.Mode != ModeDualTree {
					t.Fatalf("Mode = %q, want dualtree", res.Mode)
				}
				k, _ := NewKernel(kname, 0.6)
				label := string(tcfg.Kind) + "/" + string(kname)
				checkWithinTolerance(t, label, res, exactDensities(t, queries, ref, k, false), tau, 0)
			}
		}
	}
}

func TestDualTree_ZeroToleranceIsExact(t *testing.T) {
	refPts := gaussianBlobs(34, [][]float64{{0, 0, 0}, {2, 2, 2}}, 120, 1)
	queries := gaussianBlobs(35, [][]float64{{1, 1, 1}}, 80, 1.5)
	for _, kind := range []TreeKind{KDTree, BallTree} {
		ref := mustTree(t, refPts, TreeConfig{Kind: kind, LeafSize: 5})
		cfg := dualTreeConfig(KernelGaussian, 0.5, 0)
		got, err := EvaluateDensity(queries, ref, cfg)
		if err != nil {
			t.Fatalf("EvaluateDensity: %v", err)
		}
		exact := exactDensities(t, queries, ref, GaussianKernel{H: 0.5}, false)
		for i := range exact {
			if math.Abs(got[i]-exact[i]) > 1e-9*exact[i] {
				t.Errorf("%s: query %d: %v, exact %v", kind, i, got[i], exact[i])
			}
		}
	}
}

func TestDualTree_AbsoluteError(t *testing.T) {
	refPts := gaussianBlobs(36, [][]float64{{0, 0}}, 400, 1)
	rng := rand.New(rand.NewPCG(37, 38))
	queries := randomPoints(rng, 100, 2, 8)
	ref := mustTree(t, refPts, TreeConfig{LeafSize: 10})

	cfg := dualTreeConfig(KernelGaussian, 0.4, 0)
	cfg.AbsoluteError = 1e-4
	res, err := Estimate(queries, ref, cfg)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	checkWithinTolerance(t, "absolute", res, exactDensities(t, queries, ref, GaussianKernel{H: 0.4}, false), 0, 1e-4)
	if res.Stats.PrunedPairs == 0 {
		t.Error("expected far-away queries to be pruned under an absolute error budget")
	}
}

func TestDualTree_IntervalWidthBound(t *testing.T) {
	refPts := gaussianBlobs(43, [][]float64{{0, 0}, {4, 2}}, 250, 1)
	rng := rand.New(rand.NewPCG(44, 45))
	queries := randomPoints(rng, 150, 2, 8)
	for _, kind := range []TreeKind{KDTree, BallTree} {
		ref := mustTree(t, refPts, TreeConfig{Kind: kind, LeafSize: 8})
		for _, kernel := range []KernelName{KernelGaussian, KernelEpanechnikov} {
			for _, tc := range []struct{ tau, eps float64 }{{0.05, 0}, {0.2, 0}, {0.01, 1e-4}} {
				cfg := dualTreeConfig(kernel, 0.5, tc.tau)
				cfg.AbsoluteError = tc.eps
				res, err := Estimate(queries, ref, cfg)
				if err != nil {
					t.Fatalf("Estimate: %v", err)
				}
				k, _ := NewKernel(kernel, 0.5)
				exact := exactDensities(t, queries, ref, k, false)
				for i, want := range exact {
					width := res.Upper[i] - res.Lower[i]
					if limit := 2*tc.tau*want + 2*tc.eps + 1e-9*want; width > limit {
						t.Fatalf("%s/%s tau=%v: query %d: width %v > %v", kind, kernel, tc.tau, i, width, limit)
					}
				}
			}
		}
	}
}

func TestDualTree_TwoClusterScenario(t *testing.T) {
	ref := mustTree(t, [][]float64{{0}, {0}, {10}, {10}}, TreeConfig{LeafSize: 1})
	for _, tau := range []float64{0, 0.01} {
		got, err := EvaluateDensity([][]float64{{0}}, ref, dualTreeConfig(KernelGaussian, 1, tau))
		if err != nil {
			t.Fatalf("EvaluateDensity: %v", err)
		}
		want := 0.5 / math.Sqrt(2*math.Pi)
		if math.Abs(got[0]-want) > tau*want+1e-12 {
			t.Errorf("tau=%v: density %v, want %v", tau, got[0], want)
		}
	}
}

func TestDualTree_LeaveOneOutMatchesNaive(t *testing.T) {
	pts := gaussianBlobs(39, [][]float64{{0, 0}, {4, 0}}, 200, 1)
	// Duplicates must still exclude only the query itself.
	pts = append(pts, []float64{1, 1}, []float64{1, 1}, []float64{1, 1})
	for _, kind := range []TreeKind{KDTree, BallTree} {
		ref := mustTree(t, pts, TreeConfig{Kind: kind, LeafSize: 6})
		for _, tau := range []float64{0, 0.02} {
			cfg := dualTreeConfig(KernelEpanechnikov, 0.9, tau)
			cfg.LeaveOneOut = true
			res, err := EstimateSelf(ref, cfg)
			if err != nil {
				t.Fatalf("EstimateSelf: %v", err)
			}
			exact := exactDensities(t, pts, ref, EpanechnikovKernel{H: 0.9}, true)
			checkWithinTolerance(t, string(kind)+"/loo", res, exact, tau, 0)
		}
	}
}

func TestDualTree_SelfWithoutLeaveOneOut(t *testing.T) {
	pts := gaussianBlobs(40, [][]float64{{0}, {5}}, 150, 0.5)
	ref := mustTree(t, pts, TreeConfig{LeafSize: 4})
	res, err := EstimateSelf(ref, dualTreeConfig(KernelGaussian, 0.3, 0.01))
	if err != nil {
		t.Fatalf("EstimateSelf: %v", err)
	}
	checkWithinTolerance(t, "self", res, exactDensities(t, pts, ref, GaussianKernel{H: 0.3}, false), 0.01, 0)
}

func TestDualTree_ParallelMatchesSequential(t *testing.T) {
	refPts := gaussianBlobs(41, [][]float64{{0, 0}, {5, 5}, {0, 6}}, 300, 1)
	queries := gaussianBlobs(42, [][]float64{{2, 2}}, 400, 3)
	for _, kind := range []TreeKind{KDTree, BallTree} {
		ref := mustTree(t, refPts, TreeConfig{Kind: kind, LeafSize: 10})
		cfg := dualTreeConfig(KernelGaussian, 0.5, 0.05)

		cfg.Workers = 1
		seq, err := Estimate(queries, ref, cfg)
		if err != nil {
			t.Fatalf("sequential: %v", err)
		}
		for _, workers := range []int{2, 4, 16} {
			cfg.Workers = workers
			par, err := Estimate(queries, ref, cfg)
			if err != nil {
				t.Fatalf("workers=%d: %v", workers, err)
			}
			if par.Stats != seq.Stats {
				t.Errorf("%s workers=%d: stats %+v, sequential %+v", kind, workers, par.Stats, seq.Stats)
			}
			for i := range seq.Densities {
				if par.Densities[i] != seq.Densities[i] || par.Lower[i] != seq.Lower[i] || par.Upper[i] != seq.Upper[i] {
					t.Fatalf("%s workers=%d: query %d differs: %v vs %v", kind, workers, i, par.Densities[i], seq.Densities[i])
				}
			}
		}
	}
}

func TestDualTree_PrunesWork(t *testing.T) {
	pts := gaussianBlobs(43, [][]float64{{0, 0}, {20, 0}, {0, 20}, {20, 20}}, 500, 1)
	ref := mustTree(t, pts, TreeConfig{LeafSize: 20})
	res, err := EstimateSelf(ref, dualTreeConfig(KernelGaussian, 0.5, 0.01))
	if err != nil {
		t.Fatalf("EstimateSelf: %v", err)
	}
	n := int64(len(pts))
	if res.Stats.PrunedPairs == 0 {
		t.Error("expected some pruned node pairs")
	}
	if res.Stats.KernelEvaluations >= n*n/2 {
		t.Errorf("KernelEvaluations = %d, want well below %d", res.Stats.KernelEvaluations, n*n)
	}
	if res.Stats.Tasks < 2 {
		t.Errorf("Tasks = %d, want >= 2", res.Stats.Tasks)
	}
}

func TestDualTree_ScalingInvariance(t *testing.T) {
	pts := gaussianBlobs(44, [][]float64{{0, 0}, {3, 3}}, 200, 1)
	queries := gaussianBlobs(45, [][]float64{{1, 1}}, 100, 2)
	const c = 7.5
	scaled := func(in [][]float64) [][]float64 {
		out := make([][]float64, len(in))
		for i, p := range in {
			out[i] = []float64{p[0] * c, p[1] * c}
		}
		return out
	}

	const tau = 0.001
	base, err := EvaluateDensity(queries, mustTree(t, pts, TreeConfig{}), dualTreeConfig(KernelGaussian, 0.4, tau))
	if err != nil {
		t.Fatal(err)
	}
	big, err := EvaluateDensity(scaled(queries), mustTree(t, scaled(pts), TreeConfig{}), dualTreeConfig(KernelGaussian, 0.4*c, tau))
	if err != nil {
		t.Fatal(err)
	}
	// Stretching the space by c divides densities by c^D.
	for i := range base {
		want := base[i] / (c * c)
		if math.Abs(big[i]-want) > 3*tau*want {
			t.Errorf("query %d: scaled density %v, want %v", i, big[i], want)
		}
	}
}

func TestDualTree_CountsEveryReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(46, 47))
	pts := randomPoints(rng, 333, 2, 1)
	ref := mustTree(t, pts, TreeConfig{LeafSize: 3})
	k := GaussianKernel{H: 0.05}

	for _, loo := range []bool{false, true} {
		qt := ref
		dt := newDualTree(qt, ref, fixedKernel{k}, 0.05, 0, loo)
		if _, err := dt.run(3); err != nil {
			t.Fatalf("loo=%v: %v", loo, err)
		}
		want := len(pts)
		if loo {
			want--
		}
		for pos, c := range dt.count {
			if c != want {
				t.Fatalf("loo=%v: position %d resolved %d references, want %d", loo, pos, c, want)
			}
		}
	}
}
