package kde

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Criterion selects the cross-validation score.
type Criterion string

const (
	// CriterionLikelihood scores a bandwidth by the negative mean log
	// leave-one-out density.
	CriterionLikelihood Criterion = "likelihood"

	// CriterionLeastSquares scores a bandwidth by the estimated integrated
	// squared error, ∫f̂² − (2/N)Σ f̂₋ᵢ(xᵢ). Gaussian kernel and Euclidean
	// metric only.
	CriterionLeastSquares Criterion = "least_squares"
)

// CVConfig controls bandwidth cross-validation.
type CVConfig struct {
	// Kernel names the kernel family. Default: "gaussian".
	Kernel KernelName

	// Candidates are the bandwidths to score. Each must be > 0 and finite.
	Candidates []float64

	// Criterion is the score to minimize. Default: "likelihood".
	Criterion Criterion

	// Tree configures the tree built over the points.
	Tree TreeConfig

	// RelativeError is passed to each density evaluation. 0 scores with
	// exact densities.
	RelativeError float64

	// Workers bounds how many candidates are scored at once.
	// 0 means runtime.NumCPU().
	Workers int

	// Logger receives a debug record per candidate and an info record for
	// the selection. nil disables logging.
	Logger *slog.Logger
}

// DefaultCVConfig returns a CVConfig with reasonable defaults and no
// candidates.
func DefaultCVConfig() CVConfig {
	return CVConfig{
		Kernel:        KernelGaussian,
		Criterion:     CriterionLikelihood,
		Tree:          DefaultTreeConfig(),
		RelativeError: 0.01,
	}
}

// CVScore is the score of one candidate bandwidth.
type CVScore struct {
	Bandwidth float64 `json:"bandwidth" yaml:"bandwidth"`
	Score     float64 `json:"score" yaml:"score"`
}

// CVResult contains the output of CrossValidateBandwidth.
type CVResult struct {
	// Bandwidth is the candidate with the lowest score. Ties go to the
	// smaller bandwidth.
	Bandwidth float64

	// Score is the score of Bandwidth.
	Score float64

	// Scores maps every candidate to its score.
	Scores map[float64]float64

	// Table lists the distinct candidates in ascending order.
	Table []CVScore
}

func applyCVDefaults(cfg *CVConfig) {
	if cfg.Kernel == "" {
		cfg.Kernel = KernelGaussian
	}
	if cfg.Criterion == "" {
		cfg.Criterion = CriterionLikelihood
	}
	cfg.Tree.applyDefaults()
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
}

func validateCVConfig(cfg *CVConfig) error {
	if len(cfg.Candidates) == 0 {
		return invalidInputf("no candidate bandwidths")
	}
	for _, h := range cfg.Candidates {
		if _, err := NewKernel(cfg.Kernel, h); err != nil {
			return err
		}
	}
	if err := cfg.Tree.validate(); err != nil {
		return err
	}
	if !(cfg.RelativeError >= 0) || math.IsInf(cfg.RelativeError, 1) {
		return configErrorf("RelativeError must be finite and >= 0, got %v", cfg.RelativeError)
	}
	if cfg.Workers < 0 {
		return configErrorf("Workers must be >= 0 (0 means NumCPU), got %d", cfg.Workers)
	}
	switch cfg.Criterion {
	case CriterionLikelihood:
	case CriterionLeastSquares:
		if KernelName(strings.ToLower(string(cfg.Kernel))) != KernelGaussian {
			return configErrorf("least-squares cross-validation requires the gaussian kernel, got %q", cfg.Kernel)
		}
		if _, ok := cfg.Tree.Metric.(EuclideanMetric); !ok {
			return configErrorf("least-squares cross-validation requires the Euclidean metric, got %T", cfg.Tree.Metric)
		}
	default:
		return configErrorf("invalid Criterion %q", cfg.Criterion)
	}
	return nil
}

// CrossValidateBandwidth scores every candidate bandwidth on points and
// returns the best one. Lower scores are better for both criteria.
//
// Candidates are scored concurrently. A cancelled ctx stops the sweep before
// the next candidate starts and its error is returned.
func CrossValidateBandwidth(ctx context.Context, points [][]float64, cfg CVConfig) (*CVResult, error) {
	applyCVDefaults(&cfg)
	if err := validateCVConfig(&cfg); err != nil {
		return nil, err
	}
	data, n, dims, err := flattenPoints(points)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, invalidInputf("cross-validation needs at least 2 points, got %d", n)
	}

	candidates := distinctSorted(cfg.Candidates)

	// Partitions that depend only on geometry are shared by all candidates.
	var shared *Tree
	if cfg.Tree.Kind.GeometryOnly() {
		shared = newTree(data, n, dims, cfg.Tree)
		cfg.Logger.Debug("cross-validation tree",
			"kind", shared.kind, "points", n, "nodes", len(shared.nodes))
	}

	scores := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, h := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tree := shared
			if tree == nil {
				tree = newTree(data, n, dims, cfg.Tree)
			}
			s, err := cvScore(tree, h, &cfg)
			if err != nil {
				return err
			}
			scores[i] = s
			cfg.Logger.Debug("cross-validation candidate",
				"criterion", cfg.Criterion, "bandwidth", h, "score", s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &CVResult{
		Scores: make(map[float64]float64, len(candidates)),
		Table:  make([]CVScore, len(candidates)),
	}
	for i, h := range candidates {
		res.Scores[h] = scores[i]
		res.Table[i] = CVScore{Bandwidth: h, Score: scores[i]}
	}
	best := bestCandidate(res.Table)
	res.Bandwidth = res.Table[best].Bandwidth
	res.Score = res.Table[best].Score

	cfg.Logger.Info("cross-validation selected bandwidth",
		"criterion", cfg.Criterion, "kernel", cfg.Kernel,
		"bandwidth", res.Bandwidth, "score", res.Score, "candidates", len(candidates))
	return res, nil
}

// bestCandidate returns the index of the lowest score in table. Rows ascend
// by bandwidth, so ties, including all-infinite scores, keep the smaller
// bandwidth.
func bestCandidate(table []CVScore) int {
	best := 0
	for i := 1; i < len(table); i++ {
		if table[i].Score < table[best].Score {
			best = i
		}
	}
	return best
}

// cvScore scores bandwidth h on the points of tree.
func cvScore(tree *Tree, h float64, cfg *CVConfig) (float64, error) {
	ecfg := Config{
		Kernel:        cfg.Kernel,
		Bandwidth:     h,
		RelativeError: cfg.RelativeError,
		LeaveOneOut:   true,
		Workers:       1,
		Logger:        cfg.Logger,
	}
	loo, err := EstimateSelf(tree, ecfg)
	if err != nil {
		return 0, err
	}
	n := float64(tree.n)

	switch cfg.Criterion {
	case CriterionLeastSquares:
		// For Gaussian kernels ∫f̂² is the mean density of the sample under
		// itself at bandwidth h·√2, self pairs included.
		ecfg.LeaveOneOut = false
		ecfg.Bandwidth = h * math.Sqrt2
		all, err := EstimateSelf(tree, ecfg)
		if err != nil {
			return 0, err
		}
		return floats.Sum(all.Densities)/n - 2*floats.Sum(loo.Densities)/n, nil
	default:
		var sum float64
		for _, d := range loo.Densities {
			if d <= 0 {
				return math.Inf(1), nil
			}
			sum += math.Log(d)
		}
		return -sum / n, nil
	}
}

// distinctSorted returns the distinct values of xs in ascending order.
func distinctSorted(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	k := 0
	for i, x := range out {
		if i == 0 || x != out[k-1] {
			out[k] = x
			k++
		}
	}
	return out[:k]
}
