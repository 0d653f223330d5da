package kde

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
)

// Config controls density evaluation.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// Kernel names the kernel family: "gaussian", "epanechnikov", "uniform"
	// or "triangular". Default: "gaussian".
	Kernel KernelName

	// Bandwidth is the kernel scale h. Must be > 0 and finite unless
	// Bandwidths is set. Default: 1.
	Bandwidth float64

	// Bandwidths, when non-empty, gives every reference point its own
	// bandwidth, indexed like the points the reference tree was built from,
	// and Bandwidth is ignored. Each reference's kernel is normalized with
	// its own bandwidth. See [KNNBandwidths] for adaptive pilot bandwidths.
	Bandwidths []float64

	// RelativeError is the largest allowed |approx - exact| / exact per
	// query. 0 requests exact results up to rounding. Must be >= 0.
	// Default: 0.01.
	RelativeError float64

	// AbsoluteError is an additional allowed error per query in density
	// units, useful where densities are close to zero. Must be >= 0.
	// Default: 0.
	AbsoluteError float64

	// Mode selects the evaluator. "auto" uses the naive evaluator for small
	// problems and the dual-tree evaluator otherwise. Default: "auto".
	Mode Mode

	// NaiveThreshold is the largest |queries|·|references| for which "auto"
	// picks the naive evaluator. Must be >= 0. Default: 4096.
	NaiveThreshold int

	// LeaveOneOut excludes each point's own contribution. Only valid with
	// [EstimateSelf]. Default: false.
	LeaveOneOut bool

	// SkipNormalization returns mean kernel sums instead of densities, i.e.
	// the kernel normalizer is not applied. Use it with non-Euclidean
	// metrics, where the normalizers do not hold. Default: false.
	SkipNormalization bool

	// Workers bounds the number of goroutines used for evaluation.
	// 0 means runtime.NumCPU(). Default: 0 (auto).
	Workers int

	// Verify also runs the naive evaluator and fails with ErrVerification
	// if any dual-tree density misses the requested error. Default: false.
	Verify bool

	// Logger receives debug records about each evaluation. nil disables
	// logging.
	Logger *slog.Logger
}

// Result contains the output of a density evaluation. All slices are in
// query order.
type Result struct {
	// Densities is the estimated density at each query.
	Densities []float64

	// Lower and Upper bracket the exact density at each query. They equal
	// Densities when the naive evaluator ran. The dual-tree evaluator keeps
	// Upper-Lower within 2·RelativeError·exact + 2·AbsoluteError.
	Lower []float64
	Upper []float64

	// Mode is the evaluator that actually ran.
	Mode Mode

	// Stats counts the work done.
	Stats Stats
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Kernel:         KernelGaussian,
		Bandwidth:      1,
		RelativeError:  0.01,
		Mode:           ModeAuto,
		NaiveThreshold: defaultNaiveThreshold,
	}
}

const defaultNaiveThreshold = 4096

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Kernel == "" {
		cfg.Kernel = KernelGaussian
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.NaiveThreshold == 0 {
		cfg.NaiveThreshold = defaultNaiveThreshold
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
}

// validateConfig checks that cfg fields are valid and returns the kernel
// they describe. With per-reference bandwidths it returns the kernel of the
// last one, which only names the family.
func validateConfig(cfg *Config) (Kernel, error) {
	h := cfg.Bandwidth
	for _, bw := range cfg.Bandwidths {
		if _, err := NewKernel(cfg.Kernel, bw); err != nil {
			return nil, err
		}
		h = bw
	}
	kernel, err := NewKernel(cfg.Kernel, h)
	if err != nil {
		return nil, err
	}
	if !(cfg.RelativeError >= 0) || math.IsInf(cfg.RelativeError, 1) {
		return nil, configErrorf("RelativeError must be finite and >= 0, got %v", cfg.RelativeError)
	}
	if !(cfg.AbsoluteError >= 0) || math.IsInf(cfg.AbsoluteError, 1) {
		return nil, configErrorf("AbsoluteError must be finite and >= 0, got %v", cfg.AbsoluteError)
	}
	switch cfg.Mode {
	case ModeAuto, ModeNaive, ModeDualTree:
		// valid
	default:
		return nil, configErrorf("invalid Mode %q", cfg.Mode)
	}
	if cfg.NaiveThreshold < 0 {
		return nil, configErrorf("NaiveThreshold must be >= 0, got %d", cfg.NaiveThreshold)
	}
	if cfg.Workers < 0 {
		return nil, configErrorf("Workers must be >= 0 (0 means NumCPU), got %d", cfg.Workers)
	}
	return kernel, nil
}

// EvaluateDensity returns the estimated density at each query under the
// points of ref. See [Estimate] for the error bounds and the full result.
func EvaluateDensity(queries [][]float64, ref *Tree, cfg Config) ([]float64, error) {
	res, err := Estimate(queries, ref, cfg)
	if err != nil {
		return nil, err
	}
	return res.Densities, nil
}

// Estimate evaluates the density at each query under the points of ref.
// Every returned density is within RelativeError·exact + AbsoluteError of
// the exact kernel density estimate. Queries are indexed into a tree built
// with ref's configuration.
func Estimate(queries [][]float64, ref *Tree, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	kernel, err := validateConfig(&cfg)
	if err != nil {
		return nil, err
	}
	if cfg.LeaveOneOut {
		return nil, configErrorf("LeaveOneOut requires EstimateSelf")
	}
	if ref == nil {
		return nil, invalidInputf("reference tree is nil")
	}
	qData, nq, dims, err := flattenPoints(queries)
	if err != nil {
		return nil, err
	}
	if dims != ref.dims {
		return nil, invalidInputf("queries have %d dimensions, references have %d", dims, ref.dims)
	}

	e := estimator{cfg: cfg, kernel: kernel, ref: ref, qData: qData, nq: nq}
	if err := e.init(); err != nil {
		return nil, err
	}
	return e.run(func() *Tree { return newTree(qData, nq, dims, ref.Config()) })
}

// EstimateSelf evaluates the density at every point of ref, reusing ref as
// the query tree. With LeaveOneOut each point's own contribution is
// excluded and densities are averaged over the other N-1 points.
func EstimateSelf(ref *Tree, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	kernel, err := validateConfig(&cfg)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, invalidInputf("reference tree is nil")
	}
	if cfg.LeaveOneOut && ref.n < 2 {
		return nil, invalidInputf("leave-one-out needs at least 2 points, got %d", ref.n)
	}

	e := estimator{cfg: cfg, kernel: kernel, ref: ref, qData: ref.data, nq: ref.n}
	if err := e.init(); err != nil {
		return nil, err
	}
	return e.run(func() *Tree { return ref })
}

// estimator runs one validated evaluation.
type estimator struct {
	cfg     Config
	kernel  Kernel
	contrib refKernel
	ref     *Tree
	qData   []float64
	nq      int
}

// init selects fixed or per-reference bandwidths.
func (e *estimator) init() error {
	if !e.variable() {
		e.contrib = fixedKernel{e.kernel}
		return nil
	}
	if len(e.cfg.Bandwidths) != e.ref.n {
		return invalidInputf("got %d bandwidths for %d reference points", len(e.cfg.Bandwidths), e.ref.n)
	}
	v, err := newVariableKernel(e.cfg.Kernel, e.cfg.Bandwidths, e.ref, e.cfg.SkipNormalization)
	if err != nil {
		return err
	}
	e.contrib = v
	return nil
}

func (e *estimator) variable() bool { return len(e.cfg.Bandwidths) > 0 }

func (e *estimator) nRef() int {
	if e.cfg.LeaveOneOut {
		return e.ref.n - 1
	}
	return e.ref.n
}

// normalizer is the kernel normalizer shared by all references, or 1 when
// per-reference weights already carry it.
func (e *estimator) normalizer() float64 {
	if e.cfg.SkipNormalization || e.variable() {
		return 1
	}
	return e.kernel.Normalizer(e.ref.dims)
}

func (e *estimator) run(queryTree func() *Tree) (*Result, error) {
	mode := selectMode(e.cfg, e.nq, e.ref.n)
	log := e.cfg.Logger.With("kernel", e.kernel.Name(), "mode", mode)
	if e.variable() {
		log = log.With("bandwidth", "variable")
	} else {
		log = log.With("bandwidth", e.kernel.Bandwidth())
	}

	if mode == ModeNaive {
		res := e.naive()
		log.Debug("naive evaluation",
			"queries", e.nq, "references", e.ref.n,
			"kernel_evaluations", res.Stats.KernelEvaluations)
		return res, nil
	}

	qt := queryTree()
	norm := e.normalizer()
	dt := newDualTree(qt, e.ref, e.contrib, e.cfg.RelativeError, e.cfg.AbsoluteError*norm, e.cfg.LeaveOneOut)
	stats, err := dt.run(e.cfg.Workers)
	if err != nil {
		return nil, err
	}

	scale := 1 / (float64(e.nRef()) * norm)
	res := &Result{
		Densities: make([]float64, e.nq),
		Lower:     make([]float64, e.nq),
		Upper:     make([]float64, e.nq),
		Mode:      ModeDualTree,
		Stats:     stats,
	}
	for pos, orig := range qt.idxArray {
		res.Densities[orig] = dt.est[pos] * scale
		res.Lower[orig] = dt.lo[pos] * scale
		res.Upper[orig] = dt.hi[pos] * scale
	}

	log.Debug("dual-tree evaluation",
		"queries", e.nq, "references", e.ref.n,
		"pairs", stats.PairsVisited, "pruned", stats.PrunedPairs,
		"base_cases", stats.BaseCases, "kernel_evaluations", stats.KernelEvaluations,
		"tasks", stats.Tasks)

	if e.cfg.Verify {
		if err := e.verify(res.Densities, log); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// naive evaluates every (query, reference) pair exactly.
func (e *estimator) naive() *Result {
	sums := naiveSums(e.qData, e.nq, e.ref.data, e.ref.n, e.ref.dims,
		e.contrib, e.ref.metric, e.cfg.LeaveOneOut, e.cfg.Workers)
	scale := 1 / (float64(e.nRef()) * e.normalizer())
	for i := range sums {
		sums[i] *= scale
	}
	return &Result{
		Densities: sums,
		Lower:     append([]float64(nil), sums...),
		Upper:     append([]float64(nil), sums...),
		Mode:      ModeNaive,
		Stats:     Stats{KernelEvaluations: int64(e.nq) * int64(e.nRef())},
	}
}

// verifySlack absorbs the rounding difference between the two evaluators'
// summation orders.
const verifySlack = 1e-9

// verify compares densities against the naive evaluator.
func (e *estimator) verify(densities []float64, log *slog.Logger) error {
	exact := e.naive().Densities
	log.Debug("verification", "max_relative_error", MaxRelativeError(densities, exact))

	for i, want := range exact {
		tol := (e.cfg.RelativeError+verifySlack)*want + e.cfg.AbsoluteError
		if diff := math.Abs(densities[i] - want); diff > tol {
			return fmt.Errorf("%w: query %d: got %g, exact %g (error %g > %g)",
				ErrVerification, i, densities[i], want, diff, tol)
		}
	}
	return nil
}
