package main

import (
	"encoding/csv"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TrevorS/kde"
)

// estimateReport is the JSON/YAML form of an estimate run.
type estimateReport struct {
	Kernel    string    `json:"kernel" yaml:"kernel"`
	Bandwidth float64   `json:"bandwidth" yaml:"bandwidth"`
	KNN       int       `json:"knn,omitempty" yaml:"knn,omitempty"`
	Mode      string    `json:"mode" yaml:"mode"`
	Densities []float64 `json:"densities" yaml:"densities"`
	Lower     []float64 `json:"lower" yaml:"lower"`
	Upper     []float64 `json:"upper" yaml:"upper"`
	Stats     statsJSON `json:"stats" yaml:"stats"`
}

type statsJSON struct {
	PairsVisited      int   `json:"pairs_visited" yaml:"pairs_visited"`
	PrunedPairs       int   `json:"pruned_pairs" yaml:"pruned_pairs"`
	BaseCases         int   `json:"base_cases" yaml:"base_cases"`
	KernelEvaluations int64 `json:"kernel_evaluations" yaml:"kernel_evaluations"`
	Tasks             int   `json:"tasks" yaml:"tasks"`
}

func newEstimateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate densities at query points",
		Long: `Estimate the kernel density of the reference points at each query point.
Without --queries the density is evaluated at the reference points themselves.
A bandwidth of 0 selects one by Silverman's rule. With --knn k every reference
point instead gets the distance to its k-th nearest neighbour as bandwidth.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEstimate(opts)
		},
	}
	f := cmd.Flags()
	f.String("references", "", "CSV file of reference points (required)")
	f.String("queries", "", "CSV file of query points (default: the references)")
	f.String("kernel", string(kde.KernelGaussian), "kernel: gaussian, epanechnikov, uniform, triangular")
	f.Float64("bandwidth", 0, "kernel bandwidth (0 = Silverman's rule)")
	f.Int("knn", 0, "per-reference bandwidths from the k-th neighbour distance (0 = off)")
	f.Float64("tolerance", 0.01, "relative error bound")
	f.Float64("abs-tolerance", 0, "absolute error bound in density units")
	f.String("mode", string(kde.ModeAuto), "evaluator: auto, naive, dualtree")
	f.Int("naive-threshold", 4096, "auto mode runs naive up to this many query-reference pairs")
	f.Bool("loo", false, "leave each point out of its own density (self evaluation only)")
	f.Bool("skip-normalization", false, "report mean kernel sums instead of densities")
	f.Bool("verify", false, "check the result against the naive evaluator")
	addTreeFlags(f)
	addCommonFlags(f)
	return cmd
}

func addTreeFlags(f *pflag.FlagSet) {
	f.String("tree", string(kde.KDTree), "tree kind: kdtree, balltree")
	f.Int("leaf-size", kde.DefaultLeafSize, "maximum points per leaf")
	f.String("metric", "euclidean", "metric: euclidean, manhattan, chebyshev, minkowski")
	f.Float64("p", 2, "exponent for the minkowski metric")
	f.Bool("scale", false, "rescale every dimension to [0, 1] first; bandwidths are then in scaled units")
}

func addCommonFlags(f *pflag.FlagSet) {
	f.Int("workers", 0, "parallel workers (0 = number of CPUs)")
	f.String("format", formatCSV, "output format: csv, json, yaml")
	f.StringP("output", "o", "", "output file (default: stdout)")
}

func treeConfig(v *viper.Viper) (kde.TreeConfig, error) {
	metric, err := kde.ParseMetric(v.GetString("metric"), v.GetFloat64("p"))
	if err != nil {
		return kde.TreeConfig{}, err
	}
	return kde.TreeConfig{
		Kind:     kde.TreeKind(v.GetString("tree")),
		LeafSize: v.GetInt("leaf-size"),
		Metric:   metric,
	}, nil
}

// loadScaled reads the points at path and applies s when non-nil.
func loadScaled(path string, s *kde.Scaler) ([][]float64, error) {
	pts, err := readPoints(path)
	if err != nil || s == nil {
		return pts, err
	}
	return s.Transform(pts)
}

func runEstimate(opts *rootOptions) error {
	v := opts.v
	format := v.GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}
	refPath := v.GetString("references")
	if refPath == "" {
		return errors.New("--references is required")
	}
	tcfg, err := treeConfig(v)
	if err != nil {
		return err
	}

	refs, err := readPoints(refPath)
	if err != nil {
		return err
	}
	var scaler *kde.Scaler
	if v.GetBool("scale") {
		if scaler, err = kde.FitScaler(refs); err != nil {
			return err
		}
		if refs, err = scaler.Transform(refs); err != nil {
			return err
		}
	}

	cfg := kde.DefaultConfig()
	cfg.Kernel = kde.KernelName(v.GetString("kernel"))
	cfg.Bandwidth = v.GetFloat64("bandwidth")
	cfg.RelativeError = v.GetFloat64("tolerance")
	cfg.AbsoluteError = v.GetFloat64("abs-tolerance")
	cfg.Mode = kde.Mode(v.GetString("mode"))
	cfg.NaiveThreshold = v.GetInt("naive-threshold")
	cfg.LeaveOneOut = v.GetBool("loo")
	cfg.SkipNormalization = v.GetBool("skip-normalization")
	cfg.Verify = v.GetBool("verify")
	cfg.Workers = v.GetInt("workers")
	cfg.Logger = opts.logger

	knn := v.GetInt("knn")
	if knn != 0 {
		cfg.Bandwidth = 0
	} else if cfg.Bandwidth == 0 {
		if cfg.Bandwidth, err = kde.SilvermanBandwidth(refs); err != nil {
			return err
		}
		opts.logger.Info("selected bandwidth by Silverman's rule", "bandwidth", cfg.Bandwidth)
	}

	tree, err := kde.NewTree(refs, tcfg)
	if err != nil {
		return err
	}
	opts.logger.Debug("built reference tree",
		"kind", tree.Kind(), "points", tree.NumPoints(), "nodes", tree.NumNodes())
	if knn != 0 {
		if cfg.Bandwidths, err = kde.KNNBandwidths(tree, knn); err != nil {
			return err
		}
		opts.logger.Info("selected per-reference bandwidths", "k", knn)
	}

	var res *kde.Result
	if qPath := v.GetString("queries"); qPath != "" {
		queries, err := loadScaled(qPath, scaler)
		if err != nil {
			return err
		}
		res, err = kde.Estimate(queries, tree, cfg)
		if err != nil {
			return err
		}
	} else {
		res, err = kde.EstimateSelf(tree, cfg)
		if err != nil {
			return err
		}
	}

	if scaler != nil && !cfg.SkipNormalization {
		f := scaler.DensityFactor()
		for i := range res.Densities {
			res.Densities[i] *= f
			res.Lower[i] *= f
			res.Upper[i] *= f
		}
	}
	opts.logger.Info("estimated densities",
		"queries", len(res.Densities), "mode", res.Mode, "pruned", res.Stats.PrunedPairs)

	w, closeOut, err := openOutput(v.GetString("output"), opts.stdout)
	if err != nil {
		return err
	}
	report := estimateReport{
		Kernel:    string(cfg.Kernel),
		Bandwidth: cfg.Bandwidth,
		KNN:       knn,
		Mode:      string(res.Mode),
		Densities: res.Densities,
		Lower:     res.Lower,
		Upper:     res.Upper,
		Stats: statsJSON{
			PairsVisited:      res.Stats.PairsVisited,
			PrunedPairs:       res.Stats.PrunedPairs,
			BaseCases:         res.Stats.BaseCases,
			KernelEvaluations: res.Stats.KernelEvaluations,
			Tasks:             res.Stats.Tasks,
		},
	}
	err = writeReport(w, format, report, func(cw *csv.Writer) error {
		for _, d := range res.Densities {
			if err := cw.Write([]string{formatFloat(d)}); err != nil {
				return err
			}
		}
		return nil
	})
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	return err
}
