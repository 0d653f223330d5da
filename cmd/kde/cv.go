package main

import (
	"context"
	"encoding/csv"
	"errors"
	"math"

	"github.com/spf13/cobra"

	"github.com/TrevorS/kde"
)

// defaultGridSize is the number of candidates tried when neither
// --candidates nor --grid is given.
const defaultGridSize = 15

// cvReport is the JSON/YAML form of a cross-validation run. Infinite scores
// are reported as null. Scaled marks bandwidths measured in --scale units.
type cvReport struct {
	Kernel    string     `json:"kernel" yaml:"kernel"`
	Criterion string     `json:"criterion" yaml:"criterion"`
	Scaled    bool       `json:"scaled" yaml:"scaled"`
	Bandwidth float64    `json:"bandwidth" yaml:"bandwidth"`
	Score     *float64   `json:"score" yaml:"score"`
	Table     []cvRowOut `json:"table" yaml:"table"`
}

type cvRowOut struct {
	Bandwidth float64  `json:"bandwidth" yaml:"bandwidth"`
	Score     *float64 `json:"score" yaml:"score"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func newCVCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cv",
		Short: "Select a bandwidth by cross-validation",
		Long: `Score candidate bandwidths on the reference points and report the best.
Candidates come from --candidates, from a log-spaced --grid lo:hi:n, or by
default from a grid spanning a decade either side of Silverman's rule.

With --scale the points are min-max scaled first and every bandwidth,
candidates included, is in scaled units. Pass the result to
"estimate --scale" unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCV(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.String("references", "", "CSV file of points (required)")
	f.String("kernel", string(kde.KernelGaussian), "kernel: gaussian, epanechnikov, uniform, triangular")
	f.String("candidates", "", "comma-separated candidate bandwidths")
	f.String("grid", "", "log-spaced candidates as lo:hi:n")
	f.String("criterion", string(kde.CriterionLikelihood), "criterion: likelihood, least_squares")
	f.Float64("tolerance", 0.01, "relative error bound for each evaluation")
	f.Duration("timeout", 0, "abort the sweep after this long (0 = no limit)")
	addTreeFlags(f)
	addCommonFlags(f)
	return cmd
}

func candidates(opts *rootOptions, points [][]float64) ([]float64, error) {
	v := opts.v
	if s := v.GetString("candidates"); s != "" {
		return parseCandidates(s)
	}
	if g := v.GetString("grid"); g != "" {
		lo, hi, n, err := parseGrid(g)
		if err != nil {
			return nil, err
		}
		return kde.BandwidthGrid(lo, hi, n)
	}
	h, err := kde.SilvermanBandwidth(points)
	if err != nil {
		return nil, err
	}
	opts.logger.Info("candidate grid around Silverman's rule", "bandwidth", h)
	return kde.BandwidthGrid(h/10, h*10, defaultGridSize)
}

func runCV(ctx context.Context, opts *rootOptions) error {
	v := opts.v
	format := v.GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}
	path := v.GetString("references")
	if path == "" {
		return errors.New("--references is required")
	}
	tcfg, err := treeConfig(v)
	if err != nil {
		return err
	}

	points, err := readPoints(path)
	if err != nil {
		return err
	}
	if v.GetBool("scale") {
		s, err := kde.FitScaler(points)
		if err != nil {
			return err
		}
		if points, err = s.Transform(points); err != nil {
			return err
		}
	}

	cfg := kde.DefaultCVConfig()
	cfg.Kernel = kde.KernelName(v.GetString("kernel"))
	cfg.Criterion = kde.Criterion(v.GetString("criterion"))
	cfg.Tree = tcfg
	cfg.RelativeError = v.GetFloat64("tolerance")
	cfg.Workers = v.GetInt("workers")
	cfg.Logger = opts.logger
	if cfg.Candidates, err = candidates(opts, points); err != nil {
		return err
	}

	if timeout := v.GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := kde.CrossValidateBandwidth(ctx, points, cfg)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(v.GetString("output"), opts.stdout)
	if err != nil {
		return err
	}
	report := cvReport{
		Kernel:    string(cfg.Kernel),
		Criterion: string(cfg.Criterion),
		Scaled:    v.GetBool("scale"),
		Bandwidth: res.Bandwidth,
		Score:     finiteOrNil(res.Score),
	}
	for _, row := range res.Table {
		report.Table = append(report.Table, cvRowOut{Bandwidth: row.Bandwidth, Score: finiteOrNil(row.Score)})
	}
	err = writeReport(w, format, report, func(cw *csv.Writer) error {
		if err := cw.Write([]string{"bandwidth", "score"}); err != nil {
			return err
		}
		for _, row := range res.Table {
			if err := cw.Write([]string{formatFloat(row.Bandwidth), formatFloat(row.Score)}); err != nil {
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
