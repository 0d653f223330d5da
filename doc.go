// Package kde implements kernel density estimation with dual-tree
// evaluation.
//
// A density estimate at a query point q is the average kernel value between
// q and every reference point, divided by the kernel's normalizing
// constant. Computing it directly costs one kernel evaluation per
// (query, reference) pair. The dual-tree evaluator indexes both sets in a
// metric tree and resolves whole node pairs at once whenever the kernel's
// range over the pair is narrow enough, keeping every density within a
// caller-chosen relative error of the exact value.
//
// Basic usage:
//
//	ref, err := kde.NewTree(points, kde.DefaultTreeConfig())
//	cfg := kde.DefaultConfig()
//	cfg.Bandwidth = 0.5
//	cfg.RelativeError = 0.01
//	densities, err := kde.EvaluateDensity(queries, ref, cfg)
//	// |densities[i] - exact[i]| <= 0.01 * exact[i]
//
// Leave-one-out densities at the reference points themselves:
//
//	cfg.LeaveOneOut = true
//	res, err := kde.EstimateSelf(ref, cfg)
//
// Bandwidth selection by cross-validation:
//
//	cv := kde.DefaultCVConfig()
//	cv.Candidates, _ = kde.BandwidthGrid(0.05, 5, 20)
//	best, err := kde.CrossValidateBandwidth(ctx, points, cv)
//	// best.Bandwidth minimizes best.Scores
//
// Adaptive bandwidths, one per reference point, from the distance to each
// point's 10th nearest neighbour:
//
//	cfg.Bandwidths, err = kde.KNNBandwidths(ref, 10)
//	res, err := kde.EstimateSelf(ref, cfg)
//
// # Trees
//
// KD-trees (TreeConfig.Kind: "kdtree") bound nodes with axis-aligned boxes
// and support the Lp metrics. Ball trees ("balltree") bound nodes with
// enclosing balls and also accept any metric through [DistanceFunc].
//
// # Evaluation modes
//
// Config.Mode selects the evaluator. "auto" runs the naive evaluator when
// the number of query-reference pairs is at most Config.NaiveThreshold and
// the dual-tree evaluator otherwise. Results do not depend on
// Config.Workers.
package kde
