package kde

import "math"

// EvaluateNaive computes the kernel density at every query by summing the
// kernel over every reference point, then dividing by the reference count
// and the kernel normalizer. It is O(|queries|·|references|) and serves as
// the ground truth for the tree evaluator.
func EvaluateNaive(queries, references [][]float64, kernel Kernel, metric DistanceMetric) ([]float64, error) {
	if kernel == nil {
		return nil, configErrorf("kernel is nil")
	}
	if metric == nil {
		metric = EuclideanMetric{}
	}
	qData, nq, qDims, err := flattenPoints(queries)
	if err != nil {
		return nil, err
	}
	rData, nr, rDims, err := flattenPoints(references)
	if err != nil {
		return nil, err
	}
	if qDims != rDims {
		return nil, invalidInputf("queries have %d dimensions, references have %d", qDims, rDims)
	}

	sums := naiveKernelSums(qData, nq, rData, nr, qDims, kernel, metric, false, 1)
	scale := 1 / (float64(nr) * kernel.Normalizer(qDims))
	for i := range sums {
		sums[i] *= scale
	}
	return sums, nil
}

// naiveKernelSums returns, for every query row, the unnormalized kernel sum
// over all reference rows. With leaveOneOut the queries must be the
// references and row i skips itself. Rows are split across numWorkers
// goroutines; each query's sum is accumulated in reference order, so the
// result does not depend on numWorkers.
func naiveKernelSums(qData []float64, nq int, rData []float64, nr, dims int,
	kernel Kernel, metric DistanceMetric, leaveOneOut bool, numWorkers int) []float64 {
	return naiveSums(qData, nq, rData, nr, dims, fixedKernel{kernel}, metric, leaveOneOut, numWorkers)
}

// naiveSums is naiveKernelSums with per-reference contributions.
func naiveSums(qData []float64, nq int, rData []float64, nr, dims int,
	contrib refKernel, metric DistanceMetric, leaveOneOut bool, numWorkers int) []float64 {
	sums := make([]float64, nq)

	rowRange := func(start, end int) {
		for i := start; i < end; i++ {
			q := qData[i*dims : (i+1)*dims]
			var s float64
			for j := 0; j < nr; j++ {
				if leaveOneOut && i == j {
					continue
				}
				s += contrib.value(metric.Distance(q, rData[j*dims:(j+1)*dims]), j)
			}
			sums[i] = s
		}
	}

	parallelRows(nq, numWorkers, rowRange)
	return sums
}

// MaxRelativeError returns the largest |approx[i] - exact[i]| / exact[i]
// over all i. Entries where exact is zero contribute their absolute error.
func MaxRelativeError(approx, exact []float64) float64 {
	var worst float64
	for i := range exact {
		diff := math.Abs(approx[i] - exact[i])
		if exact[i] != 0 {
			diff /= math.Abs(exact[i])
		}
		if diff > worst {
			worst = diff
		}
	}
	return worst
}
