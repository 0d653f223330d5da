package kde

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SilvermanBandwidth returns Silverman's rule-of-thumb bandwidth for points,
// (4/((D+2)·n))^(1/(D+4)) · σ, where σ is the mean per-dimension standard
// deviation. It is a reasonable starting point for Gaussian kernels on
// roughly normal data.
func SilvermanBandwidth(points [][]float64) (float64, error) {
	sigma, n, dims, err := meanSpread(points)
	if err != nil {
		return 0, err
	}
	d := float64(dims)
	return math.Pow(4/((d+2)*float64(n)), 1/(d+4)) * sigma, nil
}

// ScottBandwidth returns Scott's rule-of-thumb bandwidth for points,
// n^(-1/(D+4)) · σ, where σ is the mean per-dimension standard deviation.
func ScottBandwidth(points [][]float64) (float64, error) {
	sigma, n, dims, err := meanSpread(points)
	if err != nil {
		return 0, err
	}
	return math.Pow(float64(n), -1/(float64(dims)+4)) * sigma, nil
}

// meanSpread returns the mean per-dimension sample standard deviation.
func meanSpread(points [][]float64) (sigma float64, n, dims int, err error) {
	data, n, dims, err := flattenPoints(points)
	if err != nil {
		return 0, 0, 0, err
	}
	if n < 2 {
		return 0, 0, 0, invalidInputf("a bandwidth rule needs at least 2 points, got %d", n)
	}
	col := make([]float64, n)
	for j := 0; j < dims; j++ {
		for i := 0; i < n; i++ {
			col[i] = data[i*dims+j]
		}
		sigma += stat.StdDev(col, nil)
	}
	sigma /= float64(dims)
	if !(sigma > 0) {
		return 0, 0, 0, invalidInputf("points have zero spread")
	}
	return sigma, n, dims, nil
}

// BandwidthGrid returns n bandwidths spaced evenly on a log scale from lo to
// hi inclusive, ready for CVConfig.Candidates.
func BandwidthGrid(lo, hi float64, n int) ([]float64, error) {
	if !(lo > 0) || math.IsInf(hi, 1) || !(hi >= lo) {
		return nil, configErrorf("bandwidth grid needs 0 < lo <= hi < Inf, got [%v, %v]", lo, hi)
	}
	if n < 1 {
		return nil, configErrorf("bandwidth grid needs n >= 1, got %d", n)
	}
	if n == 1 {
		return []float64{lo}, nil
	}
	return floats.LogSpan(make([]float64, n), lo, hi), nil
}
