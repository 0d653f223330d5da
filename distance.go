package kde

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// DistanceMetric measures the distance between two points of equal length.
// Tree pruning relies on the triangle inequality, so implementations must be
// true metrics.
type DistanceMetric interface {
	Distance(a, b []float64) float64
}

// DistanceFunc adapts a plain function into a DistanceMetric. Only ball trees
// accept it, since box bounds need to know how the metric combines axes.
type DistanceFunc func(a, b []float64) float64

func (f DistanceFunc) Distance(a, b []float64) float64 { return f(a, b) }

// EuclideanMetric computes the Euclidean (L2) distance.
type EuclideanMetric struct{}

func (EuclideanMetric) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ManhattanMetric computes the Manhattan (L1 / city-block) distance.
type ManhattanMetric struct{}

func (ManhattanMetric) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

// ChebyshevMetric computes the Chebyshev (L-infinity) distance.
type ChebyshevMetric struct{}

func (ChebyshevMetric) Distance(a, b []float64) float64 {
	var maxVal float64
	for i := range a {
		if v := math.Abs(a[i] - b[i]); v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

// MinkowskiMetric computes the Minkowski distance parameterized by P.
// P must be >= 1 for the result to be a metric; trees reject smaller values.
type MinkowskiMetric struct {
	P float64
}

func (m MinkowskiMetric) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, m.P)
}

// metricP returns the Lp exponent of an axis-decomposable metric and whether
// the metric is one. Chebyshev reports +Inf.
func metricP(m DistanceMetric) (float64, bool) {
	switch v := m.(type) {
	case EuclideanMetric:
		return 2, true
	case ManhattanMetric:
		return 1, true
	case ChebyshevMetric:
		return math.Inf(1), true
	case MinkowskiMetric:
		return v.P, v.P >= 1
	default:
		return 0, false
	}
}

// MetricName returns a short lowercase name for the built-in metrics and
// "custom" for anything else.
func MetricName(m DistanceMetric) string {
	switch m.(type) {
	case EuclideanMetric:
		return "euclidean"
	case ManhattanMetric:
		return "manhattan"
	case ChebyshevMetric:
		return "chebyshev"
	case MinkowskiMetric:
		return "minkowski"
	default:
		return "custom"
	}
}

// ParseMetric returns the built-in metric with the given name. p is the
// Minkowski exponent and is ignored for the other metrics.
func ParseMetric(name string, p float64) (DistanceMetric, error) {
	switch strings.ToLower(name) {
	case "", "euclidean", "l2":
		return EuclideanMetric{}, nil
	case "manhattan", "cityblock", "l1":
		return ManhattanMetric{}, nil
	case "chebyshev", "linf":
		return ChebyshevMetric{}, nil
	case "minkowski":
		if !(p >= 1) || math.IsInf(p, 1) {
			return nil, configErrorf("Minkowski exponent must be finite and >= 1, got %v", p)
		}
		return MinkowskiMetric{P: p}, nil
	default:
		return nil, configErrorf("unknown metric %q", name)
	}
}

// lpCombine folds per-axis non-negative magnitudes into an Lp norm. It is
// the aggregation step shared by the box-to-box distance bounds.
type lpCombine struct {
	p   float64
	acc float64
}

func (c *lpCombine) add(v float64) {
	switch {
	case math.IsInf(c.p, 1):
		if v > c.acc {
			c.acc = v
		}
	case c.p == 1:
		c.acc += v
	case c.p == 2:
		c.acc += v * v
	default:
		c.acc += math.Pow(v, c.p)
	}
}

func (c *lpCombine) result() float64 {
	switch {
	case math.IsInf(c.p, 1), c.p == 1:
		return c.acc
	case c.p == 2:
		return math.Sqrt(c.acc)
	default:
		return math.Pow(c.acc, 1/c.p)
	}
}
