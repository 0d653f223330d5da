package kde

import (
	"math"
	"strings"
)

// KernelName identifies a kernel family.
type KernelName string

const (
	KernelGaussian     KernelName = "gaussian"
	KernelEpanechnikov KernelName = "epanechnikov"
	KernelUniform      KernelName = "uniform"
	KernelTriangular   KernelName = "triangular"
)

// Kernel is a non-negative, non-increasing function of distance scaled by a
// bandwidth. UpperBound and LowerBound bound Evaluate over every distance in
// [lo, hi]; together with the tree's distance bounds they decide pruning.
type Kernel interface {
	Name() KernelName
	Bandwidth() float64

	// Evaluate returns the unnormalized kernel weight at distance dist.
	Evaluate(dist float64) float64

	// UpperBound returns the largest value Evaluate takes on [lo, hi].
	UpperBound(lo, hi float64) float64

	// LowerBound returns the smallest value Evaluate takes on [lo, hi].
	LowerBound(lo, hi float64) float64

	// Normalizer returns the integral of Evaluate over R^dims under the
	// Euclidean metric. Dividing by it turns kernel sums into densities.
	Normalizer(dims int) float64
}

// NewKernel returns the kernel of the named family with bandwidth h.
func NewKernel(name KernelName, h float64) (Kernel, error) {
	if !(h > 0) || math.IsInf(h, 1) {
		return nil, configErrorf("bandwidth must be positive and finite, got %v", h)
	}
	switch KernelName(strings.ToLower(string(name))) {
	case KernelGaussian:
		return GaussianKernel{H: h}, nil
	case KernelEpanechnikov:
		return EpanechnikovKernel{H: h}, nil
	case KernelUniform:
		return UniformKernel{H: h}, nil
	case KernelTriangular:
		return TriangularKernel{H: h}, nil
	default:
		return nil, configErrorf("unknown kernel %q", name)
	}
}

// unitBallVolume returns the volume of the unit Euclidean ball in R^dims.
func unitBallVolume(dims int) float64 {
	d := float64(dims)
	lg, _ := math.Lgamma(d/2 + 1)
	return math.Exp(d/2*math.Log(math.Pi) - lg)
}

// GaussianKernel is exp(-d²/2h²).
type GaussianKernel struct {
	H float64
}

func (GaussianKernel) Name() KernelName     { return KernelGaussian }
func (k GaussianKernel) Bandwidth() float64 { return k.H }

func (k GaussianKernel) Evaluate(dist float64) float64 {
	u := dist / k.H
	return math.Exp(-0.5 * u * u)
}

func (k GaussianKernel) UpperBound(lo, _ float64) float64 { return k.Evaluate(lo) }
func (k GaussianKernel) LowerBound(_, hi float64) float64 { return k.Evaluate(hi) }

func (k GaussianKernel) Normalizer(dims int) float64 {
	return math.Pow(2*math.Pi*k.H*k.H, float64(dims)/2)
}

// EpanechnikovKernel is max(0, 1 - (d/h)²).
type EpanechnikovKernel struct {
	H float64
}

func (EpanechnikovKernel) Name() KernelName     { return KernelEpanechnikov }
func (k EpanechnikovKernel) Bandwidth() float64 { return k.H }

func (k EpanechnikovKernel) Evaluate(dist float64) float64 {
	u := dist / k.H
	if u >= 1 {
		return 0
	}
	return 1 - u*u
}

func (k EpanechnikovKernel) UpperBound(lo, _ float64) float64 { return k.Evaluate(lo) }
func (k EpanechnikovKernel) LowerBound(_, hi float64) float64 { return k.Evaluate(hi) }

func (k EpanechnikovKernel) Normalizer(dims int) float64 {
	return 2 * unitBallVolume(dims) * math.Pow(k.H, float64(dims)) / float64(dims+2)
}

// UniformKernel (top-hat) is 1 within distance h and 0 beyond it.
type UniformKernel struct {
	H float64
}

func (UniformKernel) Name() KernelName     { return KernelUniform }
func (k UniformKernel) Bandwidth() float64 { return k.H }

func (k UniformKernel) Evaluate(dist float64) float64 {
	if dist <= k.H {
		return 1
	}
	return 0
}

func (k UniformKernel) UpperBound(lo, _ float64) float64 { return k.Evaluate(lo) }
func (k UniformKernel) LowerBound(_, hi float64) float64 { return k.Evaluate(hi) }

func (k UniformKernel) Normalizer(dims int) float64 {
	return unitBallVolume(dims) * math.Pow(k.H, float64(dims))
}

// TriangularKernel is max(0, 1 - d/h).
type TriangularKernel struct {
	H float64
}

func (TriangularKernel) Name() KernelName     { return KernelTriangular }
func (k TriangularKernel) Bandwidth() float64 { return k.H }

func (k TriangularKernel) Evaluate(dist float64) float64 {
	u := dist / k.H
	if u >= 1 {
		return 0
	}
	return 1 - u
}

func (k TriangularKernel) UpperBound(lo, _ float64) float64 { return k.Evaluate(lo) }
func (k TriangularKernel) LowerBound(_, hi float64) float64 { return k.Evaluate(hi) }

func (k TriangularKernel) Normalizer(dims int) float64 {
	return unitBallVolume(dims) * math.Pow(k.H, float64(dims)) / float64(dims+1)
}
