package kde

// Scaler maps points into the unit hypercube with a per-dimension affine
// transform fitted on a reference set. Densities estimated on scaled points
// convert back to the original space with DensityFactor.
type Scaler struct {
	Min   []float64 // per-dimension minimum of the fitted points
	Scale []float64 // per-dimension range; 1 where the range is zero
}

// FitScaler records the per-dimension minimum and range of points.
func FitScaler(points [][]float64) (*Scaler, error) {
	data, n, dims, err := flattenPoints(points)
	if err != nil {
		return nil, err
	}
	s := &Scaler{Min: make([]float64, dims), Scale: make([]float64, dims)}
	for j := 0; j < dims; j++ {
		lo, hi := data[j], data[j]
		for i := 1; i < n; i++ {
			v := data[i*dims+j]
			lo = min(lo, v)
			hi = max(hi, v)
		}
		s.Min[j] = lo
		if hi > lo {
			s.Scale[j] = hi - lo
		} else {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Dims returns the dimensionality the scaler was fitted on.
func (s *Scaler) Dims() int { return len(s.Min) }

// Transform returns scaled copies of points. Points of the fitted set land
// in [0, 1] along every dimension; other points may fall outside.
func (s *Scaler) Transform(points [][]float64) ([][]float64, error) {
	out := make([][]float64, len(points))
	for i, p := range points {
		if len(p) != s.Dims() {
			return nil, invalidInputf("point %d has %d dimensions, scaler has %d", i, len(p), s.Dims())
		}
		row := make([]float64, len(p))
		for j, v := range p {
			row[j] = (v - s.Min[j]) / s.Scale[j]
		}
		out[i] = row
	}
	return out, nil
}

// DensityFactor returns the Jacobian of the transform, Π 1/Scale[j].
// Multiplying a density estimated in scaled space by it gives the density in
// the original space.
func (s *Scaler) DensityFactor() float64 {
	f := 1.0
	for _, sc := range s.Scale {
		f /= sc
	}
	return f
}
