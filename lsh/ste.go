package lsh

// StraightThrough propagates upstream gradients through the sign operation
// as if it were the identity: each coordinate of the upstream gradient is
// passed unchanged while the matching pre-sign magnitude stays inside the
// clip window, and zeroed outside it. A non-positive clip disables clipping.
func StraightThrough(upstream, raw []float64, clip float64) ([]float64, error) {
	if len(upstream) == 0 || len(upstream) != len(raw) {
		return nil, ErrDimensionMismatch
	}
	out := make([]float64, len(upstream))
	copy(out, upstream)
	if clip <= 0 {
		return out, nil
	}
	for i, x := range raw {
		if x > clip || x < -clip {
			out[i] = 0
		}
	}
	return out, nil
}
