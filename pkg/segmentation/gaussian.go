package segmentation

import (
	"math"

	"ctsegment/internal/models"
)

// gaussianWeights returns the unnormalized 1D kernel exp(-x²/2σ²) for
// x in [-r, r] with r = int(truncate*sigma + 0.5)
func gaussianWeights(sigma, truncate float64) []float64 {
	r := int(truncate*sigma + 0.5)
	w := make([]float64, 2*r+1)
	for i := -r; i <= r; i++ {
		w[i+r] = math.Exp(-float64(i*i) / (2 * sigma * sigma))
	}
	return w
}

// reflect maps i onto [0, n) mirroring about the edges with the edge sample
// repeated (d c b a | a b c d | d c b a)
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// gaussianBlur3D smooths vol along X, Y and Z in turn. Each output sample is
// divided by the sum of the weights taken in the same order, so a constant
// input is reproduced exactly. The blur couples neighboring slices and must
// run as one pass over the whole volume.
func gaussianBlur3D(vol []float64, s models.Shape, sigma, truncate float64) []float64 {
	out := make([]float64, len(vol))
	copy(out, vol)
	if sigma <= 0 || s.Len() == 0 {
		return out
	}

	w := gaussianWeights(sigma, truncate)
	var wsum float64
	for _, v := range w {
		wsum += v
	}
	r := len(w) / 2

	line := make([]float64, 0, max(s.X, s.Y, s.Z))
	for axis := 0; axis < 3; axis++ {
		n := s.Dim(axis)
		stride := 1
		switch axis {
		case 1:
			stride = s.X
		case 2:
			stride = s.X * s.Y
		}

		for base := 0; base < len(out); base++ {
			// visit each line once, from its first sample
			if (base/stride)%n != 0 {
				continue
			}
			line = line[:0]
			for i := 0; i < n; i++ {
				line = append(line, out[base+i*stride])
			}
			for i := 0; i < n; i++ {
				var acc float64
				for k := -r; k <= r; k++ {
					acc += w[k+r] * line[reflect(i+k, n)]
				}
				out[base+i*stride] = acc / wsum
			}
		}
	}
	return out
}
