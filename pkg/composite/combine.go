// Package composite merges the masks accepted over several segmentation
// passes into one labeled volume.
package composite

import (
	"ctsegment/internal/models"
)

// DefaultScaleFactor multiplies masks that share the reference depth
const DefaultScaleFactor = 100

// LabelVolume is the combined result handed to the export adapter
type LabelVolume struct {
	Shape models.Shape
	Data  []int64
}

// At returns the label at (x, y, z)
func (l *LabelVolume) At(x, y, z int) int64 {
	return l.Data[l.Shape.Index(x, y, z)]
}

// Combiner accumulates saved masks
type Combiner struct {
	// ScaleFactor is applied to masks whose depth matches the reference
	ScaleFactor float64
}

// NewCombiner creates a combiner with the given scale factor, or the default
// when scale is not positive
func NewCombiner(scale float64) *Combiner {
	if scale <= 0 {
		scale = DefaultScaleFactor
	}
	return &Combiner{ScaleFactor: scale}
}

// Combine sums the saved masks into a volume of shape ref.
//
// A mask whose Z extent matches ref is scaled by ScaleFactor. A mask with a
// different Z extent (for example one imported from another series) is
// placed at the origin unscaled and clipped to ref. Values are truncated to
// integers per mask before accumulation.
//
// Overlapping masks add up rather than saturate, so the result encodes how
// many passes claimed each voxel. The sum is independent of mask order.
func (c *Combiner) Combine(saved []*models.Mask, ref models.Shape) *LabelVolume {
	out := &LabelVolume{Shape: ref, Data: make([]int64, ref.Len())}
	for _, m := range saved {
		if m == nil {
			continue
		}
		factor := c.ScaleFactor
		if m.Shape.Z != ref.Z {
			factor = 1
		}
		accumulate(out, m, factor)
	}
	return out
}

// Combine merges masks with the default scale factor
func Combine(saved []*models.Mask, ref models.Shape) *LabelVolume {
	return NewCombiner(DefaultScaleFactor).Combine(saved, ref)
}

func accumulate(out *LabelVolume, m *models.Mask, factor float64) {
	nx := min(m.Shape.X, out.Shape.X)
	ny := min(m.Shape.Y, out.Shape.Y)
	nz := min(m.Shape.Z, out.Shape.Z)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			src := m.Shape.Index(0, y, z)
			dst := out.Shape.Index(0, y, z)
			for x := 0; x < nx; x++ {
				out.Data[dst+x] += int64(m.Data[src+x] * factor)
			}
		}
	}
}

// Stats counts labeled voxels and the largest accumulated value
func (l *LabelVolume) Stats() (nonZero int, peak int64) {
	for _, v := range l.Data {
		if v != 0 {
			nonZero++
		}
		if v > peak {
			peak = v
		}
	}
	return nonZero, peak
}
