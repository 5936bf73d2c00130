package models

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned when an edit or seed position is outside the
	// volume or too close to its edge. Nothing is mutated.
	ErrOutOfBounds = errors.New("position out of bounds")

	// ErrInvalidROI is returned for an ROI with min > max or bounds outside
	// the volume
	ErrInvalidROI = errors.New("invalid region of interest")

	// ErrInvalidThreshold is returned when lower > upper
	ErrInvalidThreshold = errors.New("invalid threshold range")

	// ErrInvalidSize is returned for a brush size below 1
	ErrInvalidSize = errors.New("invalid edit size")

	// ErrShapeMismatch is returned when volumes that must share a shape do not
	ErrShapeMismatch = errors.New("volume shape mismatch")

	// ErrNoVolume is returned when an operation needs a loaded volume
	ErrNoVolume = errors.New("no volume loaded")

	// ErrNoSegmentation is returned when an operation needs an active mask
	ErrNoSegmentation = errors.New("no active segmentation")
)

// ROI is the half-open box [min, max) a segmentation pass works on.
// min == max on an axis is allowed and yields an empty region.
type ROI struct {
	XMin, XMax int
	YMin, YMax int
	ZMin, ZMax int
}

// FullROI covers the whole volume
func FullROI(s Shape) ROI {
	return ROI{XMax: s.X, YMax: s.Y, ZMax: s.Z}
}

// Validate checks the ROI against a volume shape
func (r ROI) Validate(s Shape) error {
	bounds := [3][3]int{
		{r.XMin, r.XMax, s.X},
		{r.YMin, r.YMax, s.Y},
		{r.ZMin, r.ZMax, s.Z},
	}
	for axis, b := range bounds {
		if b[0] < 0 || b[0] > b[1] || b[1] > b[2] {
			return fmt.Errorf("%w: axis %c range [%d,%d) for dimension %d",
				ErrInvalidROI, "XYZ"[axis], b[0], b[1], b[2])
		}
	}
	return nil
}

// Shape returns the dimensions of the cropped sub-volume
func (r ROI) Shape() Shape {
	return Shape{X: r.XMax - r.XMin, Y: r.YMax - r.YMin, Z: r.ZMax - r.ZMin}
}

// Empty reports whether any axis has zero length
func (r ROI) Empty() bool {
	return r.Shape().Len() == 0
}

// Contains reports whether (x, y, z) lies inside the ROI
func (r ROI) Contains(x, y, z int) bool {
	return x >= r.XMin && x < r.XMax && y >= r.YMin && y < r.YMax && z >= r.ZMin && z < r.ZMax
}

func (r ROI) String() string {
	return fmt.Sprintf("x[%d,%d) y[%d,%d) z[%d,%d)", r.XMin, r.XMax, r.YMin, r.YMax, r.ZMin, r.ZMax)
}

// ThresholdRange holds inclusive intensity bounds
type ThresholdRange struct {
	Lower, Upper float64
}

// Validate fails fast on an inverted range
func (t ThresholdRange) Validate() error {
	if t.Lower > t.Upper {
		return fmt.Errorf("%w: lower %.1f > upper %.1f", ErrInvalidThreshold, t.Lower, t.Upper)
	}
	return nil
}

// Contains reports whether v lies in [Lower, Upper]
func (t ThresholdRange) Contains(v float64) bool {
	return v >= t.Lower && v <= t.Upper
}

// Relaxed returns the window used by manual edits and region growing.
// Only the lower bound is widened.
func (t ThresholdRange) Relaxed(tolerance float64) ThresholdRange {
	return ThresholdRange{Lower: t.Lower - tolerance, Upper: t.Upper}
}
