package models

import (
	"fmt"
)

// Shape holds the dimensions of a volume in voxels.
// Voxel (x, y, z) is stored at flat index x + X*(y + Y*z).
type Shape struct {
	X, Y, Z int
}

// Len returns the number of voxels in the shape
func (s Shape) Len() int {
	if s.X <= 0 || s.Y <= 0 || s.Z <= 0 {
		return 0
	}
	return s.X * s.Y * s.Z
}

// Index returns the flat offset of voxel (x, y, z)
func (s Shape) Index(x, y, z int) int {
	return x + s.X*(y+s.Y*z)
}

// Contains reports whether (x, y, z) lies inside the shape
func (s Shape) Contains(x, y, z int) bool {
	return x >= 0 && x < s.X && y >= 0 && y < s.Y && z >= 0 && z < s.Z
}

// Dim returns the extent along axis 0 (X), 1 (Y) or 2 (Z)
func (s Shape) Dim(axis int) int {
	switch axis {
	case 0:
		return s.X
	case 1:
		return s.Y
	default:
		return s.Z
	}
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.X, s.Y, s.Z)
}

// IntensityVolume is the original scanner volume, e.g. Hounsfield units.
// It is the source of truth for every intensity comparison and is never
// written to after loading.
type IntensityVolume struct {
	Shape Shape

	// Data holds one signed intensity per voxel
	Data []int16
}

// NewIntensityVolume allocates a zero volume of the given shape
func NewIntensityVolume(shape Shape) *IntensityVolume {
	return &IntensityVolume{Shape: shape, Data: make([]int16, shape.Len())}
}

// At returns the intensity at (x, y, z)
func (v *IntensityVolume) At(x, y, z int) int16 {
	return v.Data[v.Shape.Index(x, y, z)]
}

// Validate checks that the payload matches the declared shape
func (v *IntensityVolume) Validate() error {
	if v == nil {
		return ErrNoVolume
	}
	if len(v.Data) != v.Shape.Len() {
		return fmt.Errorf("%w: %d voxels for shape %s", ErrShapeMismatch, len(v.Data), v.Shape)
	}
	return nil
}

// Mask is the filtered segmentation volume. Values are 0 or 1 right after
// thresholding and editing, and soft (between 0 and 1) near boundaries after
// the Gaussian smoothing step.
type Mask struct {
	Shape Shape
	Data  []float64
}

// NewMask allocates an all-zero mask
func NewMask(shape Shape) *Mask {
	return &Mask{Shape: shape, Data: make([]float64, shape.Len())}
}

// At returns the mask value at (x, y, z)
func (m *Mask) At(x, y, z int) float64 {
	return m.Data[m.Shape.Index(x, y, z)]
}

// Set stores a mask value at (x, y, z)
func (m *Mask) Set(x, y, z int, v float64) {
	m.Data[m.Shape.Index(x, y, z)] = v
}

// Clone returns a deep copy
func (m *Mask) Clone() *Mask {
	out := &Mask{Shape: m.Shape, Data: make([]float64, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// CountNonZero returns the number of voxels with a value above zero
func (m *Mask) CountNonZero() int {
	n := 0
	for _, v := range m.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

// RGB is one overlay color
type RGB struct {
	R, G, B int32
}

// Overlay is the visualization volume: the grayscale original replicated
// into three interleaved channels with accepted voxels recolored.
type Overlay struct {
	Shape Shape

	// Data holds R, G, B for voxel i at 3*i, 3*i+1, 3*i+2
	Data []int32
}

// NewOverlay allocates an all-zero overlay
func NewOverlay(shape Shape) *Overlay {
	return &Overlay{Shape: shape, Data: make([]int32, 3*shape.Len())}
}

// NewGrayOverlay replicates the original intensities into all three channels
func NewGrayOverlay(v *IntensityVolume) *Overlay {
	o := NewOverlay(v.Shape)
	for i, val := range v.Data {
		c := int32(val)
		o.Data[3*i] = c
		o.Data[3*i+1] = c
		o.Data[3*i+2] = c
	}
	return o
}

// At returns the color at (x, y, z)
func (o *Overlay) At(x, y, z int) RGB {
	i := 3 * o.Shape.Index(x, y, z)
	return RGB{R: o.Data[i], G: o.Data[i+1], B: o.Data[i+2]}
}

// Set stores a color at (x, y, z)
func (o *Overlay) Set(x, y, z int, c RGB) {
	i := 3 * o.Shape.Index(x, y, z)
	o.Data[i] = c.R
	o.Data[i+1] = c.G
	o.Data[i+2] = c.B
}

// Clone returns a deep copy
func (o *Overlay) Clone() *Overlay {
	out := &Overlay{Shape: o.Shape, Data: make([]int32, len(o.Data))}
	copy(out.Data, o.Data)
	return out
}

// Index is a resolved volume-space voxel coordinate
type Index struct {
	X, Y, Z int
}

// Axis returns the coordinate along axis 0 (X), 1 (Y) or 2 (Z)
func (i Index) Axis(axis int) int {
	switch axis {
	case 0:
		return i.X
	case 1:
		return i.Y
	default:
		return i.Z
	}
}

func (i Index) String() string {
	return fmt.Sprintf("(%d,%d,%d)", i.X, i.Y, i.Z)
}
