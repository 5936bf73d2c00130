package models

import (
	"fmt"
	"strings"
)

// Plane is the anatomical viewing plane an input event was made on
type Plane int

const (
	Axial Plane = iota
	Sagittal
	Coronal
)

// ParsePlane accepts "axial", "sagittal" or "coronal"
func ParsePlane(s string) (Plane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "axial", "":
		return Axial, nil
	case "sagittal":
		return Sagittal, nil
	case "coronal":
		return Coronal, nil
	}
	return Axial, fmt.Errorf("unknown plane %q (must be axial, sagittal or coronal)", s)
}

func (p Plane) String() string {
	switch p {
	case Sagittal:
		return "sagittal"
	case Coronal:
		return "coronal"
	default:
		return "axial"
	}
}

// SliceAxis returns the out-of-plane axis: Z for axial, Y for sagittal and
// X for coronal. Single-slice edits keep this coordinate fixed.
func (p Plane) SliceAxis() int {
	switch p {
	case Sagittal:
		return 1
	case Coronal:
		return 0
	default:
		return 2
	}
}

// InPlaneAxes returns the two axes shown on screen for the plane
func (p Plane) InPlaneAxes() (int, int) {
	switch p {
	case Sagittal:
		return 0, 2
	case Coronal:
		return 1, 2
	default:
		return 0, 1
	}
}

// ResolveIndex converts a view-space point (u, v) on a plane and the current
// slider position into a volume index. This is the contract the input adapter
// must follow:
//
//   - axial: (u, v, slider)
//   - sagittal: (u, slider, Z-v)
//   - coronal: (slider, u, Z-v)
//
// Sagittal and coronal views are displayed with Z reversed, so the vertical
// view coordinate is reflected against the Z dimension.
func ResolveIndex(p Plane, u, v, slider int, s Shape) Index {
	switch p {
	case Sagittal:
		return Index{X: u, Y: slider, Z: s.Z - v}
	case Coronal:
		return Index{X: slider, Y: u, Z: s.Z - v}
	default:
		return Index{X: u, Y: v, Z: slider}
	}
}
