// Package editing implements manual correction of a segmentation mask:
// bounded erase/draw brush edits, seeded region growing and the undo stack
// both of them record into.
//
// All operations mutate the mask and overlay in place and must be called by
// a single writer.
package editing

import (
	"fmt"
	"log/slog"

	"ctsegment/internal/models"
	"ctsegment/pkg/logging"
)

// Mode selects what a brush edit does
type Mode int

const (
	Erase Mode = iota
	Draw
)

// ParseMode accepts "erase" or "draw"
func ParseMode(s string) (Mode, error) {
	switch s {
	case "erase":
		return Erase, nil
	case "draw":
		return Draw, nil
	}
	return Erase, fmt.Errorf("unknown edit mode %q", s)
}

func (m Mode) String() string {
	if m == Draw {
		return "draw"
	}
	return "erase"
}

// Options configures an Editor or Grower
type Options struct {
	// Tolerance widens the lower threshold bound for constrained edits
	// and growth
	Tolerance float64

	// PatchHalfSize is half the side of the cube saved for undo
	PatchHalfSize int

	// GrowBudget caps the voxels painted by one Grow call
	GrowBudget int

	// Paint is the overlay color of drawn or grown voxels
	Paint models.RGB

	Logger *slog.Logger
}

// DefaultOptions returns the standard editing settings
func DefaultOptions() Options {
	return Options{
		Tolerance:     150,
		PatchHalfSize: 8,
		GrowBudget:    10000,
		Paint:         models.RGB{R: 255},
	}
}

// EditRequest describes one brush click
type EditRequest struct {
	// Position is the resolved volume index of the click
	Position models.Index

	// Size gives a cube of side 2*Size-1 around Position
	Size int

	Mode Mode

	// Plane is the view the click was made on. Without MultiSlice the edit
	// stays on Position's slice along the plane's out-of-plane axis.
	Plane models.Plane

	// ThresholdConstrained limits the edit to voxels whose original
	// intensity lies in [Range.Lower-Tolerance, Range.Upper]
	ThresholdConstrained bool
	Range                models.ThresholdRange

	// MultiSlice applies the edit to the full 3D cube
	MultiSlice bool
}

// Editor applies brush edits
type Editor struct {
	opts   Options
	logger *slog.Logger
}

// NewEditor creates an editor
func NewEditor(opts Options) *Editor {
	if opts.PatchHalfSize < 1 {
		opts.PatchHalfSize = DefaultOptions().PatchHalfSize
	}
	return &Editor{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Apply erases or draws the brush cube and returns the patch undo entry
// holding the state before the edit. Positions outside the volume or closer
// than Size to an edge on the in-plane axes are rejected with
// models.ErrOutOfBounds before anything is touched.
func (e *Editor) Apply(original *models.IntensityVolume, mask *models.Mask, overlay *models.Overlay, req EditRequest) (*PatchEdit, error) {
	if err := checkShapes(original, mask, overlay); err != nil {
		return nil, err
	}
	if req.Size < 1 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidSize, req.Size)
	}
	if err := req.Range.Validate(); err != nil && req.ThresholdConstrained {
		return nil, err
	}

	s := original.Shape
	p := req.Position
	if !s.Contains(p.X, p.Y, p.Z) {
		return nil, fmt.Errorf("%w: %s outside volume %s", models.ErrOutOfBounds, p, s)
	}
	a, b := req.Plane.InPlaneAxes()
	for _, axis := range []int{a, b} {
		c := p.Axis(axis)
		if c < req.Size || c >= s.Dim(axis)-req.Size {
			return nil, fmt.Errorf("%w: %s within %d voxels of the %c edge",
				models.ErrOutOfBounds, p, req.Size, "XYZ"[axis])
		}
	}

	kind := ActionErase
	if req.Mode == Draw {
		kind = ActionDraw
	}
	entry := snapshotPatch(kind, p, patchBox(p, e.opts.PatchHalfSize, s), mask, overlay)

	window := req.Range.Relaxed(e.opts.Tolerance)
	lo := [3]int{p.X - req.Size + 1, p.Y - req.Size + 1, p.Z - req.Size + 1}
	hi := [3]int{p.X + req.Size - 1, p.Y + req.Size - 1, p.Z + req.Size - 1}
	if !req.MultiSlice {
		axis := req.Plane.SliceAxis()
		lo[axis] = p.Axis(axis)
		hi[axis] = p.Axis(axis)
	}

	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				if !s.Contains(x, y, z) {
					continue
				}
				i := s.Index(x, y, z)
				v := original.Data[i]
				if req.ThresholdConstrained && !window.Contains(float64(v)) {
					continue
				}
				if req.Mode == Draw {
					mask.Data[i] = 1
					overlay.Set(x, y, z, e.opts.Paint)
				} else {
					mask.Data[i] = 0
					overlay.Set(x, y, z, models.RGB{R: int32(v), G: int32(v), B: int32(v)})
				}
				entry.Affected++
			}
		}
	}

	e.logger.Debug("brush edit applied",
		"mode", req.Mode.String(), "position", p.String(), "size", req.Size,
		"plane", req.Plane.String(), "multi_slice", req.MultiSlice, "affected", entry.Affected)
	return entry, nil
}

func checkShapes(original *models.IntensityVolume, mask *models.Mask, overlay *models.Overlay) error {
	if err := original.Validate(); err != nil {
		return err
	}
	if mask == nil || overlay == nil {
		return models.ErrNoSegmentation
	}
	if mask.Shape != original.Shape || overlay.Shape != original.Shape ||
		len(mask.Data) != original.Shape.Len() || len(overlay.Data) != 3*original.Shape.Len() {
		return fmt.Errorf("%w: original %s, mask %s, overlay %s",
			models.ErrShapeMismatch, original.Shape, mask.Shape, overlay.Shape)
	}
	return nil
}
