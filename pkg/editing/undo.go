package editing

import (
	"ctsegment/internal/models"
)

// Action names the edit an undo entry reverses
type Action int

const (
	ActionErase Action = iota
	ActionDraw
	ActionGrow
)

func (a Action) String() string {
	switch a {
	case ActionErase:
		return "erase"
	case ActionDraw:
		return "draw"
	default:
		return "grow"
	}
}

// UndoEntry is either a *PatchEdit or a *GrowSnapshot
type UndoEntry interface {
	// Action reports which edit produced the entry
	Action() Action

	// restore writes the saved state back into mask and overlay
	restore(mask *models.Mask, overlay *models.Overlay)
}

// Box is an axis-aligned block of voxels starting at Min
type Box struct {
	Min   models.Index
	Shape models.Shape
}

// patchBox returns the cube [c-half, c+half) per axis clipped to s
func patchBox(c models.Index, half int, s models.Shape) Box {
	lo := [3]int{c.X - half, c.Y - half, c.Z - half}
	hi := [3]int{c.X + half, c.Y + half, c.Z + half}
	for a := 0; a < 3; a++ {
		lo[a] = max(lo[a], 0)
		hi[a] = min(hi[a], s.Dim(a))
		if hi[a] < lo[a] {
			hi[a] = lo[a]
		}
	}
	return Box{
		Min:   models.Index{X: lo[0], Y: lo[1], Z: lo[2]},
		Shape: models.Shape{X: hi[0] - lo[0], Y: hi[1] - lo[1], Z: hi[2] - lo[2]},
	}
}

// PatchEdit restores a fixed cube around the edit center
type PatchEdit struct {
	Kind   Action
	Center models.Index
	Box    Box

	// MaskPatch and OverlayPatch hold the box contents before the edit,
	// in the box's own x-fastest order (overlay with three channels)
	MaskPatch    []float64
	OverlayPatch []int32

	// Affected is the number of voxels the edit wrote
	Affected int
}

// Action implements UndoEntry
func (p *PatchEdit) Action() Action { return p.Kind }

func snapshotPatch(kind Action, center models.Index, box Box, mask *models.Mask, overlay *models.Overlay) *PatchEdit {
	p := &PatchEdit{
		Kind:         kind,
		Center:       center,
		Box:          box,
		MaskPatch:    make([]float64, 0, box.Shape.Len()),
		OverlayPatch: make([]int32, 0, 3*box.Shape.Len()),
	}
	forBox(box, func(x, y, z int) {
		i := mask.Shape.Index(x, y, z)
		p.MaskPatch = append(p.MaskPatch, mask.Data[i])
		p.OverlayPatch = append(p.OverlayPatch, overlay.Data[3*i:3*i+3]...)
	})
	return p
}

func (p *PatchEdit) restore(mask *models.Mask, overlay *models.Overlay) {
	n := 0
	forBox(p.Box, func(x, y, z int) {
		i := mask.Shape.Index(x, y, z)
		mask.Data[i] = p.MaskPatch[n]
		copy(overlay.Data[3*i:3*i+3], p.OverlayPatch[3*n:3*n+3])
		n++
	})
}

func forBox(b Box, fn func(x, y, z int)) {
	for z := b.Min.Z; z < b.Min.Z+b.Shape.Z; z++ {
		for y := b.Min.Y; y < b.Min.Y+b.Shape.Y; y++ {
			for x := b.Min.X; x < b.Min.X+b.Shape.X; x++ {
				fn(x, y, z)
			}
		}
	}
}

// GrowSnapshot restores the whole mask and overlay. Region growing has no
// spatial bound, so a local patch cannot undo it.
type GrowSnapshot struct {
	Seed        models.Index
	MaskFull    *models.Mask
	OverlayFull *models.Overlay
}

// Action implements UndoEntry
func (g *GrowSnapshot) Action() Action { return ActionGrow }

func (g *GrowSnapshot) restore(mask *models.Mask, overlay *models.Overlay) {
	copy(mask.Data, g.MaskFull.Data)
	copy(overlay.Data, g.OverlayFull.Data)
}

// UndoStack records edits and reverses them in strict LIFO order
type UndoStack struct {
	entries []UndoEntry
}

// NewUndoStack creates an empty stack
func NewUndoStack() *UndoStack {
	return &UndoStack{}
}

// Push records an entry
func (s *UndoStack) Push(e UndoEntry) {
	s.entries = append(s.entries, e)
}

// Pop removes and returns the newest entry. It returns false on an empty
// stack.
func (s *UndoStack) Pop() (UndoEntry, bool) {
	if len(s.entries) == 0 {
		return nil, false
	}
	e := s.entries[len(s.entries)-1]
	s.entries[len(s.entries)-1] = nil
	s.entries = s.entries[:len(s.entries)-1]
	return e, true
}

// Undo pops the newest entry and writes its saved state into mask and
// overlay. An empty stack is a no-op and returns false.
func (s *UndoStack) Undo(mask *models.Mask, overlay *models.Overlay) (UndoEntry, bool) {
	e, ok := s.Pop()
	if !ok {
		return nil, false
	}
	e.restore(mask, overlay)
	return e, true
}

// Len returns the number of recorded entries
func (s *UndoStack) Len() int {
	return len(s.entries)
}

// Clear discards every entry
func (s *UndoStack) Clear() {
	clear(s.entries)
	s.entries = s.entries[:0]
}
