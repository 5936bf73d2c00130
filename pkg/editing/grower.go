package editing

import (
	"fmt"
	"log/slog"

	"ctsegment/internal/models"
	"ctsegment/pkg/logging"
)

// GrowResult reports how a region growing call ended
type GrowResult struct {
	// Painted is the number of voxels set to foreground
	Painted int

	// Visited is the number of distinct voxels examined
	Visited int

	// BudgetExceeded is set when growth stopped at the voxel budget with
	// candidates still pending
	BudgetExceeded bool
}

// Grower paints a 6-connected region from a seed voxel
type Grower struct {
	opts   Options
	logger *slog.Logger
}

// NewGrower creates a grower
func NewGrower(opts Options) *Grower {
	if opts.GrowBudget < 1 {
		opts.GrowBudget = DefaultOptions().GrowBudget
	}
	return &Grower{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Grow floods from seed over voxels that are not yet painted and whose
// original intensity lies in [rng.Lower-Tolerance, rng.Upper]. The whole mask
// and overlay are snapshotted first and returned for undo. A seed outside the
// window paints nothing; the snapshot is still returned.
func (g *Grower) Grow(seed models.Index, original *models.IntensityVolume, mask *models.Mask, overlay *models.Overlay, rng models.ThresholdRange) (*GrowSnapshot, GrowResult, error) {
	var res GrowResult
	if err := checkShapes(original, mask, overlay); err != nil {
		return nil, res, err
	}
	if err := rng.Validate(); err != nil {
		return nil, res, err
	}
	s := original.Shape
	if !s.Contains(seed.X, seed.Y, seed.Z) {
		return nil, res, fmt.Errorf("%w: seed %s outside volume %s", models.ErrOutOfBounds, seed, s)
	}

	snap := &GrowSnapshot{Seed: seed, MaskFull: mask.Clone(), OverlayFull: overlay.Clone()}

	window := rng.Relaxed(g.opts.Tolerance)
	if !window.Contains(float64(original.At(seed.X, seed.Y, seed.Z))) {
		g.logger.Debug("seed outside intensity window", "seed", seed.String())
		return snap, res, nil
	}

	visited := make([]bool, s.Len())
	stack := []int{s.Index(seed.X, seed.Y, seed.Z)}
	for len(stack) > 0 && res.Painted < g.opts.GrowBudget {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[idx] {
			continue
		}
		visited[idx] = true
		res.Visited++

		if mask.Data[idx] != 0 || !window.Contains(float64(original.Data[idx])) {
			continue
		}

		x := idx % s.X
		y := (idx / s.X) % s.Y
		z := idx / (s.X * s.Y)
		mask.Data[idx] = 1
		overlay.Set(x, y, z, g.opts.Paint)
		res.Painted++

		for _, d := range [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
			nx, ny, nz := x+d[0], y+d[1], z+d[2]
			if s.Contains(nx, ny, nz) {
				stack = append(stack, s.Index(nx, ny, nz))
			}
		}
	}
	if res.Painted >= g.opts.GrowBudget {
		res.BudgetExceeded = hasCandidate(stack, visited, original, mask, window)
	}

	if res.BudgetExceeded {
		g.logger.Info("region growing stopped at voxel budget",
			"seed", seed.String(), "budget", g.opts.GrowBudget)
	}
	g.logger.Debug("region growing finished",
		"seed", seed.String(), "painted", res.Painted, "visited", res.Visited)
	return snap, res, nil
}

// hasCandidate reports whether any pending stack entry would still be painted
func hasCandidate(stack []int, visited []bool, original *models.IntensityVolume, mask *models.Mask, window models.ThresholdRange) bool {
	for _, idx := range stack {
		if !visited[idx] && mask.Data[idx] == 0 && window.Contains(float64(original.Data[idx])) {
			return true
		}
	}
	return false
}
