// Package segmentation implements the one-shot threshold segmentation pass:
// crop, threshold, per-slice opening/closing, 3D connected components,
// component selection, per-slice disk closing, Gaussian smoothing, re-embedding
// into the full volume and the RGB overlay composite.
package segmentation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"ctsegment/internal/models"
	"ctsegment/pkg/logging"
)

// Params holds the segmentation parameters.
type Params struct {
	// NumCores bounds how many slices are filtered concurrently.
	// Results do not depend on it.
	NumCores int

	// OpenCloseSize is the side of the square used for opening and closing
	OpenCloseSize int

	// SmoothingRadius is the radius of the disk used for dilate/erode
	SmoothingRadius int

	// GaussianSigma and GaussianTruncate shape the final 3D blur
	GaussianSigma    float64
	GaussianTruncate float64

	// Backend performs the 2D morphology; nil selects GoMorphology
	Backend Morphology

	// Logger receives step timings and non-fatal conditions
	Logger *slog.Logger
}

// DefaultParams returns the standard pipeline settings
func DefaultParams() Params {
	return Params{
		NumCores:         1,
		OpenCloseSize:    3,
		SmoothingRadius:  3,
		GaussianSigma:    0.4,
		GaussianTruncate: 4.0,
	}
}

// StepTiming records how long one pipeline step took
type StepTiming struct {
	Step     string
	Duration time.Duration
}

// Stats describes one segmentation pass
type Stats struct {
	// ThresholdVoxels is the foreground count right after thresholding
	ThresholdVoxels int

	// Components is the number of connected components found
	Components int

	// SelectedSizes are the voxel counts of the kept components, ascending
	SelectedSizes []int

	// MeanSelectedSize and StdSelectedSize summarize SelectedSizes
	MeanSelectedSize float64
	StdSelectedSize  float64

	// MaskVoxels counts mask voxels above zero after smoothing
	MaskVoxels int

	// Empty is set when the ROI or the threshold produced no foreground
	Empty bool

	// Underflow is set when fewer components than requested existed
	Underflow bool

	Timings []StepTiming
}

// Result is the output of a segmentation pass
type Result struct {
	Mask    *models.Mask
	Overlay *models.Overlay
	Stats   Stats
}

// Segmenter runs the threshold segmentation pipeline
type Segmenter struct {
	params  Params
	backend Morphology
	logger  *slog.Logger
}

// NewSegmenter creates a segmenter, filling unset parameters with defaults
func NewSegmenter(params Params) *Segmenter {
	def := DefaultParams()
	if params.NumCores < 1 {
		params.NumCores = def.NumCores
	}
	if params.OpenCloseSize < 1 {
		params.OpenCloseSize = def.OpenCloseSize
	}
	if params.GaussianTruncate <= 0 {
		params.GaussianTruncate = def.GaussianTruncate
	}
	backend := params.Backend
	if backend == nil {
		backend = GoMorphology{}
	}
	return &Segmenter{
		params:  params,
		backend: backend,
		logger:  logging.OrNop(params.Logger),
	}
}

// Segment runs the full pipeline over roi and returns a full-size mask and
// overlay. retainCount is the number of largest components to keep.
//
// A degenerate ROI or a threshold without foreground is not an error: the
// result is an all-zero mask and Stats.Empty is set.
func (s *Segmenter) Segment(ctx context.Context, vol *models.IntensityVolume, roi models.ROI, rng models.ThresholdRange, retainCount int) (*Result, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if err := roi.Validate(vol.Shape); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if retainCount < 0 {
		return nil, fmt.Errorf("retain count must not be negative, got %d", retainCount)
	}

	var stats Stats
	mark := time.Now()
	step := func(name string) {
		now := time.Now()
		stats.Timings = append(stats.Timings, StepTiming{Step: name, Duration: now.Sub(mark)})
		s.logger.Debug("segmentation step finished", "step", name, "duration", now.Sub(mark))
		mark = now
	}

	sub := roi.Shape()
	plane := sub.X * sub.Y

	// Step 1-2: crop and threshold
	bin := threshold(vol, roi, rng)
	for _, v := range bin {
		stats.ThresholdVoxels += int(v)
	}
	step("threshold")

	// Step 3: per-slice opening then closing
	square := SquareKernel(s.params.OpenCloseSize)
	err := filterSlices(ctx, bin, sub.X, sub.Y, sub.Z, s.params.NumCores, func(slice []uint8) []uint8 {
		return closing(s.backend, opening(s.backend, slice, sub.X, sub.Y, square), sub.X, sub.Y, square)
	})
	if err != nil {
		return nil, fmt.Errorf("opening/closing: %w", err)
	}
	step("open-close")

	// Step 4-6: label, select, union
	labels, sizes := labelComponents(bin, sub)
	stats.Components = len(sizes)
	selected := largestLabels(sizes, retainCount)
	stats.Underflow = len(sizes) < retainCount
	for _, l := range selected {
		stats.SelectedSizes = append(stats.SelectedSizes, sizes[l-1])
	}
	if len(stats.SelectedSizes) > 0 {
		fs := make([]float64, len(stats.SelectedSizes))
		for i, n := range stats.SelectedSizes {
			fs[i] = float64(n)
		}
		stats.MeanSelectedSize, stats.StdSelectedSize = stat.MeanStdDev(fs, nil)
	}
	kept := unionOf(labels, selected)
	step("components")

	// Step 7: per-slice disk closing
	disk := DiskKernel(s.params.SmoothingRadius)
	if plane > 0 {
		err = filterSlices(ctx, kept, sub.X, sub.Y, sub.Z, s.params.NumCores, func(slice []uint8) []uint8 {
			return closing(s.backend, slice, sub.X, sub.Y, disk)
		})
		if err != nil {
			return nil, fmt.Errorf("dilate/erode: %w", err)
		}
	}
	step("dilate-erode")

	// Step 8: 3D Gaussian, one synchronized pass
	soft := make([]float64, len(kept))
	for i, v := range kept {
		soft[i] = float64(v)
	}
	soft = gaussianBlur3D(soft, sub, s.params.GaussianSigma, s.params.GaussianTruncate)
	step("gaussian")

	// Step 9-10: re-embed and overlay
	mask := embed(soft, roi, vol.Shape)
	overlay := BuildOverlay(vol, mask)
	stats.MaskVoxels = mask.CountNonZero()
	step("overlay")

	if stats.ThresholdVoxels == 0 || stats.MaskVoxels == 0 {
		stats.Empty = true
		s.logger.Info("segmentation produced an empty region",
			"roi", roi.String(), "lower", rng.Lower, "upper", rng.Upper)
	}
	if stats.Underflow {
		s.logger.Debug("fewer components than requested",
			"found", stats.Components, "requested", retainCount)
	}

	return &Result{Mask: mask, Overlay: overlay, Stats: stats}, nil
}

// threshold crops roi out of vol and marks voxels inside rng
func threshold(vol *models.IntensityVolume, roi models.ROI, rng models.ThresholdRange) []uint8 {
	sub := roi.Shape()
	out := make([]uint8, sub.Len())
	if len(out) == 0 {
		return out
	}
	i := 0
	for z := roi.ZMin; z < roi.ZMax; z++ {
		for y := roi.YMin; y < roi.YMax; y++ {
			for x := roi.XMin; x < roi.XMax; x++ {
				if rng.Contains(float64(vol.At(x, y, z))) {
					out[i] = 1
				}
				i++
			}
		}
	}
	return out
}

// CountInRange returns how many voxels of roi fall inside rng, before any
// filtering. Widening rng never lowers the count.
func CountInRange(vol *models.IntensityVolume, roi models.ROI, rng models.ThresholdRange) (int, error) {
	if err := roi.Validate(vol.Shape); err != nil {
		return 0, err
	}
	if err := rng.Validate(); err != nil {
		return 0, err
	}
	n := 0
	for _, v := range threshold(vol, roi, rng) {
		n += int(v)
	}
	return n, nil
}

// embed places the cropped sub-volume into a zero mask of the full shape
func embed(sub []float64, roi models.ROI, full models.Shape) *models.Mask {
	mask := models.NewMask(full)
	if len(sub) == 0 {
		return mask
	}
	i := 0
	for z := roi.ZMin; z < roi.ZMax; z++ {
		for y := roi.YMin; y < roi.YMax; y++ {
			row := full.Index(roi.XMin, y, z)
			n := roi.XMax - roi.XMin
			copy(mask.Data[row:row+n], sub[i:i+n])
			i += n
		}
	}
	return mask
}

// BuildOverlay replicates vol into three channels and writes the green
// channel as uint8(mask*255) wherever that value is positive. Red and blue
// keep the original intensity.
func BuildOverlay(vol *models.IntensityVolume, mask *models.Mask) *models.Overlay {
	overlay := models.NewGrayOverlay(vol)
	for i, m := range mask.Data {
		g := int32(uint8(m * 255))
		if m > 0 && g > 0 {
			overlay.Data[3*i+1] = g
		}
	}
	return overlay
}
