// Package session holds the state of one interactive segmentation session:
// the loaded volume, the active mask and overlay, the undo history and the
// masks accepted so far.
//
// A Session moves through three states:
//
//	Empty     no volume
//	Loaded    volume present, no active segmentation
//	Segmented mask and overlay present, edits allowed
//
// Load and Clear return to Loaded and Empty, Segment enters Segmented, and
// Accept or Reset drop back to Loaded while keeping the volume.
//
// All methods are safe for concurrent use; operations are serialized.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctsegment/internal/models"
	"ctsegment/pkg/composite"
	"ctsegment/pkg/config"
	"ctsegment/pkg/editing"
	"ctsegment/pkg/logging"
	"ctsegment/pkg/metrics"
	"ctsegment/pkg/segmentation"
	"ctsegment/pkg/visualization"
	"ctsegment/pkg/volumeio"
)

// State is the lifecycle stage of a session
type State int

const (
	StateEmpty State = iota
	StateLoaded
	StateSegmented
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateSegmented:
		return "segmented"
	default:
		return "empty"
	}
}

// ErrNoThreshold is returned by Segment before a threshold was set
var ErrNoThreshold = errors.New("threshold not set")

// MaskStats summarizes the original intensities under the active mask
type MaskStats struct {
	// Voxels counts mask values above zero
	Voxels int

	// Weight is the sum of mask values, the soft voxel volume
	Weight float64

	// Mean and Std are weighted by the mask value, so soft boundary voxels
	// count partially
	Mean float64
	Std  float64
}

// Buffer holds the volumes of the active segmentation. Mask and Overlay
// share the shape of Original and are nil until the first Segment.
type Buffer struct {
	Original *models.IntensityVolume
	Mask     *models.Mask
	Overlay  *models.Overlay
}

// Session is one segmentation workspace
type Session struct {
	mu sync.Mutex

	id      string
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	segmenter *segmentation.Segmenter
	editor    *editing.Editor
	grower    *editing.Grower
	combiner  *composite.Combiner

	buf  Buffer
	meta volumeio.Meta

	roi          models.ROI
	threshold    models.ThresholdRange
	thresholdSet bool

	undo  *editing.UndoStack
	saved []*models.Mask

	// wasSaved switches segmentation to the accumulated retain count
	wasSaved bool

	last *segmentation.Stats
}

// New creates an empty session configured by cfg. A nil cfg uses the
// defaults, a nil logger discards output and nil metrics record nothing.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	backend, err := segmentation.NewMorphology(cfg.Processing.Backend)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()[:12]
	logger = logging.OrNop(logger).With("session", id)

	opts := editing.Options{
		Tolerance:     cfg.Editing.Tolerance,
		PatchHalfSize: cfg.Editing.PatchHalfSize,
		GrowBudget:    cfg.Editing.GrowBudget,
		Paint: models.RGB{
			R: cfg.Editing.PaintColor[0],
			G: cfg.Editing.PaintColor[1],
			B: cfg.Editing.PaintColor[2],
		},
		Logger: logger,
	}

	return &Session{
		id:      id,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		segmenter: segmentation.NewSegmenter(segmentation.Params{
			NumCores:         cfg.Processing.NumCores,
			OpenCloseSize:    cfg.Segmentation.OpenCloseSize,
			SmoothingRadius:  cfg.Segmentation.SmoothingRadius,
			GaussianSigma:    cfg.Segmentation.GaussianSigma,
			GaussianTruncate: cfg.Segmentation.GaussianTruncate,
			Backend:          backend,
			Logger:           logger,
		}),
		editor:   editing.NewEditor(opts),
		grower:   editing.NewGrower(opts),
		combiner: composite.NewCombiner(cfg.Composite.ScaleFactor),
		undo:     editing.NewUndoStack(),
	}, nil
}

// ID returns the short random session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	switch {
	case s.buf.Original == nil:
		return StateEmpty
	case s.buf.Mask == nil:
		return StateLoaded
	default:
		return StateSegmented
	}
}

// Load replaces the session volume. Everything derived from the previous
// volume, including saved masks, is dropped. The ROI is reset to the full
// volume.
func (s *Session) Load(vol *models.IntensityVolume, meta volumeio.Meta) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
	s.buf.Original = vol
	s.meta = meta
	s.roi = models.FullROI(vol.Shape)
	s.logger.Info("volume loaded", "shape", vol.Shape.String())
	return nil
}

// SetROI validates and stores the region used by the next Segment
func (s *Session) SetROI(roi models.ROI) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Original == nil {
		return models.ErrNoVolume
	}
	if err := roi.Validate(s.buf.Original.Shape); err != nil {
		return err
	}
	s.roi = roi
	return nil
}

// SetThreshold validates and stores the intensity range used by Segment,
// constrained edits and region growing
func (s *Session) SetThreshold(rng models.ThresholdRange) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threshold = rng
	s.thresholdSet = true
	return nil
}

// ROI returns the current region of interest
func (s *Session) ROI() models.ROI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roi
}

// Threshold returns the current range and whether one was set
func (s *Session) Threshold() (models.ThresholdRange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold, s.thresholdSet
}

// RetainCount is the number of components the next Segment keeps: the fresh
// count until a mask has been accepted, the accumulated count afterwards
func (s *Session) RetainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retainCount()
}

func (s *Session) retainCount() int {
	if s.wasSaved {
		return s.cfg.Segmentation.AccumulatedRetainCount
	}
	return s.cfg.Segmentation.FreshRetainCount
}

// Segment runs the threshold pipeline over the current ROI and replaces the
// active mask and overlay. The undo history starts over.
func (s *Session) Segment(ctx context.Context) (*segmentation.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Original == nil {
		return nil, models.ErrNoVolume
	}
	if !s.thresholdSet {
		return nil, ErrNoThreshold
	}

	start := time.Now()
	res, err := s.segmenter.Segment(ctx, s.buf.Original, s.roi, s.threshold, s.retainCount())
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.RecordSegmentation(elapsed.Seconds(), false, err)
		return nil, err
	}
	s.metrics.RecordSegmentation(elapsed.Seconds(), res.Stats.Empty, nil)

	s.buf.Mask = res.Mask
	s.buf.Overlay = res.Overlay
	s.undo.Clear()
	s.last = &res.Stats

	s.logger.Info("segmentation finished",
		"roi", s.roi.String(), "lower", s.threshold.Lower, "upper", s.threshold.Upper,
		"components", res.Stats.Components, "mask_voxels", res.Stats.MaskVoxels,
		"duration", elapsed)
	return &res.Stats, nil
}

// Edit applies a brush edit to the active mask. A zero Size uses the
// configured default, and the range is always the session threshold.
// The edit is recorded for undo.
func (s *Session) Edit(req editing.EditRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Mask == nil {
		return 0, models.ErrNoSegmentation
	}
	if req.Size == 0 {
		req.Size = s.cfg.Editing.DefaultSize
	}
	if req.ThresholdConstrained && !s.thresholdSet {
		return 0, ErrNoThreshold
	}
	req.Range = s.threshold

	action := editing.ActionErase
	if req.Mode == editing.Draw {
		action = editing.ActionDraw
	}
	entry, err := s.editor.Apply(s.buf.Original, s.buf.Mask, s.buf.Overlay, req)
	s.metrics.RecordEdit(action.String(), err)
	if err != nil {
		return 0, err
	}
	s.undo.Push(entry)
	return entry.Affected, nil
}

// Grow paints the region connected to seed within the session threshold
// widened by the tolerance. The whole mask is recorded for undo, even when
// the seed is outside the window and nothing changes.
func (s *Session) Grow(seed models.Index) (editing.GrowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Mask == nil {
		return editing.GrowResult{}, models.ErrNoSegmentation
	}
	if !s.thresholdSet {
		return editing.GrowResult{}, ErrNoThreshold
	}

	snap, res, err := s.grower.Grow(seed, s.buf.Original, s.buf.Mask, s.buf.Overlay, s.threshold)
	s.metrics.RecordEdit(editing.ActionGrow.String(), err)
	if err != nil {
		return res, err
	}
	s.metrics.RecordGrowth(res.Painted)
	s.undo.Push(snap)
	return res, nil
}

// Undo reverts the newest edit. It returns false when there is nothing to
// undo or no active segmentation.
func (s *Session) Undo() (editing.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Mask == nil {
		s.metrics.RecordUndo(false)
		return 0, false
	}
	entry, ok := s.undo.Undo(s.buf.Mask, s.buf.Overlay)
	s.metrics.RecordUndo(ok)
	if !ok {
		return 0, false
	}
	s.logger.Debug("edit undone", "action", entry.Action().String(), "remaining", s.undo.Len())
	return entry.Action(), true
}

// UndoDepth returns the number of edits that can be undone
func (s *Session) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undo.Len()
}

// Accept stores a copy of the active mask in the saved list and resets the
// session for the next structure
func (s *Session) Accept() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Mask == nil {
		return models.ErrNoSegmentation
	}
	s.saved = append(s.saved, s.buf.Mask.Clone())
	s.wasSaved = true
	s.metrics.SetSavedMasks(len(s.saved))
	s.logger.Info("mask accepted", "saved", len(s.saved), "voxels", s.buf.Mask.CountNonZero())
	s.reset()
	return nil
}

// ImportMask adds an externally produced mask to the saved list. Its depth
// may differ from the volume; Combine handles the mismatch.
func (s *Session) ImportMask(m *models.Mask) error {
	if m == nil {
		return models.ErrNoSegmentation
	}
	if len(m.Data) != m.Shape.Len() || m.Shape.Len() == 0 {
		return fmt.Errorf("%w: %d values for shape %s", models.ErrShapeMismatch, len(m.Data), m.Shape)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saved = append(s.saved, m.Clone())
	s.wasSaved = true
	s.metrics.SetSavedMasks(len(s.saved))
	s.logger.Info("mask imported", "shape", m.Shape.String(), "saved", len(s.saved))
	return nil
}

// Reset drops the active mask, overlay and undo history. The volume, ROI,
// threshold and saved masks stay.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.buf.Mask = nil
	s.buf.Overlay = nil
	s.last = nil
	s.undo.Clear()
}

// Clear returns the session to the empty state
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *Session) clear() {
	s.reset()
	s.buf.Original = nil
	s.meta = volumeio.Meta{}
	s.roi = models.ROI{}
	s.threshold = models.ThresholdRange{}
	s.thresholdSet = false
	s.saved = nil
	s.wasSaved = false
	s.metrics.SetSavedMasks(0)
}

// SavedCount returns the number of accepted or imported masks
func (s *Session) SavedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// Combine merges the saved masks into a label volume shaped like the
// loaded volume
func (s *Session) Combine() (*composite.LabelVolume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Original == nil {
		return nil, models.ErrNoVolume
	}
	labels := s.combiner.Combine(s.saved, s.buf.Original.Shape)
	n, peak := labels.Stats()
	s.logger.Info("masks combined", "masks", len(s.saved), "labeled_voxels", n, "peak", peak)
	return labels, nil
}

// ThresholdPreview renders the current threshold on one slice of the
// original volume
func (s *Session) ThresholdPreview(plane models.Plane, position int) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Original == nil {
		return nil, models.ErrNoVolume
	}
	if !s.thresholdSet {
		return nil, ErrNoThreshold
	}
	return visualization.ThresholdPreview(s.buf.Original, plane, position, s.threshold)
}

// Stats measures the original intensity under the active mask
func (s *Session) Stats() (MaskStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Mask == nil {
		return MaskStats{}, models.ErrNoSegmentation
	}

	var values, weights []float64
	for i, w := range s.buf.Mask.Data {
		if w > 0 {
			values = append(values, float64(s.buf.Original.Data[i]))
			weights = append(weights, w)
		}
	}
	out := MaskStats{Voxels: len(values)}
	if len(values) == 0 {
		return out, nil
	}
	out.Weight = floats.Sum(weights)
	out.Mean, out.Std = stat.MeanStdDev(values, weights)
	if math.IsNaN(out.Std) || math.IsInf(out.Std, 0) {
		out.Std = 0
	}
	return out, nil
}

// LastStats returns the report of the latest segmentation pass, or nil
// when there is no active segmentation
func (s *Session) LastStats() *segmentation.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Original returns the loaded volume and its geometry
func (s *Session) Original() (*models.IntensityVolume, volumeio.Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Original, s.meta
}

// Snapshot returns a copy of the buffer. Original is shared since it is
// never written to.
func (s *Session) Snapshot() Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Buffer{Original: s.buf.Original}
	if s.buf.Mask != nil {
		out.Mask = s.buf.Mask.Clone()
		out.Overlay = s.buf.Overlay.Clone()
	}
	return out
}

// Mask returns a copy of the active mask, or nil
func (s *Session) Mask() *models.Mask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Mask == nil {
		return nil
	}
	return s.buf.Mask.Clone()
}

// Overlay returns a copy of the active overlay, or nil
func (s *Session) Overlay() *models.Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Overlay == nil {
		return nil
	}
	return s.buf.Overlay.Clone()
}
