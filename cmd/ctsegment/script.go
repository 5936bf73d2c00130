package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ctsegment/internal/models"
	"ctsegment/pkg/editing"
	"ctsegment/pkg/session"
	"ctsegment/pkg/volumeio"
)

// Script is a recorded sequence of session steps:
//
//	steps:
//	  - op: roi
//	    roi: [10, 120, 20, 110, 0, 40]
//	  - op: threshold
//	    lower: 200
//	    upper: 1500
//	  - op: segment
//	  - op: erase
//	    plane: sagittal
//	    point: [40, 12, 64]
//	    size: 3
//	  - op: undo
//	  - op: accept
type Script struct {
	Steps []Step `yaml:"steps"`
}

// Step is one scripted action. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// roi
	ROI []int `yaml:"roi,flow,omitempty"`

	// threshold
	Lower float64 `yaml:"lower,omitempty"`
	Upper float64 `yaml:"upper,omitempty"`

	// erase, draw, grow: Point is (u, v, slider) in view coordinates of
	// Plane, resolved against the loaded volume
	Plane       string `yaml:"plane,omitempty"`
	Point       []int  `yaml:"point,flow,omitempty"`
	Size        int    `yaml:"size,omitempty"`
	Constrained bool   `yaml:"constrained,omitempty"`
	MultiSlice  bool   `yaml:"multiSlice,omitempty"`

	// import: mask header path, relative to the script
	Path string `yaml:"path,omitempty"`
}

// LoadScript reads a script file
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("script %s has no steps", path)
	}
	return &s, nil
}

// StepReport records the outcome of one step
type StepReport struct {
	Index    int           `yaml:"index"`
	Op       string        `yaml:"op"`
	Duration time.Duration `yaml:"duration"`
	Detail   string        `yaml:"detail,omitempty"`
	Error    string        `yaml:"error,omitempty"`
}

// Report is written next to the combined labels
type Report struct {
	Session    string       `yaml:"session"`
	Steps      []StepReport `yaml:"steps"`
	SavedMasks int          `yaml:"savedMasks"`

	LastSegmentation *SegmentationReport `yaml:"lastSegmentation,omitempty"`
	Mask             *session.MaskStats  `yaml:"mask,omitempty"`
}

// SegmentationReport is the part of segmentation.Stats worth keeping
type SegmentationReport struct {
	ThresholdVoxels int   `yaml:"thresholdVoxels"`
	Components      int   `yaml:"components"`
	SelectedSizes   []int `yaml:"selectedSizes,flow"`
	MaskVoxels      int   `yaml:"maskVoxels"`
	Empty           bool  `yaml:"empty"`
}

// runner replays a script against a session
type runner struct {
	sess    *session.Session
	logger  *slog.Logger
	baseDir string
	report  Report
}

func newRunner(sess *session.Session, logger *slog.Logger, baseDir string) *runner {
	return &runner{
		sess:    sess,
		logger:  logger,
		baseDir: baseDir,
		report:  Report{Session: sess.ID()},
	}
}

// Run executes every step in order. Rejected edits (out of bounds) are
// recorded and skipped, like a click outside the allowed area; any other
// error stops the run.
func (r *runner) Run(ctx context.Context, script *Script) error {
	for i, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		detail, err := r.apply(ctx, step)
		rep := StepReport{Index: i, Op: step.Op, Duration: time.Since(start), Detail: detail}
		if err != nil {
			rep.Error = err.Error()
		}
		r.report.Steps = append(r.report.Steps, rep)

		if err != nil {
			if isRejection(err) {
				r.logger.Warn("step rejected", "index", i, "op", step.Op, "error", err)
				continue
			}
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		r.logger.Debug("step applied", "index", i, "op", step.Op, "detail", detail)
	}
	return nil
}

func isRejection(err error) bool {
	return errors.Is(err, models.ErrOutOfBounds) || errors.Is(err, models.ErrInvalidSize)
}

func (r *runner) apply(ctx context.Context, step Step) (string, error) {
	switch step.Op {
	case "roi":
		if len(step.ROI) != 6 {
			return "", fmt.Errorf("%w: roi needs 6 values, got %d", models.ErrInvalidROI, len(step.ROI))
		}
		v := step.ROI
		roi := models.ROI{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3], ZMin: v[4], ZMax: v[5]}
		return roi.String(), r.sess.SetROI(roi)

	case "threshold":
		rng := models.ThresholdRange{Lower: step.Lower, Upper: step.Upper}
		return fmt.Sprintf("[%g, %g]", rng.Lower, rng.Upper), r.sess.SetThreshold(rng)

	case "segment":
		stats, err := r.sess.Segment(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("components=%d mask_voxels=%d", stats.Components, stats.MaskVoxels), nil

	case "erase", "draw":
		mode, err := editing.ParseMode(step.Op)
		if err != nil {
			return "", err
		}
		plane, idx, err := r.resolve(step)
		if err != nil {
			return "", err
		}
		affected, err := r.sess.Edit(editing.EditRequest{
			Position:             idx,
			Size:                 step.Size,
			Mode:                 mode,
			Plane:                plane,
			ThresholdConstrained: step.Constrained,
			MultiSlice:           step.MultiSlice,
		})
		return fmt.Sprintf("position=%s affected=%d", idx, affected), err

	case "grow":
		_, idx, err := r.resolve(step)
		if err != nil {
			return "", err
		}
		res, err := r.sess.Grow(idx)
		return fmt.Sprintf("seed=%s painted=%d budget_exceeded=%t", idx, res.Painted, res.BudgetExceeded), err

	case "undo":
		action, ok := r.sess.Undo()
		if !ok {
			return "nothing to undo", nil
		}
		return "reverted " + action.String(), nil

	case "accept":
		r.captureStats()
		return "", r.sess.Accept()

	case "import":
		path := step.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.baseDir, path)
		}
		m, _, err := volumeio.ReadMask(path)
		if err != nil {
			return "", err
		}
		return m.Shape.String(), r.sess.ImportMask(m)

	case "reset":
		r.sess.Reset()
		return "", nil

	case "combine":
		labels, err := r.sess.Combine()
		if err != nil {
			return "", err
		}
		n, peak := labels.Stats()
		return fmt.Sprintf("labeled_voxels=%d peak=%d", n, peak), nil
	}
	return "", fmt.Errorf("unknown op %q", step.Op)
}

// resolve turns a step's view point into a volume index
func (r *runner) resolve(step Step) (models.Plane, models.Index, error) {
	plane := models.Axial
	if step.Plane != "" {
		p, err := models.ParsePlane(step.Plane)
		if err != nil {
			return plane, models.Index{}, err
		}
		plane = p
	}
	if len(step.Point) != 3 {
		return plane, models.Index{}, fmt.Errorf("%w: point needs u, v and slider", models.ErrOutOfBounds)
	}
	vol, _ := r.sess.Original()
	if vol == nil {
		return plane, models.Index{}, models.ErrNoVolume
	}
	return plane, models.ResolveIndex(plane, step.Point[0], step.Point[1], step.Point[2], vol.Shape), nil
}

// captureStats records the active segmentation before it is accepted
func (r *runner) captureStats() {
	if st := r.sess.LastStats(); st != nil {
		r.report.LastSegmentation = &SegmentationReport{
			ThresholdVoxels: st.ThresholdVoxels,
			Components:      st.Components,
			SelectedSizes:   st.SelectedSizes,
			MaskVoxels:      st.MaskVoxels,
			Empty:           st.Empty,
		}
	}
	if ms, err := r.sess.Stats(); err == nil {
		r.report.Mask = &ms
	}
}

// WriteReport stores the step report as YAML
func (r *runner) WriteReport(path string) error {
	r.captureStats()
	r.report.SavedMasks = r.sess.SavedCount()

	data, err := yaml.Marshal(&r.report)
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
