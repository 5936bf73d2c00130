// Package metrics provides Prometheus instrumentation for segmentation
// sessions.
//
// Metrics are registered on the registry passed to New, so several sessions
// (and tests) can each own an isolated set. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ctsegment"

// Metrics holds the counters and histograms of one session
type Metrics struct {
	// SegmentationsTotal counts segmentation passes by outcome
	// (ok, empty, error)
	SegmentationsTotal *prometheus.CounterVec

	// SegmentationSeconds measures full pipeline duration
	SegmentationSeconds prometheus.Histogram

	// EditsTotal counts brush edits and growth calls by action and outcome
	EditsTotal *prometheus.CounterVec

	// GrownVoxels observes voxels painted per region growing call
	GrownVoxels prometheus.Histogram

	// UndosTotal counts undo requests by result (restored, empty)
	UndosTotal *prometheus.CounterVec

	// SavedMasks tracks the length of the saved mask list
	SavedMasks prometheus.Gauge
}

// New creates the metrics and registers them on reg. A nil reg creates
// unregistered metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SegmentationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segmentations_total",
			Help:      "Segmentation passes by outcome",
		}, []string{"outcome"}),
		SegmentationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segmentation_duration_seconds",
			Help:      "Duration of a full segmentation pass",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		EditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Manual edits by action and outcome",
		}, []string{"action", "outcome"}),
		GrownVoxels: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grown_voxels",
			Help:      "Voxels painted per region growing call",
			Buckets:   []float64{0, 10, 100, 1000, 5000, 10000},
		}),
		UndosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undos_total",
			Help:      "Undo requests by result",
		}, []string{"result"}),
		SavedMasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "saved_masks",
			Help:      "Masks accepted in the current session",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.SegmentationsTotal, m.SegmentationSeconds, m.EditsTotal,
			m.GrownVoxels, m.UndosTotal, m.SavedMasks)
	}
	return m
}

// RecordSegmentation records one pass
func (m *Metrics) RecordSegmentation(seconds float64, empty bool, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case empty:
		outcome = "empty"
	}
	m.SegmentationsTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		m.SegmentationSeconds.Observe(seconds)
	}
}

// RecordEdit records a brush edit or growth call
func (m *Metrics) RecordEdit(action string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.EditsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordGrowth observes the size of one growth
func (m *Metrics) RecordGrowth(painted int) {
	if m == nil {
		return
	}
	m.GrownVoxels.Observe(float64(painted))
}

// RecordUndo records an undo request
func (m *Metrics) RecordUndo(restored bool) {
	if m == nil {
		return
	}
	result := "restored"
	if !restored {
		result = "empty"
	}
	m.UndosTotal.WithLabelValues(result).Inc()
}

// SetSavedMasks updates the saved mask gauge
func (m *Metrics) SetSavedMasks(n int) {
	if m == nil {
		return
	}
	m.SavedMasks.Set(float64(n))
}
