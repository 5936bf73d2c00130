package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"ctsegment/internal/models"
	"ctsegment/pkg/config"
	"ctsegment/pkg/logging"
	"ctsegment/pkg/session"
	"ctsegment/pkg/volumeio"
)

const testScript = `
steps:
  - op: threshold
    lower: 0
    upper: 1000
  - op: segment
  - op: erase
    plane: axial
    point: [16, 16, 8]
    size: 2
  - op: erase
    plane: axial
    point: [0, 16, 8]
  - op: undo
  - op: accept
  - op: import
    path: extra.yaml
  - op: combine
`

func loadedSession(t *testing.T) *session.Session {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Processing.NumCores = 2
	s, err := session.New(cfg, logging.Nop(), nil)
	require.NoError(t, err)

	vol := models.NewIntensityVolume(models.Shape{X: 32, Y: 32, Z: 16})
	for i := range vol.Data {
		vol.Data[i] = 400
	}
	require.NoError(t, s.Load(vol, volumeio.DefaultMeta()))
	return s
}

func TestRunnerReplaysScript(t *testing.T) {
	dir := t.TempDir()
	scriptFile := filepath.Join(dir, "edits.yaml")
	require.NoError(t, os.WriteFile(scriptFile, []byte(testScript), 0644))

	extra := models.NewMask(models.Shape{X: 32, Y: 32, Z: 2})
	extra.Data[0] = 1
	require.NoError(t, volumeio.WriteMask(filepath.Join(dir, "extra.yaml"), extra, volumeio.DefaultMeta()))

	script, err := LoadScript(scriptFile)
	require.NoError(t, err)
	require.Len(t, script.Steps, 8)

	sess := loadedSession(t)
	r := newRunner(sess, logging.Nop(), dir)
	require.NoError(t, r.Run(context.Background(), script))

	require.Len(t, r.report.Steps, 8)
	assert.Contains(t, r.report.Steps[2].Detail, "affected=9")
	assert.NotEmpty(t, r.report.Steps[3].Error, "edit at the edge must be rejected")
	assert.Equal(t, "reverted erase", r.report.Steps[4].Detail)
	assert.Equal(t, 2, sess.SavedCount())
	require.NotNil(t, r.report.LastSegmentation)
	assert.Equal(t, 32*32*16, r.report.LastSegmentation.MaskVoxels)

	labels, err := sess.Combine()
	require.NoError(t, err)
	assert.Equal(t, int64(101), labels.At(0, 0, 0))
	assert.Equal(t, int64(100), labels.At(16, 16, 8))

	reportPath := filepath.Join(dir, "out", "report.yaml")
	require.NoError(t, r.WriteReport(reportPath))
	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var rep Report
	require.NoError(t, yaml.Unmarshal(data, &rep))
	assert.Equal(t, sess.ID(), rep.Session)
	assert.Equal(t, 2, rep.SavedMasks)
}

func TestRunnerStopsOnHardErrors(t *testing.T) {
	sess := loadedSession(t)
	r := newRunner(sess, logging.Nop(), t.TempDir())

	err := r.Run(context.Background(), &Script{Steps: []Step{{Op: "segment"}}})
	assert.ErrorIs(t, err, session.ErrNoThreshold)

	err = r.Run(context.Background(), &Script{Steps: []Step{{Op: "explode"}}})
	assert.ErrorContains(t, err, "unknown op")

	err = r.Run(context.Background(), &Script{Steps: []Step{{Op: "roi", ROI: []int{0, 40, 0, 32, 0, 16}}}})
	assert.ErrorIs(t, err, models.ErrInvalidROI)
}

func TestRunnerResolvesViewPoints(t *testing.T) {
	sess := loadedSession(t)
	r := newRunner(sess, logging.Nop(), t.TempDir())

	plane, idx, err := r.resolve(Step{Plane: "coronal", Point: []int{10, 4, 7}})
	require.NoError(t, err)
	assert.Equal(t, models.Coronal, plane)
	assert.Equal(t, models.ResolveIndex(models.Coronal, 10, 4, 7, models.Shape{X: 32, Y: 32, Z: 16}), idx)

	_, _, err = r.resolve(Step{Plane: "oblique", Point: []int{1, 2, 3}})
	assert.Error(t, err)
}

func TestLoadScriptRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps: []\n"), 0644))
	_, err := LoadScript(path)
	assert.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	roi, err := parseROI("1, 5,2,6,0,3")
	require.NoError(t, err)
	assert.Equal(t, models.ROI{XMin: 1, XMax: 5, YMin: 2, YMax: 6, ZMin: 0, ZMax: 3}, roi)

	_, err = parseROI("1,2,3")
	assert.ErrorIs(t, err, models.ErrInvalidROI)

	rng, err := parseRange("-100,300.5")
	require.NoError(t, err)
	assert.Equal(t, models.ThresholdRange{Lower: -100, Upper: 300.5}, rng)

	_, err = parseRange("abc,1")
	assert.ErrorIs(t, err, models.ErrInvalidThreshold)
}
