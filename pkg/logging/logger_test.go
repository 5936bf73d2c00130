package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_JSONIncludesService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Service: "cli", Output: &buf})

	logger.Info("segmented", "foreground", 42)
	logger.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "segmented", rec["msg"])
	assert.Equal(t, "cli", rec["service"])
	assert.EqualValues(t, 42, rec["foreground"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	l := New(Config{})
	assert.Same(t, l, OrNop(l))
}
