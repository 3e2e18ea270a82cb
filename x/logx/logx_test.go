package logx

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewToFiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	log := NewTo(&buf, "monitor", slog.LevelInfo)

	log.Debug("hidden")
	log.Info("tick", "n", 3)
	log.Error("failed", Err(errors.New("pec mismatch")))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "tick")
	assert.Contains(t, out, "component=monitor")
	assert.Contains(t, out, "n=3")
	assert.Contains(t, out, "pec mismatch")
	assert.NotContains(t, out, "\x1b[")
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(t.Context(), slog.LevelError))
}
