package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmscore-go/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func fileStoreConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bmsd.yaml")
	doc := "store:\n  backend: file\n  path: " + filepath.Join(dir, "settings.bin") + "\n  size: 64\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestRootShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := execute(t, context.Background())
	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "bmsd")
}

func TestRootRejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, context.Background(), "--unknown-flag", "value")
	assert.Error(t, err)
}

func TestStoreSetThenDump(t *testing.T) {
	cfg := fileStoreConfig(t)

	out, err := execute(t, context.Background(), "--config", cfg, "store", "set", "slaves", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "slaves = 3")

	_, err = execute(t, context.Background(), "--config", cfg, "store", "set", "mode", "charge")
	require.NoError(t, err)

	out, err = execute(t, context.Background(), "--config", cfg, "store", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "image: a5 01 03")
	assert.Contains(t, out, "slaves     3")
	assert.Contains(t, out, "mode       charge")
}

func TestStoreResetInvalidates(t *testing.T) {
	cfg := fileStoreConfig(t)
	_, err := execute(t, context.Background(), "--config", cfg, "store", "set", "ov", "4.25")
	require.NoError(t, err)

	out, err := execute(t, context.Background(), "--config", cfg, "store", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "invalidated")

	out, err = execute(t, context.Background(), "--config", cfg, "store", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "image: ff")
	assert.Contains(t, out, "no valid image")
}

func TestStoreSetRejects(t *testing.T) {
	cfg := fileStoreConfig(t)

	_, err := execute(t, context.Background(), "--config", cfg, "store", "set", "colour", "blue")
	assert.ErrorContains(t, err, "unknown field")

	_, err = execute(t, context.Background(), "--config", cfg, "store", "set", "slaves", "x")
	assert.ErrorContains(t, err, "not an integer")

	// Fails Settings.Validate, so nothing is written.
	_, err = execute(t, context.Background(), "--config", cfg, "store", "set", "uv", "9")
	assert.Error(t, err)
}

func TestSetField(t *testing.T) {
	s := store.Defaults()
	require.NoError(t, setField(&s, "max_cycle", "250"))
	assert.Equal(t, 250*time.Millisecond, s.MaxCycle)
	require.NoError(t, setField(&s, "ut", "-20.5"))
	assert.InDelta(t, -20.5, s.UnderTemp, 1e-9)
	assert.Error(t, setField(&s, "mode", "reverse"))
}

func TestRunBenchUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bmsd.yaml")
	doc := `
log:
  level: error
bms:
  sensor: fixed
  fixed_amps: 5
  fixed_volts: 36
monitor:
  period_ms: 20
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := execute(t, ctx, "--config", path, "run")
	assert.NoError(t, err)
}
