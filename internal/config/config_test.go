package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  data_dir: ` + filepath.Join(dir, "data") + `
attendance:
  export_dir: ` + filepath.Join(dir, "exports") + `
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Pipeline.Liveness.MinFrames)
	assert.InDelta(t, 0.05, cfg.Pipeline.Liveness.StaticMotionMax, 0.001)
	assert.InDelta(t, 150.0, cfg.Pipeline.Liveness.StaticTextureMin, 0.001)
	assert.InDelta(t, 0.21, cfg.Pipeline.Blink.EARThreshold, 0.001)
	assert.Equal(t, 2, cfg.Pipeline.Blink.ConsecutiveFrames)
	assert.InDelta(t, 67.0, cfg.Pipeline.RecognitionThreshold, 0.001)
	assert.Equal(t, 5, cfg.Attendance.ToleranceMinutes)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 8080
  data_dir: ` + filepath.Join(dir, "data") + `
attendance:
  target_duration: "01:00:00"
  export_dir: ` + filepath.Join(dir, "exports") + `
pipeline:
  liveness:
    min_frames: 8
  blink:
    consecutive_frames: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "01:00:00", cfg.Attendance.TargetDuration)
	assert.Equal(t, 8, cfg.Pipeline.Liveness.MinFrames)
	assert.Equal(t, 3, cfg.Pipeline.Blink.ConsecutiveFrames)

	// Unset values keep their defaults.
	assert.InDelta(t, 0.1, cfg.Pipeline.Liveness.MotionMin, 0.001)
}

func TestLoadCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dataDir := filepath.Join(dir, "data")
	exportDir := filepath.Join(dir, "exports")
	yaml := `
server:
  data_dir: ` + dataDir + `
attendance:
  export_dir: ` + exportDir + `
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	_, err := Load(path)
	require.NoError(t, err)

	assert.DirExists(t, dataDir)
	assert.DirExists(t, exportDir)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
