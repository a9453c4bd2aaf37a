// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultFenceTimeout, c.Task.FenceTimeout.Std())
	assert.Equal(t, 2.0, c.Scene.InstanceGrowth)
	assert.Equal(t, 4096, c.Scene.MaxGrowthStep)
	assert.Equal(t, 64, c.Scene.MinInstances)
	assert.Equal(t, slog.LevelInfo, c.Log.Level)
}

func TestDecodeTOML(t *testing.T) {
	const doc = `
[task]
fence_timeout = "250ms"

[repository]
scratch_align = 256

[scene]
instance_growth = 1.5
min_instances = 8

[log]
level = "DEBUG"
`
	c, err := Decode(strings.NewReader(doc), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, c.Task.FenceTimeout.Std())
	assert.Equal(t, int64(256), c.Repository.ScratchAlign)
	assert.Equal(t, 1.5, c.Scene.InstanceGrowth)
	assert.Equal(t, 8, c.Scene.MinInstances)
	// Missing values keep their defaults.
	assert.Equal(t, 4096, c.Scene.MaxGrowthStep)
	assert.Equal(t, slog.LevelDebug, c.Log.Level)
}

func TestDecodeYAML(t *testing.T) {
	const doc = `
task:
  fence_timeout: 2s
scene:
  max_growth_step: -1
`
	c, err := Decode(strings.NewReader(doc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.Task.FenceTimeout.Std())
	assert.Equal(t, -1, c.Scene.MaxGrowthStep)
	assert.Equal(t, 2.0, c.Scene.InstanceGrowth)

	c, err = Decode(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestDecodeInvalid(t *testing.T) {
	for _, doc := range [...]string{
		"[repository]\nscratch_align = 100\n",
		"[scene]\ninstance_growth = 1.0\n",
		"[scene]\nmin_instances = 0\n",
	} {
		_, err := Decode(strings.NewReader(doc), FormatTOML)
		assert.ErrorIs(t, err, ErrInvalid, doc)
	}
	_, err := Decode(strings.NewReader("[task]\nfence_timeout = \"soon\"\n"), FormatTOML)
	assert.Error(t, err)
	_, err = Decode(strings.NewReader(""), Format(42))
	assert.Error(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.Task.FenceTimeout = Duration(3 * time.Second)
	c.Scene.MinInstances = 16
	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	path := filepath.Join(dir, "accel.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	have, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, have)

	path = filepath.Join(dir, "accel.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	_, err = Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogger(t *testing.T) {
	c := Default()
	c.Log.Level = slog.LevelWarn
	var buf bytes.Buffer
	log := c.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
