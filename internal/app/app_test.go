package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/rawraster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func validConfig() Config {
	return Config{Expression: "R1 = A", Inputs: map[string]string{"A": "a.yaml"}, OutputDir: "out"}
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(validConfig())
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no expression", func(c *Config) { c.Expression = "  " }, "expression"},
		{"both expressions", func(c *Config) { c.ExpressionPath = "x.calc" }, "mutually exclusive"},
		{"no inputs", func(c *Config) { c.Inputs = nil }, "input"},
		{"bad input name", func(c *Config) { c.Inputs = map[string]string{"1A": "a.yaml"} }, `"1A"`},
		{"no output", func(c *Config) { c.OutputDir = "" }, "output directory"},
		{"negative budget", func(c *Config) { c.MemoryBudget = -1 }, "memory budget"},
		{"negative overlap", func(c *Config) { c.Overlap = -2 }, "overlap"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			_, err := NewConfig(c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	newLogger("debug", "json", &buf).Debug("Hello.", "k", 1)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Hello.", line["msg"])

	buf.Reset()
	newLogger("warn", "text", &buf).Info("Hidden.")
	assert.Empty(t, buf.String())

	buf.Reset()
	newLogger("info", "pretty", &buf).Info("Pretty.", "tiles", 3)
	assert.Contains(t, buf.String(), "Pretty.")
	assert.Contains(t, buf.String(), "tiles")
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	cfg, err := NewConfig(validConfig())
	require.NoError(t, err)
	a := NewApp(&bytes.Buffer{}, cfg)
	a.Metrics().RunStarted(4)

	rec := httptest.NewRecorder()
	a.handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = httptest.NewRecorder()
	a.handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "blockcalc_tiles_planned 4")
}

func TestHealthCheckServer_DisabledByDefault(t *testing.T) {
	cfg, err := NewConfig(validConfig())
	require.NoError(t, err)
	a := NewApp(&bytes.Buffer{}, cfg)
	require.NoError(t, a.healthCheckServer())
	assert.Nil(t, a.httpServer)
	assert.NoError(t, a.closeHealthCheckServer())
}

func TestOpenRaster_ByExtension(t *testing.T) {
	dir := t.TempDir()
	grid := raster.Grid{Width: 2, Height: 2}
	require.NoError(t, rawraster.Write(filepath.Join(dir, "raw"), grid, ndarray.Full(ndarray.Uint8, 1, 2, 2, 1)))

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2)), nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.TIF"), buf.Bytes(), 0o644))

	for _, name := range []string{"raw.yaml", "raw.bin", "raw", "scene.TIF"} {
		src, closer, err := openRaster(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, 2, src.Info().Grid.Width)
		require.NoError(t, closer.Close())
	}

	_, _, err := openRaster(filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)
}

func TestInputPaths_DiscoveryAndOverrides(t *testing.T) {
	dir := t.TempDir()
	grid := raster.Grid{Width: 1, Height: 1}
	for _, name := range []string{"red", "nir"} {
		require.NoError(t, rawraster.Write(filepath.Join(dir, name), grid, ndarray.New(ndarray.Uint8, 1, 1, 1)))
	}

	c := &Config{InputsDir: dir, Inputs: map[string]string{"nir": "elsewhere/nir.yaml", "A": "a.yaml"}}
	paths, err := c.inputPaths()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"red": filepath.Join(dir, "red.yaml"),
		"nir": "elsewhere/nir.yaml",
		"A":   "a.yaml",
	}, paths)

	empty := &Config{InputsDir: t.TempDir()}
	_, err = empty.inputPaths()
	assert.True(t, calcerr.IsConfiguration(err))
}

func TestRun_ExpressionFile(t *testing.T) {
	dir := t.TempDir()
	grid := raster.Grid{Width: 2, Height: 1}
	require.NoError(t, rawraster.Write(filepath.Join(dir, "A"), grid, ndarray.Full(ndarray.Int16, 1, 1, 2, -3)))
	exprPath := filepath.Join(dir, "calc.txt")
	require.NoError(t, os.WriteFile(exprPath, []byte("magnitude = abs(A)\n"), 0o644))

	cfg, err := NewConfig(Config{
		ExpressionPath: exprPath,
		Inputs:         map[string]string{"A": filepath.Join(dir, "A.yaml")},
		OutputDir:      filepath.Join(dir, "out"),
		LogFormat:      "json",
	})
	require.NoError(t, err)
	var logs bytes.Buffer
	res, err := NewApp(&logs, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "magnitude.bin"), res.Outputs["magnitude"])
	assert.True(t, strings.Contains(logs.String(), `"msg":"Output written."`))

	missing := *cfg
	missing.ExpressionPath = filepath.Join(dir, "missing.txt")
	_, err = NewApp(&bytes.Buffer{}, &missing).Run(context.Background())
	assert.True(t, calcerr.IsConfiguration(err))
}
