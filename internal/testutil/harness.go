// Package testutil runs the whole application against raster fixtures
// written to a temporary directory.
package testutil

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/processor"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/rawraster"
	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Fixture is an input raster written before the run.
type Fixture struct {
	Name  string
	Grid  raster.Grid
	Array *ndarray.Array
	Bands []string
}

// Constant is a single-band fixture with every pixel set to v.
func Constant(name string, width, height int, dtype ndarray.DType, v float64) Fixture {
	return Fixture{
		Name:  name,
		Grid:  raster.Grid{Width: width, Height: height, GeoTransform: raster.DefaultGeoTransform},
		Array: ndarray.Full(dtype, 1, height, width, v),
	}
}

// Random is an int16 fixture of uniformly drawn values in [-2000, 2000)
// on a georeferenced grid.
func Random(name string, width, height, bands int, seed int64) Fixture {
	rng := rand.New(rand.NewSource(seed))
	a := ndarray.New(ndarray.Int16, bands, height, width)
	for i := range a.Data {
		a.Data[i] = float64(rng.Intn(4000) - 2000)
	}
	return Fixture{
		Name:  name,
		Grid:  raster.Grid{Width: width, Height: height, GeoTransform: [6]float64{500000, 30, 0, 4200000, 0, -30}, CRS: "EPSG:32633"},
		Array: a,
	}
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	Result    *processor.Result
	App       *app.App
	OutputDir string
}

// RunIntegrationTest provides a standardized harness for running integration tests
// using a default background context.
func RunIntegrationTest(t *testing.T, cfg app.Config, fixtures ...Fixture) *HarnessResult {
	t.Helper()
	return RunIntegrationTestWithContext(context.Background(), t, cfg, fixtures...)
}

// RunIntegrationTestWithContext provides a standardized harness for running integration
// tests with a specific context provided by the caller. Fixtures are bound by
// name unless cfg already lists inputs or an inputs directory; an InputsDir
// of "inputs" stands for the directory the fixtures are written to. OutputDir
// defaults to a temporary directory.
func RunIntegrationTestWithContext(ctx context.Context, t *testing.T, cfg app.Config, fixtures ...Fixture) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	inputsDir := filepath.Join(tmpDir, "inputs")
	require.NoError(t, os.MkdirAll(inputsDir, 0o755))

	bindByName := cfg.Inputs == nil && cfg.InputsDir == ""
	if bindByName {
		cfg.Inputs = make(map[string]string, len(fixtures))
	}
	for _, f := range fixtures {
		base := filepath.Join(inputsDir, f.Name)
		require.NoError(t, rawraster.Write(base, f.Grid, f.Array, f.Bands...))
		if bindByName {
			cfg.Inputs[f.Name] = base + rawraster.HeaderExt
		}
	}
	if cfg.InputsDir == "inputs" {
		cfg.InputsDir = inputsDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(tmpDir, "out")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	appConfig, err := app.NewConfig(cfg)
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	testApp := app.NewApp(logBuffer, appConfig)
	res, runErr := testApp.Run(ctx)

	if os.Getenv("BLOCKCALC_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}

	return &HarnessResult{
		LogOutput: logBuffer.String(),
		Err:       runErr,
		Result:    res,
		App:       testApp,
		OutputDir: cfg.OutputDir,
	}
}
