package integration_tests

import (
	"testing"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCoreExecution_AddsTwoRasters runs the simplest calculation end to end:
// two constant rasters are read from disk, summed and published.
func TestCoreExecution_AddsTwoRasters(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	a := testutil.Constant("A", 100, 100, ndarray.Uint8, 5)
	b := testutil.Constant("B", 100, 100, ndarray.Uint8, 3)
	cfg := app.Config{Expression: "R1 = A + B", TileHeight: 16}

	// --- Act ---
	result := testutil.RunIntegrationTest(t, cfg, a, b)

	// --- Assert ---
	require.NoError(t, result.Err, "app.Run() returned an unexpected error")
	assert.Equal(t, 7, result.Result.TilesDone)

	info, out := testutil.ReadOutput(t, result, "R1")
	assert.Equal(t, ndarray.Uint8, info.Bands[0].DType)
	assert.Equal(t, a.Grid, info.Grid)
	for i, v := range out.Data {
		require.Equal(t, 8.0, v, "pixel %d", i)
	}
	testutil.AssertLogged(t, result, "Run completed.")
}
