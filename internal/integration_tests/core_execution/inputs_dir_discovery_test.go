package integration_tests

import (
	"testing"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCoreExecution_BindsInputsFromDirectory validates that every raster in
// the inputs directory is bound under its file name.
func TestCoreExecution_BindsInputsFromDirectory(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	red := testutil.Constant("red", 8, 6, ndarray.Uint16, 100)
	nir := testutil.Constant("nir", 8, 6, ndarray.Uint16, 300)
	cfg := app.Config{
		Expression: "ndvi = (nir - red) / (nir + red)",
		InputsDir:  "inputs",
	}

	// --- Act ---
	result := testutil.RunIntegrationTest(t, cfg, red, nir)

	// --- Assert ---
	require.NoError(t, result.Err)
	info, out := testutil.ReadOutput(t, result, "ndvi")
	assert.Equal(t, ndarray.Float32, info.Bands[0].DType)
	assert.Equal(t, 0.5, out.Data[0])
	assert.Equal(t, 0.5, out.Data[len(out.Data)-1])
}
