package integration_tests

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/processor"
	"github.com/specialistvlad/blockcalc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The expression succeeds on the first strip and fails on the second.
const failsAfterFirstTile = "R1 = tile.y_offset > 0 ? band(A, 2) : A + 1"

// TestErrorHandling_DiscardPartialPublishesNothing checks that a run failing
// mid-grid publishes nothing when partial outputs are discarded.
func TestErrorHandling_DiscardPartialPublishesNothing(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	a := testutil.Constant("A", 4, 4, ndarray.Uint8, 1)
	cfg := app.Config{Expression: failsAfterFirstTile, TileHeight: 2, DiscardPartial: true}

	// --- Act ---
	result := testutil.RunIntegrationTest(t, cfg, a)

	// --- Assert ---
	assert.True(t, calcerr.IsScript(result.Err))
	assert.Equal(t, processor.Failed, result.Result.State)
	assert.Equal(t, 1, result.Result.TilesDone)
	_, err := os.Stat(filepath.Join(result.OutputDir, "R1.bin"))
	assert.True(t, os.IsNotExist(err), "nothing is published")
}

// TestErrorHandling_FailedRunKeepsWrittenTiles checks that by default the
// strips written before the failure are published.
func TestErrorHandling_FailedRunKeepsWrittenTiles(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	a := testutil.Constant("A", 4, 4, ndarray.Uint8, 1)
	cfg := app.Config{Expression: failsAfterFirstTile, TileHeight: 2}

	// --- Act ---
	result := testutil.RunIntegrationTest(t, cfg, a)

	// --- Assert ---
	require.Error(t, result.Err)
	_, out := testutil.ReadOutput(t, result, "R1")
	assert.Equal(t, []float64{2, 2, 2, 2, 2, 2, 2, 2, 0, 0, 0, 0, 0, 0, 0, 0}, out.Data)
	assert.Equal(t, filepath.Join(result.OutputDir, "R1.bin"), result.Result.Outputs["R1"])
}
