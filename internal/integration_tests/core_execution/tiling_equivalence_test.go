package integration_tests

import (
	"testing"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCoreExecution_TilingDoesNotChangeResults checks that the tile height,
// whether chosen explicitly or derived from the memory budget, never changes
// the written pixels.
func TestCoreExecution_TilingDoesNotChangeResults(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	a := testutil.Random("A", 37, 23, 3, 11)
	const expression = `
scaled = A * 2 - 7
positive = A > 0
`
	configs := map[string]app.Config{
		"monolithic": {Expression: expression, Monolithic: true},
		"one row":    {Expression: expression, TileHeight: 1},
		"five rows":  {Expression: expression, TileHeight: 5},
		"budget":     {Expression: expression, MemoryBudget: 40_000},
	}

	// --- Act ---
	written := make(map[string]map[string][]float64)
	for name, cfg := range configs {
		result := testutil.RunIntegrationTest(t, cfg, a)
		require.NoError(t, result.Err, name)
		written[name] = make(map[string][]float64)
		for _, output := range []string{"scaled", "positive"} {
			_, arr := testutil.ReadOutput(t, result, output)
			written[name][output] = arr.Data
		}
	}

	// --- Assert ---
	want := written["monolithic"]
	for name, got := range written {
		assert.Equal(t, want, got, "%s differs from the monolithic run", name)
	}
	assert.Equal(t, a.Array.Data[0]*2-7, want["scaled"][0])
}
