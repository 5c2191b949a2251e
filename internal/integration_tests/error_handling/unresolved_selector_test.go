package integration_tests

import (
	"os"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/processor"
	"github.com/specialistvlad/blockcalc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrorHandling_UnresolvedBandSelectorWritesNothing checks that a band
// selector no input can satisfy fails the run before any output exists.
func TestErrorHandling_UnresolvedBandSelectorWritesNothing(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	a := testutil.Constant("A", 4, 4, ndarray.Uint16, 10)
	a.Bands = []string{"red"}
	cfg := app.Config{Expression: `R1 = A@"blue" * 2`}

	// --- Act ---
	result := testutil.RunIntegrationTest(t, cfg, a)

	// --- Assert ---
	var cfgErr *calcerr.ConfigurationError
	require.ErrorAs(t, result.Err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), `A@"blue"`)
	assert.Equal(t, processor.Failed, result.Result.State)

	entries, err := os.ReadDir(result.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no output and no staging directory is left behind")
}
