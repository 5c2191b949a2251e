package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/rawraster"
	"github.com/stretchr/testify/require"
)

// ReadOutput opens the published output called name and reads all of it.
func ReadOutput(t *testing.T, result *HarnessResult, name string) (raster.Info, *ndarray.Array) {
	t.Helper()

	r, err := rawraster.Open(filepath.Join(result.OutputDir, name))
	require.NoError(t, err, "output %q was not published", name)
	defer r.Close()

	info := r.Info()
	bands := make([]int, info.BandCount())
	for i := range bands {
		bands[i] = i
	}
	a, err := r.Read(context.Background(), info.Grid.Bounds(), bands)
	require.NoError(t, err)
	return info, a
}

// AssertLogged checks that the run logged a line containing substr.
func AssertLogged(t *testing.T, result *HarnessResult, substr string) {
	t.Helper()
	require.True(t, strings.Contains(result.LogOutput, substr),
		"expected log output to contain %q", substr)
}
