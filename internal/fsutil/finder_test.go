package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.yaml", "a.TIF", "sub/c.tiff", "sub/c.bin", "notes.txt"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}

	files, err := FindFilesByExtension(root, ".yaml", ".tif", ".tiff")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.TIF"),
		filepath.Join(root, "b.yaml"),
		filepath.Join(root, "sub", "c.tiff"),
	}, files)

	_, err = FindFilesByExtension(root)
	assert.Error(t, err)
	_, err = FindFilesByExtension(filepath.Join(root, "missing"), ".yaml")
	assert.Error(t, err)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "scene", Stem("/data/scene.tif"))
	assert.Equal(t, "B04", Stem("B04.yaml"))
}
