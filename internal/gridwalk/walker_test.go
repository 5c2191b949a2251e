package gridwalk

import (
	"slices"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidArguments(t *testing.T) {
	testCases := []struct {
		name                   string
		gw, gh, tw, th, overlp int
	}{
		{name: "zero tile width", gw: 10, gh: 10, tw: 0, th: 5},
		{name: "zero tile height", gw: 10, gh: 10, tw: 5, th: 0},
		{name: "negative tile height", gw: 10, gh: 10, tw: 5, th: -1},
		{name: "empty grid", gw: 0, gh: 10, tw: 5, th: 5},
		{name: "negative overlap", gw: 10, gh: 10, tw: 5, th: 5, overlp: -1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.gw, tc.gh, tc.tw, tc.th, tc.overlp)
			require.Error(t, err)
			assert.True(t, calcerr.IsConfiguration(err))
		})
	}
}

func TestTiles_CoresCoverGridExactly(t *testing.T) {
	for _, gw := range []int{1, 2, 7, 16} {
		for _, gh := range []int{1, 3, 10} {
			for _, tw := range []int{1, 3, 16, 40} {
				for _, th := range []int{1, 4, 10} {
					for _, overlap := range []int{0, 2} {
						w, err := New(gw, gh, tw, th, overlap)
						require.NoError(t, err)

						hits := make([]int, gw*gh)
						n := 0
						for tile := range w.Tiles() {
							assert.Equal(t, n, tile.Index)
							assert.Equal(t, overlap, tile.Overlap)
							for y := tile.YOff; y < tile.YOff+tile.Height; y++ {
								for x := tile.XOff; x < tile.XOff+tile.Width; x++ {
									hits[y*gw+x]++
								}
							}
							n++
						}
						assert.Equal(t, w.Count(), n)
						for i, h := range hits {
							require.Equal(t, 1, h, "grid %dx%d tile %dx%d pixel %d", gw, gh, tw, th, i)
						}
					}
				}
			}
		}
	}
}

func TestTiles_RowMajorAndRestartable(t *testing.T) {
	w, err := New(5, 5, 2, 3, 1)
	require.NoError(t, err)

	first := slices.Collect(w.Tiles())
	second := slices.Collect(w.Tiles())
	require.Equal(t, first, second)

	expected := [][2]int{{0, 0}, {2, 0}, {4, 0}, {0, 3}, {2, 3}, {4, 3}}
	require.Len(t, first, len(expected))
	for i, tile := range first {
		assert.Equal(t, expected[i], [2]int{tile.XOff, tile.YOff})
	}
	assert.Equal(t, 1, first[2].Width)
	assert.Equal(t, 2, first[3].Height)
}

func TestTiles_Monolithic(t *testing.T) {
	w, err := New(8, 6, 8, 6, 0)
	require.NoError(t, err)
	tiles := slices.Collect(w.Tiles())
	require.Len(t, tiles, 1)
	assert.Equal(t, Tile{Width: 8, Height: 6}, tiles[0])
}

func TestTile_ReadWindow(t *testing.T) {
	tile := Tile{XOff: 4, YOff: 10, Width: 6, Height: 5, Overlap: 2}
	win := tile.ReadWindow()
	assert.Equal(t, 2, win.XOff)
	assert.Equal(t, 8, win.YOff)
	assert.Equal(t, 10, win.Width)
	assert.Equal(t, 9, win.Height)

	rows, cols := tile.Shape()
	assert.Equal(t, 9, rows)
	assert.Equal(t, 10, cols)
	assert.True(t, win.Contains(tile.Core()))
}

func TestTiles_EarlyStop(t *testing.T) {
	w, err := New(10, 10, 1, 1, 0)
	require.NoError(t, err)
	n := 0
	for range w.Tiles() {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}
