package gridwalk

import (
	"fmt"
	"iter"

	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/raster"
)

// Tile is one step of a walk.
type Tile struct {
	XOff    int
	YOff    int
	Width   int
	Height  int
	Overlap int
	// Index is the 0-based position of the tile in the walk.
	Index int
}

// Core is the window the tile writes.
func (t Tile) Core() raster.Window {
	return raster.Window{XOff: t.XOff, YOff: t.YOff, Width: t.Width, Height: t.Height}
}

// ReadWindow is the core widened by the overlap on every side.
func (t Tile) ReadWindow() raster.Window {
	return raster.Window{
		XOff:   t.XOff - t.Overlap,
		YOff:   t.YOff - t.Overlap,
		Width:  t.Width + 2*t.Overlap,
		Height: t.Height + 2*t.Overlap,
	}
}

// Shape returns the rows and columns of arrays bound for this tile.
func (t Tile) Shape() (rows, cols int) {
	return t.Height + 2*t.Overlap, t.Width + 2*t.Overlap
}

func (t Tile) String() string {
	return fmt.Sprintf("tile#%d %dx%d@(%d,%d)+%d", t.Index, t.Width, t.Height, t.XOff, t.YOff, t.Overlap)
}

// Walker yields the tiles of a grid in row-major order.
type Walker struct {
	gridWidth  int
	gridHeight int
	tileWidth  int
	tileHeight int
	overlap    int
}

// New validates the arguments of a walk. Non-positive sizes and a negative
// overlap are rejected here so iteration always terminates.
func New(gridWidth, gridHeight, tileWidth, tileHeight, overlap int) (*Walker, error) {
	if gridWidth <= 0 || gridHeight <= 0 {
		return nil, calcerr.Configf("grid", "size %dx%d must be positive", gridWidth, gridHeight)
	}
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, calcerr.Configf("tile", "size %dx%d must be positive", tileWidth, tileHeight)
	}
	if overlap < 0 {
		return nil, calcerr.Configf("overlap", "must not be negative, got %d", overlap)
	}
	return &Walker{
		gridWidth:  gridWidth,
		gridHeight: gridHeight,
		tileWidth:  min(tileWidth, gridWidth),
		tileHeight: min(tileHeight, gridHeight),
		overlap:    overlap,
	}, nil
}

// Count returns the number of tiles the walk yields.
func (w *Walker) Count() int {
	cols := (w.gridWidth + w.tileWidth - 1) / w.tileWidth
	rows := (w.gridHeight + w.tileHeight - 1) / w.tileHeight
	return cols * rows
}

// Tiles returns the walk as a sequence. Every call starts over and yields
// the same tiles.
func (w *Walker) Tiles() iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		index := 0
		for y := 0; y < w.gridHeight; y += w.tileHeight {
			for x := 0; x < w.gridWidth; x += w.tileWidth {
				t := Tile{
					XOff:    x,
					YOff:    y,
					Width:   min(w.tileWidth, w.gridWidth-x),
					Height:  min(w.tileHeight, w.gridHeight-y),
					Overlap: w.overlap,
					Index:   index,
				}
				if !yield(t) {
					return
				}
				index++
			}
		}
	}
}
