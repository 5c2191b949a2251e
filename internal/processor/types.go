package processor

import (
	"fmt"
	"time"

	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/schema"
)

// State is the phase a run is in.
type State int32

const (
	Configuring State = iota
	Inferring
	Running
	Completed
	Canceled
	Failed
)

var stateNames = [...]string{"configuring", "inferring", "running", "completed", "canceled", "failed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool { return s == Completed || s == Canceled || s == Failed }

// Input declares one source under the name the snippet refers to it by.
type Input struct {
	Name   string
	Source raster.Source
}

// Observer is notified of run progress. Implementations must be cheap; they
// are called on the processing goroutine.
type Observer interface {
	RunStarted(tiles int)
	TileDone(tile gridwalk.Tile, elapsed time.Duration)
	RunFinished(state State, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunStarted(int)                        {}
func (nopObserver) TileDone(gridwalk.Tile, time.Duration) {}
func (nopObserver) RunFinished(State, time.Duration)      {}

// Options tune a run. The zero value is usable.
type Options struct {
	// Grid is the destination grid. It defaults to the grid of the first
	// declared input.
	Grid *raster.Grid
	// MemoryBudget caps the bytes held per tile. Zero selects
	// budget.DefaultBytes.
	MemoryBudget int64
	// Overlap is the margin, in pixels, read around every tile.
	Overlap int
	// Monolithic processes the whole grid as a single tile.
	Monolithic bool
	// TileHeight, when positive, replaces the height derived from the
	// memory budget.
	TileHeight int
	// Progress is called after every written tile.
	Progress func(done, total int)
	// Observer receives run and tile events.
	Observer Observer
}

// Result reports what a run did. It is returned together with any error,
// so partial progress is visible after a failure or cancellation.
type Result struct {
	State State
	// Outputs maps each output name to the location of its sink.
	Outputs    map[string]string
	Schema     schema.Schema
	TileHeight int
	TilesDone  int
	TilesTotal int
}
