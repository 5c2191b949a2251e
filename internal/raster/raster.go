// Package raster describes the multi-band grids a run reads from and writes
// to. Codecs live behind the Source, Sink and SinkFactory interfaces; see
// memraster, rawraster and tiffraster for implementations.
package raster

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
)

// Grid is the pixel geometry shared by every source bound to a run.
type Grid struct {
	Width        int
	Height       int
	GeoTransform [6]float64
	CRS          string
}

// DefaultGeoTransform maps pixel (col, row) to (col, -row).
var DefaultGeoTransform = [6]float64{0, 1, 0, 0, 0, -1}

// Validate checks that g has a usable size.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid size %dx%d must be positive", g.Width, g.Height)
	}
	return nil
}

// SameSize reports whether g and o have identical pixel dimensions.
func (g Grid) SameSize(o Grid) bool { return g.Width == o.Width && g.Height == o.Height }

// Bounds is the window covering the whole grid.
func (g Grid) Bounds() Window { return Window{Width: g.Width, Height: g.Height} }

// Window is a rectangle of pixels; XOff/YOff may be negative for windows
// that reach past the grid edge.
type Window struct {
	XOff   int
	YOff   int
	Width  int
	Height int
}

// Empty reports whether w covers no pixels.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

// Intersect returns the overlap of w and o.
func (w Window) Intersect(o Window) Window {
	x0, y0 := max(w.XOff, o.XOff), max(w.YOff, o.YOff)
	x1, y1 := min(w.XOff+w.Width, o.XOff+o.Width), min(w.YOff+w.Height, o.YOff+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Window{XOff: x0, YOff: y0}
	}
	return Window{XOff: x0, YOff: y0, Width: x1 - x0, Height: y1 - y0}
}

// Contains reports whether o lies completely inside w.
func (w Window) Contains(o Window) bool {
	return o.XOff >= w.XOff && o.YOff >= w.YOff &&
		o.XOff+o.Width <= w.XOff+w.Width && o.YOff+o.Height <= w.YOff+w.Height
}

func (w Window) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", w.Width, w.Height, w.XOff, w.YOff)
}

// BandInfo is the per-band metadata of a source.
type BandInfo struct {
	Name  string
	DType ndarray.DType
	// Wavelength is the band centre in nanometers; 0 when unknown.
	Wavelength float64
	NoData     *float64
}

// Info is everything a run needs to know about a source before reading it.
type Info struct {
	Location string
	Grid     Grid
	Bands    []BandInfo
	// Categorical marks a source rasterised from classified vector data. It
	// has one informative band followed by a placeholder band.
	Categorical bool
}

// BandCount returns the number of bands.
func (i Info) BandCount() int { return len(i.Bands) }

// Source is an opened, read-only multi-band raster.
type Source interface {
	Info() Info
	// Read returns the given 0-based bands over win. The window lies inside
	// the grid. The returned array has no mask; no-data handling is up to
	// the caller.
	Read(ctx context.Context, win Window, bands []int) (*ndarray.Array, error)
}

// Metadata is what a snippet may set on an output through its writer handle.
type Metadata struct {
	NoData      *float64
	BandNames   []string
	Wavelengths []float64
	Items       map[string]string
}

// IsZero reports whether m sets nothing.
func (m Metadata) IsZero() bool {
	return m.NoData == nil && len(m.BandNames) == 0 && len(m.Wavelengths) == 0 && len(m.Items) == 0
}

// SinkSpec describes an output raster to create.
type SinkSpec struct {
	Name  string
	Grid  Grid
	DType ndarray.DType
	Bands int
}

// Validate checks the spec before a factory allocates anything.
func (s SinkSpec) Validate() error {
	if s.Name == "" {
		return errors.New("sink name must not be empty")
	}
	if s.Bands <= 0 {
		return fmt.Errorf("sink %q: band count must be positive, got %d", s.Name, s.Bands)
	}
	if s.DType.Size() == 0 {
		return fmt.Errorf("sink %q: unsupported element type %s", s.Name, s.DType)
	}
	return s.Grid.Validate()
}

// Sink is a newly created output raster owned by one run.
type Sink interface {
	Location() string
	// Write stores a over win. The array must have the sink's band count and
	// win's size; it is written as-is, masks are ignored.
	Write(ctx context.Context, win Window, a *ndarray.Array) error
	SetMetadata(m Metadata) error
	Close() error
}

// SinkFactory creates sinks for a run's outputs.
type SinkFactory interface {
	Create(ctx context.Context, spec SinkSpec) (Sink, error)
}

// CheckRead validates a read request against info.
func CheckRead(info Info, win Window, bands []int) error {
	if win.Empty() {
		return fmt.Errorf("%s: empty read window %s", info.Location, win)
	}
	if !info.Grid.Bounds().Contains(win) {
		return fmt.Errorf("%s: window %s outside grid %dx%d", info.Location, win, info.Grid.Width, info.Grid.Height)
	}
	for _, b := range bands {
		if b < 0 || b >= len(info.Bands) {
			return fmt.Errorf("%s: band index %d out of range [0, %d)", info.Location, b, len(info.Bands))
		}
	}
	return nil
}
