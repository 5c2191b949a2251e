package memraster

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
)

// ErrClosed is returned when writing to a raster after Close.
var ErrClosed = errors.New("memraster: raster is closed")

// Raster is a multi-band grid held in memory.
type Raster struct {
	mu     sync.RWMutex
	info   raster.Info
	dtype  ndarray.DType
	data   []float64 // band-major, full grid
	meta   raster.Metadata
	closed bool
	writes int
}

// New creates a raster over grid with one band per BandInfo, every pixel
// set to fill.
func New(name string, grid raster.Grid, dtype ndarray.DType, bands []raster.BandInfo, fill float64) *Raster {
	info := raster.Info{
		Location: "mem://" + name,
		Grid:     grid,
		Bands:    make([]raster.BandInfo, len(bands)),
	}
	for i, b := range bands {
		if b.DType == ndarray.Invalid {
			b.DType = dtype
		}
		info.Bands[i] = b
	}
	r := &Raster{
		info:  info,
		dtype: dtype,
		data:  make([]float64, grid.Width*grid.Height*len(bands)),
	}
	fill = dtype.Cast(fill)
	if fill != 0 {
		for i := range r.data {
			r.data[i] = fill
		}
	}
	return r
}

// FromArray wraps a copy of a as a raster over grid. Band names are taken
// from names when given.
func FromArray(name string, grid raster.Grid, a *ndarray.Array, names ...string) (*Raster, error) {
	if a.Rows != grid.Height || a.Cols != grid.Width {
		return nil, fmt.Errorf("memraster: array %s does not match grid %dx%d", a, grid.Width, grid.Height)
	}
	bands := make([]raster.BandInfo, a.Bands)
	for i := range bands {
		bands[i].Name = fmt.Sprintf("Band %d", i+1)
		if i < len(names) {
			bands[i].Name = names[i]
		}
	}
	r := New(name, grid, a.DType, bands, 0)
	for i, v := range a.Data {
		r.data[i] = a.DType.Cast(v)
	}
	return r, nil
}

// WithWavelengths sets the band centres, in nanometers, and returns r.
func (r *Raster) WithWavelengths(nm ...float64) *Raster {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.info.Bands {
		if i < len(nm) {
			r.info.Bands[i].Wavelength = nm[i]
		}
	}
	return r
}

// WithNoData sets the same no-data value on every band and returns r.
func (r *Raster) WithNoData(v float64) *Raster {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.info.Bands {
		nd := v
		r.info.Bands[i].NoData = &nd
	}
	return r
}

// AsCategorical flags r as rasterised categorical data and returns r.
func (r *Raster) AsCategorical() *Raster {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.Categorical = true
	return r
}

// Info implements raster.Source.
func (r *Raster) Info() raster.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := r.info
	info.Bands = append([]raster.BandInfo(nil), r.info.Bands...)
	return info
}

// Location implements raster.Sink.
func (r *Raster) Location() string { return r.info.Location }

// Read implements raster.Source.
func (r *Raster) Read(ctx context.Context, win raster.Window, bands []int) (*ndarray.Array, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := raster.CheckRead(r.info, win, bands); err != nil {
		return nil, err
	}

	out := ndarray.New(r.dtype, len(bands), win.Height, win.Width)
	g := r.info.Grid
	for j, b := range bands {
		for row := 0; row < win.Height; row++ {
			src := (b*g.Height+win.YOff+row)*g.Width + win.XOff
			dst := out.Index(j, row, 0)
			copy(out.Data[dst:dst+win.Width], r.data[src:src+win.Width])
		}
	}
	return out, nil
}

// Write implements raster.Sink.
func (r *Raster) Write(ctx context.Context, win raster.Window, a *ndarray.Array) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	g := r.info.Grid
	if !g.Bounds().Contains(win) {
		return fmt.Errorf("memraster: window %s outside grid %dx%d", win, g.Width, g.Height)
	}
	if a.Bands != len(r.info.Bands) || a.Rows != win.Height || a.Cols != win.Width {
		return fmt.Errorf("memraster: array %s does not fit %d bands over %s", a, len(r.info.Bands), win)
	}
	for b := 0; b < a.Bands; b++ {
		for row := 0; row < win.Height; row++ {
			dst := (b*g.Height+win.YOff+row)*g.Width + win.XOff
			src := a.Index(b, row, 0)
			for c := 0; c < win.Width; c++ {
				r.data[dst+c] = r.dtype.Cast(a.Data[src+c])
			}
		}
	}
	r.writes++
	return nil
}

// SetMetadata implements raster.Sink. Band names, wavelengths and the
// no-data value become visible through Info.
func (r *Raster) SetMetadata(m raster.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.NoData != nil {
		nd := *m.NoData
		r.meta.NoData = &nd
		for i := range r.info.Bands {
			v := nd
			r.info.Bands[i].NoData = &v
		}
	}
	for i, name := range m.BandNames {
		if i < len(r.info.Bands) && name != "" {
			r.info.Bands[i].Name = name
		}
	}
	for i, wl := range m.Wavelengths {
		if i < len(r.info.Bands) && wl != 0 {
			r.info.Bands[i].Wavelength = wl
		}
	}
	if len(m.BandNames) > 0 {
		r.meta.BandNames = append([]string(nil), m.BandNames...)
	}
	if len(m.Wavelengths) > 0 {
		r.meta.Wavelengths = append([]float64(nil), m.Wavelengths...)
	}
	if len(m.Items) > 0 {
		if r.meta.Items == nil {
			r.meta.Items = make(map[string]string, len(m.Items))
		}
		maps.Copy(r.meta.Items, m.Items)
	}
	return nil
}

// Metadata returns what has been set through SetMetadata.
func (r *Raster) Metadata() raster.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.meta
	m.Items = maps.Clone(r.meta.Items)
	return m
}

// Close implements raster.Sink. Reads stay possible after Close.
func (r *Raster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *Raster) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Writes returns how many successful Write calls the raster received.
func (r *Raster) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

// Array returns a copy of the whole raster.
func (r *Raster) Array() *ndarray.Array {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.info.Grid
	a := ndarray.New(r.dtype, len(r.info.Bands), g.Height, g.Width)
	copy(a.Data, r.data)
	return a
}
