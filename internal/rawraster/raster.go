package rawraster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
)

// Raster is an open raw raster. Opened rasters are read-only; rasters
// created by a Factory are sinks that may also be read back.
type Raster struct {
	mu       sync.Mutex
	base     string
	file     *os.File
	header   *header
	info     raster.Info
	dtype    ndarray.DType
	writable bool
	closed   bool
}

// Open opens the raster at path, which may name the header, the data file
// or their common base.
func Open(path string) (*Raster, error) {
	base := Base(path)
	h, err := readHeader(base)
	if err != nil {
		return nil, fmt.Errorf("rawraster: %w", err)
	}
	info, dtype, err := h.info(base)
	if err != nil {
		return nil, fmt.Errorf("rawraster: %s: %w", base+HeaderExt, err)
	}
	f, err := os.Open(base + DataExt)
	if err != nil {
		return nil, fmt.Errorf("rawraster: %w", err)
	}
	want := int64(info.Grid.Width) * int64(info.Grid.Height) * int64(info.BandCount()) * int64(dtype.Size())
	if st, err := f.Stat(); err != nil {
		f.Close()
		return nil, fmt.Errorf("rawraster: %w", err)
	} else if st.Size() < want {
		f.Close()
		return nil, fmt.Errorf("rawraster: %s holds %d bytes, header describes %d", base+DataExt, st.Size(), want)
	}
	return &Raster{base: base, file: f, header: h, info: info, dtype: dtype}, nil
}

// Info implements raster.Source.
func (r *Raster) Info() raster.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// Location implements raster.Sink.
func (r *Raster) Location() string { return r.info.Location }

func (r *Raster) offset(band, row, col int) int64 {
	g := r.info.Grid
	return ((int64(band)*int64(g.Height)+int64(row))*int64(g.Width) + int64(col)) * int64(r.dtype.Size())
}

// Read implements raster.Source.
func (r *Raster) Read(ctx context.Context, win raster.Window, bands []int) (*ndarray.Array, error) {
	if err := raster.CheckRead(r.info, win, bands); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("rawraster: read from closed %s", r.info.Location)
	}

	size := r.dtype.Size()
	out := ndarray.New(r.dtype, len(bands), win.Height, win.Width)
	line := make([]byte, win.Width*size)
	for i, b := range bands {
		for row := 0; row < win.Height; row++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := r.file.ReadAt(line, r.offset(b, win.YOff+row, win.XOff)); err != nil {
				return nil, fmt.Errorf("rawraster: reading %s band %d row %d: %w", r.info.Location, b, win.YOff+row, err)
			}
			dst := out.Data[out.Index(i, row, 0):]
			for c := 0; c < win.Width; c++ {
				dst[c] = decode(r.dtype, line[c*size:])
			}
		}
	}
	return out, nil
}

// Write implements raster.Sink.
func (r *Raster) Write(ctx context.Context, win raster.Window, a *ndarray.Array) error {
	if !r.writable {
		return fmt.Errorf("rawraster: %s is read-only", r.info.Location)
	}
	if !r.info.Grid.Bounds().Contains(win) {
		return fmt.Errorf("rawraster: window %s outside %s", win, r.info.Location)
	}
	if a.Bands != r.info.BandCount() || a.Rows != win.Height || a.Cols != win.Width {
		return fmt.Errorf("rawraster: array %s does not fit window %s of %s", a, win, r.info.Location)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("rawraster: write to closed %s", r.info.Location)
	}

	size := r.dtype.Size()
	line := make([]byte, win.Width*size)
	for b := 0; b < a.Bands; b++ {
		for row := 0; row < win.Height; row++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			src := a.Data[a.Index(b, row, 0):]
			for c := 0; c < win.Width; c++ {
				encode(r.dtype, r.dtype.Cast(src[c]), line[c*size:])
			}
			if _, err := r.file.WriteAt(line, r.offset(b, win.YOff+row, win.XOff)); err != nil {
				return fmt.Errorf("rawraster: writing %s: %w", r.info.Location, err)
			}
		}
	}
	return nil
}

// SetMetadata implements raster.Sink. The header is rewritten on Close.
func (r *Raster) SetMetadata(m raster.Metadata) error {
	if !r.writable {
		return fmt.Errorf("rawraster: %s is read-only", r.info.Location)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header.apply(m)
	info, _, err := r.header.info(r.base)
	if err != nil {
		return err
	}
	r.info = info
	return nil
}

// Close releases the data file and, for sinks, writes the header.
func (r *Raster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	if r.writable {
		if err := r.file.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := writeHeader(r.base, r.header); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Factory creates raw rasters in a directory.
type Factory struct {
	Dir string
}

// NewFactory returns a factory writing into dir, creating it if needed.
func NewFactory(dir string) (*Factory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rawraster: %w", err)
	}
	return &Factory{Dir: dir}, nil
}

// Path returns the base path of the raster called name.
func (f *Factory) Path(name string) string { return filepath.Join(f.Dir, name) }

// Create implements raster.SinkFactory. The data file starts zeroed and
// the header is written immediately, so a partially written output can be
// opened after a failed or canceled run.
func (f *Factory) Create(ctx context.Context, spec raster.SinkSpec) (raster.Sink, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	base := f.Path(spec.Name)
	h := &header{
		Width:        spec.Grid.Width,
		Height:       spec.Grid.Height,
		DType:        spec.DType.String(),
		GeoTransform: spec.Grid.GeoTransform[:],
		CRS:          spec.Grid.CRS,
		Bands:        make([]bandHeader, spec.Bands),
	}
	info, dtype, err := h.info(base)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(base+DataExt, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rawraster: %w", err)
	}
	size := int64(spec.Grid.Width) * int64(spec.Grid.Height) * int64(spec.Bands) * int64(dtype.Size())
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("rawraster: %w", err)
	}
	if err := writeHeader(base, h); err != nil {
		file.Close()
		return nil, fmt.Errorf("rawraster: %w", err)
	}
	return &Raster{base: base, file: file, header: h, info: info, dtype: dtype, writable: true}, nil
}

// Write stores a as a new raw raster at base, with bands named by names.
// It is the file counterpart of memraster.FromArray.
func Write(base string, grid raster.Grid, a *ndarray.Array, names ...string) error {
	f := &Factory{Dir: filepath.Dir(base)}
	sink, err := f.Create(context.Background(), raster.SinkSpec{
		Name: filepath.Base(base), Grid: grid, DType: a.DType, Bands: a.Bands,
	})
	if err != nil {
		return err
	}
	if err := sink.Write(context.Background(), grid.Bounds(), a); err != nil {
		sink.Close()
		return err
	}
	if len(names) > 0 {
		if err := sink.SetMetadata(raster.Metadata{BandNames: names}); err != nil {
			sink.Close()
			return err
		}
	}
	return sink.Close()
}

var (
	_ raster.Source      = (*Raster)(nil)
	_ raster.Sink        = (*Raster)(nil)
	_ raster.SinkFactory = (*Factory)(nil)
)
