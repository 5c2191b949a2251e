// Package tiffraster opens TIFF images as read-only sources. The image is
// decoded once into memory; gray images become one band, colour images
// become red, green and blue bands.
package tiffraster

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/blockcalc/internal/memraster"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"golang.org/x/image/tiff"
)

// Raster is a decoded TIFF.
type Raster struct {
	mem  *memraster.Raster
	info raster.Info
}

// Open decodes the TIFF at path.
func Open(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tiffraster: %w", err)
	}
	defer f.Close()
	r, err := Decode(f, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("tiffraster: %s: %w", path, err)
	}
	r.info.Location = path
	return r, nil
}

// Decode reads a TIFF from rd and names the raster name.
func Decode(rd io.Reader, name string) (*Raster, error) {
	img, err := tiff.Decode(rd)
	if err != nil {
		return nil, err
	}
	a, names := toArray(img)
	b := img.Bounds()
	grid := raster.Grid{Width: b.Dx(), Height: b.Dy(), GeoTransform: raster.DefaultGeoTransform}
	mem, err := memraster.FromArray(name, grid, a, names...)
	if err != nil {
		return nil, err
	}
	return &Raster{mem: mem, info: mem.Info()}, nil
}

// toArray copies img into a band-major array.
func toArray(img image.Image) (*ndarray.Array, []string) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		a := ndarray.New(ndarray.Uint8, 1, h, w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a.Data[y*w+x] = float64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return a, []string{"gray"}
	case *image.Gray16:
		a := ndarray.New(ndarray.Uint16, 1, h, w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a.Data[y*w+x] = float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return a, []string{"gray"}
	case *image.Paletted:
		a := ndarray.New(ndarray.Uint8, 1, h, w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a.Data[y*w+x] = float64(m.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
			}
		}
		return a, []string{"index"}
	}

	// Colour images keep 16 bits when the source has them.
	dtype, shift := ndarray.Uint8, uint32(8)
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64:
		dtype, shift = ndarray.Uint16, 0
	}
	a := ndarray.New(dtype, 3, h, w)
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl := rgb(img, b.Min.X+x, b.Min.Y+y)
			i := y*w + x
			a.Data[i] = float64(r >> shift)
			a.Data[plane+i] = float64(g >> shift)
			a.Data[2*plane+i] = float64(bl >> shift)
		}
	}
	return a, []string{"red", "green", "blue"}
}

// rgb returns the non-premultiplied 16-bit colour at (x, y).
func rgb(img image.Image, x, y int) (r, g, b uint32) {
	switch m := img.(type) {
	case *image.NRGBA:
		c := m.NRGBAAt(x, y)
		return uint32(c.R) * 0x101, uint32(c.G) * 0x101, uint32(c.B) * 0x101
	case *image.NRGBA64:
		c := m.NRGBA64At(x, y)
		return uint32(c.R), uint32(c.G), uint32(c.B)
	}
	r, g, b, _ = img.At(x, y).RGBA()
	return r, g, b
}

// Info implements raster.Source.
func (r *Raster) Info() raster.Info { return r.info }

// Read implements raster.Source.
func (r *Raster) Read(ctx context.Context, win raster.Window, bands []int) (*ndarray.Array, error) {
	return r.mem.Read(ctx, win, bands)
}

var _ raster.Source = (*Raster)(nil)
