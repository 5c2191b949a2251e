package rawraster

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(dtype ndarray.DType) *ndarray.Array {
	a := ndarray.New(dtype, 2, 3, 4)
	for i := range a.Data {
		a.Data[i] = dtype.Cast(float64(i*7 - 20))
	}
	return a
}

func TestWriteOpen_RoundTripsEveryType(t *testing.T) {
	grid := raster.Grid{Width: 4, Height: 3, GeoTransform: [6]float64{100, 10, 0, 200, 0, -10}, CRS: "EPSG:32633"}
	for _, dtype := range []ndarray.DType{ndarray.Bool, ndarray.Uint8, ndarray.Int16, ndarray.Uint16, ndarray.Int32, ndarray.Uint32, ndarray.Float32, ndarray.Float64} {
		t.Run(dtype.String(), func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "img")
			want := sample(dtype)
			require.NoError(t, Write(base, grid, want, "red", "nir"))

			r, err := Open(base + HeaderExt)
			require.NoError(t, err)
			defer r.Close()

			info := r.Info()
			assert.Equal(t, grid, info.Grid)
			assert.Equal(t, "red", info.Bands[0].Name)
			assert.Equal(t, "nir", info.Bands[1].Name)
			assert.Equal(t, dtype, info.Bands[1].DType)

			got, err := r.Read(context.Background(), grid.Bounds(), []int{0, 1})
			require.NoError(t, err)
			assert.Equal(t, want.Data, got.Data)
		})
	}
}

func TestRead_WindowAndBandSubset(t *testing.T) {
	grid := raster.Grid{Width: 4, Height: 3}
	base := filepath.Join(t.TempDir(), "img")
	a := sample(ndarray.Int16)
	require.NoError(t, Write(base, grid, a))

	r, err := Open(base)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Read(context.Background(), raster.Window{XOff: 1, YOff: 1, Width: 2, Height: 2}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Bands)
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			assert.Equal(t, a.At(1, row+1, col+1), got.At(0, row, col))
		}
	}

	_, err = r.Read(context.Background(), raster.Window{XOff: 3, Width: 2, Height: 1}, []int{0})
	assert.Error(t, err, "window past the grid")
	_, err = r.Read(context.Background(), grid.Bounds(), []int{2})
	assert.Error(t, err, "band out of range")
}

func TestFactory_PartialWritesAndMetadata(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFactory(filepath.Join(dir, "out"))
	require.NoError(t, err)
	grid := raster.Grid{Width: 3, Height: 4, GeoTransform: raster.DefaultGeoTransform}

	sink, err := f.Create(context.Background(), raster.SinkSpec{Name: "R1", Grid: grid, DType: ndarray.Float32, Bands: 1})
	require.NoError(t, err)
	assert.Equal(t, f.Path("R1")+DataExt, sink.Location())

	tile := ndarray.Full(ndarray.Float32, 1, 2, 3, 1.5)
	require.NoError(t, sink.Write(context.Background(), raster.Window{YOff: 2, Width: 3, Height: 2}, tile))
	nd := -1.0
	require.NoError(t, sink.SetMetadata(raster.Metadata{NoData: &nd, BandNames: []string{"ndvi"}, Items: map[string]string{"k": "v"}}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "close is idempotent")

	_, err = f.Create(context.Background(), raster.SinkSpec{Name: "R1", Grid: grid, DType: ndarray.Float32, Bands: 1})
	assert.Error(t, err, "existing outputs are not overwritten")

	r, err := Open(f.Path("R1"))
	require.NoError(t, err)
	defer r.Close()
	info := r.Info()
	assert.Equal(t, "ndvi", info.Bands[0].Name)
	require.NotNil(t, info.Bands[0].NoData)
	assert.Equal(t, -1.0, *info.Bands[0].NoData)

	got, err := r.Read(context.Background(), grid.Bounds(), []int{0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 1.5, 1.5, 1.5, 1.5, 1.5, 1.5}, got.Data)

	h, err := readHeader(f.Path("R1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, h.Metadata)
}

func TestRaster_OpenedIsReadOnly(t *testing.T) {
	grid := raster.Grid{Width: 1, Height: 1}
	base := filepath.Join(t.TempDir(), "one")
	require.NoError(t, Write(base, grid, ndarray.Full(ndarray.Uint8, 1, 1, 1, 9)))

	r, err := Open(base)
	require.NoError(t, err)
	defer r.Close()
	assert.Error(t, r.Write(context.Background(), grid.Bounds(), ndarray.New(ndarray.Uint8, 1, 1, 1)))
	assert.Error(t, r.SetMetadata(raster.Metadata{}))
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, header string, data []byte) string {
		base := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(base+HeaderExt, []byte(header), 0o644))
		if data != nil {
			require.NoError(t, os.WriteFile(base+DataExt, data, 0o644))
		}
		return base
	}

	tests := []struct {
		name string
		base string
	}{
		{"missing header", filepath.Join(dir, "nothing")},
		{"bad yaml", write("bad", "width: [", []byte{0})},
		{"unknown dtype", write("dtype", "width: 1\nheight: 1\ndtype: complex64\nbands: [{name: a}]\n", []byte{0, 0, 0, 0, 0, 0, 0, 0})},
		{"no bands", write("nobands", "width: 1\nheight: 1\ndtype: uint8\nbands: []\n", []byte{0})},
		{"short data", write("short", "width: 2\nheight: 2\ndtype: uint16\nbands: [{name: a}]\n", []byte{0, 0})},
		{"missing data", write("nodata", "width: 1\nheight: 1\ndtype: uint8\nbands: [{name: a}]\n", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.base)
			assert.Error(t, err)
		})
	}
}

func TestHeader_DefaultsAndSharedNoData(t *testing.T) {
	h := &header{Width: 2, Height: 1, DType: "float64", NoData: ptr(math.Inf(-1)), Bands: []bandHeader{{}, {Name: "b", NoData: ptr(5)}}}
	info, dtype, err := h.info("x")
	require.NoError(t, err)
	assert.Equal(t, ndarray.Float64, dtype)
	assert.Equal(t, "Band 1", info.Bands[0].Name)
	assert.Equal(t, math.Inf(-1), *info.Bands[0].NoData)
	assert.Equal(t, 5.0, *info.Bands[1].NoData)
	assert.Equal(t, raster.DefaultGeoTransform, info.Grid.GeoTransform)
	assert.Equal(t, "x.bin", info.Location)
}

func ptr(v float64) *float64 { return &v }
