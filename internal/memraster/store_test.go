package memraster

import (
	"context"
	"sync"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(w, h int) raster.Grid {
	return raster.Grid{Width: w, Height: h, GeoTransform: raster.DefaultGeoTransform}
}

func TestRaster_ReadWindow(t *testing.T) {
	a := ndarray.New(ndarray.Int16, 2, 3, 4)
	for i := range a.Data {
		a.Data[i] = float64(i)
	}
	r, err := FromArray("a", testGrid(4, 3), a, "red", "nir")
	require.NoError(t, err)

	got, err := r.Read(context.Background(), raster.Window{XOff: 1, YOff: 1, Width: 2, Height: 2}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, ndarray.Int16, got.DType)
	assert.Equal(t, []float64{17, 18, 21, 22}, got.Data)

	info := r.Info()
	assert.Equal(t, "nir", info.Bands[1].Name)
	assert.Equal(t, "mem://a", info.Location)

	_, err = r.Read(context.Background(), raster.Window{XOff: 3, Width: 2, Height: 1}, []int{0})
	assert.Error(t, err)
	_, err = r.Read(context.Background(), raster.Window{Width: 1, Height: 1}, []int{2})
	assert.Error(t, err)
}

func TestRaster_WriteAndMetadata(t *testing.T) {
	s := NewStore()
	s.Fill = -1
	sink, err := s.Create(context.Background(), raster.SinkSpec{Name: "out", Grid: testGrid(3, 2), DType: ndarray.Uint8, Bands: 1})
	require.NoError(t, err)

	tile := ndarray.Full(ndarray.Uint8, 1, 1, 2, 7)
	require.NoError(t, sink.Write(context.Background(), raster.Window{XOff: 1, YOff: 1, Width: 2, Height: 1}, tile))

	nd := 255.0
	require.NoError(t, sink.SetMetadata(raster.Metadata{NoData: &nd, BandNames: []string{"ndvi"}, Items: map[string]string{"k": "v"}}))
	require.NoError(t, sink.Close())

	r, ok := s.Get("out")
	require.True(t, ok)
	assert.True(t, r.Closed())
	// uint8 saturates the -1 fill to 0.
	assert.Equal(t, []float64{0, 0, 0, 0, 7, 7}, r.Array().Data)
	assert.Equal(t, "ndvi", r.Info().Bands[0].Name)
	assert.Equal(t, 255.0, *r.Info().Bands[0].NoData)
	assert.Equal(t, "v", r.Metadata().Items["k"])

	assert.ErrorIs(t, sink.Write(context.Background(), raster.Window{Width: 1, Height: 1}, ndarray.New(ndarray.Uint8, 1, 1, 1)), ErrClosed)
}

func TestStore_RejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := NewStore()
	spec := raster.SinkSpec{Name: "x", Grid: testGrid(2, 2), DType: ndarray.Float32, Bands: 1}
	_, err := s.Create(context.Background(), spec)
	require.NoError(t, err)
	_, err = s.Create(context.Background(), spec)
	assert.Error(t, err)

	_, err = s.Create(context.Background(), raster.SinkSpec{Name: "y", Grid: testGrid(2, 2), DType: ndarray.Float32})
	assert.Error(t, err)
}

func TestStore_ConcurrentCreate(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d", "e", "f"}
	wg.Add(len(names))
	for _, name := range names {
		go func(name string) {
			defer wg.Done()
			_, err := s.Create(context.Background(), raster.SinkSpec{Name: name, Grid: testGrid(4, 4), DType: ndarray.Float64, Bands: 2})
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()
	assert.ElementsMatch(t, names, s.Names())
}
