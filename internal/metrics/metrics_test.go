package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/memraster"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/processor"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsEvents(t *testing.T) {
	c := New()
	c.RunStarted(3)
	c.TileDone(gridwalk.Tile{Width: 4, Height: 2}, 5*time.Millisecond)
	c.TileDone(gridwalk.Tile{Width: 4, Height: 1, Index: 1}, 5*time.Millisecond)
	c.RunFinished(processor.Canceled, time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.tilesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tilesDone))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.pixelsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("canceled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runs.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.tileDuration))
}

func TestCollector_ObservesProcessor(t *testing.T) {
	grid := raster.Grid{Width: 5, Height: 6, GeoTransform: raster.DefaultGeoTransform}
	src := memraster.New("a", grid, ndarray.Uint8, []raster.BandInfo{{Name: "b"}}, 1)
	c := New()

	_, err := processor.New("R1 = A + 1", []processor.Input{{Name: "A", Source: src}}, memraster.NewStore(), processor.Options{
		TileHeight: 2,
		Observer:   c,
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.tilesDone))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.pixelsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("completed")))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.RunStarted(7)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "blockcalc_tiles_planned 7"), rec.Body.String())
}
