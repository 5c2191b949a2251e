// Package metrics exposes run progress as Prometheus metrics. A Collector is
// a processor.Observer; it registers on its own registry so that several
// collectors can coexist in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/processor"
)

const namespace = "blockcalc"

// Collector records tile and run events.
type Collector struct {
	registry *prometheus.Registry

	tilesTotal    prometheus.Gauge
	tilesDone     prometheus.Counter
	tileDuration  prometheus.Histogram
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	pixelsWritten prometheus.Counter
}

// New creates a collector with its metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tilesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tiles_planned",
			Help:      "Number of tiles in the current run.",
		}),
		tilesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_processed_total",
			Help:      "Tiles bound, evaluated and written.",
		}),
		tileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_duration_seconds",
			Help:      "Time spent on one tile.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by final state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run from configuration to its final state.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		pixelsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pixels_written_total",
			Help:      "Core pixels covered by processed tiles.",
		}),
	}
	c.registry.MustRegister(c.tilesTotal, c.tilesDone, c.tileDuration, c.runs, c.runDuration, c.pixelsWritten)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RunStarted implements processor.Observer.
func (c *Collector) RunStarted(tiles int) {
	c.tilesTotal.Set(float64(tiles))
}

// TileDone implements processor.Observer.
func (c *Collector) TileDone(tile gridwalk.Tile, elapsed time.Duration) {
	c.tilesDone.Inc()
	c.tileDuration.Observe(elapsed.Seconds())
	c.pixelsWritten.Add(float64(tile.Width * tile.Height))
}

// RunFinished implements processor.Observer.
func (c *Collector) RunFinished(state processor.State, elapsed time.Duration) {
	c.runs.WithLabelValues(state.String()).Inc()
	c.runDuration.Observe(elapsed.Seconds())
}

var _ processor.Observer = (*Collector)(nil)
