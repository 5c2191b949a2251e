package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/metrics"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	metrics    *metrics.Collector
	ctx        context.Context
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and metrics.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		metrics: metrics.New(),
		ctx:     ctxlog.WithLogger(context.Background(), logger),
	}
}

// Metrics returns the application's collector. This is primarily for testing.
func (a *App) Metrics() *metrics.Collector {
	return a.metrics
}
