package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/processor"
	"github.com/specialistvlad/blockcalc/internal/rawraster"
	"github.com/specialistvlad/blockcalc/internal/scratch"
)

// Run executes one calculation. Outputs are staged in a scratch directory
// inside OutputDir and moved into place when the run ends, even if it
// failed or was canceled, unless DiscardPartial is set. The result is
// returned with any error.
func (a *App) Run(ctx context.Context) (res *processor.Result, err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.healthCheckServer(); err != nil {
		return nil, err
	}
	defer a.closeHealthCheckServer()

	text, err := a.config.expression()
	if err != nil {
		return nil, err
	}

	inputs, closers, err := a.openInputs(ctx)
	defer closeAll(ctx, closers)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.config.OutputDir, 0o755); err != nil {
		return nil, calcerr.Configf("output directory", "%v", err)
	}
	stage, err := scratch.New(a.config.OutputDir, ".blockcalc-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := stage.Close(); cerr != nil {
			a.logger.Warn("Could not remove staging directory.", "path", stage.Path(), "error", cerr)
		}
	}()
	sinks, err := rawraster.NewFactory(stage.Path())
	if err != nil {
		return nil, err
	}

	p := processor.New(text, inputs, sinks, processor.Options{
		MemoryBudget: a.config.MemoryBudget,
		Overlap:      a.config.Overlap,
		Monolithic:   a.config.Monolithic,
		TileHeight:   a.config.TileHeight,
		Progress:     progressLogger(ctx),
		Observer:     a.metrics,
	})
	a.logger.Info("🚀 Starting calculation...", "inputs", len(inputs), "output_dir", a.config.OutputDir)
	res, err = p.Run(ctx)
	if res == nil {
		return nil, err
	}

	if err == nil || !a.config.DiscardPartial {
		if perr := a.publish(ctx, sinks, res); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	if err != nil {
		return res, err
	}
	a.logger.Info("🏁 Calculation finished.", "outputs", len(res.Outputs), "tiles", res.TilesDone)
	return res, nil
}

// expression returns the snippet text.
func (c *Config) expression() (string, error) {
	if c.ExpressionPath == "" {
		return c.Expression, nil
	}
	data, err := os.ReadFile(c.ExpressionPath)
	if err != nil {
		return "", calcerr.Configf("expression file", "%v", err)
	}
	return string(data), nil
}

// publish moves staged outputs into the output directory and points
// res.Outputs at their final location.
func (a *App) publish(ctx context.Context, sinks *rawraster.Factory, res *processor.Result) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error
	for name := range res.Outputs {
		from := sinks.Path(name)
		to := filepath.Join(a.config.OutputDir, name)
		moved := true
		for _, ext := range []string{rawraster.DataExt, rawraster.HeaderExt} {
			if err := os.Rename(from+ext, to+ext); err != nil {
				errs = append(errs, fmt.Errorf("publishing %q: %w", name, err))
				moved = false
			}
		}
		if moved {
			res.Outputs[name] = to + rawraster.DataExt
			logger.Info("Output written.", "name", name, "location", res.Outputs[name])
		}
	}
	return errors.Join(errs...)
}

// progressLogger reports every tenth of the walk.
func progressLogger(ctx context.Context) func(done, total int) {
	logger := ctxlog.FromContext(ctx)
	return func(done, total int) {
		if done == total || done*10/total != (done-1)*10/total {
			logger.Info("Progress.", "tiles_done", done, "tiles_total", total, "percent", done*100/total)
		}
	}
}

func closeAll(ctx context.Context, closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			ctxlog.FromContext(ctx).Warn("Could not close input.", "error", err)
		}
	}
}
