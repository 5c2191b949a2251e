package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/fsutil"
	"github.com/specialistvlad/blockcalc/internal/processor"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/rawraster"
	"github.com/specialistvlad/blockcalc/internal/tiffraster"
)

// rasterExtensions are the file types inputs can be opened from.
var rasterExtensions = []string{rawraster.HeaderExt, ".tif", ".tiff"}

// openRaster opens path with the codec its extension selects.
func openRaster(path string) (raster.Source, io.Closer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		r, err := tiffraster.Open(path)
		return r, io.NopCloser(nil), err
	case rawraster.HeaderExt, rawraster.DataExt, "":
		r, err := rawraster.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	}
	return nil, nil, fmt.Errorf("unsupported raster file %q", path)
}

// inputPaths merges the explicit inputs with those discovered in InputsDir.
// Explicit inputs win over discovered ones of the same name.
func (c *Config) inputPaths() (map[string]string, error) {
	paths := make(map[string]string, len(c.Inputs))
	if c.InputsDir != "" {
		files, err := fsutil.FindFilesByExtension(c.InputsDir, rasterExtensions...)
		if err != nil {
			return nil, calcerr.Configf("inputs", "scanning %s: %v", c.InputsDir, err)
		}
		for _, f := range files {
			name := fsutil.Stem(f)
			if prev, dup := paths[name]; dup {
				return nil, calcerr.Configf(name, "found in both %s and %s", prev, f)
			}
			paths[name] = f
		}
	}
	for name, path := range c.Inputs {
		paths[name] = path
	}
	if len(paths) == 0 {
		return nil, calcerr.Configf("inputs", "no raster found")
	}
	return paths, nil
}

// openInputs opens every input in name order. The returned closers must be
// closed by the caller, also on error.
func (a *App) openInputs(ctx context.Context) ([]processor.Input, []io.Closer, error) {
	logger := ctxlog.FromContext(ctx)
	paths, err := a.config.inputPaths()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		inputs  []processor.Input
		closers []io.Closer
	)
	for _, name := range names {
		src, closer, err := openRaster(paths[name])
		if err != nil {
			return inputs, closers, &calcerr.ConfigurationError{Subject: name, Message: "cannot open input", Err: err}
		}
		closers = append(closers, closer)
		inputs = append(inputs, processor.Input{Name: name, Source: src})
		info := src.Info()
		logger.Debug("Opened input.", "name", name, "location", info.Location,
			"width", info.Grid.Width, "height", info.Grid.Height, "bands", info.BandCount())
	}
	return inputs, closers, nil
}
