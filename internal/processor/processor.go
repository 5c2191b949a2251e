// Package processor runs a snippet over a grid tile by tile. A run moves
// from configuring (parsing and resolving sources) to inferring (dry run and
// sink creation) to running, and ends completed, canceled or failed.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/blockcalc/internal/budget"
	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/engine"
	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/resolve"
	"github.com/specialistvlad/blockcalc/internal/schema"
	"github.com/specialistvlad/blockcalc/internal/snippet"
)

// Processor owns one run. It is not reusable.
type Processor struct {
	text   string
	inputs []Input
	sinks  raster.SinkFactory
	opts   Options
	state  atomic.Int32
	ran    atomic.Bool
}

// New prepares a run of text over inputs, creating outputs through sinks.
func New(text string, inputs []Input, sinks raster.SinkFactory, opts Options) *Processor {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Processor{text: text, inputs: inputs, sinks: sinks, opts: opts}
}

// State returns the current state. It is safe to call concurrently with Run.
func (p *Processor) State() State { return State(p.state.Load()) }

func (p *Processor) transition(ctx context.Context, to State) {
	from := State(p.state.Swap(int32(to)))
	ctxlog.FromContext(ctx).Info("Run state changed.", "from", from.String(), "to", to.String())
}

// output is an open sink with the metadata recorded for it.
type output struct {
	decl     schema.Output
	sink     raster.Sink
	recorder *engine.Recorder
	// inherited is the no-data value of the first bound source the output
	// type can hold; it is recorded even if no pixel is missing.
	inherited *float64
	// filled is set once a missing pixel was written with the type's
	// default no-data value.
	filled bool
}

// noData returns the value missing pixels are written as. A value set by
// the snippet wins over the inherited one, which wins over the type's
// default.
func (o *output) noData() (v float64, typeDefault bool) {
	if v, ok := o.recorder.NoData(); ok {
		return v, false
	}
	if o.inherited != nil {
		return *o.inherited, false
	}
	if v, ok := o.decl.DType.DefaultNoData(); ok {
		return v, true
	}
	return 0, false
}

// metadata is what the snippet recorded plus the no-data value the written
// pixels rely on.
func (o *output) metadata() raster.Metadata {
	m := o.recorder.Metadata()
	if m.NoData != nil {
		return m
	}
	switch {
	case o.inherited != nil:
		v := *o.inherited
		m.NoData = &v
	case o.filled:
		v, _ := o.decl.DType.DefaultNoData()
		m.NoData = &v
	}
	return m
}

// prepared is everything the configuring and inferring phases produce.
type prepared struct {
	grid     raster.Grid
	resolver *resolve.Resolver
	engine   *engine.Engine
	schema   schema.Schema
}

// Run executes the whole state machine. Sinks opened by the run are closed
// on every exit path, with the metadata the snippet recorded.
func (p *Processor) Run(ctx context.Context) (res *Result, err error) {
	if p.ran.Swap(true) {
		return nil, errors.New("processor: Run called twice")
	}
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	res = &Result{State: Configuring}

	defer func() {
		if err != nil {
			final := Failed
			if errors.Is(err, calcerr.ErrCanceled) {
				final = Canceled
			}
			p.transition(ctx, final)
			logger.Error("Run did not complete.", "state", final.String(), "tiles_done", res.TilesDone, "error", err)
		}
		res.State = p.State()
		p.opts.Observer.RunFinished(res.State, time.Since(start))
	}()

	logger.Info("Configuring run.", "inputs", len(p.inputs))
	prep, err := p.configure(ctx)
	if err != nil {
		return res, err
	}

	if ctx.Err() != nil {
		return res, canceled(ctx, res)
	}
	p.transition(ctx, Inferring)
	if prep.schema, err = schema.Infer(ctx, prep.engine, prep.resolver, p.opts.Overlap); err != nil {
		if ctx.Err() != nil {
			return res, canceled(ctx, res)
		}
		return res, err
	}
	res.Schema = prep.schema

	tileHeight, err := p.tileHeight(prep)
	if err != nil {
		return res, err
	}
	walker, err := gridwalk.New(prep.grid.Width, prep.grid.Height, prep.grid.Width, tileHeight, p.opts.Overlap)
	if err != nil {
		return res, err
	}
	res.TileHeight = tileHeight
	res.TilesTotal = walker.Count()

	outputs, err := p.openSinks(ctx, prep)
	defer func() {
		if cerr := closeSinks(ctx, outputs); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	if err != nil {
		return res, err
	}
	res.Outputs = make(map[string]string, len(outputs))
	for _, o := range outputs {
		res.Outputs[o.decl.Name] = o.sink.Location()
	}

	p.transition(ctx, Running)
	logger.Info("Processing grid.", "width", prep.grid.Width, "height", prep.grid.Height,
		"tile_height", tileHeight, "tiles", res.TilesTotal, "outputs", prep.schema.String())
	p.opts.Observer.RunStarted(res.TilesTotal)

	writers := make(map[string]engine.Writer, len(outputs))
	for _, o := range outputs {
		writers[o.decl.Name] = o.recorder
	}
	isCanceled := func() bool { return ctx.Err() != nil }

	for tile := range walker.Tiles() {
		if ctx.Err() != nil {
			logger.Info("Cancellation requested, stopping before tile.", "tile", tile.Index)
			return res, canceled(ctx, res)
		}
		tileStart := time.Now()
		if err := p.processTile(ctx, prep, tile, outputs, writers, isCanceled); err != nil {
			if ctx.Err() != nil {
				return res, canceled(ctx, res)
			}
			return res, err
		}
		res.TilesDone++
		elapsed := time.Since(tileStart)
		logger.Debug("Wrote tile.", "tile", tile.String(), "duration", elapsed)
		p.opts.Observer.TileDone(tile, elapsed)
		if p.opts.Progress != nil {
			p.opts.Progress(res.TilesDone, res.TilesTotal)
		}
	}

	p.transition(ctx, Completed)
	logger.Info("Run completed.", "tiles", res.TilesDone, "duration", time.Since(start))
	return res, nil
}

func canceled(ctx context.Context, res *Result) error {
	return fmt.Errorf("%w after %d of %d tiles: %w", calcerr.ErrCanceled, res.TilesDone, res.TilesTotal, context.Cause(ctx))
}

// configure validates the options, parses the snippet and binds sources.
func (p *Processor) configure(ctx context.Context) (*prepared, error) {
	if p.opts.MemoryBudget < 0 {
		return nil, calcerr.Configf("memory budget", "must not be negative, got %d", p.opts.MemoryBudget)
	}
	if p.opts.Overlap < 0 {
		return nil, calcerr.Configf("overlap", "must not be negative, got %d", p.opts.Overlap)
	}
	if p.sinks == nil {
		return nil, calcerr.Configf("outputs", "no sink factory given")
	}

	names := make([]string, 0, len(p.inputs))
	sources := make(map[string]raster.Source, len(p.inputs))
	for _, in := range p.inputs {
		if in.Source == nil {
			return nil, calcerr.Configf(in.Name, "input has no source")
		}
		if _, dup := sources[in.Name]; dup {
			return nil, calcerr.Configf(in.Name, "input declared twice")
		}
		sources[in.Name] = in.Source
		names = append(names, in.Name)
	}

	var grid raster.Grid
	switch {
	case p.opts.Grid != nil:
		grid = *p.opts.Grid
	case len(p.inputs) > 0:
		grid = p.inputs[0].Source.Info().Grid
	default:
		return nil, calcerr.Configf("grid", "no grid given and no input to derive one from")
	}
	if err := grid.Validate(); err != nil {
		return nil, &calcerr.ConfigurationError{Subject: "grid", Message: "invalid destination grid", Err: err}
	}

	prog, err := snippet.Parse(p.text, names)
	if err != nil {
		return nil, err
	}
	res, err := resolve.New(prog, sources, grid)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(prog)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Snippet resolved.", "statements", len(prog.Statements), "sources", len(res.Bindings()))
	return &prepared{grid: grid, resolver: res, engine: eng}, nil
}

// tileHeight picks the rows per tile from the options or the memory budget.
func (p *Processor) tileHeight(prep *prepared) (int, error) {
	h := prep.grid.Height
	switch {
	case p.opts.Monolithic:
		return h, nil
	case p.opts.TileHeight > 0:
		return min(p.opts.TileHeight, h), nil
	}

	width := prep.grid.Width + 2*p.opts.Overlap
	line := prep.resolver.LineBytes(width)
	for _, o := range prep.schema {
		// the produced array and its trimmed, cast copy
		line += 2 * budget.LineBytes(width, o.Bands, ndarray.WorkingSize)
	}
	limit := p.opts.MemoryBudget
	if limit == 0 {
		limit = budget.DefaultBytes
	}
	rows, err := budget.MaxRows(line, limit, h+2*p.opts.Overlap)
	if err != nil {
		return 0, err
	}
	if rows >= h+2*p.opts.Overlap {
		return h, nil
	}
	return max(1, rows-2*p.opts.Overlap), nil
}

func (p *Processor) openSinks(ctx context.Context, prep *prepared) ([]*output, error) {
	var outputs []*output
	for _, decl := range prep.schema {
		sink, err := p.sinks.Create(ctx, raster.SinkSpec{
			Name:  decl.Name,
			Grid:  prep.grid,
			DType: decl.DType,
			Bands: decl.Bands,
		})
		if err != nil {
			return outputs, fmt.Errorf("creating output %q: %w", decl.Name, err)
		}
		outputs = append(outputs, &output{
			decl:      decl,
			sink:      sink,
			recorder:  engine.NewRecorder(decl.Bands),
			inherited: inheritedNoData(prep.resolver, decl.DType),
		})
		ctxlog.FromContext(ctx).Debug("Opened output.", "output", decl.String(), "location", sink.Location())
	}
	return outputs, nil
}

// inheritedNoData returns the first no-data value among the bound sources,
// in name order, that dtype can hold.
func inheritedNoData(r *resolve.Resolver, dtype ndarray.DType) *float64 {
	for _, b := range r.Bindings() {
		for _, band := range b.Info.Bands {
			if band.NoData != nil && dtype.Holds(*band.NoData) {
				v := *band.NoData
				return &v
			}
		}
	}
	return nil
}

// closeSinks flushes recorded metadata and closes every sink, reporting all
// failures.
func closeSinks(ctx context.Context, outputs []*output) error {
	var errs []error
	for _, o := range outputs {
		if m := o.metadata(); !m.IsZero() {
			if err := o.sink.SetMetadata(m); err != nil {
				errs = append(errs, fmt.Errorf("writing metadata of %q: %w", o.decl.Name, err))
			}
		}
		if err := o.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", o.decl.Name, err))
		}
		ctxlog.FromContext(ctx).Debug("Closed output.", "output", o.decl.Name)
	}
	return errors.Join(errs...)
}

// processTile binds, evaluates and writes one tile.
func (p *Processor) processTile(ctx context.Context, prep *prepared, tile gridwalk.Tile, outputs []*output, writers map[string]engine.Writer, canceled func() bool) error {
	arrays, err := prep.resolver.Bind(ctx, tile)
	if err != nil {
		return err
	}
	result, err := prep.engine.Evaluate(ctx, &engine.Namespace{
		Tile:     tile,
		Arrays:   arrays,
		Sources:  prep.resolver.Infos(),
		Writers:  writers,
		Canceled: canceled,
	})
	if err != nil {
		return err
	}

	rows, cols := tile.Shape()
	for _, o := range outputs {
		a, ok := result.Outputs[o.decl.Name]
		if !ok {
			if got, exists := result.Arrays[o.decl.Name]; exists {
				return &calcerr.OutputShapeMismatch{
					Output:   o.decl.Name,
					WantRows: rows, WantCols: cols,
					GotRows: got.Rows, GotCols: got.Cols,
				}
			}
			return calcerr.Scriptf(0, "output %q was not produced for %s", o.decl.Name, tile)
		}
		if a.Bands != o.decl.Bands {
			return calcerr.Scriptf(0, "output %q has %d band(s) for %s, the dry run found %d", o.decl.Name, a.Bands, tile, o.decl.Bands)
		}

		core, err := a.Crop(tile.Overlap, tile.Overlap, tile.Height, tile.Width)
		if err != nil {
			return err
		}
		if core.DType != o.decl.DType {
			core = core.AsType(o.decl.DType)
		}
		fill, typeDefault := o.noData()
		if typeDefault && core.HasInvalid() {
			o.filled = true
		}
		if err := o.sink.Write(ctx, tile.Core(), core.FillInvalid(fill)); err != nil {
			return fmt.Errorf("writing %q for %s: %w", o.decl.Name, tile, err)
		}
	}
	return nil
}
