// Package resolve binds the source references of a parsed snippet to
// opened rasters: band selectors become band indices once per run, and
// every tile gets freshly read arrays and validity masks.
package resolve

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/specialistvlad/blockcalc/internal/budget"
	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/snippet"
)

// Selection is a band selector resolved against its source.
type Selection struct {
	Selector *snippet.BandSelector
	// Bands are the selected 0-based band indices, in selector order.
	Bands []int
}

// Binding ties a declared source to the way the snippet uses it.
type Binding struct {
	Name       string
	Source     raster.Source
	Info       raster.Info
	Use        snippet.SourceUse
	Selections []Selection
	// ReadBands are the bands read for every tile, sorted.
	ReadBands []int
	dtype     ndarray.DType
}

// Resolver holds the bindings of one run. It is immutable once built.
type Resolver struct {
	bindings []*Binding
	grid     raster.Grid
}

// New resolves every source reference of prog. Declared sources the
// snippet never mentions are ignored. Any selector that does not resolve is
// reported as a *calcerr.ConfigurationError naming the reference.
func New(prog *snippet.Program, sources map[string]raster.Source, grid raster.Grid) (*Resolver, error) {
	r := &Resolver{grid: grid}
	for _, name := range prog.SourceNames() {
		src, ok := sources[name]
		if !ok {
			return nil, calcerr.Configf(name, "referenced by the snippet but not declared")
		}
		b, err := bind(name, src, *prog.Sources[name])
		if err != nil {
			return nil, err
		}
		if !b.Info.Grid.SameSize(grid) {
			return nil, calcerr.Configf(name, "grid %dx%d is not aligned with the target grid %dx%d",
				b.Info.Grid.Width, b.Info.Grid.Height, grid.Width, grid.Height)
		}
		r.bindings = append(r.bindings, b)
	}
	return r, nil
}

func bind(name string, src raster.Source, use snippet.SourceUse) (*Binding, error) {
	info := src.Info()
	if info.BandCount() == 0 {
		return nil, calcerr.Configf(name, "source has no bands")
	}
	if info.Categorical && info.BandCount() != 2 {
		return nil, calcerr.Configf(name, "categorical source must have 2 bands, has %d", info.BandCount())
	}

	b := &Binding{Name: name, Source: src, Info: info, Use: use}
	read := make(map[int]bool)
	all := func() {
		for i := range info.Bands {
			read[i] = true
		}
	}
	switch {
	case use.Mask:
		all()
	case use.Whole && info.Categorical:
		read[0] = true
	case use.Whole:
		all()
	}

	for _, sel := range use.Selectors {
		bands, err := Select(sel, info)
		if err != nil {
			return nil, &calcerr.ConfigurationError{Subject: sel.String(), Message: "band selector does not resolve", Err: err}
		}
		b.Selections = append(b.Selections, Selection{Selector: sel, Bands: bands})
		for _, i := range bands {
			read[i] = true
		}
	}

	for i := range read {
		b.ReadBands = append(b.ReadBands, i)
	}
	sort.Ints(b.ReadBands)
	for _, i := range b.ReadBands {
		b.dtype = ndarray.Promote(b.dtype, info.Bands[i].DType)
	}
	return b, nil
}

// Select resolves sel to 0-based band indices of a source described by info.
func Select(sel *snippet.BandSelector, info raster.Info) ([]int, error) {
	n := info.BandCount()
	switch sel.Kind {
	case snippet.SelectIndices:
		return expandRanges(sel.Ranges, n)
	case snippet.SelectExclude:
		excluded, err := expandRanges(sel.Ranges, n)
		if err != nil {
			return nil, err
		}
		var bands []int
		for i := 0; i < n; i++ {
			if !slices.Contains(excluded, i) {
				bands = append(bands, i)
			}
		}
		if len(bands) == 0 {
			return nil, fmt.Errorf("excluding %s leaves no bands", sel.Text[1:])
		}
		return bands, nil
	case snippet.SelectName:
		return byName(sel.Name, info)
	case snippet.SelectWavelength:
		return byWavelength(sel.Wavelength, info)
	case snippet.SelectIndexOrWavelength:
		if v := sel.Ranges[0].First; v <= n {
			return []int{v - 1}, nil
		}
		if hasWavelengths(info) {
			return byWavelength(sel.Wavelength, info)
		}
		return nil, fmt.Errorf("band %d out of range, source has %d band(s) and no wavelengths", sel.Ranges[0].First, n)
	}
	return nil, fmt.Errorf("unsupported selector %q", sel.Text)
}

func expandRanges(ranges []snippet.IndexRange, n int) ([]int, error) {
	var bands []int
	for _, r := range ranges {
		if r.Last > n {
			return nil, fmt.Errorf("band %d out of range, source has %d band(s)", r.Last, n)
		}
		for i := r.First; i <= r.Last; i++ {
			bands = append(bands, i-1)
		}
	}
	return bands, nil
}

func byName(name string, info raster.Info) ([]int, error) {
	for i, b := range info.Bands {
		if b.Name == name {
			return []int{i}, nil
		}
	}
	for i, b := range info.Bands {
		if strings.EqualFold(b.Name, name) {
			return []int{i}, nil
		}
	}
	names := make([]string, len(info.Bands))
	for i, b := range info.Bands {
		names[i] = fmt.Sprintf("%q", b.Name)
	}
	return nil, fmt.Errorf("no band named %q; bands are %s", name, strings.Join(names, ", "))
}

func hasWavelengths(info raster.Info) bool {
	return slices.ContainsFunc(info.Bands, func(b raster.BandInfo) bool { return b.Wavelength > 0 })
}

// byWavelength picks the band whose centre is nearest nm. Ties go to the
// lower band.
func byWavelength(nm float64, info raster.Info) ([]int, error) {
	if !hasWavelengths(info) {
		return nil, fmt.Errorf("source has no wavelength information to match %gnm", nm)
	}
	best, bestDist := -1, math.Inf(1)
	for i, b := range info.Bands {
		if b.Wavelength <= 0 {
			continue
		}
		if d := math.Abs(b.Wavelength - nm); d < bestDist {
			best, bestDist = i, d
		}
	}
	return []int{best}, nil
}

// Bindings returns the bindings sorted by source name.
func (r *Resolver) Bindings() []*Binding { return r.bindings }

// Infos returns the metadata of every bound source keyed by name.
func (r *Resolver) Infos() map[string]raster.Info {
	infos := make(map[string]raster.Info, len(r.bindings))
	for _, b := range r.bindings {
		infos[b.Name] = b.Info
	}
	return infos
}

// Grid returns the target grid.
func (r *Resolver) Grid() raster.Grid { return r.grid }

// LineBytes estimates the memory one row of width pixels costs across all
// arrays bound for a tile.
func (r *Resolver) LineBytes(width int) int64 {
	var total int64
	for _, b := range r.bindings {
		bands := len(b.ReadBands)
		if b.Use.Whole {
			bands += b.Info.BandCount()
		}
		if b.Use.Mask {
			bands += b.Info.BandCount()
		}
		for _, s := range b.Selections {
			bands += len(s.Bands)
		}
		total += budget.LineBytes(width, bands, ndarray.WorkingSize)
	}
	return total
}

// Bind reads every binding for tile and returns the arrays keyed by the
// names the snippet uses. Pixels of the read window outside the grid are
// present but invalid, so every array has the tile's full shape.
func (r *Resolver) Bind(ctx context.Context, tile gridwalk.Tile) (map[string]*ndarray.Array, error) {
	logger := ctxlog.FromContext(ctx)
	ns := make(map[string]*ndarray.Array)
	for _, b := range r.bindings {
		if len(b.ReadBands) == 0 {
			continue
		}
		full, err := r.read(ctx, b, tile)
		if err != nil {
			return nil, fmt.Errorf("reading %s for %s: %w", b.Name, tile, err)
		}

		pos := make(map[int]int, len(b.ReadBands))
		for j, band := range b.ReadBands {
			pos[band] = j
		}
		pick := func(bands []int) (*ndarray.Array, error) {
			if slices.Equal(bands, b.ReadBands) {
				return full, nil
			}
			idx := make([]int, len(bands))
			for i, band := range bands {
				idx[i] = pos[band]
			}
			return full.SelectBands(idx)
		}

		if b.Use.Whole || b.Use.Mask {
			var whole *ndarray.Array
			if b.Info.Categorical {
				whole = presence(full)
			} else if whole, err = pick(allBands(b.Info.BandCount())); err != nil {
				return nil, err
			}
			if b.Use.Whole {
				ns[b.Name] = whole
			}
			if b.Use.Mask {
				m, err := pick(allBands(b.Info.BandCount()))
				if err != nil {
					return nil, err
				}
				ns[b.Name+snippet.MaskSuffix] = m.MaskArray()
			}
		}
		for _, s := range b.Selections {
			a, err := pick(s.Bands)
			if err != nil {
				return nil, err
			}
			ns[s.Selector.Var] = a
		}
		logger.Debug("Bound source for tile.", "source", b.Name, "tile", tile.Index, "bands", len(b.ReadBands))
	}
	return ns, nil
}

// read returns the read bands over the tile's padded window.
func (r *Resolver) read(ctx context.Context, b *Binding, tile gridwalk.Tile) (*ndarray.Array, error) {
	rows, cols := tile.Shape()
	full := ndarray.New(b.dtype, len(b.ReadBands), rows, cols)
	full.Valid = make([]bool, full.Len())

	win := tile.ReadWindow()
	clipped := win.Intersect(r.grid.Bounds())
	if clipped.Empty() {
		return full, nil
	}

	data, err := b.Source.Read(ctx, clipped, b.ReadBands)
	if err != nil {
		return nil, err
	}
	if data.Bands != len(b.ReadBands) || data.Rows != clipped.Height || data.Cols != clipped.Width {
		return nil, fmt.Errorf("source returned %s for %d band(s) over %s", data, len(b.ReadBands), clipped)
	}
	plane := data.Plane()
	for j, band := range b.ReadBands {
		nd := b.Info.Bands[band].NoData
		for p := j * plane; p < (j+1)*plane; p++ {
			if v := data.Data[p]; math.IsNaN(v) || (nd != nil && v == *nd) {
				data.SetInvalid(p)
			}
		}
	}
	if err := full.Paste(data, clipped.YOff-win.YOff, clipped.XOff-win.XOff); err != nil {
		return nil, err
	}
	return full, nil
}

// presence turns the informative band of a categorical source into a bool
// array that is 1 wherever a category is present.
func presence(full *ndarray.Array) *ndarray.Array {
	out := ndarray.New(ndarray.Bool, 1, full.Rows, full.Cols)
	for p := 0; p < full.Plane(); p++ {
		if full.IsValid(p) && full.Data[p] != 0 {
			out.Data[p] = 1
		}
	}
	return out
}

func allBands(n int) []int {
	bands := make([]int, n)
	for i := range bands {
		bands[i] = i
	}
	return bands
}
