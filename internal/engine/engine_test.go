package engine

import (
	"context"
	"math"
	"testing"

	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/snippet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness evaluates a snippet over a rows x cols tile.
type harness struct {
	t       *testing.T
	rows    int
	cols    int
	arrays  map[string]*ndarray.Array
	sources map[string]raster.Info
	writers map[string]Writer
}

func newHarness(t *testing.T, rows, cols int) *harness {
	return &harness{
		t:       t,
		rows:    rows,
		cols:    cols,
		arrays:  make(map[string]*ndarray.Array),
		sources: make(map[string]raster.Info),
		writers: make(map[string]Writer),
	}
}

func (h *harness) input(name string, a *ndarray.Array) *harness {
	h.arrays[name] = a
	bands := make([]raster.BandInfo, a.Bands)
	for i := range bands {
		bands[i] = raster.BandInfo{Name: "b", DType: a.DType}
	}
	h.sources[name] = raster.Info{Location: "mem://" + name, Grid: raster.Grid{Width: h.cols, Height: h.rows}, Bands: bands}
	return h
}

func (h *harness) run(text string) (*Result, error) {
	h.t.Helper()
	names := make([]string, 0, len(h.sources))
	for n := range h.sources {
		names = append(names, n)
	}
	prog, err := snippet.Parse(text, names)
	if err != nil {
		return nil, err
	}
	eng, err := New(prog)
	if err != nil {
		return nil, err
	}
	return eng.Evaluate(context.Background(), &Namespace{
		Tile:    gridwalk.Tile{Width: h.cols, Height: h.rows},
		Arrays:  h.arrays,
		Sources: h.sources,
		Writers: h.writers,
	})
}

func (h *harness) mustRun(text string) *Result {
	h.t.Helper()
	res, err := h.run(text)
	require.NoError(h.t, err)
	return res
}

func filled(dtype ndarray.DType, rows, cols int, v float64) *ndarray.Array {
	return ndarray.Full(dtype, 1, rows, cols, v)
}

func TestEvaluate_Arithmetic(t *testing.T) {
	h := newHarness(t, 2, 3).
		input("A", filled(ndarray.Uint8, 2, 3, 3)).
		input("B", filled(ndarray.Uint8, 2, 3, 5))

	res := h.mustRun("A + B")
	out := res.Outputs[snippet.DefaultOutput]
	require.NotNil(t, out)
	assert.Equal(t, ndarray.Uint8, out.DType)
	for _, v := range out.Data {
		assert.Equal(t, 8.0, v)
	}
}

func TestEvaluate_TypeRules(t *testing.T) {
	h := newHarness(t, 1, 2).
		input("A", filled(ndarray.Uint8, 1, 2, 200)).
		input("B", filled(ndarray.Int16, 1, 2, -3))

	res := h.mustRun(`
R1 = A + B
R2 = A / 4
R3 = A * 2
R4 = A * 0.5
R5 = A > 100
R6 = -A
`)
	assert.Equal(t, ndarray.Int16, res.Outputs["R1"].DType)
	assert.Equal(t, 197.0, res.Outputs["R1"].Data[0])
	assert.Equal(t, ndarray.Float32, res.Outputs["R2"].DType)
	assert.Equal(t, 50.0, res.Outputs["R2"].Data[0])
	assert.Equal(t, ndarray.Uint8, res.Outputs["R3"].DType, "integral scalars keep the array type")
	assert.Equal(t, 255.0, res.Outputs["R3"].Data[0], "overflow saturates")
	assert.Equal(t, ndarray.Float64, res.Outputs["R4"].DType)
	assert.Equal(t, 100.0, res.Outputs["R4"].Data[0])
	assert.Equal(t, ndarray.Bool, res.Outputs["R5"].DType)
	assert.Equal(t, 1.0, res.Outputs["R5"].Data[0])
	assert.Equal(t, ndarray.Int16, res.Outputs["R6"].DType)
	assert.Equal(t, -200.0, res.Outputs["R6"].Data[0])
}

func TestEvaluate_MasksPropagate(t *testing.T) {
	a := filled(ndarray.Float32, 1, 3, 2)
	a.SetInvalid(1)
	b := filled(ndarray.Float32, 1, 3, 0)
	h := newHarness(t, 1, 3).input("A", a).input("B", b)

	res := h.mustRun("R1 = A + 1\nR2 = A / B\nR3 = fill(A, -1)")
	r1 := res.Outputs["R1"]
	assert.True(t, r1.IsValid(0))
	assert.False(t, r1.IsValid(1))
	assert.Equal(t, 3.0, r1.Data[0])

	r2 := res.Outputs["R2"]
	for i := range r2.Data {
		assert.False(t, r2.IsValid(i), "division by zero is missing")
	}

	assert.Equal(t, []float64{2, -1, 2}, res.Outputs["R3"].Data)
}

func TestEvaluate_ConditionalOnArrays(t *testing.T) {
	a := ndarray.New(ndarray.Int16, 1, 1, 4)
	copy(a.Data, []float64{1, 5, 10, 20})
	h := newHarness(t, 1, 4).input("A", a)

	res := h.mustRun(`
R1 = A > 6 ? A : 0
R2 = where(A < 5, 1, 2)
R3 = 1 > 0 ? A * 2 : A
`)
	assert.Equal(t, []float64{0, 0, 10, 20}, res.Outputs["R1"].Data)
	assert.Equal(t, ndarray.Int16, res.Outputs["R1"].DType)
	assert.Equal(t, []float64{1, 2, 2, 2}, res.Outputs["R2"].Data)
	assert.Equal(t, []float64{2, 10, 20, 40}, res.Outputs["R3"].Data)
}

func TestEvaluate_Functions(t *testing.T) {
	a := ndarray.New(ndarray.Float32, 2, 1, 2)
	copy(a.Data, []float64{4, 9, 1, 3})
	h := newHarness(t, 1, 2).input("A", a)

	res := h.mustRun(`
R1 = sqrt(A)
R2 = sum_bands(A)
R3 = band(A, 2)
R4 = A[0]
R5 = clip(A, 2, 5)
R6 = ndi(A[0], A[1])
R7 = max(A)
R8 = stack(A[1], A[0])
R9 = astype(A, "uint8") + 250
R10 = pow(A, 2)
R11 = min(A[0], 5)
R12 = full(2, 3)
R13 = zeros()
R14 = ones(2)
R15 = isnan(ndi(A[0] - A[0], A[1]))
R16 = isnan(ndi(A[0] - A[0], A[1] - A[1]))
`)
	assert.Equal(t, []float64{2, 3, 1, float64(float32(math.Sqrt(3)))}, res.Outputs["R1"].Data)
	assert.Equal(t, []float64{5, 12}, res.Outputs["R2"].Data)
	assert.Equal(t, []float64{1, 3}, res.Outputs["R3"].Data)
	assert.Equal(t, []float64{4, 9}, res.Outputs["R4"].Data)
	assert.Equal(t, []float64{4, 5, 2, 3}, res.Outputs["R5"].Data)
	assert.InDelta(t, 0.6, res.Outputs["R6"].Data[0], 1e-6)
	assert.Equal(t, []float64{4, 9}, res.Outputs["R7"].Data)
	assert.Equal(t, []float64{1, 3, 4, 9}, res.Outputs["R8"].Data)
	assert.Equal(t, ndarray.Uint8, res.Outputs["R9"].DType)
	assert.Equal(t, []float64{254, 255, 251, 253}, res.Outputs["R9"].Data)
	assert.Equal(t, []float64{16, 81, 1, 9}, res.Outputs["R10"].Data)
	assert.Equal(t, []float64{4, 5}, res.Outputs["R11"].Data)
	assert.Equal(t, 3, res.Outputs["R12"].Bands)
	assert.Equal(t, []float64{0, 0}, res.Outputs["R13"].Data)
	assert.Equal(t, []float64{1, 1, 1, 1}, res.Outputs["R14"].Data)
	assert.Equal(t, ndarray.Bool, res.Outputs["R15"].DType)
	assert.Equal(t, []float64{0, 0}, res.Outputs["R15"].Data)
	assert.Equal(t, []float64{1, 1}, res.Outputs["R16"].Data)
}

func TestEvaluate_FocalUsesOverlap(t *testing.T) {
	a := filled(ndarray.Int32, 3, 3, 1)
	h := newHarness(t, 3, 3).input("A", a)
	res := h.mustRun("R1 = focal_sum(A, 1)")
	r := res.Outputs["R1"]
	assert.Equal(t, 9.0, r.At(0, 1, 1))
	assert.Equal(t, 4.0, r.At(0, 0, 0))
}

func TestEvaluate_ScalarsAndMetadata(t *testing.T) {
	h := newHarness(t, 1, 1).input("A", filled(ndarray.Uint16, 1, 1, 7))
	nd := 65535.0
	info := h.sources["A"]
	info.Bands[0].NoData = &nd
	info.Bands[0].Name = "nir"
	info.Bands[0].Wavelength = 842
	h.sources["A"] = info

	res := h.mustRun(`
n = A.band_count
name = upper(A.band_names[0])
R1 = A * n + (A.no_data_value - 65535)
R2 = full(tile.width + tile.height)
`)
	assert.Equal(t, []float64{7}, res.Outputs["R1"].Data)
	assert.Equal(t, []float64{2}, res.Outputs["R2"].Data)
	assert.NotContains(t, res.Outputs, "n", "scalars are not outputs")
	assert.NotContains(t, res.Outputs, "name")
}

func TestEvaluate_NaNMetadataReadsAsNull(t *testing.T) {
	h := newHarness(t, 1, 1).input("A", filled(ndarray.Float32, 1, 1, 2))
	nd := math.NaN()
	info := h.sources["A"]
	info.Bands[0].NoData = &nd
	info.Bands[0].Wavelength = math.NaN()
	h.sources["A"] = info

	res := h.mustRun("R1 = A * coalesce(A.wavelengths[0], 5) + coalesce(A.no_data_value, 1)")
	assert.Equal(t, []float64{11}, res.Outputs["R1"].Data)
}

func TestEvaluate_MisshapedArraysAreNotOutputs(t *testing.T) {
	h := newHarness(t, 4, 4).input("A", filled(ndarray.Uint8, 4, 4, 1))
	res := h.mustRun("R1 = A\nR2 = full(1, 1, 1, 1)")
	assert.Contains(t, res.Outputs, "R1")
	assert.NotContains(t, res.Outputs, "R2")
	assert.Contains(t, res.Arrays, "R2")
	assert.Equal(t, []string{"R1", "R2"}, res.Order)
}

func TestEvaluate_WriterCalls(t *testing.T) {
	rec := NewRecorder(2)
	h := newHarness(t, 1, 1).input("A", ndarray.New(ndarray.Float32, 2, 1, 1))
	h.writers["R1"] = rec

	h.mustRun(`
R1 = A * 2
R1.set_band_names(["red", "nir"])
R1_.set_wavelength(2, 842)
R1.set_no_data_value(-9999)
R1.set_metadata_item("source", A.location)
`)
	m := rec.Metadata()
	assert.Equal(t, []string{"red", "nir"}, m.BandNames)
	assert.Equal(t, []float64{0, 842}, m.Wavelengths)
	require.NotNil(t, m.NoData)
	assert.Equal(t, -9999.0, *m.NoData)
	assert.Equal(t, "mem://A", m.Items["source"])

	_, err := h.run("R1 = A\nR1.set_band_name(3, \"x\")")
	require.Error(t, err)
	assert.True(t, calcerr.IsScript(err))
}

func TestEvaluate_WriterCallWithoutHandle(t *testing.T) {
	h := newHarness(t, 1, 1).input("A", filled(ndarray.Uint8, 1, 1, 1))
	_, err := h.run("R1 = A\nR2.set_no_data_value(0)")
	var se *calcerr.ScriptExecutionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Line)
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"unknown function", "R1 = A\nR2 = frobnicate(A)", 2},
		{"unknown name", "R1 = A + nothing", 1},
		{"band out of range", "R1 = band(A, 4)", 1},
		{"shape mismatch between arrays", "R1 = A + full(1, 1, 2, 2)", 1},
		{"bad dtype", `R1 = astype(A, "complex")`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1, 1).input("A", filled(ndarray.Uint8, 1, 1, 1))
			_, err := h.run(tt.text)
			var se *calcerr.ScriptExecutionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.line, se.Line)
		})
	}
}

func TestEvaluate_IsStateless(t *testing.T) {
	h := newHarness(t, 1, 1).input("A", filled(ndarray.Uint8, 1, 1, 1))
	prog, err := snippet.Parse("x = A + 1\nR1 = x", []string{"A"})
	require.NoError(t, err)
	eng, err := New(prog)
	require.NoError(t, err)

	ns := &Namespace{Tile: gridwalk.Tile{Width: 1, Height: 1}, Arrays: h.arrays, Sources: h.sources}
	first, err := eng.Evaluate(context.Background(), ns)
	require.NoError(t, err)
	second, err := eng.Evaluate(context.Background(), ns)
	require.NoError(t, err)
	assert.Equal(t, first.Outputs["R1"].Data, second.Outputs["R1"].Data)
	assert.Equal(t, 1.0, h.arrays["A"].Data[0], "inputs are not modified")
}

func TestEvaluate_IsCanceledAndLogging(t *testing.T) {
	h := newHarness(t, 1, 1).input("A", filled(ndarray.Uint8, 1, 1, 1))
	prog, err := snippet.Parse("log_info(\"evaluating\", A)\nR1 = is_canceled() ? A * 0 : A", []string{"A"})
	require.NoError(t, err)
	eng, err := New(prog)
	require.NoError(t, err)

	res, err := eng.Evaluate(context.Background(), &Namespace{
		Tile:     gridwalk.Tile{Width: 1, Height: 1},
		Arrays:   h.arrays,
		Sources:  h.sources,
		Canceled: func() bool { return true },
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Outputs["R1"].Data[0])
}

func TestFunctionNames(t *testing.T) {
	names := FunctionNames()
	assert.Contains(t, names, "where")
	assert.Contains(t, names, "focal_mean")
	assert.IsIncreasing(t, names)
}
