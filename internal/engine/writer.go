package engine

import (
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Writer receives the metadata calls a snippet makes on an output handle.
// Bands are 1-based.
type Writer interface {
	SetNoDataValue(v float64) error
	SetBandName(band int, name string) error
	SetBandNames(names []string) error
	SetWavelength(band int, nm float64) error
	SetMetadataItem(key, value string) error
}

// Recorder is a Writer that keeps the metadata for an output with a known
// band count, to be flushed when the output is closed.
type Recorder struct {
	mu    sync.Mutex
	bands int
	meta  raster.Metadata
}

var _ Writer = (*Recorder)(nil)

// NewRecorder creates a Recorder for an output of the given band count.
func NewRecorder(bands int) *Recorder {
	return &Recorder{bands: bands}
}

func (r *Recorder) checkBand(band int) error {
	if band < 1 || band > r.bands {
		return fmt.Errorf("band %d out of range, output has %d band(s)", band, r.bands)
	}
	return nil
}

func (r *Recorder) growNames() {
	if len(r.meta.BandNames) < r.bands {
		r.meta.BandNames = append(r.meta.BandNames, make([]string, r.bands-len(r.meta.BandNames))...)
	}
}

func (r *Recorder) SetNoDataValue(v float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.NoData = &v
	return nil
}

func (r *Recorder) SetBandName(band int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkBand(band); err != nil {
		return err
	}
	r.growNames()
	r.meta.BandNames[band-1] = name
	return nil
}

func (r *Recorder) SetBandNames(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) != r.bands {
		return fmt.Errorf("got %d band name(s) for %d band(s)", len(names), r.bands)
	}
	r.meta.BandNames = append([]string(nil), names...)
	return nil
}

func (r *Recorder) SetWavelength(band int, nm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkBand(band); err != nil {
		return err
	}
	if nm <= 0 {
		return fmt.Errorf("wavelength must be positive, got %g", nm)
	}
	if len(r.meta.Wavelengths) < r.bands {
		r.meta.Wavelengths = append(r.meta.Wavelengths, make([]float64, r.bands-len(r.meta.Wavelengths))...)
	}
	r.meta.Wavelengths[band-1] = nm
	return nil
}

func (r *Recorder) SetMetadataItem(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == "" {
		return fmt.Errorf("metadata key must not be empty")
	}
	if r.meta.Items == nil {
		r.meta.Items = make(map[string]string)
	}
	r.meta.Items[key] = value
	return nil
}

// Metadata returns a copy of everything recorded so far.
func (r *Recorder) Metadata() raster.Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := raster.Metadata{
		BandNames:   append([]string(nil), r.meta.BandNames...),
		Wavelengths: append([]float64(nil), r.meta.Wavelengths...),
		Items:       maps.Clone(r.meta.Items),
	}
	if r.meta.NoData != nil {
		v := *r.meta.NoData
		m.NoData = &v
	}
	return m
}

// NoData returns the recorded no-data value, if any.
func (r *Recorder) NoData() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta.NoData == nil {
		return 0, false
	}
	return *r.meta.NoData, true
}

// Discard accepts every call and keeps nothing.
type Discard struct{}

func (Discard) SetNoDataValue(float64) error         { return nil }
func (Discard) SetBandName(int, string) error        { return nil }
func (Discard) SetBandNames([]string) error          { return nil }
func (Discard) SetWavelength(int, float64) error     { return nil }
func (Discard) SetMetadataItem(string, string) error { return nil }

// callWriter dispatches a snippet method call to w.
func callWriter(w Writer, method string, args []cty.Value) error {
	switch method {
	case "set_no_data_value":
		v, err := scalar(args[0])
		if err != nil {
			return err
		}
		if math.IsInf(v, 0) {
			return fmt.Errorf("no-data value must be finite")
		}
		return w.SetNoDataValue(v)
	case "set_band_name":
		band, err := integer(args[0])
		if err != nil {
			return err
		}
		var name string
		if err := decode(args[1], cty.String, &name); err != nil {
			return err
		}
		return w.SetBandName(band, name)
	case "set_band_names":
		var names []string
		if err := decode(args[0], cty.List(cty.String), &names); err != nil {
			return err
		}
		return w.SetBandNames(names)
	case "set_wavelength":
		band, err := integer(args[0])
		if err != nil {
			return err
		}
		nm, err := scalar(args[1])
		if err != nil {
			return err
		}
		return w.SetWavelength(band, nm)
	case "set_metadata_item":
		var key, value string
		if err := decode(args[0], cty.String, &key); err != nil {
			return err
		}
		if err := decode(args[1], cty.String, &value); err != nil {
			return err
		}
		return w.SetMetadataItem(key, value)
	}
	return fmt.Errorf("unknown writer method %q", method)
}

func decode(v cty.Value, ty cty.Type, target any) error {
	if isArray(v) {
		return fmt.Errorf("expected %s, got array", ty.FriendlyName())
	}
	converted, err := convert.Convert(v, ty)
	if err != nil {
		return err
	}
	if converted.IsNull() {
		return fmt.Errorf("expected %s, got null", ty.FriendlyName())
	}
	return gocty.FromCtyValue(converted, target)
}
