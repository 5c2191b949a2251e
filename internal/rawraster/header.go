// Package rawraster stores rasters as a pair of files: a YAML header
// (<name>.yaml) describing the grid and bands, and a band-sequential,
// little-endian pixel file (<name>.bin).
package rawraster

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"gopkg.in/yaml.v3"
)

const (
	HeaderExt = ".yaml"
	DataExt   = ".bin"
)

type header struct {
	Width        int               `yaml:"width"`
	Height       int               `yaml:"height"`
	DType        string            `yaml:"dtype"`
	GeoTransform []float64         `yaml:"geo_transform,omitempty,flow"`
	CRS          string            `yaml:"crs,omitempty"`
	Categorical  bool              `yaml:"categorical,omitempty"`
	NoData       *float64          `yaml:"no_data,omitempty"`
	Bands        []bandHeader      `yaml:"bands"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}

type bandHeader struct {
	Name       string   `yaml:"name,omitempty"`
	Wavelength float64  `yaml:"wavelength,omitempty"`
	NoData     *float64 `yaml:"no_data,omitempty"`
}

// Base strips a header or data extension from path.
func Base(path string) string {
	for _, ext := range []string{HeaderExt, DataExt} {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}

func readHeader(base string) (*header, error) {
	data, err := os.ReadFile(base + HeaderExt)
	if err != nil {
		return nil, err
	}
	var h header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", base+HeaderExt, err)
	}
	return &h, nil
}

func writeHeader(base string, h *header) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return err
	}
	return os.WriteFile(base+HeaderExt, data, 0o644)
}

// info converts h into the description of the raster at base.
func (h *header) info(base string) (raster.Info, ndarray.DType, error) {
	dtype, err := ndarray.ParseDType(h.DType)
	if err != nil {
		return raster.Info{}, ndarray.Invalid, err
	}
	grid := raster.Grid{Width: h.Width, Height: h.Height, GeoTransform: raster.DefaultGeoTransform, CRS: h.CRS}
	switch len(h.GeoTransform) {
	case 0:
	case 6:
		copy(grid.GeoTransform[:], h.GeoTransform)
	default:
		return raster.Info{}, ndarray.Invalid, fmt.Errorf("geo_transform has %d coefficients, want 6", len(h.GeoTransform))
	}
	if err := grid.Validate(); err != nil {
		return raster.Info{}, ndarray.Invalid, err
	}
	if len(h.Bands) == 0 {
		return raster.Info{}, ndarray.Invalid, fmt.Errorf("no bands declared")
	}

	info := raster.Info{
		Location:    filepath.Clean(base) + DataExt,
		Grid:        grid,
		Bands:       make([]raster.BandInfo, len(h.Bands)),
		Categorical: h.Categorical,
	}
	for i, b := range h.Bands {
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("Band %d", i+1)
		}
		nd := b.NoData
		if nd == nil {
			nd = h.NoData
		}
		info.Bands[i] = raster.BandInfo{Name: name, DType: dtype, Wavelength: b.Wavelength, NoData: nd}
	}
	return info, dtype, nil
}

// apply merges metadata recorded for an output into h.
func (h *header) apply(m raster.Metadata) {
	if m.NoData != nil {
		v := *m.NoData
		h.NoData = &v
	}
	for i, name := range m.BandNames {
		if i < len(h.Bands) && name != "" {
			h.Bands[i].Name = name
		}
	}
	for i, wl := range m.Wavelengths {
		if i < len(h.Bands) && wl != 0 {
			h.Bands[i].Wavelength = wl
		}
	}
	if len(m.Items) > 0 && h.Metadata == nil {
		h.Metadata = make(map[string]string, len(m.Items))
	}
	for k, v := range m.Items {
		h.Metadata[k] = v
	}
}
