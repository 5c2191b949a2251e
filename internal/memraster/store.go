package memraster

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/blockcalc/internal/raster"
)

// Store is a raster.SinkFactory that keeps every raster it creates.
type Store struct {
	rasters sync.Map // Key: raster name, Value: *Raster
	// Fill is the value new sinks are initialised with.
	Fill float64
}

// NewStore creates an empty store whose sinks start at zero.
func NewStore() *Store {
	return &Store{}
}

// Create implements raster.SinkFactory.
func (s *Store) Create(ctx context.Context, spec raster.SinkSpec) (raster.Sink, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	bands := make([]raster.BandInfo, spec.Bands)
	for i := range bands {
		bands[i] = raster.BandInfo{Name: fmt.Sprintf("Band %d", i+1), DType: spec.DType}
	}
	r := New(spec.Name, spec.Grid, spec.DType, bands, s.Fill)
	if _, loaded := s.rasters.LoadOrStore(spec.Name, r); loaded {
		return nil, fmt.Errorf("memraster: raster %q already exists", spec.Name)
	}
	return r, nil
}

// Put adds r under name, replacing any previous raster.
func (s *Store) Put(name string, r *Raster) {
	s.rasters.Store(name, r)
}

// Get returns the raster stored under name.
func (s *Store) Get(name string) (*Raster, bool) {
	r, ok := s.rasters.Load(name)
	if !ok {
		return nil, false
	}
	return r.(*Raster), true
}

// Names returns the names of all stored rasters in no particular order.
func (s *Store) Names() []string {
	var names []string
	s.rasters.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	return names
}
