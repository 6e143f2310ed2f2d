// Package source reads provider files in their native distribution formats
// and emits raw records. Each provider implements the Source interface and
// registers in the Registry; nothing downstream knows about file layouts.
package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// FileResult is the outcome of reading one input file. Problems holds the
// row-local errors (*model.ParseError); a file with problems still yields
// its good rows.
type FileResult struct {
	Records  []model.SourceRecord
	Problems []error
}

// Source defines the reader each provider must implement.
type Source interface {
	// ID returns the provider this reader handles.
	ID() model.SourceID

	// Discover lists the input files under dir this source can parse, in
	// sorted order. Companion reference files are not returned.
	Discover(dir string) ([]string, error)

	// ReadFile parses one file. Malformed rows are skipped and reported in
	// FileResult.Problems; only file-level failures return an error.
	ReadFile(ctx context.Context, path string) (*FileResult, error)
}

// Options carries the reference data the readers need.
type Options struct {
	// Causes restricts WHO rows to the listed cause codes. The default
	// keeps only the all-cause aggregate rows so totals are not double
	// counted.
	Causes []string

	// Population joins WHO mortality strata to population counts. May be
	// empty when no pop.csv is available.
	Population PopLookup
}

// PopLookup is the population join the WHO reader performs per stratum.
type PopLookup interface {
	Lookup(country, year, sex string) (float64, bool)
}

// Registry maps source names to their readers.
type Registry struct {
	sources map[model.SourceID]Source
	order   []model.SourceID // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with all three readers.
func NewRegistry(opts Options) *Registry {
	r := &Registry{sources: make(map[model.SourceID]Source)}
	r.Register(&NOAA{})
	r.Register(NewWHO(opts.Causes, opts.Population))
	r.Register(&CMIP5{})
	return r
}

// Register adds a reader to the registry.
func (r *Registry) Register(s Source) {
	id := s.ID()
	r.sources[id] = s
	r.order = append(r.order, id)
}

// Get returns a reader by source ID.
func (r *Registry) Get(id model.SourceID) (Source, error) {
	s, ok := r.sources[id]
	if !ok {
		return nil, eris.Errorf("source: no reader registered for %q", id)
	}
	return s, nil
}

// All returns all readers in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// Names returns the registered source IDs in registration order.
func (r *Registry) Names() []model.SourceID {
	out := make([]model.SourceID, len(r.order))
	copy(out, r.order)
	return out
}
