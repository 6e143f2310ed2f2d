package model

import (
	"sort"
	"time"
)

// QualityFlag marks a non-fatal condition attached to a record.
type QualityFlag string

const (
	FlagPeriodExpanded    QualityFlag = "period_expanded"    // derived from a multi-year reporting period
	FlagPartialCoverage   QualityFlag = "partial_coverage"   // fewer sources than fusion.min_coverage
	FlagSpatialAmbiguity  QualityFlag = "spatial_ambiguity"  // location overlapped several regions
	FlagTemporalCoarsened QualityFlag = "temporal_coarsened" // finer records absorbed into a coarser key
)

// NormalizedRecord is one canonical observation: a single spatial key, a
// single temporal key, and values in canonical units. Records are never
// mutated after creation; corrections produce new records.
type NormalizedRecord struct {
	Source    SourceID           `json:"source"`
	RecordID  string             `json:"record_id"`
	Spatial   SpatialKey         `json:"spatial"`
	Temporal  TemporalKey        `json:"temporal"`
	Variables map[string]float64 `json:"variables"`
	Flags     []QualityFlag      `json:"flags,omitempty"`
}

// HasFlag reports whether the record carries the given flag.
func (r NormalizedRecord) HasFlag(f QualityFlag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// FusedRecord is the analysis-ready output: all sources' values for one
// (spatial, temporal) group, aggregated per family.
type FusedRecord struct {
	Spatial    SpatialKey         `json:"spatial"`
	Temporal   TemporalKey        `json:"temporal"`
	Climate    map[string]float64 `json:"climate,omitempty"`
	Mortality  map[string]float64 `json:"mortality,omitempty"`
	Projection map[string]float64 `json:"projection,omitempty"`
	Coverage   []SourceID         `json:"coverage"`   // sorted, never empty
	Provenance []string           `json:"provenance"` // sorted source-record IDs
	Flags      []QualityFlag      `json:"flags,omitempty"`
}

// Family returns the named family map, allocating it on first use.
func (r *FusedRecord) Family(f VariableFamily) map[string]float64 {
	switch f {
	case FamilyMortality:
		if r.Mortality == nil {
			r.Mortality = make(map[string]float64)
		}
		return r.Mortality
	case FamilyProjection:
		if r.Projection == nil {
			r.Projection = make(map[string]float64)
		}
		return r.Projection
	default:
		if r.Climate == nil {
			r.Climate = make(map[string]float64)
		}
		return r.Climate
	}
}

// Covers reports whether the given source contributed to this record.
func (r FusedRecord) Covers(src SourceID) bool {
	for _, s := range r.Coverage {
		if s == src {
			return true
		}
	}
	return false
}

// HasFlag reports whether the record carries the given flag.
func (r FusedRecord) HasFlag(f QualityFlag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// SortFlags orders flags canonically so serialized output is stable.
func SortFlags(flags []QualityFlag) {
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
}

// Rejection pairs a fused record that failed validation with the reason.
type Rejection struct {
	Record FusedRecord      `json:"record"`
	Err    *ValidationError `json:"error"`
}

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one pipeline execution as recorded in the run log.
type Run struct {
	ID          string      `json:"id"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunSummary holds per-stage counts for one run.
type RunSummary struct {
	SourceRows    int64            `json:"source_rows"`
	Normalized    int64            `json:"normalized"`
	ParseErrors   int64            `json:"parse_errors"`
	Unresolvable  int64            `json:"unresolvable"`
	OutOfScope    int64            `json:"out_of_scope"`
	Trimmed       int64            `json:"trimmed"` // rows outside the configured year range
	Fused         int64            `json:"fused"`
	Accepted      int64            `json:"accepted"`
	Rejected      int64            `json:"rejected"`
	RejectReasons map[string]int64 `json:"reject_reasons,omitempty"`
	VariableRows  map[string]int64 `json:"variable_rows,omitempty"` // rows contributing each canonical variable
	Elapsed       time.Duration    `json:"elapsed"`
}
