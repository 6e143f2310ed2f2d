// Package normalize turns raw source records into canonical normalized
// records: units converted, locations resolved to spatial keys, raw time
// strings aligned to temporal keys, and multi-year reporting periods
// expanded into per-year estimates.
package normalize

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/source"
	"github.com/climatehealth/fusion-cli/internal/spatial"
	"github.com/climatehealth/fusion-cli/internal/temporal"
)

// Options bound what the normalizer keeps.
type Options struct {
	Units   UnitSystem
	MinYear int // drop records before this year; 0 keeps everything
	MaxYear int // drop records after this year; 0 keeps everything
}

// Stats counts one batch's outcomes. Every source row lands in exactly one
// bucket, except that one row can normalize into several records when a
// reporting period expands.
type Stats struct {
	SourceRows   int64
	Normalized   int64
	ParseErrors  int64
	Unresolvable int64
	OutOfScope   int64
	Trimmed      int64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.SourceRows += other.SourceRows
	s.Normalized += other.Normalized
	s.ParseErrors += other.ParseErrors
	s.Unresolvable += other.Unresolvable
	s.OutOfScope += other.OutOfScope
	s.Trimmed += other.Trimmed
}

// Batch is the normalizer output for one input file.
type Batch struct {
	Records  []model.NormalizedRecord
	Problems []error
	Stats    Stats
}

// Normalizer applies the raw-to-canonical transformation. Safe for
// concurrent use; all per-file state lives in the Batch.
type Normalizer struct {
	resolver *spatial.Resolver
	opts     Options
	warn     *rate.Limiter
}

// NewNormalizer builds a normalizer over the given resolver.
func NewNormalizer(resolver *spatial.Resolver, opts Options) *Normalizer {
	if opts.Units == "" {
		opts.Units = UnitsMetric
	}
	return &Normalizer{
		resolver: resolver,
		opts:     opts,
		// Unresolvable rows tend to arrive thousands at a time; log a
		// sample and count the rest.
		warn: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// File normalizes one file's worth of raw records. Parse problems found by
// the reader ride along into the batch so a single path counts them.
func (n *Normalizer) File(result *source.FileResult) *Batch {
	batch := &Batch{
		Problems: append([]error(nil), result.Problems...),
	}
	batch.Stats.SourceRows = int64(len(result.Records)) + int64(len(result.Problems))
	batch.Stats.ParseErrors = int64(len(result.Problems))

	for _, rec := range result.Records {
		n.one(rec, batch)
	}
	return batch
}

func (n *Normalizer) one(rec model.SourceRecord, batch *Batch) {
	keys, err := temporal.Align(rec.RawTime)
	if err != nil {
		batch.Stats.ParseErrors++
		batch.Problems = append(batch.Problems, &model.ParseError{
			Source: rec.Source, RowRef: rec.RowRef, Field: "time", Reason: err.Error(),
		})
		return
	}

	spatialKey, ambiguous, err := n.resolver.Resolve(rec.RawLocation, rec.Source)
	switch {
	case errors.Is(err, model.ErrOutOfScope):
		batch.Stats.OutOfScope++
		return
	case err != nil:
		batch.Stats.Unresolvable++
		batch.Problems = append(batch.Problems, err)
		if n.warn.Allow() {
			zap.L().Warn("unresolvable location",
				zap.String("source", string(rec.Source)),
				zap.String("row", rec.RowRef),
				zap.Error(err))
		}
		return
	}

	expanded := len(keys) > 1
	recordID := rec.ID()

	for _, tkey := range keys {
		if n.outsideYearRange(tkey) {
			batch.Stats.Trimmed++
			continue
		}

		vars := make(map[string]float64, len(rec.Values))
		for name, v := range rec.Values {
			v = convertValue(name, v, rec.OriginalUnits[name], n.opts.Units)
			// A period total apportions evenly across its years.
			if expanded && model.CountLike(name) {
				v /= float64(len(keys))
			}
			vars[name] = v
		}

		var flags []model.QualityFlag
		if expanded {
			flags = append(flags, model.FlagPeriodExpanded)
		}
		if ambiguous {
			flags = append(flags, model.FlagSpatialAmbiguity)
		}
		model.SortFlags(flags)

		batch.Records = append(batch.Records, model.NormalizedRecord{
			Source:    rec.Source,
			RecordID:  recordID,
			Spatial:   spatialKey,
			Temporal:  tkey,
			Variables: vars,
			Flags:     flags,
		})
		batch.Stats.Normalized++
	}
}

func (n *Normalizer) outsideYearRange(key model.TemporalKey) bool {
	if n.opts.MinYear > 0 && key.Year < n.opts.MinYear {
		return true
	}
	if n.opts.MaxYear > 0 && key.Year > n.opts.MaxYear {
		return true
	}
	return false
}
