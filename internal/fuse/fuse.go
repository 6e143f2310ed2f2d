// Package fuse joins normalized records from every source into
// analysis-ready fused records. Records hash-partition by their coarse
// anchor (country, decade); partitions fuse independently, so the engine
// needs no locks and output is identical under any input order.
package fuse

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// CoarseningPolicy controls how records at different tiers join.
type CoarseningPolicy string

const (
	// PolicyStrict groups only exact tier and key matches.
	PolicyStrict CoarseningPolicy = "strict"
	// PolicyCoarsenToCommon absorbs finer records into the coarsest
	// spatial tier and temporal granularity present in their anchor cell.
	PolicyCoarsenToCommon CoarseningPolicy = "coarsen-to-common"
)

// ParsePolicy converts a config string into a CoarseningPolicy.
func ParsePolicy(s string) (CoarseningPolicy, error) {
	switch CoarseningPolicy(strings.TrimSpace(s)) {
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyCoarsenToCommon:
		return PolicyCoarsenToCommon, nil
	default:
		return "", eris.Errorf("unknown coarsening policy %q (valid: strict, coarsen-to-common)", s)
	}
}

// heatStressBaseline is the excess-warmth threshold, degC, for the derived
// heat-stress proxy.
const heatStressBaseline = 20.0

const defaultPartitions = 8

// Options configure one fusion pass.
type Options struct {
	Policy           CoarseningPolicy
	MinCoverage      int  // groups below this source count are flagged
	DeriveHeatStress bool // emit HUMID when PRCP and TAVG are both present
	Extremes         bool // emit <VAR>_MIN/_MAX when time was coarsened
	Partitions       int
}

// Fuser groups and aggregates normalized records.
type Fuser struct {
	opts Options
}

// NewFuser builds a fuser, applying defaults for unset options.
func NewFuser(opts Options) *Fuser {
	if opts.Policy == "" {
		opts.Policy = PolicyCoarsenToCommon
	}
	if opts.MinCoverage <= 0 {
		opts.MinCoverage = 1
	}
	if opts.Partitions <= 0 {
		opts.Partitions = defaultPartitions
	}
	return &Fuser{opts: opts}
}

// Fuse aggregates records into one fused record per (spatial, temporal)
// group, sorted by spatial code then temporal key.
func (f *Fuser) Fuse(ctx context.Context, recs []model.NormalizedRecord) ([]model.FusedRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	parts := make([][]model.NormalizedRecord, f.opts.Partitions)
	for _, rec := range recs {
		p := f.partition(rec)
		parts[p] = append(parts[p], rec)
	}

	results := make([][]model.FusedRecord, f.opts.Partitions)
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		if len(part) == 0 {
			continue
		}
		g.Go(func() error {
			fused, err := f.fusePartition(gctx, part)
			if err != nil {
				return err
			}
			results[i] = fused
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.FusedRecord
	for _, fused := range results {
		out = append(out, fused...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Spatial.Code != b.Spatial.Code {
			return a.Spatial.Code < b.Spatial.Code
		}
		if a.Temporal != b.Temporal {
			return a.Temporal.Before(b.Temporal)
		}
		return a.Spatial.Tier < b.Spatial.Tier
	})

	zap.L().Debug("fusion complete",
		zap.Int("input", len(recs)),
		zap.Int("fused", len(out)),
		zap.String("policy", string(f.opts.Policy)),
	)
	return out, nil
}

// partition assigns a record to a partition by its anchor cell. Every record
// that could ever share a group shares an anchor, so partitions never need
// to exchange records.
func (f *Fuser) partition(rec model.NormalizedRecord) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d", rec.Spatial.CountryCode(), rec.Temporal.Decade())
	return int(h.Sum32() % uint32(f.opts.Partitions))
}

type anchorKey struct {
	country string
	decade  int
}

type groupKey struct {
	code     string
	tier     model.ResolutionTier
	temporal model.TemporalKey
}

// group accumulates one output record's contributors.
type group struct {
	key       groupKey
	tier      model.ResolutionTier // coarsest actual contributor
	samples   map[model.VariableFamily]map[string][]float64
	coverage  map[model.SourceID]bool
	prov      []string
	flags     map[model.QualityFlag]bool
	coarsened bool // a contributor was finer than the group's temporal key
}

func (f *Fuser) fusePartition(ctx context.Context, recs []model.NormalizedRecord) ([]model.FusedRecord, error) {
	anchors := make(map[anchorKey][]model.NormalizedRecord)
	for _, rec := range recs {
		k := anchorKey{country: rec.Spatial.CountryCode(), decade: rec.Temporal.Decade()}
		anchors[k] = append(anchors[k], rec)
	}

	var out []model.FusedRecord
	for _, cell := range anchors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, f.fuseAnchor(cell)...)
	}
	return out, nil
}

// fuseAnchor groups one anchor cell's records and reduces each group.
func (f *Fuser) fuseAnchor(recs []model.NormalizedRecord) []model.FusedRecord {
	targetTier := model.TierStation
	targetGran := model.GranMonth
	if f.opts.Policy == PolicyCoarsenToCommon {
		for _, rec := range recs {
			if rec.Spatial.Tier > targetTier {
				targetTier = rec.Spatial.Tier
			}
			if rec.Temporal.Gran > targetGran {
				targetGran = rec.Temporal.Gran
			}
		}
	}

	groups := make(map[groupKey]*group)
	var order []groupKey // deterministic reduction order

	for _, rec := range recs {
		key := f.groupKeyFor(rec, targetTier, targetGran)
		grp, ok := groups[key]
		if !ok {
			grp = &group{
				key:      key,
				tier:     rec.Spatial.Tier,
				samples:  make(map[model.VariableFamily]map[string][]float64),
				coverage: make(map[model.SourceID]bool),
				flags:    make(map[model.QualityFlag]bool),
			}
			groups[key] = grp
			order = append(order, key)
		}

		if rec.Spatial.Tier > grp.tier {
			grp.tier = rec.Spatial.Tier
		}
		if rec.Temporal != key.temporal {
			grp.coarsened = true
		}

		fam := rec.Source.Family()
		vars := grp.samples[fam]
		if vars == nil {
			vars = make(map[string][]float64)
			grp.samples[fam] = vars
		}
		for name, v := range rec.Variables {
			vars[name] = append(vars[name], v)
		}

		grp.coverage[rec.Source] = true
		grp.prov = append(grp.prov, rec.RecordID)
		for _, flag := range rec.Flags {
			grp.flags[flag] = true
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.code != b.code {
			return a.code < b.code
		}
		if a.temporal != b.temporal {
			return a.temporal.Before(b.temporal)
		}
		return a.tier < b.tier
	})

	out := make([]model.FusedRecord, 0, len(order))
	for _, key := range order {
		out = append(out, f.reduce(groups[key]))
	}
	return out
}

// groupKeyFor maps a record onto its output group. Strict policy keys by
// the record's own tier and temporal key; coarsening retargets both to the
// anchor-wide coarsest and folds codes to the country at country tier.
func (f *Fuser) groupKeyFor(rec model.NormalizedRecord, targetTier model.ResolutionTier, targetGran model.Granularity) groupKey {
	if f.opts.Policy == PolicyStrict {
		return groupKey{code: rec.Spatial.Code, tier: rec.Spatial.Tier, temporal: rec.Temporal}
	}

	code := rec.Spatial.Code
	if targetTier == model.TierCountry {
		code = rec.Spatial.CountryCode()
	}
	return groupKey{code: code, tier: targetTier, temporal: rec.Temporal.Coarsen(targetGran)}
}

// reduce aggregates one group into its fused record.
func (f *Fuser) reduce(grp *group) model.FusedRecord {
	fused := model.FusedRecord{
		Spatial:  model.SpatialKey{Code: grp.key.code, Tier: grp.tier},
		Temporal: grp.key.temporal,
	}

	for fam, vars := range grp.samples {
		out := fused.Family(fam)

		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			samples := vars[name]
			// Sorting before reduction makes the float result identical
			// under any input order.
			sort.Float64s(samples)
			if model.CountLike(name) {
				out[name] = sum(samples)
				continue
			}
			out[name] = sum(samples) / float64(len(samples))
			if f.opts.Extremes && grp.coarsened && len(samples) > 1 {
				out[name+"_MIN"] = samples[0]
				out[name+"_MAX"] = samples[len(samples)-1]
			}
		}
	}

	f.derive(&fused)

	fused.Coverage = make([]model.SourceID, 0, len(grp.coverage))
	for src := range grp.coverage {
		fused.Coverage = append(fused.Coverage, src)
	}
	sort.Slice(fused.Coverage, func(i, j int) bool { return fused.Coverage[i] < fused.Coverage[j] })

	fused.Provenance = dedupeSorted(grp.prov)

	if grp.coarsened {
		grp.flags[model.FlagTemporalCoarsened] = true
	}
	if len(grp.coverage) < f.opts.MinCoverage {
		grp.flags[model.FlagPartialCoverage] = true
	}
	if len(grp.flags) > 0 {
		fused.Flags = make([]model.QualityFlag, 0, len(grp.flags))
		for flag := range grp.flags {
			fused.Flags = append(fused.Flags, flag)
		}
		model.SortFlags(fused.Flags)
	}

	return fused
}

// derive adds the computed variables: the mortality rate per 100k and the
// heat-stress proxy per climate family.
func (f *Fuser) derive(fused *model.FusedRecord) {
	if deaths, ok := fused.Mortality[model.VarDEATHS]; ok {
		if pop, ok := fused.Mortality[model.VarPOP]; ok && pop > 0 {
			fused.Mortality[model.VarMORT] = deaths / pop * 100000
		}
	}

	if !f.opts.DeriveHeatStress {
		return
	}
	for _, vars := range []map[string]float64{fused.Climate, fused.Projection} {
		prcp, hasPrcp := vars[model.VarPRCP]
		tavg, hasTavg := vars[model.VarTAVG]
		if hasPrcp && hasTavg {
			vars[model.VarHUMID] = prcp * (tavg - heatStressBaseline)
		}
	}
}

func sum(samples []float64) float64 {
	var total float64
	for _, v := range samples {
		total += v
	}
	return total
}

// dedupeSorted sorts IDs and drops duplicates. Period expansion can land
// one source row in a group several times; provenance lists it once.
func dedupeSorted(ids []string) []string {
	sort.Strings(ids)
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}
