// Package pipeline orchestrates a fusion run: discover source files,
// normalize them in parallel, checkpoint, fuse, validate, export, persist.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/climatehealth/fusion-cli/internal/config"
	"github.com/climatehealth/fusion-cli/internal/fuse"
	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/normalize"
	"github.com/climatehealth/fusion-cli/internal/refdata"
	"github.com/climatehealth/fusion-cli/internal/report"
	"github.com/climatehealth/fusion-cli/internal/source"
	"github.com/climatehealth/fusion-cli/internal/spatial"
	"github.com/climatehealth/fusion-cli/internal/store"
	"github.com/climatehealth/fusion-cli/internal/validate"
)

// Dirs names the provider input directories. Empty entries are skipped.
type Dirs struct {
	NOAA  string
	WHO   string
	CMIP5 string
}

// countryCodesFile and populationFile are WHO companion files expected next
// to the mortality tables.
const (
	countryCodesFile = "country_codes.csv"
	populationFile   = "pop.csv"
)

// Result is what a completed run hands back to the command layer. The
// record slices are for export and assertions; serialized output carries
// only the identifiers and counts.
type Result struct {
	RunID    string              `json:"run_id"`
	Summary  *model.RunSummary   `json:"summary"`
	Accepted []model.FusedRecord `json:"-"`
	Rejected []model.Rejection   `json:"-"`
}

// Pipeline runs the fusion stages against a configured store.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
}

// New creates a Pipeline.
func New(cfg *config.Config, st store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: st}
}

// Run executes the full pipeline: every row-local problem is counted and
// survived; only systemic failures abort, and those mark the run failed.
func (p *Pipeline) Run(ctx context.Context, dirs Dirs, outPath string) (*Result, error) {
	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting fusion run")

	res, err := p.execute(ctx, log, run.ID, dirs, outPath)
	if err != nil {
		if failErr := p.store.FailRun(ctx, run.ID, err); failErr != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(failErr))
		}
		return nil, err
	}

	if err := p.store.CompleteRun(ctx, run.ID, res.Summary); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete run")
	}
	log.Info("pipeline: run complete",
		zap.Int64("accepted", res.Summary.Accepted),
		zap.Int64("rejected", res.Summary.Rejected),
	)
	return res, nil
}

// Resume re-fuses a prior run from its normalized-record checkpoint without
// re-reading the source directories. Fused output for the run is upserted
// and the run summary replaced.
func (p *Pipeline) Resume(ctx context.Context, runID string, outPath string) (*Result, error) {
	log := zap.L().With(zap.String("run_id", runID))

	records, err := p.store.LoadCheckpoint(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load checkpoint")
	}
	if len(records) == 0 {
		return nil, &model.SystemicError{Reason: "no checkpoint recorded for run " + runID}
	}
	log.Info("pipeline: resuming from checkpoint", zap.Int("records", len(records)))

	collector := report.NewCollector()
	collector.AddBatch(&normalize.Batch{
		Records: records,
		Stats: normalize.Stats{
			SourceRows: int64(len(records)),
			Normalized: int64(len(records)),
		},
	})

	res, err := p.finish(ctx, log, runID, records, collector, outPath)
	if err != nil {
		if failErr := p.store.FailRun(ctx, runID, err); failErr != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(failErr))
		}
		return nil, err
	}
	if err := p.store.CompleteRun(ctx, runID, res.Summary); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete run")
	}
	return res, nil
}

// Preview runs discovery and normalization only, never touching the store.
// It backs the dry-run command that inspects what the sources would
// contribute before a full fusion run.
func (p *Pipeline) Preview(ctx context.Context, dirs Dirs) ([]model.NormalizedRecord, *model.RunSummary, error) {
	records, collector, err := p.normalizeAll(ctx, zap.L(), dirs)
	if err != nil {
		return nil, nil, err
	}
	return records, collector.Summary(), nil
}

func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, runID string, dirs Dirs, outPath string) (*Result, error) {
	records, collector, err := p.normalizeAll(ctx, log, dirs)
	if err != nil {
		return nil, err
	}

	if err := p.store.SaveCheckpoint(ctx, runID, records); err != nil {
		return nil, eris.Wrap(err, "pipeline: save checkpoint")
	}
	log.Info("pipeline: normalized", zap.Int("records", len(records)))

	return p.finish(ctx, log, runID, records, collector, outPath)
}

// normalizeAll discovers every input file and normalizes them in parallel.
func (p *Pipeline) normalizeAll(ctx context.Context, log *zap.Logger, dirs Dirs) ([]model.NormalizedRecord, *report.Collector, error) {
	norm, registry, err := p.buildFrontEnd(dirs)
	if err != nil {
		return nil, nil, err
	}

	files, err := discover(registry, dirs)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, &model.SystemicError{Reason: "no input files discovered"}
	}
	log.Info("pipeline: discovered input files", zap.Int("files", len(files)))

	// Each worker fills its own slot, so the merged order matches the
	// discovery order regardless of scheduling.
	batches := make([]*normalize.Batch, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			result, err := f.src.ReadFile(gctx, f.path)
			if err != nil {
				return eris.Wrapf(err, "pipeline: read %s", f.path)
			}
			batches[i] = norm.File(result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	collector := report.NewCollector()
	var records []model.NormalizedRecord
	for _, batch := range batches {
		collector.AddBatch(batch)
		records = append(records, batch.Records...)
	}
	if len(records) == 0 {
		return nil, nil, &model.SystemicError{Reason: "no records survived normalization"}
	}
	return records, collector, nil
}

// Revalidate re-runs the quality gate over a past run's persisted fused
// records with the current configuration, without re-fusing. Accepted
// records are optionally re-exported.
func (p *Pipeline) Revalidate(ctx context.Context, runID, outPath string) ([]model.FusedRecord, []model.Rejection, error) {
	recs, err := p.store.ListFused(ctx, runID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: list fused")
	}
	if len(recs) == 0 {
		return nil, nil, &model.SystemicError{Reason: "no fused records stored for run " + runID}
	}

	accepted, rejected, err := p.buildGate().Validate(recs)
	if err != nil {
		return nil, nil, err
	}
	if outPath != "" {
		if err := WriteCSV(outPath, accepted); err != nil {
			return nil, nil, err
		}
	}
	return accepted, rejected, nil
}

// finish runs the back half shared by Run and Resume: fuse, validate,
// persist, export.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, runID string, records []model.NormalizedRecord, collector *report.Collector, outPath string) (*Result, error) {
	fuser, err := p.buildFuser()
	if err != nil {
		return nil, err
	}

	fused, err := fuser.Fuse(ctx, records)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fuse")
	}
	collector.AddFused(len(fused))
	log.Info("pipeline: fused", zap.Int("groups", len(fused)))

	accepted, rejected, err := p.buildGate().Validate(fused)
	if err != nil {
		return nil, err
	}
	collector.AddValidation(len(accepted), rejected)

	if err := p.store.SaveFused(ctx, runID, accepted); err != nil {
		return nil, eris.Wrap(err, "pipeline: save fused")
	}

	if outPath != "" {
		if err := WriteCSV(outPath, accepted); err != nil {
			return nil, err
		}
		log.Info("pipeline: wrote fused dataset", zap.String("path", outPath))
	}

	collector.Log()
	return &Result{
		RunID:    runID,
		Summary:  collector.Summary(),
		Accepted: accepted,
		Rejected: rejected,
	}, nil
}

func (p *Pipeline) buildFuser() (*fuse.Fuser, error) {
	policy, err := fuse.ParsePolicy(p.cfg.Temporal.Coarsening)
	if err != nil {
		return nil, err
	}
	return fuse.NewFuser(fuse.Options{
		Policy:           policy,
		MinCoverage:      p.cfg.Fusion.MinCoverage,
		DeriveHeatStress: p.cfg.Fusion.DeriveHeatStress,
		Extremes:         p.cfg.Fusion.Extremes,
		Partitions:       p.cfg.Fusion.Partitions,
	}), nil
}

func (p *Pipeline) buildGate() *validate.Gate {
	return validate.NewGate(validate.Options{
		Bounds:  boundOverrides(p.cfg.Validation.Bounds),
		MinYear: p.cfg.Temporal.MinYear,
		MaxYear: p.cfg.Temporal.MaxYear,
	})
}

// buildFrontEnd loads reference data and wires the reader and normalizer
// stages. Reference tables the configuration names but cannot be read are
// systemic failures.
func (p *Pipeline) buildFrontEnd(dirs Dirs) (*normalize.Normalizer, *source.Registry, error) {
	stations := refdata.EmptyStations()
	if p.cfg.Region.Stations != "" {
		t, err := refdata.LoadStations(p.cfg.Region.Stations)
		if err != nil {
			return nil, nil, &model.SystemicError{Reason: "stations table unreadable", Err: err}
		}
		stations = t
	}

	countries := refdata.EmptyCountries()
	var pop source.PopLookup
	if dirs.WHO != "" {
		t, err := refdata.LoadCountries(filepath.Join(dirs.WHO, countryCodesFile))
		if err != nil {
			return nil, nil, &model.SystemicError{Reason: "country code table unreadable", Err: err}
		}
		countries = t

		popPath := filepath.Join(dirs.WHO, populationFile)
		if _, statErr := os.Stat(popPath); statErr == nil {
			pt, err := refdata.LoadPopulation(popPath)
			if err != nil {
				return nil, nil, &model.SystemicError{Reason: "population table unreadable", Err: err}
			}
			pop = pt
		}
	}

	var index *spatial.Index
	if p.cfg.Region.Shapefile != "" {
		idx, err := spatial.Load(p.cfg.Region.Shapefile)
		if err != nil {
			return nil, nil, &model.SystemicError{Reason: "region shapefile unreadable", Err: err}
		}
		index = idx
	}

	level, err := spatial.ParseLevel(p.cfg.Region.Granularity)
	if err != nil {
		return nil, nil, err
	}
	resolver := spatial.NewResolver(index, stations, countries, level, spatial.ContinentalUS)

	units, err := normalize.ParseUnitSystem(p.cfg.Units.System)
	if err != nil {
		return nil, nil, err
	}
	norm := normalize.NewNormalizer(resolver, normalize.Options{
		Units:   units,
		MinYear: p.cfg.Temporal.MinYear,
		MaxYear: p.cfg.Temporal.MaxYear,
	})

	registry := source.NewRegistry(source.Options{
		Causes:     p.cfg.WHO.CauseFilter,
		Population: pop,
	})
	return norm, registry, nil
}

// sourceFile pairs a discovered path with the reader that claims it.
type sourceFile struct {
	src  source.Source
	path string
}

// discover walks the configured directories through each source's Discover.
// An unreadable directory is systemic; an empty one is not.
func discover(registry *source.Registry, dirs Dirs) ([]sourceFile, error) {
	dirFor := map[model.SourceID]string{
		model.SourceNOAA:  dirs.NOAA,
		model.SourceWHO:   dirs.WHO,
		model.SourceCMIP5: dirs.CMIP5,
	}

	var files []sourceFile
	for _, src := range registry.All() {
		dir := dirFor[src.ID()]
		if dir == "" {
			continue
		}
		paths, err := src.Discover(dir)
		if err != nil {
			return nil, &model.SystemicError{Reason: "input directory unreadable: " + dir, Err: err}
		}
		for _, path := range paths {
			files = append(files, sourceFile{src: src, path: path})
		}
	}
	return files, nil
}

// boundOverrides converts config bounds (viper lowercases the keys) into
// gate overrides.
func boundOverrides(in map[string]config.Bounds) map[string]validate.Bounds {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]validate.Bounds, len(in))
	for name, b := range in {
		out[name] = validate.Bounds{Min: b.Min, Max: b.Max}
	}
	return out
}
