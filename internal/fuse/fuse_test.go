package fuse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatehealth/fusion-cli/internal/model"
)

func nrec(id string, src model.SourceID, code string, tier model.ResolutionTier, temporal model.TemporalKey, vars map[string]float64, flags ...model.QualityFlag) model.NormalizedRecord {
	return model.NormalizedRecord{
		Source:    src,
		RecordID:  id,
		Spatial:   model.SpatialKey{Code: code, Tier: tier},
		Temporal:  temporal,
		Variables: vars,
		Flags:     flags,
	}
}

func month(year, m int) model.TemporalKey { return model.TemporalKey{Year: year, Month: m, Gran: model.GranMonth} }
func year(y int) model.TemporalKey        { return model.TemporalKey{Year: y, Gran: model.GranYear} }
func decade(y int) model.TemporalKey      { return model.TemporalKey{Year: y, Gran: model.GranDecade} }

func TestFuser_Fuse_CountsSumMeansAverage(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{Policy: PolicyStrict})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("w1", model.SourceWHO, "US", model.TierCountry, year(2005), map[string]float64{model.VarDEATHS: 5}),
		nrec("w2", model.SourceWHO, "US", model.TierCountry, year(2005), map[string]float64{model.VarDEATHS: 7}),
		nrec("n1", model.SourceNOAA, "US-AL", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 10}),
		nrec("n2", model.SourceNOAA, "US-AL", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 20}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 2)

	assert.Equal(t, "US", fused[0].Spatial.Code)
	assert.Equal(t, 12.0, fused[0].Mortality[model.VarDEATHS], "count-like variables sum")

	assert.Equal(t, "US-AL", fused[1].Spatial.Code)
	assert.Equal(t, 15.0, fused[1].Climate[model.VarTAVG], "intensive variables average")
}

func TestFuser_Fuse_OrderIndependent(t *testing.T) {
	t.Parallel()

	recs := []model.NormalizedRecord{
		nrec("a", model.SourceNOAA, "US-NY", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 25.2, model.VarPRCP: 90}),
		nrec("b", model.SourceNOAA, "US-NY", model.TierStation, month(2005, 8), map[string]float64{model.VarTAVG: 24.1}),
		nrec("c", model.SourceWHO, "US", model.TierCountry, year(2005), map[string]float64{model.VarDEATHS: 1000, model.VarPOP: 2e6}),
		nrec("d", model.SourceNOAA, "US-GA", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 29.9}),
		nrec("e", model.SourceCMIP5, "US-GA", model.TierGridCell, decade(2050), map[string]float64{model.VarTMAX: 33.1}),
		nrec("f", model.SourceCMIP5, "US-GA", model.TierGridCell, decade(2050), map[string]float64{model.VarTMAX: 35.7}),
	}

	f := NewFuser(Options{MinCoverage: 2, DeriveHeatStress: true, Extremes: true})
	forward, err := f.Fuse(context.Background(), recs)
	require.NoError(t, err)

	reversed := make([]model.NormalizedRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		reversed = append(reversed, recs[i])
	}
	backward, err := f.Fuse(context.Background(), reversed)
	require.NoError(t, err)

	require.Equal(t, forward, backward)
}

func TestFuser_Fuse_RepeatedFusionIdempotent(t *testing.T) {
	t.Parallel()

	recs := []model.NormalizedRecord{
		nrec("a", model.SourceNOAA, "US-NY", model.TierStation, month(2001, 1), map[string]float64{model.VarTAVG: -3.2}),
		nrec("b", model.SourceWHO, "US", model.TierCountry, year(2001), map[string]float64{model.VarDEATHS: 10}),
	}

	f := NewFuser(Options{})
	first, err := f.Fuse(context.Background(), recs)
	require.NoError(t, err)
	second, err := f.Fuse(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFuser_Fuse_CoarsensToCommonTier(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{MinCoverage: 2})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("n1", model.SourceNOAA, "US-NY", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 10}),
		nrec("n2", model.SourceNOAA, "US-NY", model.TierStation, month(2005, 8), map[string]float64{model.VarTAVG: 20}),
		nrec("w1", model.SourceWHO, "US", model.TierCountry, year(2005), map[string]float64{model.VarDEATHS: 500, model.VarPOP: 1e6}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 1, "country-tier mortality absorbs the state months")

	rec := fused[0]
	assert.Equal(t, model.SpatialKey{Code: "US", Tier: model.TierCountry}, rec.Spatial)
	assert.Equal(t, year(2005), rec.Temporal)
	assert.Equal(t, 15.0, rec.Climate[model.VarTAVG])
	assert.Equal(t, 500.0, rec.Mortality[model.VarDEATHS])
	assert.Equal(t, 50.0, rec.Mortality[model.VarMORT], "rate derived from pooled deaths and population")
	assert.Equal(t, []model.SourceID{model.SourceNOAA, model.SourceWHO}, rec.Coverage)
	assert.True(t, rec.HasFlag(model.FlagTemporalCoarsened))
	assert.False(t, rec.HasFlag(model.FlagPartialCoverage))
	assert.Equal(t, []string{"n1", "n2", "w1"}, rec.Provenance)
}

func TestFuser_Fuse_StrictKeepsTiersApart(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{Policy: PolicyStrict})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("n1", model.SourceNOAA, "US-NY", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 10}),
		nrec("n2", model.SourceNOAA, "US-NY", model.TierStation, month(2005, 8), map[string]float64{model.VarTAVG: 20}),
		nrec("w1", model.SourceWHO, "US", model.TierCountry, year(2005), map[string]float64{model.VarDEATHS: 500}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 3, "no cross-tier absorption under strict")

	for _, rec := range fused {
		assert.Len(t, rec.Coverage, 1)
		assert.False(t, rec.HasFlag(model.FlagTemporalCoarsened))
	}
}

func TestFuser_Fuse_SingleSourceRetainedAndFlagged(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{MinCoverage: 2})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("w1", model.SourceWHO, "US", model.TierCountry, year(1998), map[string]float64{model.VarDEATHS: 250}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 1)

	rec := fused[0]
	assert.Equal(t, []model.SourceID{model.SourceWHO}, rec.Coverage)
	assert.True(t, rec.HasFlag(model.FlagPartialCoverage))
	assert.NotEmpty(t, rec.Coverage, "coverage never empty")
}

func TestFuser_Fuse_ExtremesOnTemporalCoarsening(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{Extremes: true})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("c1", model.SourceCMIP5, "US-AZ", model.TierGridCell, decade(2030), map[string]float64{model.VarTMAX: 39.0}),
		nrec("n1", model.SourceNOAA, "US-AZ", model.TierStation, year(2031), map[string]float64{model.VarTMAX: 35.5}),
		nrec("n2", model.SourceNOAA, "US-AZ", model.TierStation, year(2032), map[string]float64{model.VarTMAX: 37.1}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 1)

	rec := fused[0]
	assert.Equal(t, decade(2030), rec.Temporal)
	assert.True(t, rec.HasFlag(model.FlagTemporalCoarsened))
	assert.Equal(t, 35.5, rec.Climate[model.VarTMAX+"_MIN"])
	assert.Equal(t, 37.1, rec.Climate[model.VarTMAX+"_MAX"])
	assert.Equal(t, 39.0, rec.Projection[model.VarTMAX], "families never mix")
	_, hasProjExtremes := rec.Projection[model.VarTMAX+"_MIN"]
	assert.False(t, hasProjExtremes, "single sample has no spread")
}

func TestFuser_Fuse_HeatStressProxy(t *testing.T) {
	t.Parallel()

	recs := []model.NormalizedRecord{
		nrec("n1", model.SourceNOAA, "US-FL", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 25.0, model.VarPRCP: 100.0}),
	}

	on := NewFuser(Options{DeriveHeatStress: true})
	fused, err := on.Fuse(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, fused, 1)
	assert.Equal(t, 500.0, fused[0].Climate[model.VarHUMID])

	off := NewFuser(Options{})
	fused, err = off.Fuse(context.Background(), recs)
	require.NoError(t, err)
	_, ok := fused[0].Climate[model.VarHUMID]
	assert.False(t, ok)
}

func TestFuser_Fuse_NoRateWithoutPopulation(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("w1", model.SourceWHO, "US", model.TierCountry, year(2002), map[string]float64{model.VarDEATHS: 90}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 1)
	_, ok := fused[0].Mortality[model.VarMORT]
	assert.False(t, ok)
}

func TestFuser_Fuse_ProvenanceDeduped(t *testing.T) {
	t.Parallel()

	// Period expansion can land the same source row in one group twice
	// once the years coarsen back together.
	f := NewFuser(Options{})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("bbb", model.SourceWHO, "US", model.TierCountry, year(2003), map[string]float64{model.VarDEATHS: 10}, model.FlagPeriodExpanded),
		nrec("aaa", model.SourceCMIP5, "US", model.TierGridCell, decade(2000), map[string]float64{model.VarPRCP: 80}),
		nrec("bbb", model.SourceWHO, "US", model.TierCountry, year(2004), map[string]float64{model.VarDEATHS: 10}, model.FlagPeriodExpanded),
	})
	require.NoError(t, err)
	require.Len(t, fused, 1)

	rec := fused[0]
	assert.Equal(t, []string{"aaa", "bbb"}, rec.Provenance)
	assert.Equal(t, 20.0, rec.Mortality[model.VarDEATHS], "both expansion rows still count")
	assert.True(t, rec.HasFlag(model.FlagPeriodExpanded), "contributor flags propagate")
}

func TestFuser_Fuse_AnchorsNeverCrossDecades(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("a", model.SourceNOAA, "US-NY", model.TierStation, month(1999, 12), map[string]float64{model.VarTAVG: 1.0}),
		nrec("b", model.SourceNOAA, "US-NY", model.TierStation, month(2000, 1), map[string]float64{model.VarTAVG: -2.0}),
		nrec("c", model.SourceCMIP5, "US-NY", model.TierGridCell, decade(1990), map[string]float64{model.VarTAVG: 9.9}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 2, "the 1990s decade record absorbs only its own decade")

	assert.Equal(t, decade(1990), fused[0].Temporal)
	assert.Equal(t, []model.SourceID{model.SourceCMIP5, model.SourceNOAA}, fused[0].Coverage)
	assert.Equal(t, month(2000, 1), fused[1].Temporal)
}

func TestFuser_Fuse_OutputSorted(t *testing.T) {
	t.Parallel()

	f := NewFuser(Options{Policy: PolicyStrict})
	fused, err := f.Fuse(context.Background(), []model.NormalizedRecord{
		nrec("a", model.SourceNOAA, "US-WY", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 1}),
		nrec("b", model.SourceNOAA, "US-AL", model.TierStation, month(2005, 7), map[string]float64{model.VarTAVG: 2}),
		nrec("c", model.SourceNOAA, "US-AL", model.TierStation, month(2005, 2), map[string]float64{model.VarTAVG: 3}),
	})
	require.NoError(t, err)
	require.Len(t, fused, 3)
	assert.Equal(t, "US-AL", fused[0].Spatial.Code)
	assert.Equal(t, month(2005, 2), fused[0].Temporal)
	assert.Equal(t, month(2005, 7), fused[1].Temporal)
	assert.Equal(t, "US-WY", fused[2].Spatial.Code)
}

func TestFuser_Fuse_EmptyInput(t *testing.T) {
	t.Parallel()

	fused, err := NewFuser(Options{}).Fuse(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, fused)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	p, err = ParsePolicy("coarsen-to-common")
	require.NoError(t, err)
	assert.Equal(t, PolicyCoarsenToCommon, p)

	_, err = ParsePolicy("lossy")
	require.Error(t, err)
}
