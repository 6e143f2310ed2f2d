package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/refdata"
	"github.com/climatehealth/fusion-cli/internal/source"
	"github.com/climatehealth/fusion-cli/internal/spatial"
)

// testResolver resolves through the reference tables only, so no boundary
// shapefile is needed.
func testResolver(t *testing.T) *spatial.Resolver {
	t.Helper()
	dir := t.TempDir()

	stationsPath := filepath.Join(dir, "stations.yaml")
	stationsYAML := "stations:\n  USW00094728: US-NY\n  USW00023234: US-CA\n  USP00CA0001: US-AK\n"
	require.NoError(t, os.WriteFile(stationsPath, []byte(stationsYAML), 0o644))
	stations, err := refdata.LoadStations(stationsPath)
	require.NoError(t, err)

	countriesPath := filepath.Join(dir, "country_codes.csv")
	countriesCSV := "country,name\n2450,United States of America\n4010,France\n"
	require.NoError(t, os.WriteFile(countriesPath, []byte(countriesCSV), 0o644))
	countries, err := refdata.LoadCountries(countriesPath)
	require.NoError(t, err)

	return spatial.NewResolver(nil, stations, countries, spatial.LevelState, spatial.ContinentalUS)
}

func TestNormalizer_File_StationMonth(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(testResolver(t), Options{})
	batch := n.File(&source.FileResult{Records: []model.SourceRecord{{
		Source:      model.SourceNOAA,
		RowRef:      "gsom.csv:2",
		RawLocation: model.RawLocation{StationID: "USW00094728", Latitude: 40.78, Longitude: -73.97},
		RawTime:     "2005-07",
		Values:      map[string]float64{model.VarTAVG: 25.2, model.VarPRCP: 101.5},
	}}})

	require.Len(t, batch.Records, 1)
	rec := batch.Records[0]
	assert.Equal(t, model.SpatialKey{Code: "US-NY", Tier: model.TierStation}, rec.Spatial)
	assert.Equal(t, model.TemporalKey{Year: 2005, Month: 7, Gran: model.GranMonth}, rec.Temporal)
	assert.Equal(t, 25.2, rec.Variables[model.VarTAVG])
	assert.Equal(t, 101.5, rec.Variables[model.VarPRCP])
	assert.Empty(t, rec.Flags)
	assert.NotEmpty(t, rec.RecordID)

	assert.Equal(t, int64(1), batch.Stats.SourceRows)
	assert.Equal(t, int64(1), batch.Stats.Normalized)
	assert.Zero(t, batch.Stats.ParseErrors)
}

func TestNormalizer_File_FahrenheitAndInches(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(testResolver(t), Options{Units: UnitsUS})
	batch := n.File(&source.FileResult{Records: []model.SourceRecord{{
		Source:      model.SourceNOAA,
		RowRef:      "gsom.csv:2",
		RawLocation: model.RawLocation{StationID: "USW00023234", Latitude: 37.7, Longitude: -122.4},
		RawTime:     "1999-01",
		Values:      map[string]float64{model.VarTMIN: 32.0, model.VarTMAX: 212.0, model.VarPRCP: 2.0},
	}}})

	require.Len(t, batch.Records, 1)
	vars := batch.Records[0].Variables
	assert.Equal(t, 0.0, vars[model.VarTMIN], "freezing point converts exactly")
	assert.Equal(t, 100.0, vars[model.VarTMAX])
	assert.Equal(t, 50.8, vars[model.VarPRCP])
}

func TestNormalizer_File_TenthsDegreeScaling(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(testResolver(t), Options{})
	batch := n.File(&source.FileResult{Records: []model.SourceRecord{{
		Source:      model.SourceWHO,
		RowRef:      "mort.csv:2",
		RawLocation: model.RawLocation{CountryCode: "2450"},
		RawTime:     "2005",
		Values:      map[string]float64{model.VarDEATHS: 1000},
	}, {
		// Unit tags ride per record, so a tagged value converts even
		// under the metric default.
		Source:        model.SourceWHO,
		RowRef:        "mort.csv:3",
		RawLocation:   model.RawLocation{CountryCode: "2450"},
		RawTime:       "2005",
		Values:        map[string]float64{model.VarTAVG: 153},
		OriginalUnits: map[string]string{model.VarTAVG: "0.1degC"},
	}}})

	require.Len(t, batch.Records, 2)
	assert.Equal(t, 1000.0, batch.Records[0].Variables[model.VarDEATHS])
	assert.InDelta(t, 15.3, batch.Records[1].Variables[model.VarTAVG], 1e-12)
}

func TestNormalizer_File_PeriodExpansion(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(testResolver(t), Options{})
	batch := n.File(&source.FileResult{Records: []model.SourceRecord{{
		Source:      model.SourceWHO,
		RowRef:      "ghe.xlsx:r2",
		RawLocation: model.RawLocation{CountryCode: "2450"},
		RawTime:     "2003-2007",
		Values:      map[string]float64{model.VarDEATHS: 500},
	}}})

	require.Len(t, batch.Records, 5)
	var total float64
	for i, rec := range batch.Records {
		assert.Equal(t, 2003+i, rec.Temporal.Year)
		assert.Equal(t, model.GranPeriod, rec.Temporal.Gran)
		assert.Equal(t, 100.0, rec.Variables[model.VarDEATHS], "period total apportioned per year")
		assert.True(t, rec.HasFlag(model.FlagPeriodExpanded))
		assert.Equal(t, batch.Records[0].RecordID, rec.RecordID, "expansion keeps one provenance ID")
		total += rec.Variables[model.VarDEATHS]
	}
	assert.Equal(t, 500.0, total, "summing the expansion restores the original estimate")
	assert.Equal(t, int64(5), batch.Stats.Normalized)
	assert.Equal(t, int64(1), batch.Stats.SourceRows)
}

func TestNormalizer_File_YearRangeTrim(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(testResolver(t), Options{MinYear: 1990, MaxYear: 2010})
	batch := n.File(&source.FileResult{Records: []model.SourceRecord{
		{
			Source:      model.SourceWHO,
			RowRef:      "mort.csv:2",
			RawLocation: model.RawLocation{CountryCode: "2450"},
			RawTime:     "1985",
			Values:      map[string]float64{model.VarDEATHS: 10},
		},
		{
			Source:      model.SourceWHO,
			RowRef:      "mort.csv:3",
			RawLocation: model.RawLocation{CountryCode: "2450"},
			RawTime:     "1995",
			Values:      map[string]float64{model.VarDEATHS: 20},
		},
		{
			// Period straddling the minimum keeps only its in-range years.
			Source:      model.SourceWHO,
			RowRef:      "mort.csv:4",
			RawLocation: model.RawLocation{CountryCode: "2450"},
			RawTime:     "1988-1991",
			Values:      map[string]float64{model.VarDEATHS: 40},
		},
	}})

	require.Len(t, batch.Records, 3)
	assert.Equal(t, 1995, batch.Records[0].Temporal.Year)
	assert.Equal(t, 1990, batch.Records[1].Temporal.Year)
	assert.Equal(t, 1991, batch.Records[2].Temporal.Year)
	assert.Equal(t, 10.0, batch.Records[1].Variables[model.VarDEATHS], "apportionment uses the full period length")
	assert.Equal(t, int64(3), batch.Stats.Trimmed)
	assert.Equal(t, int64(3), batch.Stats.Normalized)
}

func TestNormalizer_File_BucketsPerOutcome(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(testResolver(t), Options{})
	batch := n.File(&source.FileResult{
		Records: []model.SourceRecord{
			{
				// Resolves via the station table but to a non-continental
				// region.
				Source:      model.SourceNOAA,
				RowRef:      "gsom.csv:2",
				RawLocation: model.RawLocation{StationID: "USP00CA0001", Latitude: 61.2, Longitude: -149.9},
				RawTime:     "2001-05",
				Values:      map[string]float64{model.VarTAVG: 4.0},
			},
			{
				// France is known but out of scope.
				Source:      model.SourceWHO,
				RowRef:      "mort.csv:2",
				RawLocation: model.RawLocation{CountryCode: "4010"},
				RawTime:     "2001",
				Values:      map[string]float64{model.VarDEATHS: 5},
			},
			{
				// Unknown country code cannot be resolved at all.
				Source:      model.SourceWHO,
				RowRef:      "mort.csv:3",
				RawLocation: model.RawLocation{CountryCode: "9999"},
				RawTime:     "2001",
				Values:      map[string]float64{model.VarDEATHS: 5},
			},
			{
				Source:      model.SourceWHO,
				RowRef:      "mort.csv:4",
				RawLocation: model.RawLocation{CountryCode: "2450"},
				RawTime:     "20x1",
				Values:      map[string]float64{model.VarDEATHS: 5},
			},
		},
		Problems: []error{&model.ParseError{Source: model.SourceWHO, RowRef: "mort.csv:5", Field: "row", Reason: "short"}},
	})

	assert.Empty(t, batch.Records)
	assert.Equal(t, int64(5), batch.Stats.SourceRows)
	assert.Equal(t, int64(2), batch.Stats.OutOfScope)
	assert.Equal(t, int64(1), batch.Stats.Unresolvable)
	assert.Equal(t, int64(2), batch.Stats.ParseErrors, "reader problem plus time parse failure")
	assert.Len(t, batch.Problems, 3)

	var unresolvable *model.UnresolvableLocationError
	require.ErrorAs(t, batch.Problems[1], &unresolvable)
	assert.Equal(t, "9999", unresolvable.Location)
}

func TestStats_Add(t *testing.T) {
	t.Parallel()

	a := Stats{SourceRows: 10, Normalized: 7, ParseErrors: 1, OutOfScope: 2}
	a.Add(Stats{SourceRows: 5, Normalized: 5, Unresolvable: 3, Trimmed: 4})

	assert.Equal(t, Stats{
		SourceRows: 15, Normalized: 12, ParseErrors: 1,
		Unresolvable: 3, OutOfScope: 2, Trimmed: 4,
	}, a)
}

func TestParseUnitSystem(t *testing.T) {
	t.Parallel()

	u, err := ParseUnitSystem(" Metric ")
	require.NoError(t, err)
	assert.Equal(t, UnitsMetric, u)

	u, err = ParseUnitSystem("standard")
	require.NoError(t, err)
	assert.Equal(t, UnitsUS, u)

	u, err = ParseUnitSystem("us")
	require.NoError(t, err)
	assert.Equal(t, UnitsUS, u)

	_, err = ParseUnitSystem("imperial")
	require.Error(t, err)
}
