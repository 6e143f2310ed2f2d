package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatehealth/fusion-cli/internal/model"
)

func cleanRecord() model.FusedRecord {
	return model.FusedRecord{
		Spatial:  model.SpatialKey{Code: "US-NY", Tier: model.TierStation},
		Temporal: model.TemporalKey{Year: 2005, Month: 7, Gran: model.GranMonth},
		Climate: map[string]float64{
			model.VarTAVG: 25.2,
			model.VarPRCP: 101.5,
		},
		Coverage:   []model.SourceID{model.SourceNOAA},
		Provenance: []string{"a1b2"},
	}
}

func TestGate_Validate_AcceptsCleanRecord(t *testing.T) {
	t.Parallel()

	accepted, rejected, err := NewGate(Options{}).Validate([]model.FusedRecord{cleanRecord()})
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	assert.Empty(t, rejected)
}

func TestGate_Validate_NegativeMortality(t *testing.T) {
	t.Parallel()

	bad := cleanRecord()
	bad.Mortality = map[string]float64{model.VarDEATHS: -5}

	accepted, rejected, err := NewGate(Options{}).Validate([]model.FusedRecord{cleanRecord(), bad})
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	require.Len(t, rejected, 1)
	assert.Equal(t, RuleNegativeMortality, rejected[0].Err.Rule)
	assert.Equal(t, model.VarDEATHS, rejected[0].Err.Field)
}

func TestGate_Validate_PlausibilityEnvelope(t *testing.T) {
	t.Parallel()

	hot := cleanRecord()
	hot.Climate[model.VarTAVG] = 999

	_, rejected, err := NewGate(Options{}).Validate([]model.FusedRecord{hot})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, RulePlausibility, rejected[0].Err.Rule)
	assert.Equal(t, model.VarTAVG, rejected[0].Err.Field)
	assert.Contains(t, rejected[0].Err.Detail, "999")
}

func TestGate_Validate_BoundsOverride(t *testing.T) {
	t.Parallel()

	rec := cleanRecord() // TAVG 25.2 passes the default envelope

	gate := NewGate(Options{Bounds: map[string]Bounds{"tavg": {Min: -10, Max: 10}}})
	_, rejected, err := gate.Validate([]model.FusedRecord{rec})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, RulePlausibility, rejected[0].Err.Rule)
}

func TestGate_Validate_ExtremesCheckBaseEnvelope(t *testing.T) {
	t.Parallel()

	rec := cleanRecord()
	rec.Climate[model.VarTMAX] = 40
	rec.Climate[model.VarTMAX+"_MAX"] = 120

	_, rejected, err := NewGate(Options{}).Validate([]model.FusedRecord{rec})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, model.VarTMAX+"_MAX", rejected[0].Err.Field)
}

func TestGate_Validate_UnknownRegion(t *testing.T) {
	t.Parallel()

	rec := cleanRecord()
	rec.Spatial.Code = "CA-ON"

	_, rejected, err := NewGate(Options{}).Validate([]model.FusedRecord{rec})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, RuleRegion, rejected[0].Err.Rule)
}

func TestGate_Validate_YearRange(t *testing.T) {
	t.Parallel()

	old := cleanRecord()
	old.Temporal.Year = 1950

	_, rejected, err := NewGate(Options{MinYear: 1990, MaxYear: 2100}).Validate([]model.FusedRecord{old})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, RuleYearRange, rejected[0].Err.Rule)
	assert.Contains(t, rejected[0].Err.Detail, "1950")
}

func TestGate_Validate_EmptyCoverage(t *testing.T) {
	t.Parallel()

	rec := cleanRecord()
	rec.Coverage = nil

	_, rejected, err := NewGate(Options{}).Validate([]model.FusedRecord{rec})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, RuleCoverage, rejected[0].Err.Rule)
}

func TestGate_Validate_RuleOrderDeterministic(t *testing.T) {
	t.Parallel()

	// Violates both the region rule and the mortality rule; the earlier
	// rule names the rejection.
	rec := cleanRecord()
	rec.Spatial.Code = "XX"
	rec.Mortality = map[string]float64{model.VarDEATHS: -1}

	_, rejected, err := NewGate(Options{}).Validate([]model.FusedRecord{rec})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, RuleRegion, rejected[0].Err.Rule)
}

func TestGate_Validate_EmptyInputSystemic(t *testing.T) {
	t.Parallel()

	_, _, err := NewGate(Options{}).Validate(nil)
	require.Error(t, err)
	var sysErr *model.SystemicError
	require.ErrorAs(t, err, &sysErr)
	assert.Contains(t, sysErr.Reason, "no fused records")
}
