// Package validate is the quality gate between fusion and export. Each
// fused record either passes every rule or moves to the rejected set with a
// typed reason; a rejection never stops the run.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/refdata"
)

// Rule names, as they appear in rejection reasons and run reports.
const (
	RuleCoverage          = "coverage"
	RuleRegion            = "region"
	RuleYearRange         = "year_range"
	RuleNegativeMortality = "negative_mortality"
	RulePlausibility      = "plausibility"
)

// Bounds is a closed plausibility envelope for one canonical variable.
type Bounds struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// defaultBounds are the physical plausibility envelopes. Values are loose;
// the gate catches unit mistakes and corrupt rows, not climate outliers.
var defaultBounds = map[string]Bounds{
	model.VarTAVG: {Min: -60, Max: 60},
	model.VarTMIN: {Min: -70, Max: 55},
	model.VarTMAX: {Min: -55, Max: 70},
	model.VarEMNT: {Min: -90, Max: 60},
	model.VarEMXT: {Min: -60, Max: 90},
	model.VarPRCP: {Min: 0, Max: 10000},
	model.VarMORT: {Min: 0, Max: 50000},
}

// Options configure the gate.
type Options struct {
	Bounds  map[string]Bounds // per-variable overrides, merged over defaults
	MinYear int
	MaxYear int
}

// Gate applies the validation rules.
type Gate struct {
	bounds  map[string]Bounds
	minYear int
	maxYear int
}

// NewGate builds a gate with the default envelopes plus any overrides.
func NewGate(opts Options) *Gate {
	bounds := make(map[string]Bounds, len(defaultBounds)+len(opts.Bounds))
	for name, b := range defaultBounds {
		bounds[name] = b
	}
	for name, b := range opts.Bounds {
		bounds[strings.ToUpper(name)] = b
	}
	return &Gate{bounds: bounds, minYear: opts.MinYear, maxYear: opts.MaxYear}
}

// Validate splits records into accepted and rejected. An empty input is a
// systemic failure: the pipeline upstream produced nothing to gate.
func (g *Gate) Validate(recs []model.FusedRecord) ([]model.FusedRecord, []model.Rejection, error) {
	if len(recs) == 0 {
		return nil, nil, &model.SystemicError{Reason: "no fused records to validate"}
	}

	accepted := make([]model.FusedRecord, 0, len(recs))
	var rejected []model.Rejection

	for _, rec := range recs {
		if verr := g.check(rec); verr != nil {
			rejected = append(rejected, model.Rejection{Record: rec, Err: verr})
			continue
		}
		accepted = append(accepted, rec)
	}

	zap.L().Info("validation complete",
		zap.Int("accepted", len(accepted)),
		zap.Int("rejected", len(rejected)),
	)
	return accepted, rejected, nil
}

// check returns the first rule violation, in a fixed rule order so the
// recorded reason is deterministic.
func (g *Gate) check(rec model.FusedRecord) *model.ValidationError {
	if len(rec.Coverage) == 0 {
		return &model.ValidationError{Rule: RuleCoverage, Field: "coverage", Detail: "no contributing sources"}
	}

	if !refdata.KnownRegion(rec.Spatial.Code) {
		return &model.ValidationError{
			Rule: RuleRegion, Field: "spatial",
			Detail: fmt.Sprintf("code %q not in region reference", rec.Spatial.Code),
		}
	}

	year := rec.Temporal.Year
	if (g.minYear > 0 && year < g.minYear) || (g.maxYear > 0 && year > g.maxYear) {
		return &model.ValidationError{
			Rule: RuleYearRange, Field: "temporal",
			Detail: fmt.Sprintf("year %d outside [%d, %d]", year, g.minYear, g.maxYear),
		}
	}

	for _, name := range sortedNames(rec.Mortality) {
		if v := rec.Mortality[name]; v < 0 {
			return &model.ValidationError{
				Rule: RuleNegativeMortality, Field: name,
				Detail: fmt.Sprintf("negative value %g", v),
			}
		}
	}

	for _, vars := range []map[string]float64{rec.Climate, rec.Mortality, rec.Projection} {
		for _, name := range sortedNames(vars) {
			b, ok := g.bounds[baseVariable(name)]
			if !ok {
				continue
			}
			if v := vars[name]; v < b.Min || v > b.Max {
				return &model.ValidationError{
					Rule: RulePlausibility, Field: name,
					Detail: fmt.Sprintf("value %g outside [%g, %g]", v, b.Min, b.Max),
				}
			}
		}
	}

	return nil
}

// baseVariable folds the coarsening extremes back onto their base variable
// so TMAX_MIN checks against the TMAX envelope.
func baseVariable(name string) string {
	name = strings.TrimSuffix(name, "_MIN")
	return strings.TrimSuffix(name, "_MAX")
}

func sortedNames(vars map[string]float64) []string {
	if len(vars) == 0 {
		return nil
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
