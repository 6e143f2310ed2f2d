package normalize

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// UnitSystem declares the units raw input files carry. Canonical output is
// always metric regardless of the input system.
type UnitSystem string

const (
	UnitsMetric UnitSystem = "metric" // degC and mm, passed through
	UnitsUS     UnitSystem = "us"     // degF and inches, converted
)

// ParseUnitSystem converts a config string into a UnitSystem. "standard" is
// NOAA's name for its degF/inch export units.
func ParseUnitSystem(s string) (UnitSystem, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "metric":
		return UnitsMetric, nil
	case "us", "standard":
		return UnitsUS, nil
	default:
		return "", eris.Errorf("unknown unit system %q (valid: metric, standard)", s)
	}
}

const mmPerInch = 25.4

// convertValue maps one raw value into canonical units. A per-record unit
// tag wins over the configured input system; count-like variables never
// convert.
func convertValue(name string, v float64, tag string, system UnitSystem) float64 {
	switch tag {
	case "0.1degC":
		return v * 0.1
	case "degF":
		return fahrenheitToCelsius(v)
	case "in":
		return v * mmPerInch
	case "":
		// no tag, fall through to the configured system
	default:
		return v // tag already canonical
	}

	if system == UnitsUS {
		switch model.CanonicalUnit(name) {
		case "degC":
			return fahrenheitToCelsius(v)
		case "mm":
			return v * mmPerInch
		}
	}
	return v
}

// fahrenheitToCelsius converts with no rounding residue at the freezing
// point: 32degF is exactly 0degC.
func fahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}
