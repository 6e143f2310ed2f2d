package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ResolutionTier records the spatial precision of the original measurement.
// Ordering matters: higher values are coarser, and a fused record takes the
// coarsest tier among its contributors.
type ResolutionTier int

const (
	TierStation ResolutionTier = iota
	TierGridCell
	TierRegion
	TierCountry
)

// String returns the canonical tier name.
func (t ResolutionTier) String() string {
	switch t {
	case TierStation:
		return "station"
	case TierGridCell:
		return "grid-cell"
	case TierRegion:
		return "region"
	case TierCountry:
		return "country"
	default:
		return "unknown"
	}
}

// ParseTier converts a canonical tier name into a ResolutionTier.
func ParseTier(s string) (ResolutionTier, error) {
	switch strings.TrimSpace(s) {
	case "station":
		return TierStation, nil
	case "grid-cell":
		return TierGridCell, nil
	case "region":
		return TierRegion, nil
	case "country":
		return TierCountry, nil
	default:
		return 0, eris.Errorf("unknown resolution tier %q", s)
	}
}

// Granularity records the temporal precision of a record. Higher values are
// coarser; period sits between year and decade because a period-derived
// annual value is an apportioned estimate, not a direct annual observation.
type Granularity int

const (
	GranMonth Granularity = iota
	GranYear
	GranPeriod
	GranDecade
)

// String returns the canonical granularity name.
func (g Granularity) String() string {
	switch g {
	case GranMonth:
		return "month"
	case GranYear:
		return "year"
	case GranPeriod:
		return "period"
	case GranDecade:
		return "decade"
	default:
		return "unknown"
	}
}

// ParseGranularity converts a canonical granularity name into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.TrimSpace(s) {
	case "month":
		return GranMonth, nil
	case "year":
		return GranYear, nil
	case "period":
		return GranPeriod, nil
	case "decade":
		return GranDecade, nil
	default:
		return 0, eris.Errorf("unknown granularity %q", s)
	}
}

// SpatialKey is the canonical spatial identity of a record: a region code
// plus the tier the underlying measurement was taken at. Codes are "US" for
// country-tier records and "US-XX" state codes otherwise.
type SpatialKey struct {
	Code string         `json:"code"`
	Tier ResolutionTier `json:"tier"`
}

// String returns "code/tier", e.g. "US-AL/station".
func (k SpatialKey) String() string {
	return k.Code + "/" + k.Tier.String()
}

// CountryCode returns the country portion of the code ("US-AL" -> "US").
func (k SpatialKey) CountryCode() string {
	if i := strings.IndexByte(k.Code, '-'); i > 0 {
		return k.Code[:i]
	}
	return k.Code
}

// TemporalKey is the canonical temporal identity of a record. Month is zero
// for anything coarser than a month. Decade keys anchor Year at the decade
// start (2030 for "2030s").
type TemporalKey struct {
	Year  int         `json:"year"`
	Month int         `json:"month,omitempty"`
	Gran  Granularity `json:"granularity"`
}

// String returns the canonical text form: "2015-07", "2015", or "2030s".
// Period-tagged keys render like years; the tag lives in Gran.
func (k TemporalKey) String() string {
	switch k.Gran {
	case GranMonth:
		return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
	case GranDecade:
		return fmt.Sprintf("%04ds", k.Year)
	default:
		return strconv.Itoa(k.Year)
	}
}

// Decade returns the decade anchor year (1997 -> 1990).
func (k TemporalKey) Decade() int {
	return (k.Year / 10) * 10
}

// Coarsen maps the key onto a coarser target granularity. Retargeting to the
// same or a finer granularity returns the key unchanged.
func (k TemporalKey) Coarsen(target Granularity) TemporalKey {
	if target <= k.Gran {
		return k
	}
	switch target {
	case GranYear, GranPeriod:
		return TemporalKey{Year: k.Year, Gran: target}
	case GranDecade:
		return TemporalKey{Year: k.Decade(), Gran: GranDecade}
	default:
		return k
	}
}

// Before reports whether k sorts ahead of other in canonical output order.
func (k TemporalKey) Before(other TemporalKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	if k.Month != other.Month {
		return k.Month < other.Month
	}
	return k.Gran < other.Gran
}
