package spatial

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/refdata"
)

// Level selects the spatial granularity output keys are expressed at.
type Level string

const (
	LevelState   Level = "state"
	LevelCountry Level = "country"
)

// ParseLevel converts a config string into a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelState, LevelCountry:
		return Level(s), nil
	default:
		return "", eris.Errorf("unknown region granularity %q (valid: state, country)", s)
	}
}

// Resolver maps raw provider locations onto canonical spatial keys. Station
// coordinates and grid cells resolve against boundary geometry; national
// records resolve against the WHO country table. Locations outside the
// window return model.ErrOutOfScope and are dropped upstream.
type Resolver struct {
	index     *Index
	stations  *refdata.StationTable
	countries *refdata.CountryTable
	level     Level
	window    Window
}

// NewResolver wires the resolver's reference data together.
func NewResolver(index *Index, stations *refdata.StationTable, countries *refdata.CountryTable, level Level, window Window) *Resolver {
	return &Resolver{
		index:     index,
		stations:  stations,
		countries: countries,
		level:     level,
		window:    window,
	}
}

// Resolve returns the canonical key for a raw location. ambiguous reports a
// grid cell that straddled more than one region; the caller records it as a
// quality flag, never a failure.
func (r *Resolver) Resolve(loc model.RawLocation, src model.SourceID) (key model.SpatialKey, ambiguous bool, err error) {
	switch src {
	case model.SourceNOAA:
		return r.resolveStation(loc)
	case model.SourceWHO:
		return r.resolveCountry(loc)
	case model.SourceCMIP5:
		return r.resolveCell(loc)
	default:
		return model.SpatialKey{}, false, eris.Errorf("spatial: no resolution strategy for source %q", src)
	}
}

func (r *Resolver) resolveStation(loc model.RawLocation) (model.SpatialKey, bool, error) {
	if code, ok := r.stations.Lookup(loc.StationID); ok {
		if !refdata.Continental(code) {
			return model.SpatialKey{}, false, model.ErrOutOfScope
		}
		return model.SpatialKey{Code: r.collapse(code), Tier: model.TierStation}, false, nil
	}

	// (0, 0) means the file carried no coordinates at all.
	if loc.Longitude == 0 && loc.Latitude == 0 {
		return model.SpatialKey{}, false, &model.UnresolvableLocationError{
			Source:   model.SourceNOAA,
			Location: fmt.Sprintf("station %s (no coordinates)", loc.StationID),
		}
	}
	if !r.window.Contains(loc.Longitude, loc.Latitude) {
		return model.SpatialKey{}, false, model.ErrOutOfScope
	}

	code, ok := r.index.Locate(loc.Longitude, loc.Latitude)
	if !ok {
		return model.SpatialKey{}, false, &model.UnresolvableLocationError{
			Source:   model.SourceNOAA,
			Location: fmt.Sprintf("station %s at (%.4f, %.4f)", loc.StationID, loc.Longitude, loc.Latitude),
		}
	}
	return model.SpatialKey{Code: r.collapse(code), Tier: model.TierStation}, false, nil
}

func (r *Resolver) resolveCountry(loc model.RawLocation) (model.SpatialKey, bool, error) {
	ref := loc.CountryCode
	if ref == "" {
		ref = loc.CountryName
	}
	if ref == "" {
		return model.SpatialKey{}, false, &model.UnresolvableLocationError{
			Source:   model.SourceWHO,
			Location: "(no country)",
		}
	}

	if r.countries.IsUnitedStates(ref) {
		return model.SpatialKey{Code: "US", Tier: model.TierCountry}, false, nil
	}

	// A known code or a plain country name is simply out of scope; a code
	// the table has never seen is unresolvable.
	if loc.CountryCode != "" {
		if _, known := r.countries.Name(loc.CountryCode); !known {
			return model.SpatialKey{}, false, &model.UnresolvableLocationError{
				Source:   model.SourceWHO,
				Location: loc.CountryCode,
			}
		}
	}
	return model.SpatialKey{}, false, model.ErrOutOfScope
}

func (r *Resolver) resolveCell(loc model.RawLocation) (model.SpatialKey, bool, error) {
	if !r.window.Contains(loc.CellLon, loc.CellLat) {
		return model.SpatialKey{}, false, model.ErrOutOfScope
	}

	code, ambiguous, ok := r.index.LocateCell(loc.CellLon, loc.CellLat, loc.CellSize)
	if !ok {
		return model.SpatialKey{}, false, &model.UnresolvableLocationError{
			Source:   model.SourceCMIP5,
			Location: fmt.Sprintf("cell (%.4f, %.4f) size %.4f", loc.CellLon, loc.CellLat, loc.CellSize),
		}
	}
	return model.SpatialKey{Code: r.collapse(code), Tier: model.TierGridCell}, ambiguous, nil
}

// collapse folds state codes to the country code when the configured level
// is country. Tiers are untouched; they record measurement precision.
func (r *Resolver) collapse(code string) string {
	if r.level == LevelCountry {
		return "US"
	}
	return code
}
