package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// SourceID identifies one of the upstream data providers.
type SourceID string

const (
	SourceNOAA  SourceID = "noaa"  // GSOM monthly station observations
	SourceWHO   SourceID = "who"   // national mortality tabulations
	SourceCMIP5 SourceID = "cmip5" // downscaled decade projections
)

// ParseSourceID converts a string like "noaa" into a SourceID.
func ParseSourceID(s string) (SourceID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "noaa":
		return SourceNOAA, nil
	case "who":
		return SourceWHO, nil
	case "cmip5":
		return SourceCMIP5, nil
	default:
		return "", eris.Errorf("unknown source %q (valid: noaa, who, cmip5)", s)
	}
}

// Family returns the variable family this source contributes to.
func (s SourceID) Family() VariableFamily {
	switch s {
	case SourceNOAA:
		return FamilyClimate
	case SourceWHO:
		return FamilyMortality
	case SourceCMIP5:
		return FamilyProjection
	default:
		return FamilyClimate
	}
}

// SourceRecord is a raw row as read from one provider, before any
// normalization. Readers populate it and never touch it again.
type SourceRecord struct {
	Source        SourceID           `json:"source"`
	RowRef        string             `json:"row_ref"` // file:line or file:cell, for error reporting
	RawLocation   RawLocation        `json:"raw_location"`
	RawTime       string             `json:"raw_time"`
	Values        map[string]float64 `json:"values"`
	OriginalUnits map[string]string  `json:"original_units,omitempty"`
}

// RawLocation carries whichever location fields the provider supplied.
// Exactly one of the three shapes is populated per source: station
// coordinates (NOAA), a country code or name (WHO), or a grid cell (CMIP5).
type RawLocation struct {
	StationID   string  `json:"station_id,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	CellLon     float64 `json:"cell_lon,omitempty"` // cell center
	CellLat     float64 `json:"cell_lat,omitempty"`
	CellSize    float64 `json:"cell_size,omitempty"`
}

// ID returns a deterministic identifier derived from the record content,
// so provenance lists do not depend on input order or read concurrency.
func (r SourceRecord) ID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", r.Source, r.locationKey(), r.RawTime)

	vars := make([]string, 0, len(r.Values))
	for name, val := range r.Values {
		vars = append(vars, fmt.Sprintf("%s=%g", name, val))
	}
	sort.Strings(vars)
	for _, v := range vars {
		fmt.Fprintf(h, "|%s", v)
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (r SourceRecord) locationKey() string {
	loc := r.RawLocation
	switch {
	case loc.StationID != "":
		return loc.StationID
	case loc.CountryCode != "":
		return loc.CountryCode
	case loc.CountryName != "":
		return loc.CountryName
	default:
		return fmt.Sprintf("%.6f,%.6f", loc.CellLon, loc.CellLat)
	}
}
