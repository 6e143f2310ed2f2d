// Package refdata holds the reference tables the resolver and validators
// consult: the US state catalog, the station-to-state assignment table, and
// the WHO country-code table.
package refdata

import "strings"

// statesByName maps lowercase state names to postal abbreviations for the
// 50 states plus DC. Region codes are "US-" + abbreviation.
var statesByName = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"district of columbia": "DC", "florida": "FL", "georgia": "GA",
	"hawaii": "HI", "idaho": "ID", "illinois": "IL", "indiana": "IN",
	"iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI",
	"minnesota": "MN", "mississippi": "MS", "missouri": "MO", "montana": "MT",
	"nebraska": "NE", "nevada": "NV", "new hampshire": "NH", "new jersey": "NJ",
	"new mexico": "NM", "new york": "NY", "north carolina": "NC",
	"north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA",
	"west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
}

// nonContinental are states outside the continental window.
var nonContinental = map[string]bool{"AK": true, "HI": true}

// StateCode returns the region code ("US-AL") for a state name as it appears
// in boundary shapefile attributes. Matching is case-insensitive.
func StateCode(name string) (string, bool) {
	abbr, ok := statesByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", false
	}
	return "US-" + abbr, true
}

// Continental reports whether a region code lies in the continental US.
// The country code itself counts as continental.
func Continental(code string) bool {
	if code == "US" {
		return true
	}
	abbr := strings.TrimPrefix(code, "US-")
	if _, known := knownAbbr[abbr]; !known {
		return false
	}
	return !nonContinental[abbr]
}

var knownAbbr = func() map[string]struct{} {
	m := make(map[string]struct{}, len(statesByName))
	for _, abbr := range statesByName {
		m[abbr] = struct{}{}
	}
	return m
}()

// KnownRegion reports whether code is "US" or a recognized state code.
func KnownRegion(code string) bool {
	if code == "US" {
		return true
	}
	_, ok := knownAbbr[strings.TrimPrefix(code, "US-")]
	return ok
}
