package refdata

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// StationTable assigns NOAA station IDs to region codes ahead of any
// coordinate lookup. The table is optional; stations it does not list fall
// back to boundary containment.
type StationTable struct {
	byID map[string]string
}

type stationFile struct {
	Stations map[string]string `yaml:"stations"`
}

// LoadStations reads a stations YAML file of the form:
//
//	stations:
//	  USW00013876: US-AL
func LoadStations(path string) (*StationTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: read stations table %s", path)
	}

	var f stationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "refdata: parse stations table %s", path)
	}

	for id, code := range f.Stations {
		if !KnownRegion(code) {
			return nil, eris.Errorf("refdata: stations table %s: station %s maps to unknown region %q", path, id, code)
		}
	}

	return &StationTable{byID: f.Stations}, nil
}

// EmptyStations returns a table with no assignments.
func EmptyStations() *StationTable {
	return &StationTable{byID: map[string]string{}}
}

// Lookup returns the region code assigned to a station ID.
func (t *StationTable) Lookup(stationID string) (string, bool) {
	code, ok := t.byID[stationID]
	return code, ok
}

// Len returns the number of assigned stations.
func (t *StationTable) Len() int {
	return len(t.byID)
}
