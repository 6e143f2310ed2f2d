package refdata

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

// usCountryNames are the spellings of the United States seen in WHO tables
// and world boundary shapefiles.
var usCountryNames = map[string]bool{
	"united states of america": true,
	"united states":            true,
	"usa":                      true,
}

// IsUSCountryName reports whether name is a recognized spelling of the
// United States.
func IsUSCountryName(name string) bool {
	return usCountryNames[strings.ToLower(strings.TrimSpace(name))]
}

// CountryTable maps WHO numeric country codes to names.
type CountryTable struct {
	byCode map[string]string
}

// LoadCountries reads a WHO country_codes.csv with "country" and "name"
// columns. WHO distributes these files Latin-1 encoded; the loader converts
// to UTF-8 when needed.
func LoadCountries(path string) (*CountryTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: read country table %s", path)
	}
	if !utf8.Valid(data) {
		data, err = io.ReadAll(charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(data)))
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: decode country table %s", path)
		}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: country table %s has no header", path)
	}
	codeIdx, nameIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "country":
			codeIdx = i
		case "name":
			nameIdx = i
		}
	}
	if codeIdx < 0 || nameIdx < 0 {
		return nil, eris.Errorf("refdata: country table %s missing country/name columns", path)
	}

	byCode := make(map[string]string)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: read country table %s", path)
		}
		if codeIdx >= len(rec) || nameIdx >= len(rec) {
			continue
		}
		code := strings.TrimSpace(rec[codeIdx])
		name := strings.TrimSpace(rec[nameIdx])
		if code == "" || name == "" {
			continue
		}
		byCode[code] = name
	}

	return &CountryTable{byCode: byCode}, nil
}

// EmptyCountries returns a table with no entries.
func EmptyCountries() *CountryTable {
	return &CountryTable{byCode: map[string]string{}}
}

// Name returns the country name for a WHO numeric code.
func (t *CountryTable) Name(code string) (string, bool) {
	name, ok := t.byCode[strings.TrimSpace(code)]
	return name, ok
}

// IsUnitedStates reports whether the given name or code denotes the US.
func (t *CountryTable) IsUnitedStates(codeOrName string) bool {
	s := strings.TrimSpace(codeOrName)
	if name, ok := t.byCode[s]; ok {
		s = name
	}
	return usCountryNames[strings.ToLower(s)]
}

// Len returns the number of table entries.
func (t *CountryTable) Len() int {
	return len(t.byCode)
}
