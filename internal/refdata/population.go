package refdata

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// PopTable maps (country code, year, sex) to all-ages population, read from
// the WHO pop.csv companion file. Sex strata stay separate so a mortality
// stratum joins the matching population.
type PopTable struct {
	byKey map[string]float64
}

// LoadPopulation reads a WHO pop.csv. Only the all-ages Pop1 column is used.
func LoadPopulation(path string) (*PopTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: open population table %s", path)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: population table %s has no header", path)
	}

	countryIdx, yearIdx, sexIdx, popIdx := -1, -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "country":
			countryIdx = i
		case "year":
			yearIdx = i
		case "sex":
			sexIdx = i
		case "pop1":
			popIdx = i
		}
	}
	if countryIdx < 0 || yearIdx < 0 || popIdx < 0 {
		return nil, eris.Errorf("refdata: population table %s missing country/year/pop1 columns", path)
	}

	byKey := make(map[string]float64)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // malformed rows carry no usable population
		}
		if countryIdx >= len(rec) || yearIdx >= len(rec) || popIdx >= len(rec) {
			continue
		}

		pop, err := strconv.ParseFloat(strings.TrimSpace(rec[popIdx]), 64)
		if err != nil || pop <= 0 {
			continue
		}

		sex := ""
		if sexIdx >= 0 && sexIdx < len(rec) {
			sex = strings.TrimSpace(rec[sexIdx])
		}
		byKey[popKey(strings.TrimSpace(rec[countryIdx]), strings.TrimSpace(rec[yearIdx]), sex)] = pop
	}

	return &PopTable{byKey: byKey}, nil
}

// EmptyPopulation returns a table with no entries.
func EmptyPopulation() *PopTable {
	return &PopTable{byKey: map[string]float64{}}
}

// Lookup returns the population for a (country, year, sex) stratum.
func (t *PopTable) Lookup(country, year, sex string) (float64, bool) {
	pop, ok := t.byKey[popKey(country, year, sex)]
	return pop, ok
}

// Len returns the number of strata in the table.
func (t *PopTable) Len() int {
	return len(t.byKey)
}

func popKey(country, year, sex string) string {
	return country + "|" + year + "|" + sex
}
