// Package temporal maps raw provider time strings onto canonical temporal
// keys. The formats are disjoint enough to dispatch on shape alone: "2015-07"
// is a month, "2015" a year, "2003-2007" a reporting period, "2030s" a
// decade.
package temporal

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
)

const (
	minYear = 1000
	maxYear = 3000
)

// Align parses a raw time string into one or more temporal keys. Multi-year
// reporting periods expand to one period-tagged key per contained year;
// every other form yields exactly one key.
func Align(raw string) ([]model.TemporalKey, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, eris.New("empty time value")
	}

	if strings.HasSuffix(s, "s") {
		return alignDecade(s)
	}
	if i := strings.IndexByte(s, '-'); i > 0 {
		return alignCompound(s, i)
	}
	year, err := parseYear(s)
	if err != nil {
		return nil, err
	}
	return []model.TemporalKey{{Year: year, Gran: model.GranYear}}, nil
}

func alignDecade(s string) ([]model.TemporalKey, error) {
	year, err := parseYear(strings.TrimSuffix(s, "s"))
	if err != nil {
		return nil, eris.Wrapf(err, "decade %q", s)
	}
	if year%10 != 0 {
		return nil, eris.Errorf("decade %q does not start a decade", s)
	}
	return []model.TemporalKey{{Year: year, Gran: model.GranDecade}}, nil
}

// alignCompound handles "YYYY-MM" months and "YYYY-YYYY" periods.
func alignCompound(s string, dash int) ([]model.TemporalKey, error) {
	left, right := s[:dash], s[dash+1:]
	year, err := parseYear(left)
	if err != nil {
		return nil, err
	}

	switch len(right) {
	case 1, 2:
		month, err := strconv.Atoi(right)
		if err != nil {
			return nil, eris.Errorf("month %q is not numeric", right)
		}
		if month < 1 || month > 12 {
			return nil, eris.Errorf("month %d out of range", month)
		}
		return []model.TemporalKey{{Year: year, Month: month, Gran: model.GranMonth}}, nil
	case 4:
		end, err := parseYear(right)
		if err != nil {
			return nil, err
		}
		if end < year {
			return nil, eris.Errorf("period %q ends before it starts", s)
		}
		keys := make([]model.TemporalKey, 0, end-year+1)
		for y := year; y <= end; y++ {
			keys = append(keys, model.TemporalKey{Year: y, Gran: model.GranPeriod})
		}
		return keys, nil
	default:
		return nil, eris.Errorf("unrecognized time form %q", s)
	}
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, eris.Errorf("year %q is not numeric", s)
	}
	if year < minYear || year > maxYear {
		return 0, eris.Errorf("year %d out of range", year)
	}
	return year, nil
}
