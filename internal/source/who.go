package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// allCause is the ICD-10 aggregate row every country reports. Filtering to
// it by default keeps per-cause strata from double counting totals.
const allCause = "AAA"

// companionFiles are reference tables distributed next to the mortality
// files; they are loaded separately, never parsed as mortality input.
var companionFiles = map[string]bool{
	"pop.csv":           true,
	"country_codes.csv": true,
}

// WHO reads mortality tabulations: the historical Morticd CSVs and
// GHE-style XLSX exports. Each row is one (country, year, cause, sex)
// stratum; strata stay separate records and sum back together at fusion.
type WHO struct {
	causes map[string]bool
	pop    PopLookup
}

// NewWHO builds the reader. An empty cause filter keeps only the all-cause
// aggregate; a filter containing "*" keeps every row.
func NewWHO(causes []string, pop PopLookup) *WHO {
	filter := make(map[string]bool, len(causes)+1)
	for _, c := range causes {
		c = strings.TrimSpace(c)
		if c != "" {
			filter[c] = true
		}
	}
	if len(filter) == 0 {
		filter[allCause] = true
	}
	return &WHO{causes: filter, pop: pop}
}

// ID returns the provider this reader handles.
func (s *WHO) ID() model.SourceID { return model.SourceWHO }

// Discover lists mortality CSV and XLSX files under dir, skipping the
// companion reference tables.
func (s *WHO) Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "who: read dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if companionFiles[name] {
			continue
		}
		if strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".xlsx") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// ReadFile parses one mortality table. Subnational strata (Admin1/SubDiv
// set) and causes outside the filter are skipped without being counted as
// problems; they are valid data outside this pipeline's scope.
func (s *WHO) ReadFile(ctx context.Context, path string) (*FileResult, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return s.readXLSXFile(ctx, path)
	}
	return s.readCSVFile(ctx, path)
}

func (s *WHO) readCSVFile(ctx context.Context, path string) (*FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "who: open %s", path)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(decodeLatin1(f))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "who: read header of %s", path)
	}
	colIdx := mapColumns(header)
	if err := s.checkColumns(colIdx, path); err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	result := &FileResult{}
	line := 1

	for {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		rowRef := fmt.Sprintf("%s:%d", base, line)
		if err != nil {
			result.Problems = append(result.Problems, &model.ParseError{
				Source: model.SourceWHO, RowRef: rowRef, Field: "row", Reason: err.Error(),
			})
			continue
		}

		s.consumeRow(record, colIdx, rowRef, result)
	}

	return result, nil
}

func (s *WHO) readXLSXFile(ctx context.Context, path string) (*FileResult, error) {
	rows, err := readXLSX(path, xlsxOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "who: read %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("who: %s has no rows", path)
	}

	colIdx := mapColumns(rows[0])
	if err := s.checkColumns(colIdx, path); err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	result := &FileResult{}

	for i, record := range rows[1:] {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rowRef := fmt.Sprintf("%s:r%d", base, i+2)
		s.consumeRow(record, colIdx, rowRef, result)
	}

	return result, nil
}

func (s *WHO) checkColumns(colIdx map[string]int, path string) error {
	if _, ok := colIdx["country"]; !ok {
		return eris.Errorf("who: %s has no Country column", path)
	}
	if _, ok := colIdx["year"]; !ok {
		return eris.Errorf("who: %s has no Year column", path)
	}
	if _, ok := colIdx["deaths1"]; !ok {
		return eris.Errorf("who: %s has no Deaths1 column", path)
	}
	return nil
}

func (s *WHO) consumeRow(record []string, colIdx map[string]int, rowRef string, result *FileResult) {
	rec, perr := s.parseRow(record, colIdx, rowRef)
	if perr != nil {
		result.Problems = append(result.Problems, perr)
		return
	}
	if rec != nil {
		result.Records = append(result.Records, *rec)
	}
}

func (s *WHO) parseRow(record []string, colIdx map[string]int, rowRef string) (*model.SourceRecord, error) {
	// Subnational strata would double count against the national rows.
	if trimQuotes(getCol(record, colIdx, "admin1")) != "" || trimQuotes(getCol(record, colIdx, "subdiv")) != "" {
		return nil, nil
	}
	if !s.keepCause(record, colIdx) {
		return nil, nil
	}

	country := trimQuotes(getCol(record, colIdx, "country"))
	if country == "" {
		return nil, &model.ParseError{Source: model.SourceWHO, RowRef: rowRef, Field: "Country", Reason: "missing"}
	}
	year := trimQuotes(getCol(record, colIdx, "year"))
	if year == "" {
		return nil, &model.ParseError{Source: model.SourceWHO, RowRef: rowRef, Field: "Year", Reason: "missing"}
	}

	// Blank death cells mean zero in WHO tables.
	deaths, present, bad := floatField(getCol(record, colIdx, "deaths1"))
	if bad {
		return nil, &model.ParseError{Source: model.SourceWHO, RowRef: rowRef, Field: "Deaths1", Reason: "not numeric"}
	}
	if !present {
		deaths = 0
	}

	sex := trimQuotes(getCol(record, colIdx, "sex"))
	values := map[string]float64{model.VarDEATHS: deaths}
	if s.pop != nil {
		if pop, ok := s.pop.Lookup(country, year, sex); ok {
			values[model.VarPOP] = pop
		}
	}

	loc := model.RawLocation{}
	if _, err := strconv.Atoi(country); err == nil {
		loc.CountryCode = country
	} else {
		loc.CountryName = country
	}

	return &model.SourceRecord{
		Source:      model.SourceWHO,
		RowRef:      rowRef,
		RawLocation: loc,
		RawTime:     year,
		Values:      values,
	}, nil
}

func (s *WHO) keepCause(record []string, colIdx map[string]int) bool {
	if _, ok := colIdx["cause"]; !ok {
		return true // no cause dimension, already aggregate
	}
	if s.causes["*"] {
		return true
	}
	return s.causes[trimQuotes(getCol(record, colIdx, "cause"))]
}
