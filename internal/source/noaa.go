package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// noaaVars are the GSOM data columns carried into fusion, as they appear in
// the CSV header.
var noaaVars = []string{
	model.VarTAVG,
	model.VarTMIN,
	model.VarTMAX,
	model.VarPRCP,
	model.VarEMNT,
	model.VarEMXT,
}

// NOAA reads GSOM monthly summary CSVs. Files carry one row per station and
// month with STATION, DATE, LATITUDE, LONGITUDE identity columns; combined
// multi-station exports parse the same way.
type NOAA struct{}

// ID returns the provider this reader handles.
func (s *NOAA) ID() model.SourceID { return model.SourceNOAA }

// Discover lists the CSV files under dir in sorted order.
func (s *NOAA) Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "noaa: read dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// ReadFile parses one GSOM CSV. Rows missing identity fields or carrying
// unparseable numbers are skipped and reported; rows with no data columns
// contribute nothing.
func (s *NOAA) ReadFile(ctx context.Context, path string) (*FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "noaa: open %s", path)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "noaa: read header of %s", path)
	}
	colIdx := mapColumns(header)
	if _, ok := colIdx["station"]; !ok {
		return nil, eris.Errorf("noaa: %s has no STATION column", path)
	}
	if _, ok := colIdx["date"]; !ok {
		return nil, eris.Errorf("noaa: %s has no DATE column", path)
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
				Source: model.SourceNOAA, RowRef: rowRef, Field: "row", Reason: err.Error(),
			})
			continue
		}

		rec, perr := s.parseRow(record, colIdx, rowRef)
		if perr != nil {
			result.Problems = append(result.Problems, perr)
			continue
		}
		if rec != nil {
			result.Records = append(result.Records, *rec)
		}
	}

	return result, nil
}

func (s *NOAA) parseRow(record []string, colIdx map[string]int, rowRef string) (*model.SourceRecord, error) {
	station := trimQuotes(getCol(record, colIdx, "station"))
	if station == "" {
		return nil, &model.ParseError{Source: model.SourceNOAA, RowRef: rowRef, Field: "STATION", Reason: "missing"}
	}
	date := trimQuotes(getCol(record, colIdx, "date"))
	if date == "" {
		return nil, &model.ParseError{Source: model.SourceNOAA, RowRef: rowRef, Field: "DATE", Reason: "missing"}
	}

	lat, _, bad := floatField(getCol(record, colIdx, "latitude"))
	if bad {
		return nil, &model.ParseError{Source: model.SourceNOAA, RowRef: rowRef, Field: "LATITUDE", Reason: "not numeric"}
	}
	lon, _, bad := floatField(getCol(record, colIdx, "longitude"))
	if bad {
		return nil, &model.ParseError{Source: model.SourceNOAA, RowRef: rowRef, Field: "LONGITUDE", Reason: "not numeric"}
	}

	values := make(map[string]float64, len(noaaVars))
	for _, name := range noaaVars {
		v, present, bad := floatField(getCol(record, colIdx, name))
		if bad {
			return nil, &model.ParseError{Source: model.SourceNOAA, RowRef: rowRef, Field: name, Reason: "not numeric"}
		}
		if present {
			values[name] = v
		}
	}
	if len(values) == 0 {
		return nil, nil // identity-only row, nothing to fuse
	}

	return &model.SourceRecord{
		Source:      model.SourceNOAA,
		RowRef:      rowRef,
		RawLocation: model.RawLocation{StationID: station, Latitude: lat, Longitude: lon},
		RawTime:     date,
		Values:      values,
	}, nil
}
