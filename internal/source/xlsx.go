package source

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// xlsxOptions configures the XLSX parser.
type xlsxOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of header rows to skip
}

// readXLSX reads an XLSX file and returns all rows as string slices.
func readXLSX(path string, opts xlsxOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		rows = append(rows, rowToStrings(row))
	}

	return rows, nil
}

func getSheet(f *xlsx.File, opts xlsxOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
