// Package esriascii reads ESRI ASCII raster grids (.asc), the distribution
// format WorldClim uses for downscaled CMIP5 layers. The format is a short
// header (ncols, nrows, xllcorner, yllcorner, cellsize, NODATA_value)
// followed by ncols*nrows whitespace-separated values, row-major with the
// northernmost row first.
package esriascii

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const defaultNoData = -9999

// Header holds the grid geometry.
type Header struct {
	NCols     int
	NRows     int
	XLLCorner float64 // west edge of the grid
	YLLCorner float64 // south edge of the grid
	CellSize  float64 // degrees per cell
	NoData    float64
}

// Grid is a parsed raster: header plus values in file order (top row first).
type Grid struct {
	Header
	Values []float64
}

// Read parses a complete grid from r. It fails on a malformed header, a
// non-numeric value token, or a token count that disagrees with the header.
func Read(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	p := &parser{sc: sc}
	hdr, err := p.readHeader()
	if err != nil {
		return nil, err
	}

	want := hdr.NCols * hdr.NRows
	values := make([]float64, 0, want)

	for {
		tok, ok := p.next()
		if !ok {
			break
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, eris.Errorf("esriascii: value token %d: %q is not numeric", len(values), tok)
		}
		values = append(values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "esriascii: read values")
	}
	if len(values) != want {
		return nil, eris.Errorf("esriascii: got %d values, header declares %d", len(values), want)
	}

	return &Grid{Header: *hdr, Values: values}, nil
}

type parser struct {
	sc    *bufio.Scanner
	stash string // first value token, consumed while scanning the header
}

func (p *parser) next() (string, bool) {
	if p.stash != "" {
		tok := p.stash
		p.stash = ""
		return tok, true
	}
	if p.sc.Scan() {
		return p.sc.Text(), true
	}
	return "", false
}

// readHeader consumes "name value" token pairs until the first token that is
// not a known header keyword. That token is stashed for the value loop.
func (p *parser) readHeader() (*Header, error) {
	hdr := &Header{NoData: defaultNoData}
	var haveCols, haveRows, haveX, haveY, haveCell bool
	var centerX, centerY bool

	for p.sc.Scan() {
		raw := p.sc.Text()
		key := strings.ToLower(raw)
		switch key {
		case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		default:
			p.stash = raw
			return finishHeader(hdr, centerX, centerY, haveCols, haveRows, haveX, haveY, haveCell)
		}

		if !p.sc.Scan() {
			return nil, eris.Errorf("esriascii: header key %q has no value", key)
		}
		val, err := strconv.ParseFloat(p.sc.Text(), 64)
		if err != nil {
			return nil, eris.Errorf("esriascii: header %s: %q is not numeric", key, p.sc.Text())
		}

		switch key {
		case "ncols":
			hdr.NCols, haveCols = int(val), true
		case "nrows":
			hdr.NRows, haveRows = int(val), true
		case "xllcorner":
			hdr.XLLCorner, haveX = val, true
		case "yllcorner":
			hdr.YLLCorner, haveY = val, true
		case "cellsize":
			hdr.CellSize, haveCell = val, true
		case "xllcenter":
			hdr.XLLCorner, haveX = val, true
			centerX = true
		case "yllcenter":
			hdr.YLLCorner, haveY = val, true
			centerY = true
		case "nodata_value":
			hdr.NoData = val
		}
	}
	if err := p.sc.Err(); err != nil {
		return nil, eris.Wrap(err, "esriascii: read header")
	}
	return nil, eris.New("esriascii: no data values after header")
}

func finishHeader(hdr *Header, centerX, centerY bool, haveCols, haveRows, haveX, haveY, haveCell bool) (*Header, error) {
	switch {
	case !haveCols:
		return nil, eris.New("esriascii: header missing ncols")
	case !haveRows:
		return nil, eris.New("esriascii: header missing nrows")
	case !haveX:
		return nil, eris.New("esriascii: header missing xllcorner")
	case !haveY:
		return nil, eris.New("esriascii: header missing yllcorner")
	case !haveCell:
		return nil, eris.New("esriascii: header missing cellsize")
	}
	if hdr.NCols <= 0 || hdr.NRows <= 0 {
		return nil, eris.Errorf("esriascii: invalid dimensions %dx%d", hdr.NCols, hdr.NRows)
	}
	if hdr.CellSize <= 0 {
		return nil, eris.Errorf("esriascii: invalid cellsize %g", hdr.CellSize)
	}
	// Center-registered grids shift to corner registration by half a cell.
	if centerX {
		hdr.XLLCorner -= hdr.CellSize / 2
	}
	if centerY {
		hdr.YLLCorner -= hdr.CellSize / 2
	}
	return hdr, nil
}

// At returns the value at the given column and row, where row 0 is the
// northernmost row, matching file order.
func (g *Grid) At(col, row int) float64 {
	return g.Values[row*g.NCols+col]
}

// IsNoData reports whether v is the grid's missing-value marker.
func (g *Grid) IsNoData(v float64) bool {
	return v == g.NoData || math.IsNaN(v)
}

// CellCenter returns the lon/lat of the center of the cell at (col, row),
// row 0 northernmost.
func (g *Grid) CellCenter(col, row int) (lon, lat float64) {
	lon = g.XLLCorner + (float64(col)+0.5)*g.CellSize
	lat = g.YLLCorner + (float64(g.NRows-row)-0.5)*g.CellSize
	return lon, lat
}
