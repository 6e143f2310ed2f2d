// Package spatial resolves raw provider locations onto canonical region
// codes using boundary shapefiles: point containment for stations, largest
// overlap for grid cells, reference tables for national records.
package spatial

import (
	"sort"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/climatehealth/fusion-cli/internal/refdata"
)

// Window is the lon/lat box a location must fall inside to be in scope.
type Window struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// ContinentalUS is the default region scope: the lower 48 plus DC.
var ContinentalUS = Window{MinLon: -125, MinLat: 24, MaxLon: -65, MaxLat: 50}

// Contains reports whether the point lies inside the window.
func (w Window) Contains(lon, lat float64) bool {
	return lon >= w.MinLon && lon <= w.MaxLon && lat >= w.MinLat && lat <= w.MaxLat
}

type rect struct {
	minX, minY, maxX, maxY float64
}

func (r rect) intersects(o rect) bool {
	return r.minX <= o.maxX && o.minX <= r.maxX && r.minY <= o.maxY && o.minY <= r.maxY
}

func (r rect) contains(x, y float64) bool {
	return x >= r.minX && x <= r.maxX && y >= r.minY && y <= r.maxY
}

// ring is one closed boundary part with its bounding box.
type ring struct {
	flat []float64 // x0 y0 x1 y1 ...
	bbox rect
}

// Region is one named boundary read from the shapefile. Multi-part features
// keep one ring per part; holes are not distinguished.
type Region struct {
	Code  string
	Name  string
	rings []ring
	bbox  rect
}

// Index holds all recognized regions, sorted by code so every lookup and
// iteration is deterministic. A nil Index is valid and contains no regions,
// so runs without boundary data fail lookups instead of panicking.
type Index struct {
	regions []*Region
}

// Load reads a boundary shapefile and indexes each feature whose NAME
// attribute names a US state or the United States itself. Other features
// are skipped and counted. The country feature, when present, indexes under
// code "US".
func Load(path string) (*Index, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: open boundary shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Build field name -> index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	nameIdx, ok := fieldIdx["name"]
	if !ok {
		return nil, eris.Errorf("spatial: shapefile %s has no NAME field", path)
	}

	byCode := make(map[string]*Region)
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		code, recognized := regionCode(name)
		if !recognized {
			skipped++
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 || len(poly.Points) == 0 {
			skipped++
			continue
		}

		region := byCode[code]
		if region == nil {
			region = &Region{Code: code, Name: name}
			byCode[code] = region
		}
		appendRings(region, poly)
	}

	if skipped > 0 {
		zap.L().Debug("spatial: skipped shapefile features",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(byCode) == 0 {
		return nil, eris.Errorf("spatial: shapefile %s contains no recognizable regions", path)
	}

	regions := make([]*Region, 0, len(byCode))
	for _, region := range byCode {
		region.bbox = regionBounds(region)
		regions = append(regions, region)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Code < regions[j].Code })

	return &Index{regions: regions}, nil
}

// regionCode maps a shapefile NAME attribute to a canonical region code.
func regionCode(name string) (string, bool) {
	if code, ok := refdata.StateCode(name); ok {
		return code, true
	}
	if refdata.IsUSCountryName(name) {
		return "US", true
	}
	return "", false
}

// appendRings splits a shapefile polygon into its parts, mirroring how the
// format stores islands and exclaves as separate rings.
func appendRings(region *Region, p *shp.Polygon) {
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 3 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		region.rings = append(region.rings, ring{flat: flat, bbox: flatBounds(flat)})
	}
}

func flatBounds(flat []float64) rect {
	b := rect{minX: flat[0], minY: flat[1], maxX: flat[0], maxY: flat[1]}
	for i := 2; i < len(flat); i += 2 {
		x, y := flat[i], flat[i+1]
		if x < b.minX {
			b.minX = x
		}
		if x > b.maxX {
			b.maxX = x
		}
		if y < b.minY {
			b.minY = y
		}
		if y > b.maxY {
			b.maxY = y
		}
	}
	return b
}

func regionBounds(region *Region) rect {
	b := region.rings[0].bbox
	for _, rg := range region.rings[1:] {
		if rg.bbox.minX < b.minX {
			b.minX = rg.bbox.minX
		}
		if rg.bbox.maxX > b.maxX {
			b.maxX = rg.bbox.maxX
		}
		if rg.bbox.minY < b.minY {
			b.minY = rg.bbox.minY
		}
		if rg.bbox.maxY > b.maxY {
			b.maxY = rg.bbox.maxY
		}
	}
	return b
}

// Codes returns all indexed region codes in sorted order.
func (idx *Index) Codes() []string {
	if idx == nil {
		return nil
	}
	codes := make([]string, len(idx.regions))
	for i, r := range idx.regions {
		codes[i] = r.Code
	}
	return codes
}

// Locate returns the code of the region containing the point. When a point
// sits exactly on a shared boundary the lexicographically first region wins,
// keeping resolution deterministic.
func (idx *Index) Locate(lon, lat float64) (string, bool) {
	if idx == nil {
		return "", false
	}
	for _, region := range idx.regions {
		if !region.bbox.contains(lon, lat) {
			continue
		}
		for _, rg := range region.rings {
			if !rg.bbox.contains(lon, lat) {
				continue
			}
			if xy.IsPointInRing(geom.XY, geom.Coord{lon, lat}, rg.flat) {
				return region.Code, true
			}
		}
	}
	return "", false
}

// LocateCell assigns a grid cell, given by its center and edge size, to the
// region with the largest overlap. It reports whether more than one region
// overlapped the cell. Area ties fall to the lexicographically first code.
func (idx *Index) LocateCell(lon, lat, size float64) (code string, ambiguous bool, ok bool) {
	if idx == nil {
		return "", false, false
	}
	half := size / 2
	cell := rect{minX: lon - half, minY: lat - half, maxX: lon + half, maxY: lat + half}

	var best string
	var bestArea float64
	var overlaps int

	for _, region := range idx.regions {
		if !region.bbox.intersects(cell) {
			continue
		}
		var area float64
		for _, rg := range region.rings {
			if !rg.bbox.intersects(cell) {
				continue
			}
			area += overlapArea(rg.flat, cell)
		}
		if area <= 0 {
			continue
		}
		overlaps++
		if area > bestArea {
			best, bestArea = region.Code, area
		}
	}

	if overlaps == 0 {
		return "", false, false
	}
	return best, overlaps > 1, true
}
