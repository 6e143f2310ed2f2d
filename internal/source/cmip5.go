package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/pkg/esriascii"
)

// cmipLayers maps WorldClim layer name prefixes to canonical variables.
// Temperature layers ship in tenths of a degree; precipitation in mm.
var cmipLayers = []struct {
	prefix   string
	variable string
}{
	{"prec", model.VarPRCP},
	{"tmax", model.VarTMAX},
	{"tmean", model.VarTAVG},
	{"tmin", model.VarTMIN},
}

// decadePattern matches tokens like "2050s" anywhere in a layer path.
var decadePattern = regexp.MustCompile(`(\d{3}0)s`)

// CMIP5 reads downscaled climate projection layers distributed as ESRI
// ASCII grids. The variable and target decade are encoded in the layer
// path, not the file contents, so both are recovered from the name.
type CMIP5 struct{}

// ID returns the provider this reader handles.
func (s *CMIP5) ID() model.SourceID { return model.SourceCMIP5 }

// Discover walks dir recursively for .asc layers; distributions nest them
// one directory per scenario or decade.
func (s *CMIP5) Discover(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".asc") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "cmip5: walk %s", dir)
	}
	return files, nil
}

// ReadFile parses one grid layer into per-cell records. NODATA cells are
// skipped; everything else is emitted and left to the spatial resolver to
// keep or drop.
func (s *CMIP5) ReadFile(ctx context.Context, path string) (*FileResult, error) {
	variable, err := cmipVariable(path)
	if err != nil {
		return nil, err
	}
	decade, err := cmipDecade(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cmip5: open %s", path)
	}
	defer func() { _ = f.Close() }()

	grid, err := esriascii.Read(f)
	if err != nil {
		return nil, eris.Wrapf(err, "cmip5: parse %s", path)
	}

	base := filepath.Base(path)
	units := cmipUnits(variable)
	result := &FileResult{}

	for row := 0; row < grid.NRows; row++ {
		if row%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for col := 0; col < grid.NCols; col++ {
			v := grid.At(col, row)
			if grid.IsNoData(v) {
				continue
			}
			lon, lat := grid.CellCenter(col, row)
			result.Records = append(result.Records, model.SourceRecord{
				Source: model.SourceCMIP5,
				RowRef: fmt.Sprintf("%s:%d,%d", base, row, col),
				RawLocation: model.RawLocation{
					CellLon:  lon,
					CellLat:  lat,
					CellSize: grid.CellSize,
				},
				RawTime:       decade,
				Values:        map[string]float64{variable: v},
				OriginalUnits: map[string]string{variable: units},
			})
		}
	}

	return result, nil
}

// cmipVariable recovers the canonical variable from the deepest path
// component carrying a known layer prefix.
func cmipVariable(path string) (string, error) {
	comps := strings.Split(filepath.ToSlash(strings.ToLower(path)), "/")
	for i := len(comps) - 1; i >= 0; i-- {
		for _, layer := range cmipLayers {
			if layerMatches(comps[i], layer.prefix) {
				return layer.variable, nil
			}
		}
	}
	return "", eris.Errorf("cmip5: %s: no known variable prefix in path", path)
}

func layerMatches(comp, prefix string) bool {
	if !strings.HasPrefix(comp, prefix) {
		return false
	}
	rest := comp[len(prefix):]
	if rest == "" {
		return true
	}
	switch c := rest[0]; {
	case c == '_' || c == '-' || c == '.':
		return true
	case c >= '0' && c <= '9':
		return true
	}
	return false
}

// cmipDecade recovers the target decade token, taking the deepest match so
// a decade in the filename wins over one in a parent directory.
func cmipDecade(path string) (string, error) {
	matches := decadePattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return "", eris.Errorf("cmip5: %s: no decade token in path", path)
	}
	return matches[len(matches)-1][1] + "s", nil
}

func cmipUnits(variable string) string {
	if variable == model.VarPRCP {
		return "mm"
	}
	return "0.1degC"
}
