package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// identityColumns lead every fused-dataset CSV, in this order. Variable
// columns follow coverage; provenance and flags close the row.
var identityColumns = []string{
	"spatial_key",
	"spatial_tier",
	"temporal_key",
	"granularity",
	"coverage",
}

// projSuffix marks projection columns. Modeled variables reuse observed
// names, so TAVG and TAVG_PROJ can coexist on one row.
const projSuffix = "_PROJ"

// WriteCSV writes fused records as the canonical CSV dataset. Variable
// columns are the sorted union of names present in the batch, so the same
// records always produce the same bytes. Rows are written in input order.
func WriteCSV(path string, recs []model.FusedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close()

	vars := variableColumns(recs)
	header := append(append([]string{}, identityColumns...), vars...)
	header = append(header, "provenance", "flags")

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for i := range recs {
		if err := w.Write(buildRow(&recs[i], vars)); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "export: flush")
	}
	return nil
}

// WriteJSONL writes normalized records one JSON object per line, the form
// the normalize dry run emits for downstream inspection.
func WriteJSONL(path string, recs []model.NormalizedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range recs {
		if err := enc.Encode(recs[i]); err != nil {
			return eris.Wrap(err, "export: encode record")
		}
	}
	if err := w.Flush(); err != nil {
		return eris.Wrap(err, "export: flush")
	}
	return nil
}

// variableColumns collects every variable name appearing in the batch,
// tagging projection names with projSuffix, and sorts the union.
func variableColumns(recs []model.FusedRecord) []string {
	seen := make(map[string]struct{})
	for i := range recs {
		for name := range recs[i].Climate {
			seen[name] = struct{}{}
		}
		for name := range recs[i].Mortality {
			seen[name] = struct{}{}
		}
		for name := range recs[i].Projection {
			seen[name+projSuffix] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for name := range seen {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

// buildRow maps one fused record onto the column layout.
func buildRow(rec *model.FusedRecord, vars []string) []string {
	row := []string{
		rec.Spatial.Code,
		rec.Spatial.Tier.String(),
		rec.Temporal.String(),
		rec.Temporal.Gran.String(),
		joinCoverage(rec.Coverage),
	}
	for _, col := range vars {
		row = append(row, variableCell(rec, col))
	}
	row = append(row, strings.Join(rec.Provenance, ";"), joinFlags(rec.Flags))
	return row
}

// variableCell resolves one variable column for one record. Climate and
// mortality names never collide, so plain names probe both families.
func variableCell(rec *model.FusedRecord, col string) string {
	if name, found := strings.CutSuffix(col, projSuffix); found {
		if v, ok := rec.Projection[name]; ok {
			return formatValue(v)
		}
		return ""
	}
	if v, ok := rec.Climate[col]; ok {
		return formatValue(v)
	}
	if v, ok := rec.Mortality[col]; ok {
		return formatValue(v)
	}
	return ""
}

// formatValue renders a measurement with the shortest representation that
// round-trips, keeping repeated exports byte-identical.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// joinCoverage renders the sorted coverage set as "cmip5;noaa;who".
func joinCoverage(ids []model.SourceID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ";")
}

// joinFlags renders quality flags as a semicolon list.
func joinFlags(flags []model.QualityFlag) string {
	parts := make([]string, len(flags))
	for i, fl := range flags {
		parts[i] = string(fl)
	}
	return strings.Join(parts, ";")
}
