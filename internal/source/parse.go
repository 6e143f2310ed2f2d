package source

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// mapColumns builds a lowercase column name -> index map from a CSV header.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return m
}

// getCol gets a column value by name from a CSV record, returning empty
// string if not found.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[strings.ToLower(name)]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// trimQuotes removes surrounding double quotes from a CSV field.
func trimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// floatField parses a value cell. Blank cells report present=false; anything
// non-blank that does not parse reports bad=true so the caller can count a
// parse error instead of silently dropping data.
func floatField(s string) (v float64, present bool, bad bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, true
	}
	return v, true, false
}

// decodeLatin1 wraps r with a Latin-1 decoder when the leading bytes are not
// valid UTF-8. WHO distributes its historical tables Latin-1 encoded; newer
// exports are UTF-8.
func decodeLatin1(r io.Reader) io.Reader {
	br := bufio.NewReaderSize(r, 64*1024)
	peek, _ := br.Peek(4096)

	// Trim a possibly split trailing rune before checking.
	for i := 0; i < 3 && len(peek) > 0 && !utf8.Valid(peek); i++ {
		peek = peek[:len(peek)-1]
	}
	if utf8.Valid(peek) {
		return br
	}
	return charmap.ISO8859_1.NewDecoder().Reader(br)
}
