package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/climatehealth/fusion-cli/internal/model"
)

// FormatRun renders a run and its summary as a human-readable report.
func FormatRun(run *model.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Fusion Run: %s\n", run.ID)
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	fmt.Fprintf(&b, "Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", run.Error)
	}
	b.WriteString("\n")

	s := run.Summary
	if s == nil {
		b.WriteString("No summary recorded.\n")
		return b.String()
	}

	b.WriteString("## Ingestion\n")
	fmt.Fprintf(&b, "- Source rows: %d\n", s.SourceRows)
	fmt.Fprintf(&b, "- Normalized: %d\n", s.Normalized)
	fmt.Fprintf(&b, "- Parse errors: %d\n", s.ParseErrors)
	fmt.Fprintf(&b, "- Unresolvable locations: %d\n", s.Unresolvable)
	fmt.Fprintf(&b, "- Out of scope: %d\n", s.OutOfScope)
	fmt.Fprintf(&b, "- Outside year range: %d\n\n", s.Trimmed)

	b.WriteString("## Fusion\n")
	fmt.Fprintf(&b, "- Fused groups: %d\n", s.Fused)
	fmt.Fprintf(&b, "- Accepted: %d\n", s.Accepted)
	fmt.Fprintf(&b, "- Rejected: %d\n", s.Rejected)
	for _, rule := range sortedCountKeys(s.RejectReasons) {
		fmt.Fprintf(&b, "  - %s: %d\n", rule, s.RejectReasons[rule])
	}
	b.WriteString("\n")

	if len(s.VariableRows) > 0 {
		b.WriteString("## Variables\n")
		for _, name := range sortedCountKeys(s.VariableRows) {
			fmt.Fprintf(&b, "- %s: %d rows\n", name, s.VariableRows[name])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Elapsed: %s\n", s.Elapsed.Round(time.Millisecond))
	return b.String()
}

func sortedCountKeys(m map[string]int64) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
