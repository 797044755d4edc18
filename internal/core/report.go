package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yodahq/dropduplicates/internal/models"

	"lukechampine.com/blake3"
)

// Report is the formatted finding for one table with duplicates.
type Report struct {
	Table     models.TableConfig
	TotalRows int64
	Summary   string
}

// GroupByCount buckets detector rows by how many times each key appeared.
func GroupByCount(rows []models.DuplicateRow) map[int64][]string {
	grouped := make(map[int64][]string, len(rows))
	for _, r := range rows {
		grouped[r.Count] = append(grouped[r.Count], r.Key)
	}
	return grouped
}

// BuildReport turns detector output into the human-readable summary carried
// by alerts. Counts are emitted in ascending order so two runs over the same
// data produce byte-identical summaries.
func BuildReport(table models.TableConfig, rows []models.DuplicateRow) Report {
	grouped := GroupByCount(rows)

	counts := make([]int64, 0, len(grouped))
	for c := range grouped {
		counts = append(counts, c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "Duplicates found in %s:\n", table.Ref())
	for _, c := range counts {
		fmt.Fprintf(&b, "%d row(s) affected: with %d duplicates per row\n", len(grouped[c]), c)
	}

	return Report{
		Table:     table,
		TotalRows: int64(len(rows)),
		Summary:   b.String(),
	}
}

// Body renders the alert body, matching the fields operators grep for in
// their mailboxes.
func (r Report) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Duplicate(s) found in %s.\n\n", r.Table.Ref())
	b.WriteString("DETAILS:\n")
	fmt.Fprintf(&b, "Source Host: %s\n", r.Table.Host)
	fmt.Fprintf(&b, "Source Replication Task: %s\n", r.Table.ReplicationTask)
	fmt.Fprintf(&b, "Source Database: %s\n", r.Table.Database)
	fmt.Fprintf(&b, "Source Table: %s\n", r.Table.Table)
	fmt.Fprintf(&b, "Source Column: %s\n\n", r.Table.UniqueKey)
	fmt.Fprintf(&b, "Total number of rows = %d\n\n", r.TotalRows)
	b.WriteString(r.Summary)
	return b.String()
}

// Fingerprint digests the duplicate set so the checker can tell whether a
// table's findings changed since the previous run.
func (r Report) Fingerprint() string {
	sum := blake3.Sum256([]byte(r.Summary))
	return fmt.Sprintf("%x", sum)
}
