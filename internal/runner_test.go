package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yodahq/dropduplicates/internal/config"
	"github.com/yodahq/dropduplicates/internal/dbtest"
	"github.com/yodahq/dropduplicates/internal/journal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const twoTableConfig = `[redshift]
host = lake.example.com
port = 5439
database = lake
user = loader
password = secret

[table_orders]
database = sales
table = orders
unique_key = order_id
host = prod-db-01
replication_task = orders-cdc

[table_events]
database = analytics
table = events
unique_key = event_id
host = prod-db-02
replication_task = events-cdc
`

type recordingNotifier struct {
	subjects []string
	bodies   []string
}

func (r *recordingNotifier) Notify(_ context.Context, subject, body string) error {
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, body)
	return nil
}

func newRunner(t *testing.T, q *dbtest.FakeQuerier, n *recordingNotifier) *Runner {
	t.Helper()

	path := filepath.Join(t.TempDir(), "r_duplicates.ini")
	require.NoError(t, os.WriteFile(path, []byte(twoTableConfig), 0644))
	tables, err := config.NewLoader(path)
	require.NoError(t, err)

	return &Runner{
		Logger:      zap.NewNop(),
		Tables:      tables,
		ConnSection: "redshift",
		TablePrefix: "table_",
		Notifier:    n,
		Querier:     q,
	}
}

func TestCheckAlertsOnlyTablesWithDuplicates(t *testing.T) {
	q := &dbtest.FakeQuerier{
		Results: map[string][][]any{
			"FROM sales.orders": {{"2024-01-01", "5", int64(3)}},
		},
	}
	n := &recordingNotifier{}
	r := newRunner(t, q, n)

	failed, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)

	require.Len(t, n.subjects, 1, "clean tables must not be alerted")
	assert.Contains(t, n.subjects[0], "Duplicate(s) found in sales.orders")
	assert.Contains(t, n.bodies[0], "1 row(s) affected: with 3 duplicates per row")

	assert.Len(t, q.Queries, 2, "both configured tables must be scanned")
	assert.Empty(t, q.Execs, "the checker never mutates data")
}

func TestCheckContinuesPastFailedTable(t *testing.T) {
	q := &dbtest.FakeQuerier{
		Errs: map[string]error{"FROM sales.orders": errors.New("relation does not exist")},
	}
	n := &recordingNotifier{}
	r := newRunner(t, q, n)

	failed, err := r.Check(context.Background())
	require.NoError(t, err, "a per-table failure must not abort the run")
	assert.Equal(t, 1, failed)

	require.Len(t, n.subjects, 1)
	assert.Equal(t, "Error Checking Duplicates", n.subjects[0])
	assert.Contains(t, n.bodies[0], "sales.orders")

	assert.Len(t, q.Queries, 2, "the second table must still be processed")
}

func TestCheckWritesReportFile(t *testing.T) {
	q := &dbtest.FakeQuerier{
		Results: map[string][][]any{
			"FROM sales.orders": {{"2024-01-01", "5", int64(3)}},
		},
	}
	r := newRunner(t, q, &recordingNotifier{})
	reportPath := filepath.Join(t.TempDir(), "report.txt")
	r.ReportFile = reportPath

	_, err := r.Check(context.Background())
	require.NoError(t, err)

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Duplicate(s) found in sales.orders")
}

func TestCheckSuppressesUnchangedFindings(t *testing.T) {
	q := &dbtest.FakeQuerier{
		Results: map[string][][]any{
			"FROM sales.orders": {{"2024-01-01", "5", int64(3)}},
		},
	}
	n := &recordingNotifier{}
	r := newRunner(t, q, n)

	jnl, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer jnl.Close()
	r.Journal = jnl
	r.SuppressRepeats = true

	_, err = r.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, n.subjects, 1, "first sighting must alert")

	_, err = r.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, n.subjects, 1, "unchanged findings must not re-alert")
}

func TestRemoveDeduplicatesAndNotifies(t *testing.T) {
	q := &dbtest.FakeQuerier{
		Results: map[string][][]any{
			"FROM sales.orders\n": {{"2024-01-01", "5", int64(3)}},
		},
		Tags: map[string]string{
			"DELETE FROM": "DELETE 3",
			"INSERT INTO": "INSERT 0 1",
		},
	}
	n := &recordingNotifier{}
	r := newRunner(t, q, n)

	failed, err := r.Remove(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)

	require.Len(t, n.subjects, 1)
	assert.Equal(t, "Duplicate Removal Notification for sales.orders", n.subjects[0])
	assert.Contains(t, n.bodies[0], "Rows removed: 2")

	assert.NotEmpty(t, q.ExecsMatching("DELETE FROM sales.orders"))
	assert.NotEmpty(t, q.ExecsMatching("DROP TABLE sales.orders_duplicates"))
	assert.Empty(t, q.ExecsMatching("analytics.events"), "clean tables are left untouched")
}

func TestRemoveSecondRunIsNoop(t *testing.T) {
	// After a successful removal the detector finds nothing, so a second
	// run must not mutate anything.
	q := &dbtest.FakeQuerier{}
	n := &recordingNotifier{}
	r := newRunner(t, q, n)

	failed, err := r.Remove(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Empty(t, n.subjects)
	assert.Empty(t, q.Execs)
}

func TestRemoveDryRun(t *testing.T) {
	q := &dbtest.FakeQuerier{
		Results: map[string][][]any{
			"FROM sales.orders\n": {{"2024-01-01", "5", int64(3)}},
		},
	}
	n := &recordingNotifier{}
	r := newRunner(t, q, n)
	r.DryRun = true

	failed, err := r.Remove(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Empty(t, q.Execs, "dry run must not mutate anything")
}

func TestRemoveContinuesPastFailedTable(t *testing.T) {
	q := &dbtest.FakeQuerier{
		Results: map[string][][]any{
			"FROM sales.orders\n":     {{"2024-01-01", "5", int64(3)}},
			"FROM analytics.events\n": {{"2024-02-01", "9", int64(2)}},
		},
		Errs: map[string]error{"DELETE FROM sales.orders": errors.New("lock timeout")},
		Tags: map[string]string{
			"DELETE FROM analytics.events": "DELETE 2",
			"INSERT INTO analytics.events": "INSERT 0 1",
		},
	}
	n := &recordingNotifier{}
	r := newRunner(t, q, n)

	failed, err := r.Remove(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	require.Len(t, n.subjects, 2)
	assert.Equal(t, "Error Removing Duplicates", n.subjects[0])
	assert.Contains(t, n.bodies[0], "sales.orders")
	assert.Equal(t, "Duplicate Removal Notification for analytics.events", n.subjects[1])
}

func TestMissingConnectionSectionIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r_duplicates.ini")
	require.NoError(t, os.WriteFile(path, []byte("[table_orders]\ndatabase = sales\ntable = orders\nunique_key = order_id\n"), 0644))
	tables, err := config.NewLoader(path)
	require.NoError(t, err)

	r := &Runner{
		Logger:      zap.NewNop(),
		Tables:      tables,
		ConnSection: "redshift",
		TablePrefix: "table_",
		Notifier:    &recordingNotifier{},
	}

	_, err = r.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redshift")
}
