package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/yodahq/dropduplicates/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestRecordAndRecent(t *testing.T) {
	j, _ := openTemp(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, table := range []string{"sales.orders", "analytics.events", "sales.refunds"} {
		require.NoError(t, j.Record(models.RunRecord{
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Action:        models.ActionCheck,
			Table:         table,
			Outcome:       models.OutcomeAlerted,
			DuplicateRows: int64(i + 1),
		}))
	}

	recs, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "sales.refunds", recs[0].Table, "newest first")
	assert.Equal(t, "analytics.events", recs[1].Table)
	assert.Equal(t, int64(3), recs[0].DuplicateRows)
}

func TestRecentEmpty(t *testing.T) {
	j, _ := openTemp(t)

	recs, err := j.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFingerprintRoundTrip(t *testing.T) {
	j, _ := openTemp(t)

	fp, err := j.LastFingerprint("sales.orders")
	require.NoError(t, err)
	assert.Empty(t, fp, "no fingerprint before the first run")

	require.NoError(t, j.SetFingerprint("sales.orders", "abc123"))

	fp, err = j.LastFingerprint("sales.orders")
	require.NoError(t, err)
	assert.Equal(t, "abc123", fp)

	fp, err = j.LastFingerprint("sales.other")
	require.NoError(t, err)
	assert.Empty(t, fp, "fingerprints are per table")
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(models.RunRecord{
		Timestamp: time.Now(), Action: models.ActionRemove,
		Table: "sales.orders", Outcome: models.OutcomeRemoved, RowsRemoved: 2,
	}))
	require.NoError(t, j.SetFingerprint("sales.orders", "abc123"))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	recs, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].RowsRemoved)

	fp, err := j.LastFingerprint("sales.orders")
	require.NoError(t, err)
	assert.Equal(t, "abc123", fp)
}
