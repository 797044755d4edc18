// Package journal keeps a local history of run outcomes in a bolt file.
// It is bookkeeping, not a system of record: callers treat every failure
// here as a logging matter and carry on.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yodahq/dropduplicates/internal/models"

	"github.com/boltdb/bolt"
	homedir "github.com/mitchellh/go-homedir"
)

var (
	runsBucket         = []byte("runs")
	fingerprintsBucket = []byte("fingerprints")
)

type Journal struct {
	db *bolt.DB
}

// Open opens (creating if needed) the journal file, expanding ~ in path.
func Open(path string) (*Journal, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding journal path %q: %w", path, err)
	}

	db, err := bolt.Open(expanded, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", expanded, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{runsBucket, fingerprintsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing journal %s: %w", expanded, err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one table outcome. Keys are timestamp-prefixed so bolt's
// key order is chronological.
func (j *Journal) Record(rec models.RunRecord) error {
	marshalled, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := []byte(fmt.Sprintf("%s|%s|%s", rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Action, rec.Table))
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put(key, marshalled)
	})
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(n int) ([]models.RunRecord, error) {
	var recs []models.RunRecord

	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(recs) < n; k, v = c.Prev() {
			var rec models.RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return recs, nil
}

// LastFingerprint returns the report fingerprint stored for a table, or ""
// if none was recorded yet.
func (j *Journal) LastFingerprint(table string) (string, error) {
	var fp string
	err := j.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(fingerprintsBucket).Get([]byte(table)); v != nil {
			fp = string(v)
		}
		return nil
	})
	return fp, err
}

// SetFingerprint stores the latest report fingerprint for a table.
func (j *Journal) SetFingerprint(table, fp string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fingerprintsBucket).Put([]byte(table), []byte(fp))
	})
}
