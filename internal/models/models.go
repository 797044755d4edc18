package models

import (
	"fmt"
	"time"
)

// TableConfig is one table section from the duplicates config file. It is
// loaded once per run and immutable for the run's duration.
type TableConfig struct {
	Section         string
	Database        string
	Table           string
	UniqueKey       string
	Host            string
	ReplicationTask string
}

// Ref returns the fully-qualified table reference used in queries.
func (t TableConfig) Ref() string {
	return fmt.Sprintf("%s.%s", t.Database, t.Table)
}

// SideRef returns the name of the transient side table the remover stages
// surviving rows into.
func (t TableConfig) SideRef() string {
	return t.Ref() + "_duplicates"
}

// DuplicateRow is one group of rows sharing (dateCreated, unique key).
// Values are carried as text: the job only formats them for reports, it
// never computes on them.
type DuplicateRow struct {
	DateCreated string
	Key         string
	Count       int64
}

// Action distinguishes the two entry points in journal records.
type Action string

const (
	ActionCheck  Action = "check"
	ActionRemove Action = "remove"
)

// Outcome is the terminal state of one table in one run.
type Outcome string

const (
	OutcomeClean   Outcome = "clean"
	OutcomeAlerted Outcome = "alerted"
	OutcomeRemoved Outcome = "removed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// RunRecord is one journal entry: what happened to one table in one run.
type RunRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	Table         string    `json:"table"`
	Outcome       Outcome   `json:"outcome"`
	DuplicateRows int64     `json:"duplicate_rows"`
	RowsRemoved   int64     `json:"rows_removed"`
	Detail        string    `json:"detail,omitempty"`
}
