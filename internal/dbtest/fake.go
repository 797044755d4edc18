// Package dbtest provides an in-memory stand-in for the database connection
// so SQL sequencing can be asserted without a server.
package dbtest

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FakeQuerier implements db.Querier. Behavior is keyed by SQL substring:
// the first entry whose key appears in the statement wins, so tests should
// use disjoint keys.
type FakeQuerier struct {
	Queries   []string
	Execs     []string
	Begins    int
	Commits   int
	Rollbacks int

	// Results maps an SQL substring to canned row values for Query.
	Results map[string][][]any
	// Tags maps an SQL substring to a command-tag string such as "DELETE 3".
	Tags map[string]string
	// Errs maps an SQL substring to the error any matching statement fails with.
	Errs map[string]error

	BeginErr  error
	CommitErr error
}

func matchErr(m map[string]error, sql string) error {
	for k, v := range m {
		if strings.Contains(sql, k) {
			return v
		}
	}
	return nil
}

func (f *FakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.Queries = append(f.Queries, sql)
	if err := matchErr(f.Errs, sql); err != nil {
		return nil, err
	}
	for k, rows := range f.Results {
		if strings.Contains(sql, k) {
			return &FakeRows{rows: rows}, nil
		}
	}
	return &FakeRows{}, nil
}

func (f *FakeQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.Execs = append(f.Execs, sql)
	if err := matchErr(f.Errs, sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	for k, tag := range f.Tags {
		if strings.Contains(sql, k) {
			return pgconn.NewCommandTag(tag), nil
		}
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (f *FakeQuerier) Begin(context.Context) (pgx.Tx, error) {
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	f.Begins++
	return &FakeTx{q: f}, nil
}

// ExecsMatching returns the recorded Exec statements containing substr.
func (f *FakeQuerier) ExecsMatching(substr string) []string {
	var out []string
	for _, e := range f.Execs {
		if strings.Contains(e, substr) {
			out = append(out, e)
		}
	}
	return out
}

// FakeTx routes statements back to the parent querier and counts
// commits/rollbacks there.
type FakeTx struct {
	q *FakeQuerier
}

func (t *FakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.q.Exec(ctx, sql, args...)
}

func (t *FakeTx) Commit(context.Context) error {
	if t.q.CommitErr != nil {
		return t.q.CommitErr
	}
	t.q.Commits++
	return nil
}

func (t *FakeTx) Rollback(context.Context) error {
	t.q.Rollbacks++
	return nil
}

func (t *FakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported by fake")
}

func (t *FakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.q.Query(ctx, sql, args...)
}

func (t *FakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("QueryRow not supported by fake")
}

func (t *FakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("CopyFrom not supported by fake")
}

func (t *FakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("SendBatch not supported by fake")
}

func (t *FakeTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *FakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("Prepare not supported by fake")
}

func (t *FakeTx) Conn() *pgx.Conn { return nil }

// FakeRows yields canned values. Scan targets must be *string, *int or
// *int64, matching how the job reads detector output.
type FakeRows struct {
	rows [][]any
	i    int
	err  error
}

func (r *FakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *FakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = fmt.Sprintf("%v", row[i])
		case *int64:
			switch n := row[i].(type) {
			case int64:
				*v = n
			case int:
				*v = int64(n)
			default:
				return fmt.Errorf("scan: cannot put %T into *int64", row[i])
			}
		case *int:
			*v = row[i].(int)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func (r *FakeRows) Close()                                       {}
func (r *FakeRows) Err() error                                   { return r.err }
func (r *FakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *FakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *FakeRows) Values() ([]any, error)                       { return r.rows[r.i-1], nil }
func (r *FakeRows) RawValues() [][]byte                          { return nil }
func (r *FakeRows) Conn() *pgx.Conn                              { return nil }
