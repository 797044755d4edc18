package db

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/yodahq/dropduplicates/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the slice of pgx.Conn the detector and remover need. It exists
// so SQL sequencing can be tested without a server.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect opens the single connection used for the whole run. Redshift does
// not fully support the extended query protocol, so the simple protocol is
// forced on the DSN.
func Connect(ctx context.Context, c config.Conn) (*pgx.Conn, error) {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "default_query_exec_mode=simple_protocol",
	}

	conn, err := pgx.Connect(ctx, dsn.String())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s:%d/%s: %w", c.Host, c.Port, c.Database, err)
	}
	return conn, nil
}

// Table and column names come from the duplicates config file and are
// interpolated into SQL as-is: they are trusted schema identifiers supplied
// by the operator, not user input. ValidIdent is the allow-list that keeps
// that trust boundary honest.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidIdent reports whether s is safe to interpolate as a bare SQL
// identifier. A single dot is allowed so schema-qualified table references
// pass as one value.
func ValidIdent(s string) bool {
	if s == "" {
		return false
	}
	seenDot := false
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if i < len(s) {
				if seenDot {
					return false
				}
				seenDot = true
			}
			if !identPattern.MatchString(s[start:i]) {
				return false
			}
			start = i + 1
		}
	}
	return true
}

// CheckIdents validates every identifier, returning an error naming the
// first offender.
func CheckIdents(idents ...string) error {
	for _, id := range idents {
		if !ValidIdent(id) {
			return fmt.Errorf("invalid SQL identifier %q in table configuration", id)
		}
	}
	return nil
}
