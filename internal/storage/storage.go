// Package storage defines the datastore boundary of the importer.
//
// The importer needs very little from the relational store: execute a
// statement, iterate result rows positionally or by column name, quote a
// literal and ask which columns a table declares. The database/sql backed
// implementation lives in the sqlstore sub-package.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDialect is returned for datastores the importer cannot drive.
var ErrUnsupportedDialect = errors.New("unsupported datastore dialect")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Column describes one declared column of a table. Default holds the SQL
// expression of the column default, or nil when there is none.
type Column struct {
	Name    string
	Default *string
}

// Rows iterates a result set. Values and Map read the current row.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Map() (map[string]any, error)
	Err() error
	Close() error
}

// Store is the session-scoped datastore handle.
//
// Statements run inside one implicit transaction that is opened by the first
// statement and ended by Commit.
type Store interface {
	Dialect() Dialect

	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)

	// Quote returns s as a string literal safe for inline use.
	Quote(s string) string

	// Columns lists the declared columns of table. Results are cached for
	// the lifetime of the store.
	Columns(ctx context.Context, table string) ([]Column, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// ColumnSet returns the lower-cased column names of table as a set.
func ColumnSet(ctx context.Context, s Store, table string) (map[string]bool, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[strings.ToLower(c.Name)] = true
	}
	return set, nil
}

// QueryInt64 runs a single-value query such as SELECT COUNT(*).
func QueryInt64(ctx context.Context, s Store, query string, args ...any) (int64, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, ErrNotFound
	}
	vals, err := rows.Values()
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 || vals[0] == nil {
		return 0, ErrNotFound
	}
	n, err := AsInt64(vals[0])
	if err != nil {
		return 0, err
	}
	return n, rows.Err()
}

// AsInt64 converts a scanned column value to int64.
func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		_, err := fmt.Sscan(n, &out)
		return out, err
	case []byte:
		var out int64
		_, err := fmt.Sscan(string(n), &out)
		return out, err
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

// AsString converts a scanned column value to its text form.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}
