// Package sqlstore implements storage.Store on database/sql, using
// go-sql-driver/mysql for MySQL-compatible servers and modernc.org/sqlite
// for local files.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/nagimport/ocimp/internal/storage"
)

// Store holds one dedicated connection for the whole import session.
type Store struct {
	db      *sql.DB
	conn    *sql.Conn
	dialect storage.Dialect
	inTx    bool

	mu      sync.Mutex
	columns map[string][]storage.Column
}

var _ storage.Store = (*Store)(nil)

// Open connects to the datastore described by cfg, retrying transient
// connection failures.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver, dsn, err := cfg.driver()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Dialect, err)
	}
	// One connection: SQLite in-memory databases live per connection and
	// the importer never needs more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	window := cfg.RetryWindow
	if window == 0 {
		window = defaultRetryWindow
	}
	if err := withRetry(ctx, window, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Dialect, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Store{
		db:      db,
		conn:    conn,
		dialect: cfg.Dialect,
		columns: make(map[string][]storage.Column),
	}, nil
}

func (s *Store) Dialect() storage.Dialect { return s.dialect }

func (s *Store) begin(ctx context.Context) error {
	if s.inTx {
		return nil
	}
	stmt := "BEGIN"
	if s.dialect == storage.MySQL {
		stmt = "START TRANSACTION"
	}
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.inTx = true
	return nil
}

func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *Store) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

func (s *Store) Commit(ctx context.Context) error {
	if !s.inTx {
		return nil
	}
	s.inTx = false
	if _, err := s.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Rollback(ctx context.Context) error {
	if !s.inTx {
		return nil
	}
	s.inTx = false
	if _, err := s.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Quote escapes s as a single-quoted literal. MySQL additionally treats
// backslash as an escape character.
func (s *Store) Quote(v string) string {
	if s.dialect == storage.MySQL {
		v = strings.ReplaceAll(v, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (s *Store) Columns(ctx context.Context, table string) ([]storage.Column, error) {
	s.mu.Lock()
	cached, ok := s.columns[table]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	var query string
	switch s.dialect {
	case storage.MySQL:
		query = `SELECT COLUMN_NAME, COLUMN_DEFAULT FROM information_schema.COLUMNS
			WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`
	case storage.SQLite:
		query = `SELECT name, dflt_value FROM pragma_table_info(?)`
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnsupportedDialect, s.dialect)
	}

	rows, err := s.conn.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []storage.Column
	for rows.Next() {
		var name string
		var def sql.NullString
		if err := rows.Scan(&name, &def); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		c := storage.Column{Name: strings.ToLower(name)}
		if def.Valid {
			d := def.String
			if s.dialect == storage.MySQL {
				d = s.Quote(d)
			}
			c.Default = &d
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}

	s.mu.Lock()
	s.columns[table] = cols
	s.mu.Unlock()
	return cols, nil
}

func (s *Store) Close() error {
	var firstErr error
	if s.inTx {
		if err := s.Rollback(context.Background()); err != nil {
			firstErr = err
		}
	}
	if err := s.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func (r *sqlRows) Next() bool   { return r.rows.Next() }
func (r *sqlRows) Err() error   { return r.rows.Err() }
func (r *sqlRows) Close() error { return r.rows.Close() }

func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
	return vals, nil
}

func (r *sqlRows) Map() (map[string]any, error) {
	vals, err := r.Values()
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, len(vals))
	for i, c := range r.cols {
		m[strings.ToLower(c)] = vals[i]
	}
	return m, nil
}

const defaultRetryWindow = 30 * time.Second

func newRetryBackoff(window time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = window
	return bo
}

// isRetryableError reports whether err is a transient connection failure.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
		"gone away",
		"i/o timeout",
		"database is locked",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

func withRetry(ctx context.Context, window time.Duration, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newRetryBackoff(window), ctx))
}
