package storage

import (
	"fmt"
	"strings"
)

// Dialect selects the handful of statements that differ between backends.
type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// ParseDialect accepts the names operators commonly pass for a backend.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb", "dolt":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
}

// Concat joins SQL expressions into one string expression.
func (d Dialect) Concat(parts ...string) string {
	if d == MySQL {
		return "CONCAT(" + strings.Join(parts, ", ") + ")"
	}
	return strings.Join(parts, " || ")
}

// Truncate empties a table.
func (d Dialect) Truncate(table string) string {
	if d == MySQL {
		return "TRUNCATE TABLE " + table
	}
	return "DELETE FROM " + table
}

// DisableKeys returns the statement that suspends index maintenance on
// table, or "" when the backend has none.
func (d Dialect) DisableKeys(table string) string {
	if d == MySQL {
		return "ALTER TABLE " + table + " DISABLE KEYS"
	}
	return ""
}

// EnableKeys undoes DisableKeys.
func (d Dialect) EnableKeys(table string) string {
	if d == MySQL {
		return "ALTER TABLE " + table + " ENABLE KEYS"
	}
	return ""
}

// ResetExpr is the right-hand side that resets col to its default in an
// UPDATE. SQLite has no DEFAULT keyword there, so the declared expression
// is inlined.
func (d Dialect) ResetExpr(col Column) string {
	if d == MySQL {
		return "DEFAULT"
	}
	if col.Default == nil {
		return "NULL"
	}
	return *col.Default
}

// Upsert builds an insert that replaces the row sharing key's value.
func (d Dialect) Upsert(table, key string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	var sets []string
	for _, c := range cols {
		if c == key {
			continue
		}
		if d == MySQL {
			sets = append(sets, c+" = VALUES("+c+")")
		} else {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	q := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + marks + ")"
	if d == MySQL {
		return q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return q + " ON CONFLICT(" + key + ") DO UPDATE SET " + strings.Join(sets, ", ")
}
