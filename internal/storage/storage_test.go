package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	for _, in := range []string{"mysql", "MariaDB", " dolt "} {
		d, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, MySQL, d)
	}
	for _, in := range []string{"sqlite", "sqlite3"} {
		d, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, SQLite, d)
	}
	_, err := ParseDialect("oci")
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestDialectStatements(t *testing.T) {
	assert.Equal(t, "CONCAT(host_name, ';', service_description)",
		MySQL.Concat("host_name", "';'", "service_description"))
	assert.Equal(t, "host_name || ';' || service_description",
		SQLite.Concat("host_name", "';'", "service_description"))

	assert.Equal(t, "TRUNCATE TABLE comment_tbl", MySQL.Truncate("comment_tbl"))
	assert.Equal(t, "DELETE FROM comment_tbl", SQLite.Truncate("comment_tbl"))

	assert.Equal(t, "ALTER TABLE host DISABLE KEYS", MySQL.DisableKeys("host"))
	assert.Equal(t, "", SQLite.DisableKeys("host"))
	assert.Equal(t, "ALTER TABLE host ENABLE KEYS", MySQL.EnableKeys("host"))
	assert.Equal(t, "", SQLite.EnableKeys("host"))
}

func TestResetExpr(t *testing.T) {
	def := "''"
	assert.Equal(t, "DEFAULT", MySQL.ResetExpr(Column{Name: "notes"}))
	assert.Equal(t, "''", SQLite.ResetExpr(Column{Name: "notes", Default: &def}))
	assert.Equal(t, "NULL", SQLite.ResetExpr(Column{Name: "notes"}))
}

func TestUpsert(t *testing.T) {
	cols := []string{"kind", "last_import"}
	assert.Equal(t,
		"INSERT INTO import_marker (kind, last_import) VALUES (?, ?) ON DUPLICATE KEY UPDATE last_import = VALUES(last_import)",
		MySQL.Upsert("import_marker", "kind", cols))
	assert.Equal(t,
		"INSERT INTO import_marker (kind, last_import) VALUES (?, ?) ON CONFLICT(kind) DO UPDATE SET last_import = excluded.last_import",
		SQLite.Upsert("import_marker", "kind", cols))
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
	}{
		{int64(4), 4},
		{int(5), 5},
		{float64(6), 6},
		{"7", 7},
		{[]byte("8"), 8},
	}
	for _, tt := range tests {
		got, err := AsInt64(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := AsInt64(struct{}{})
	assert.Error(t, err)
	_, err = AsInt64("x")
	assert.Error(t, err)
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, "a", AsString("a"))
	assert.Equal(t, "b", AsString([]byte("b")))
	assert.Equal(t, "3", AsString(int64(3)))
}
