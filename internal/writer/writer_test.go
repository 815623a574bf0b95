package writer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nagimport/ocimp/internal/objects"
	"github.com/nagimport/ocimp/internal/storage"
	"github.com/nagimport/ocimp/internal/storage/schema"
	"github.com/nagimport/ocimp/internal/storage/sqlstore"
)

func setup(t *testing.T, opts Options) (*Writer, storage.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.Config{Dialect: storage.SQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, schema.Apply(ctx, s))

	cat, err := objects.DefaultCatalog()
	require.NoError(t, err)
	return New(s, cat, zaptest.NewLogger(t), opts), s
}

func count(t *testing.T, s storage.Store, query string, args ...any) int64 {
	t.Helper()
	n, err := storage.QueryInt64(context.Background(), s, query, args...)
	require.NoError(t, err)
	return n
}

func value(t *testing.T, s storage.Store, query string, args ...any) any {
	t.Helper()
	rows, err := s.Query(context.Background(), query, args...)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next(), query)
	vals, err := rows.Values()
	require.NoError(t, err)
	return vals[0]
}

func host(id int64, name string, fresh bool) *objects.Record {
	rec := objects.NewRecord(objects.Host)
	rec.ID = id
	rec.Fresh = fresh
	rec.Set("host_name", name)
	rec.Set("address", "10.0.0."+name[len(name)-1:])
	return rec
}

func TestWriteInsertsRowJunctionsAndCustomVars(t *testing.T) {
	ctx := context.Background()
	w, s := setup(t, Options{})

	rec := host(1, "web1", true)
	rec.Multi["contacts"] = []int64{3, 2, 3}
	rec.SetCustom("_SLA", "99.9")
	require.NoError(t, w.Write(ctx, rec))

	assert.Equal(t, "web1", value(t, s, "SELECT host_name FROM host WHERE id = 1"))
	assert.Equal(t, int64(2), count(t, s, "SELECT COUNT(*) FROM host_contact WHERE host = 1"))
	assert.Equal(t, "99.9", value(t, s, "SELECT value FROM custom_vars WHERE obj_type = 'host' AND obj_id = 1 AND variable = '_SLA'"))

	again := host(1, "web1", false)
	again.Multi["contacts"] = []int64{2}
	again.SetCustom("_SLA", "95")
	require.NoError(t, w.Write(ctx, again))

	assert.Equal(t, int64(1), count(t, s, "SELECT COUNT(*) FROM host"))
	assert.Equal(t, int64(1), count(t, s, "SELECT COUNT(*) FROM host_contact WHERE host = 1"))
	assert.Equal(t, int64(1), count(t, s, "SELECT COUNT(*) FROM custom_vars"))
	assert.Equal(t, "95", value(t, s, "SELECT value FROM custom_vars WHERE obj_id = 1"))

	st := w.Stats()
	assert.Equal(t, 2, st.Written)
	assert.Equal(t, 0, st.Errors)
	assert.True(t, w.Touched(objects.Host, 1))
}

func TestUpdateResetsCleanColumns(t *testing.T) {
	ctx := context.Background()
	w, s := setup(t, Options{})

	rec := host(1, "web1", true)
	rec.Set("notes", "runbook")
	rec.Set("alias", "Web")
	require.NoError(t, w.Write(ctx, rec))

	// notes vanished from the definition, alias was never a clean column
	upd := host(1, "web1", false)
	require.NoError(t, w.Write(ctx, upd))

	assert.Equal(t, "", value(t, s, "SELECT notes FROM host WHERE id = 1"))
	assert.Equal(t, "Web", value(t, s, "SELECT alias FROM host WHERE id = 1"))
}

func TestFailedRecordIsIsolated(t *testing.T) {
	ctx := context.Background()
	w, s := setup(t, Options{})

	bad := host(1, "web1", false)
	bad.Set("no_such_column", "x")
	good := host(2, "web2", true)

	require.NoError(t, w.Write(ctx, bad))
	require.NoError(t, w.Write(ctx, good))
	require.NoError(t, s.Commit(ctx))

	st := w.Stats()
	assert.Equal(t, 1, st.Errors)
	assert.Equal(t, 1, st.Written)
	assert.False(t, w.Touched(objects.Host, 1))
	assert.Equal(t, int64(1), count(t, s, "SELECT COUNT(*) FROM host"))
	assert.ElementsMatch(t, []int64{1, 2}, w.keepSet(objects.Host))
}

func TestInvalidAttributeNameRejected(t *testing.T) {
	ctx := context.Background()
	w, _ := setup(t, Options{})

	rec := host(1, "web1", true)
	rec.Set("alias) VALUES (1); --", "x")
	require.NoError(t, w.Write(ctx, rec))
	assert.Equal(t, 1, w.Stats().Errors)
}

func TestStatusOnlyRefreshesExisting(t *testing.T) {
	ctx := context.Background()
	w, s := setup(t, Options{})
	existing := host(1, "web1", true)
	existing.Set("notes", "keep me")
	require.NoError(t, w.Write(ctx, existing))
	require.NoError(t, s.Commit(ctx))

	w.SetStatusOnly(true)
	w.opts.MarkPending = true

	st := objects.NewRecord(objects.Host)
	st.ID = 1
	st.Set("host_name", "web1")
	st.Set("current_state", "0")
	st.Set("has_been_checked", "0")
	require.NoError(t, w.Write(ctx, st))

	unknown := host(7, "ghost", true)
	require.NoError(t, w.Write(ctx, unknown))

	assert.Equal(t, int64(6), value(t, s, "SELECT current_state FROM host WHERE id = 1"))
	assert.Equal(t, "keep me", value(t, s, "SELECT notes FROM host WHERE id = 1"))
	assert.Equal(t, int64(1), count(t, s, "SELECT COUNT(*) FROM host"))
	assert.Equal(t, 1, w.Stats().Skipped)

	n, err := w.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotTypes(t *testing.T) {
	ctx := context.Background()
	w, s := setup(t, Options{StatusOnly: true})

	ps := objects.NewRecord(objects.ProgramStatus)
	ps.ID = 1
	ps.Set("nagios_pid", "4242")
	require.NoError(t, w.Write(ctx, ps))
	require.NoError(t, w.Write(ctx, ps))

	hc := objects.NewRecord(objects.Comment)
	hc.ID = 1
	hc.Set("host_name", "web1")
	hc.Set("author_name", "ops")
	sc := objects.NewRecord(objects.Comment)
	sc.ID = 2
	sc.Set("host_name", "web1")
	sc.Set("service_description", "HTTP")
	require.NoError(t, w.Write(ctx, hc))
	require.NoError(t, w.Write(ctx, sc))

	sd := objects.NewRecord(objects.Downtime)
	sd.ID = 1
	sd.Set("host_name", "web1")
	sd.Set("service_description", "HTTP")
	require.NoError(t, w.Write(ctx, sd))

	assert.Equal(t, int64(1), count(t, s, "SELECT COUNT(*) FROM program_status"))
	assert.Equal(t, localInstanceName, value(t, s, "SELECT instance_name FROM program_status WHERE instance_id = 0"))
	assert.Equal(t, int64(1), value(t, s, "SELECT comment_type FROM comment_tbl WHERE id = 1"))
	assert.Equal(t, int64(2), value(t, s, "SELECT comment_type FROM comment_tbl WHERE id = 2"))
	assert.Equal(t, int64(1), value(t, s, "SELECT downtime_type FROM scheduled_downtime WHERE id = 1"))
	assert.Zero(t, w.Stats().Errors)
}

func TestPurgeRemovesUntouched(t *testing.T) {
	ctx := context.Background()
	seed, s := setup(t, Options{})
	for i, name := range []string{"web1", "web2", "web3"} {
		rec := host(int64(i+1), name, true)
		rec.SetCustom("_ROLE", "web")
		require.NoError(t, seed.Write(ctx, rec))
	}
	hg := objects.NewRecord(objects.HostGroup)
	hg.ID = 1
	hg.Fresh = true
	hg.Set("hostgroup_name", "web")
	hg.Multi["members"] = []int64{1, 2, 3}
	require.NoError(t, seed.Write(ctx, hg))
	require.NoError(t, s.Commit(ctx))

	cat, err := objects.DefaultCatalog()
	require.NoError(t, err)
	w := New(s, cat, zaptest.NewLogger(t), Options{})
	require.NoError(t, w.Write(ctx, host(1, "web1", false)))
	require.NoError(t, w.Write(ctx, host(3, "web3", false)))
	hg.Multi["members"] = []int64{1, 2, 3}
	hg.Fresh = false
	require.NoError(t, w.Write(ctx, hg))

	n, err := w.Purge(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(0), count(t, s, "SELECT COUNT(*) FROM host WHERE id = 2"))
	assert.Equal(t, int64(2), count(t, s, "SELECT COUNT(*) FROM host_hostgroup"))
	assert.Equal(t, int64(0), count(t, s, "SELECT COUNT(*) FROM custom_vars WHERE obj_id = 2"))
}

func TestPurgeWithNothingTouchedEmptiesTable(t *testing.T) {
	ctx := context.Background()
	w, s := setup(t, Options{})
	_, err := s.Exec(ctx, "INSERT INTO command (id, command_name) VALUES (1, 'old')")
	require.NoError(t, err)

	_, err = w.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count(t, s, "SELECT COUNT(*) FROM command"))
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	w, s := setup(t, Options{DryRun: true})
	require.NoError(t, w.Write(ctx, host(1, "web1", true)))
	n, err := w.Purge(ctx)
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.Equal(t, 1, w.Stats().Written)
	assert.Equal(t, int64(0), count(t, s, "SELECT COUNT(*) FROM host"))
}

func TestWriteHonoursCancellation(t *testing.T) {
	w, _ := setup(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Write(ctx, host(1, "web1", true)), context.Canceled)
}

func TestPurgeStatement(t *testing.T) {
	assert.Equal(t, "DELETE FROM host", purgeStatement("host", nil))
	assert.Equal(t, "DELETE FROM host WHERE id NOT IN (1,2)", purgeStatement("host", []int64{1, 2}))

	ids := make([]int64, purgeChunk+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	q := purgeStatement("service", ids)
	assert.Equal(t, 2, strings.Count(q, "NOT IN"))
	assert.True(t, strings.HasSuffix(q, " AND id NOT IN (1001)"), q)
}
