// Package writer persists linked records and purges what a full import did
// not touch.
package writer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/objects"
	"github.com/nagimport/ocimp/internal/storage"
)

const savepoint = "ocimp_record"

const (
	localInstanceName = "Local Nagios/Merlin instance"

	hostComment     = "1"
	serviceComment  = "2"
	serviceDowntime = "1"
	hostDowntime    = "2"

	statePending = "6"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options controls how records are reconciled with stored rows.
type Options struct {
	// StatusOnly writes a status snapshot: objects are refreshed in place,
	// snapshot tables are filled and nothing is purged.
	StatusOnly bool

	// MarkPending turns never-checked OK states into PENDING in status mode.
	MarkPending bool

	// DryRun counts what would be written without touching the store.
	DryRun bool
}

// Stats summarizes the records handed to a Writer.
type Stats struct {
	Written int
	Errors  int
	Skipped int
	PerType map[objects.Type]int
}

// Writer reconciles records with the store, one savepoint per record.
type Writer struct {
	store storage.Store
	cat   *objects.Catalog
	log   *zap.Logger
	opts  Options

	touched  map[objects.Type]map[int64]bool
	retained map[objects.Type]map[int64]bool
	stats    Stats
}

func New(store storage.Store, cat *objects.Catalog, log *zap.Logger, opts Options) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		store:    store,
		cat:      cat,
		log:      log,
		opts:     opts,
		touched:  make(map[objects.Type]map[int64]bool),
		retained: make(map[objects.Type]map[int64]bool),
		stats:    Stats{PerType: make(map[objects.Type]int)},
	}
}

// SetStatusOnly switches the snapshot semantics on or off. The session
// decides the mode from the first block of a dump.
func (w *Writer) SetStatusOnly(on bool) {
	w.opts.StatusOnly = on
}

// Stats returns a copy of the running counters.
func (w *Writer) Stats() Stats {
	out := w.stats
	out.PerType = make(map[objects.Type]int, len(w.stats.PerType))
	for t, n := range w.stats.PerType {
		out.PerType[t] = n
	}
	return out
}

// Touched reports whether id of type t was written successfully.
func (w *Writer) Touched(t objects.Type, id int64) bool {
	return w.touched[t][id]
}

// Write persists rec under rec.ID. A failing record is rolled back, logged
// and counted; only cancellation or a broken transaction is returned.
func (w *Writer) Write(ctx context.Context, rec *objects.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.skip(rec) {
		w.stats.Skipped++
		return nil
	}
	if w.opts.DryRun {
		w.markTouched(rec)
		return nil
	}

	if _, err := w.store.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	err := w.write(ctx, rec)
	if err == nil {
		if _, err := w.store.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}
		w.markTouched(rec)
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if _, rerr := w.store.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rerr != nil {
		return fmt.Errorf("rollback %s %d: %w (after %v)", rec.Type, rec.ID, rerr, err)
	}
	if _, rerr := w.store.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); rerr != nil {
		return fmt.Errorf("release savepoint: %w", rerr)
	}
	w.stats.Errors++
	if !rec.Fresh {
		w.retain(rec)
	}
	w.log.Warn("failed to write object",
		zap.String("type", rec.Type.String()),
		zap.Int64("id", rec.ID),
		zap.String("name", rec.Name()),
		zap.Int("line", rec.Line),
		zap.Error(err))
	return nil
}

// skip reports records a status snapshot must not create.
func (w *Writer) skip(rec *objects.Record) bool {
	if !w.opts.StatusOnly || !rec.Fresh {
		return false
	}
	switch rec.Type {
	case objects.Host, objects.Service, objects.Contact:
		return true
	}
	return false
}

func (w *Writer) markTouched(rec *objects.Record) {
	set := w.touched[rec.Type]
	if set == nil {
		set = make(map[int64]bool)
		w.touched[rec.Type] = set
	}
	set[rec.ID] = true
	w.stats.Written++
	w.stats.PerType[rec.Type]++
}

func (w *Writer) retain(rec *objects.Record) {
	set := w.retained[rec.Type]
	if set == nil {
		set = make(map[int64]bool)
		w.retained[rec.Type] = set
	}
	set[rec.ID] = true
}

func (w *Writer) write(ctx context.Context, rec *objects.Record) error {
	custom := rec.Custom
	rec.Custom = nil

	for _, col := range rec.Columns() {
		if !identRe.MatchString(col) {
			return fmt.Errorf("invalid attribute name %q", col)
		}
	}

	switch rec.Type {
	case objects.ProgramStatus:
		return w.writeProgramStatus(ctx, rec)
	case objects.Comment:
		rec.Scalars["comment_type"] = hostComment
		if isService(rec) {
			rec.Scalars["comment_type"] = serviceComment
		}
	case objects.Downtime:
		rec.Scalars["downtime_type"] = hostDowntime
		if isService(rec) {
			rec.Scalars["downtime_type"] = serviceDowntime
		}
	}

	if !w.opts.StatusOnly {
		if err := w.writeJunctions(ctx, rec); err != nil {
			return err
		}
	}

	var err error
	if w.updateInPlace(rec) {
		err = w.update(ctx, rec)
	} else {
		err = w.replace(ctx, rec)
	}
	if err != nil {
		return err
	}

	if !w.opts.StatusOnly {
		return w.writeCustomVars(ctx, rec, custom)
	}
	return nil
}

func isService(rec *objects.Record) bool {
	s, ok := rec.String("service_description")
	if ok && s == "" {
		delete(rec.Scalars, "service_description")
	}
	return s != ""
}

func (w *Writer) updateInPlace(rec *objects.Record) bool {
	if rec.Fresh {
		return false
	}
	switch rec.Type {
	case objects.Host, objects.Service:
		return true
	case objects.Contact:
		return w.opts.StatusOnly
	}
	return false
}

func (w *Writer) update(ctx context.Context, rec *objects.Record) error {
	if w.opts.StatusOnly && w.opts.MarkPending && (rec.Type == objects.Host || rec.Type == objects.Service) {
		markPending(rec)
	}

	cols := rec.Columns()
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, rec.Scalars[c])
	}

	if !w.opts.StatusOnly {
		resets, err := w.resets(ctx, rec)
		if err != nil {
			return err
		}
		sets = append(sets, resets...)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, rec.ID)
	q := "UPDATE " + rec.Type.Table() + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	_, err := w.store.Exec(ctx, q, args...)
	return err
}

// resets returns SET clauses restoring the default of every clean-on-absence
// column the record no longer carries.
func (w *Writer) resets(ctx context.Context, rec *objects.Record) ([]string, error) {
	clean := objects.ColumnsToClean(rec.Type)
	if len(clean) == 0 {
		return nil, nil
	}
	declared, err := w.store.Columns(ctx, rec.Type.Table())
	if err != nil {
		return nil, err
	}
	byName := make(map[string]storage.Column, len(declared))
	for _, c := range declared {
		byName[strings.ToLower(c.Name)] = c
	}

	var sets []string
	d := w.store.Dialect()
	for _, name := range clean {
		if _, present := rec.Scalars[name]; present {
			continue
		}
		col, ok := byName[name]
		if !ok {
			continue
		}
		sets = append(sets, name+" = "+d.ResetExpr(col))
	}
	return sets, nil
}

func markPending(rec *objects.Record) {
	state, _ := rec.String("current_state")
	checked, _ := rec.String("has_been_checked")
	if state == "0" && checked == "0" {
		rec.Scalars["current_state"] = statePending
	}
}

func (w *Writer) replace(ctx context.Context, rec *objects.Record) error {
	table := rec.Type.Table()
	if _, err := w.store.Exec(ctx, "DELETE FROM "+table+" WHERE id = ?", rec.ID); err != nil {
		return err
	}
	delete(rec.Scalars, "id")
	cols := append([]string{"id"}, rec.Columns()...)
	args := make([]any, 0, len(cols))
	args = append(args, rec.ID)
	for _, c := range cols[1:] {
		args = append(args, rec.Scalars[c])
	}
	_, err := w.store.Exec(ctx, insert(table, cols), args...)
	return err
}

func (w *Writer) writeProgramStatus(ctx context.Context, rec *objects.Record) error {
	if _, err := w.store.Exec(ctx, "DELETE FROM program_status WHERE instance_id = 0"); err != nil {
		return err
	}
	delete(rec.Scalars, "id")
	rec.Scalars["instance_id"] = int64(0)
	rec.Scalars["instance_name"] = localInstanceName
	rec.Scalars["is_running"] = int64(1)

	cols := rec.Columns()
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		args = append(args, rec.Scalars[c])
	}
	_, err := w.store.Exec(ctx, insert("program_status", cols), args...)
	return err
}

func insert(table string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + marks + ")"
}
