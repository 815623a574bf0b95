package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/dump"
	"github.com/nagimport/ocimp/internal/identity"
	"github.com/nagimport/ocimp/internal/linker"
	"github.com/nagimport/ocimp/internal/objects"
	"github.com/nagimport/ocimp/internal/storage"
	"github.com/nagimport/ocimp/internal/telemetry"
	"github.com/nagimport/ocimp/internal/writer"
)

// ErrSessionUsed is returned when Import is called twice on one Session.
var ErrSessionUsed = errors.New("import session already used")

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StatePreloading
	StateStreaming
	StateFlushing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreloading:
		return "preloading"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// statusTables are the tables a status snapshot writes to.
var statusTables = []objects.Type{
	objects.Host, objects.Service, objects.Contact,
	objects.Comment, objects.Downtime, objects.ProgramStatus,
}

// Session imports a single dump. Records of one type are held until the
// type changes, then flushed as a batch.
type Session struct {
	store  *storage.Counter
	cat    *objects.Catalog
	ids    *identity.Resolver
	linker *linker.Linker
	writer *writer.Writer
	log    *zap.Logger
	opts   Options

	state    State
	mode     Mode
	columns  map[objects.Type]map[string]bool
	nameless map[objects.Type]int64
	held     []*objects.Record
	heldType objects.Type
	flushed  map[objects.Type]bool
	waiting  map[objects.Type][]*objects.Record // groups keyed by member type
	unknown  map[objects.Type]bool
	keysOff  bool
	rejected int
}

// NewSession prepares an import into store.
func NewSession(store storage.Store, opts Options) (*Session, error) {
	cat, err := objects.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	log := opts.logger()
	counter := storage.Count(store)
	ids := identity.New()
	return &Session{
		store:  counter,
		cat:    cat,
		ids:    ids,
		linker: linker.New(ids, cat, log),
		writer: writer.New(counter, cat, log, writer.Options{
			MarkPending: opts.MarkPending,
			DryRun:      opts.DryRun,
		}),
		log:      log,
		opts:     opts,
		columns:  make(map[objects.Type]map[string]bool),
		nameless: make(map[objects.Type]int64),
		flushed:  make(map[objects.Type]bool),
		waiting:  make(map[objects.Type][]*objects.Record),
		unknown:  make(map[objects.Type]bool),
	}, nil
}

// State returns where the session is in its lifecycle.
func (s *Session) State() State {
	return s.state
}

// Import streams the dump in r into the store. Fatal errors roll back the
// open transaction; earlier flushed batches stay committed.
func (s *Session) Import(ctx context.Context, r io.Reader) (*Result, error) {
	if s.state != StateIdle {
		return nil, ErrSessionUsed
	}
	start := time.Now()
	runID := uuid.NewString()
	s.log = s.log.With(zap.String("run", runID))

	ctx, span := telemetry.Tracer("").Start(ctx, "ocimp.import")
	defer span.End()

	res, err := s.run(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rerr := s.store.Rollback(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Warn("rollback after failed import", zap.Error(rerr))
		}
		return nil, err
	}
	res.RunID = runID
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("ocimp.mode", string(res.Mode)),
		attribute.Int("ocimp.written", res.Written),
		attribute.Int("ocimp.errors", res.Errors),
		attribute.Int64("ocimp.statements", res.Statements),
	)
	return res, nil
}

func (s *Session) run(ctx context.Context, r io.Reader) (*Result, error) {
	s.state = StatePreloading
	if err := s.preload(ctx); err != nil {
		return nil, err
	}

	tpCols, err := storage.ColumnSet(ctx, s.store, objects.Timeperiod.Table())
	if err != nil {
		return nil, fmt.Errorf("introspect timeperiod: %w", err)
	}
	if len(tpCols) == 0 {
		tpCols = nil
	} else {
		for _, rel := range s.cat.For(objects.Timeperiod) {
			tpCols[rel.Attr] = true
		}
	}
	p := dump.NewParser(r,
		dump.WithBlockHook(func(t objects.Type, line int) error { return s.onBlock(ctx, t, line) }),
		dump.WithAttributeFilter(s.keep),
		dump.WithTimeperiodColumns(tpCols),
	)

	s.state = StateStreaming
	for {
		ev, err := p.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := s.accept(ctx, ev); err != nil {
			return nil, err
		}
	}
	if s.mode == "" {
		return nil, ErrEmptyDump
	}

	s.state = StateFlushing
	if err := s.flush(ctx); err != nil {
		return nil, err
	}
	if err := s.flushWaitingGroups(ctx); err != nil {
		return nil, err
	}
	return s.finalize(ctx)
}

// onBlock decides the mode from the first block header, before any of its
// attributes pass the filter.
func (s *Session) onBlock(ctx context.Context, t objects.Type, _ int) error {
	if s.mode != "" {
		return nil
	}
	if modeOf(t) == ModeStatus {
		return s.enterStatus(ctx)
	}
	return s.enterObjects(ctx)
}

func (s *Session) enterStatus(ctx context.Context) error {
	s.mode = ModeStatus
	s.linker.SetStatusOnly(true)
	s.writer.SetStatusOnly(true)

	for _, t := range statusTables {
		cols, err := storage.ColumnSet(ctx, s.store, t.Table())
		if err != nil {
			return fmt.Errorf("introspect %s: %w", t, err)
		}
		s.columns[t] = cols
	}
	if !s.opts.DryRun {
		for _, t := range objects.Snapshots {
			if _, err := s.store.Exec(ctx, s.store.Dialect().Truncate(t.Table())); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		if err := s.store.Commit(ctx); err != nil {
			return err
		}
	}
	s.log.Info("importing status snapshot")
	return nil
}

func (s *Session) enterObjects(ctx context.Context) error {
	s.mode = ModeObjects
	if !s.opts.DryRun {
		d := s.store.Dialect()
		for _, t := range objects.Definitions {
			stmt := d.DisableKeys(t.Table())
			if stmt == "" {
				continue
			}
			if _, err := s.store.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("disable keys on %s: %w", t, err)
			}
			s.keysOff = true
		}
		if err := s.store.Commit(ctx); err != nil {
			return err
		}
	}
	s.log.Info("importing object definitions")
	return nil
}

// keep restricts a status snapshot to the columns its tables declare.
func (s *Session) keep(t objects.Type, key string) bool {
	if s.mode != ModeStatus {
		return true
	}
	if t == objects.Info {
		return false
	}
	return s.columns[t][key]
}

func (s *Session) accept(ctx context.Context, ev dump.Event) error {
	rec := ev.Record
	t := rec.Type
	if t == objects.Info {
		return nil
	}
	if !t.Known() {
		if !s.unknown[t] {
			s.unknown[t] = true
			s.log.Warn("skipping unknown object type", zap.String("type", t.String()), zap.Int("line", rec.Line))
		}
		return nil
	}

	if ev.Boundary && len(s.held) > 0 && t != s.heldType {
		if err := s.flush(ctx); err != nil {
			return err
		}
	}

	ok, err := s.assignID(rec)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.linker.Link(rec); err != nil {
		return err
	}
	s.held = append(s.held, rec)
	s.heldType = t
	return nil
}

// assignID binds rec to its stored id or allocates the next free one.
// Records of named types without a name are rejected.
func (s *Session) assignID(rec *objects.Record) (bool, error) {
	t := rec.Type
	name := rec.Name()
	if name == "" {
		if s.hasNaturalKey(t) {
			s.rejected++
			s.log.Warn("skipping object without a name", zap.String("type", t.String()), zap.Int("line", rec.Line))
			return false, nil
		}
		s.nameless[t]++
		rec.ID = s.nameless[t]
		rec.Fresh = true
		return true, nil
	}

	if id, ok := s.ids.Get(t.String(), name); ok {
		rec.ID = id
		return true, nil
	}
	id := s.ids.NextID(t.String())
	if err := s.ids.Set(t.String(), name, id); err != nil {
		return false, err
	}
	rec.ID = id
	rec.Fresh = true
	return true, nil
}

func (s *Session) hasNaturalKey(t objects.Type) bool {
	for _, n := range objects.Named {
		if n == t {
			return true
		}
	}
	return false
}

// batch is the set of held records of one type being flushed.
type batch struct {
	typ    objects.Type
	recs   []*objects.Record
	parked bool
}

type flushStep struct {
	name string
	run  func(context.Context, *batch) error
}

func (s *Session) flushSteps() []flushStep {
	return []flushStep{
		{"resolve deferred references", s.resolveBatch},
		{"write objects", s.writeBatch},
		{"write groups", s.writeGroupsOf},
	}
}

// flush runs the post-processing steps over the held records and commits.
func (s *Session) flush(ctx context.Context) error {
	if len(s.held) == 0 {
		return nil
	}
	b := &batch{typ: s.heldType, recs: s.held}
	s.held = nil

	before := s.writer.Stats()
	for _, step := range s.flushSteps() {
		if err := step.run(ctx, b); err != nil {
			return fmt.Errorf("%s (%s): %w", step.name, b.typ, err)
		}
	}
	if err := s.store.Commit(ctx); err != nil {
		return err
	}

	after := s.writer.Stats()
	s.log.Info("processed objects",
		zap.String("type", b.typ.String()),
		zap.Int("records", len(b.recs)),
		zap.Bool("deferred", b.parked),
		zap.Int("errors", after.Errors-before.Errors))
	return nil
}

// resolveBatch resolves parents and excludes of the batch. Groups wait for
// their member type when it has not been flushed yet, or when a member is
// not known so far.
func (s *Session) resolveBatch(_ context.Context, b *batch) error {
	member, isGroup := s.cat.MemberType(b.typ)
	isGroup = isGroup && member != b.typ
	if isGroup && !s.flushed[member] {
		s.waiting[member] = append(s.waiting[member], b.recs...)
		b.parked = true
		return nil
	}
	ready := make([]*objects.Record, 0, len(b.recs))
	for _, rec := range b.recs {
		err := s.linker.ResolveDeferred(rec)
		if isGroup && errors.Is(err, identity.ErrUnknownObject) {
			s.waiting[member] = append(s.waiting[member], rec)
			continue
		}
		if err != nil {
			return err
		}
		ready = append(ready, rec)
	}
	b.recs = ready
	return nil
}

func (s *Session) writeBatch(ctx context.Context, b *batch) error {
	if !b.parked {
		for _, rec := range b.recs {
			if err := s.writer.Write(ctx, rec); err != nil {
				return err
			}
		}
	}
	s.flushed[b.typ] = true
	return nil
}

// writeGroupsOf writes the groups that were waiting for b's type. Groups
// naming a member that is still unknown keep waiting, since the type may
// show up again further down the dump.
func (s *Session) writeGroupsOf(ctx context.Context, b *batch) error {
	groups := s.waiting[b.typ]
	delete(s.waiting, b.typ)

	var later []*objects.Record
	for _, rec := range groups {
		err := s.linker.ResolveDeferred(rec)
		if errors.Is(err, identity.ErrUnknownObject) {
			later = append(later, rec)
			continue
		}
		if err != nil {
			return err
		}
		if err := s.writer.Write(ctx, rec); err != nil {
			return err
		}
	}
	if len(later) > 0 {
		s.log.Debug("groups still waiting for members",
			zap.String("member", b.typ.String()),
			zap.Int("groups", len(later)))
		s.waiting[b.typ] = later
	}
	return nil
}

func (s *Session) writeGroups(ctx context.Context, groups []*objects.Record) error {
	for _, rec := range groups {
		if err := s.linker.ResolveDeferred(rec); err != nil {
			return err
		}
		if err := s.writer.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// flushWaitingGroups writes the groups still waiting at end of stream. Their
// members must be known by now.
func (s *Session) flushWaitingGroups(ctx context.Context) error {
	members := make([]objects.Type, 0, len(s.waiting))
	for t := range s.waiting {
		members = append(members, t)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	for _, t := range members {
		groups := s.waiting[t]
		delete(s.waiting, t)
		if err := s.writeGroups(ctx, groups); err != nil {
			return fmt.Errorf("write groups of %s: %w", t, err)
		}
	}
	return s.store.Commit(ctx)
}

func (s *Session) finalize(ctx context.Context) (*Result, error) {
	var purged int64
	if s.mode == ModeObjects {
		n, err := s.writer.Purge(ctx)
		if err != nil {
			return nil, err
		}
		purged = n
	}
	if s.keysOff {
		d := s.store.Dialect()
		for _, t := range objects.Definitions {
			if _, err := s.store.Exec(ctx, d.EnableKeys(t.Table())); err != nil {
				return nil, fmt.Errorf("enable keys on %s: %w", t, err)
			}
		}
	}
	if err := s.store.Commit(ctx); err != nil {
		return nil, err
	}

	st := s.writer.Stats()
	res := &Result{
		Mode:    s.mode,
		Written: st.Written,
		Errors:  st.Errors + s.rejected,
		Skipped: st.Skipped,
		Purged:  purged,
		PerType: st.PerType,
	}

	switch {
	case s.opts.DryRun:
	case res.Errors > 0:
		s.log.Warn("import had errors, not updating import marker", zap.Int("errors", res.Errors))
	default:
		if err := touchMarker(ctx, s.store, s.mode, s.opts.version()); err != nil {
			return nil, err
		}
		if err := s.store.Commit(ctx); err != nil {
			return nil, err
		}
	}

	res.Statements = s.store.Statements()
	s.state = StateFinalized
	s.log.Info("Import finalized",
		zap.String("mode", string(res.Mode)),
		zap.Int64("queries", res.Statements),
		zap.Int("written", res.Written),
		zap.Int("errors", res.Errors),
		zap.Int64("purged", res.Purged))
	return res, nil
}
