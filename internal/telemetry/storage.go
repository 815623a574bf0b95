package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nagimport/ocimp/internal/storage"
)

const storageScopeName = "github.com/nagimport/ocimp/storage"

// InstrumentedStore wraps storage.Store with a span and metrics per
// statement. Use WrapStore to create one.
type InstrumentedStore struct {
	storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation, or s itself when
// telemetry is disabled.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("ocimp.storage.statements",
		metric.WithDescription("Statements sent to the datastore"),
	)
	dur, _ := m.Float64Histogram("ocimp.storage.statement.duration",
		metric.WithDescription("Statement duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("ocimp.storage.errors",
		metric.WithDescription("Statements that failed"),
	)
	return &InstrumentedStore{
		Store:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// operation returns the leading SQL keyword of query, upper-cased.
func operation(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.IndexAny(query, " \t\n"); i >= 0 {
		query = query[:i]
	}
	return strings.ToUpper(query)
}

func (s *InstrumentedStore) op(ctx context.Context, name, query string) (context.Context, trace.Span, []attribute.KeyValue, time.Time) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", string(s.Dialect())),
		attribute.String("db.operation", operation(query)),
	}
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(append(attrs, attribute.String("db.statement", query))...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(attrs...))
	return ctx, span, attrs, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, span, attrs, t := s.op(ctx, "Exec", query)
	n, err := s.Store.Exec(ctx, query, args...)
	if err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", n))
	}
	s.done(ctx, span, t, err, attrs)
	return n, err
}

func (s *InstrumentedStore) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	ctx, span, attrs, t := s.op(ctx, "Query", query)
	rows, err := s.Store.Query(ctx, query, args...)
	s.done(ctx, span, t, err, attrs)
	return rows, err
}

func (s *InstrumentedStore) Commit(ctx context.Context) error {
	ctx, span, attrs, t := s.op(ctx, "Commit", "COMMIT")
	err := s.Store.Commit(ctx)
	s.done(ctx, span, t, err, attrs)
	return err
}
