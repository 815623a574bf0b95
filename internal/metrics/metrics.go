// Package metrics exports import outcomes as Prometheus series, either
// scraped from `ocimp watch` or written to a node-exporter textfile after a
// one-shot import.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nagimport/ocimp/internal/importer"
)

const namespace = "ocimp"

// Collector owns a private registry so tests and the textfile writer see
// only ocimp series.
type Collector struct {
	reg *prometheus.Registry

	Runs        *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Statements  *prometheus.CounterVec
	Records     *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Skipped     *prometheus.CounterVec
	Purged      prometheus.Counter
	LastSuccess *prometheus.GaugeVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Import runs by dump kind and outcome",
		}, []string{"mode", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of completed imports",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		Statements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Datastore statements issued by imports",
		}, []string{"mode"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records written by object type",
		}, []string{"mode", "type"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Records whose write failed and was rolled back",
		}, []string{"mode"}),
		Skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Status records for objects that are not stored",
		}, []string{"mode"}),
		Purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_purged_total",
			Help:      "Stored rows deleted because the dump no longer defines them",
		}),
		LastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last import without record errors",
		}, []string{"mode"}),
	}
}

// Registry is what /metrics and the textfile writer gather from.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Observe records one import. res may be nil when err is fatal.
func (c *Collector) Observe(res *importer.Result, err error, at time.Time) {
	if err != nil {
		mode := "unknown"
		if res != nil && res.Mode != "" {
			mode = string(res.Mode)
		}
		c.Runs.WithLabelValues(mode, outcome(err)).Inc()
		return
	}
	if res == nil {
		return
	}
	mode := string(res.Mode)
	if res.NotNewer {
		c.Runs.WithLabelValues(mode, "unchanged").Inc()
		return
	}

	c.Duration.WithLabelValues(mode).Observe(res.Duration.Seconds())
	c.Statements.WithLabelValues(mode).Add(float64(res.Statements))
	for t, n := range res.PerType {
		c.Records.WithLabelValues(mode, t.String()).Add(float64(n))
	}
	c.Errors.WithLabelValues(mode).Add(float64(res.Errors))
	c.Skipped.WithLabelValues(mode).Add(float64(res.Skipped))
	c.Purged.Add(float64(res.Purged))

	if !res.OK() {
		c.Runs.WithLabelValues(mode, "partial").Inc()
		return
	}
	c.Runs.WithLabelValues(mode, "ok").Inc()
	c.LastSuccess.WithLabelValues(mode).Set(float64(at.Unix()))
}

func outcome(err error) string {
	switch {
	case errors.Is(err, importer.ErrEmptyDump):
		return "empty"
	default:
		return "failed"
	}
}

// WriteTextfile atomically replaces path with the current series in the
// text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}
