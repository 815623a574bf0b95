// Package telemetry exports import spans and store metrics over
// OpenTelemetry. Nothing is exported unless Config.Enabled is set, from
// otel.enabled in the config file or OCIMP_OTEL_ENABLED=true.
//
// Traces go to OTEL_EXPORTER_OTLP_ENDPOINT over gRPC, metrics to
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT (or the trace endpoint) over HTTP.
// OCIMP_OTEL_STDOUT=true also prints both to stderr.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/nagimport/ocimp"

const (
	stdoutMetricInterval = 15 * time.Second
	otlpMetricInterval   = 30 * time.Second
)

type Config struct {
	Enabled bool
	Stdout  bool
	// Empty endpoints leave the OTLP exporters out.
	TraceEndpoint   string
	MetricsEndpoint string
}

func ConfigFromEnv() Config {
	cfg := Config{
		Enabled:         os.Getenv("OCIMP_OTEL_ENABLED") == "true",
		Stdout:          os.Getenv("OCIMP_OTEL_STDOUT") == "true",
		TraceEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
	}
	if cfg.MetricsEndpoint == "" {
		cfg.MetricsEndpoint = cfg.TraceEndpoint
	}
	return cfg
}

// active holds the providers installed by Init until Shutdown.
var active struct {
	sync.Mutex
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Enabled reports whether Init installed exporting providers.
func Enabled() bool {
	active.Lock()
	defer active.Unlock()
	return active.tp != nil
}

// Init installs the global providers. A disabled cfg installs no-op ones so
// Tracer and Meter stay cheap.
func Init(ctx context.Context, cfg Config, service, version string) error {
	if !cfg.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	spans, err := spanExporters(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	readers, err := metricReaders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	topts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, exp := range spans {
		topts = append(topts, sdktrace.WithBatcher(exp))
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}

	active.Lock()
	defer active.Unlock()
	active.tp = sdktrace.NewTracerProvider(topts...)
	active.mp = sdkmetric.NewMeterProvider(mopts...)
	otel.SetTracerProvider(active.tp)
	otel.SetMeterProvider(active.mp)
	return nil
}

// spanExporters falls back to stderr when no collector is configured, so an
// enabled run always shows its spans somewhere.
func spanExporters(ctx context.Context, cfg Config) ([]sdktrace.SpanExporter, error) {
	var out []sdktrace.SpanExporter
	if cfg.TraceEndpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.TraceEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		out = append(out, exp)
	}
	if cfg.Stdout || len(out) == 0 {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		out = append(out, exp)
	}
	return out, nil
}

func metricReaders(ctx context.Context, cfg Config) ([]sdkmetric.Reader, error) {
	var out []sdkmetric.Reader
	if cfg.Stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(stdoutMetricInterval)))
	}
	if cfg.MetricsEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, cfg.MetricsEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpMetricInterval)))
	}
	return out, nil
}

func Tracer(name string) trace.Tracer {
	if name == "" {
		name = scope
	}
	return otel.Tracer(name)
}

func Meter(name string) metric.Meter {
	if name == "" {
		name = scope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics. It is safe to call without a
// prior Init.
func Shutdown(ctx context.Context) error {
	active.Lock()
	defer active.Unlock()
	var errs []error
	if active.tp != nil {
		errs = append(errs, active.tp.Shutdown(ctx))
	}
	if active.mp != nil {
		errs = append(errs, active.mp.Shutdown(ctx))
	}
	active.tp, active.mp = nil, nil
	return errors.Join(errs...)
}
