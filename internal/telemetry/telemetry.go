// Package telemetry provides OpenTelemetry traces and metrics for the
// wake loop. When disabled every instrument is a no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/nugget/amazo/internal/buildinfo"
)

// ScopeName is the instrumentation scope for traces and metrics.
const ScopeName = "amazo"

// Exporter names accepted in configuration.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config selects whether and where telemetry is exported.
type Config struct {
	Enabled     bool
	Exporter    string
	ServiceName string
}

// Provider bundles the tracer, meter and instruments with cleanup.
type Provider struct {
	Tracer  trace.Tracer
	Meter   metric.Meter
	Metrics *Metrics

	flush    func(context.Context) error
	shutdown func(context.Context) error
}

type options struct {
	writer       io.Writer
	metricReader sdkmetric.Reader
	spanExporter sdktrace.SpanExporter
}

// Option customizes [Init].
type Option func(*options)

// WithWriter sets the destination of the stdout exporters. The default
// is os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithMetricReader attaches an additional metric reader, such as a
// manual reader in tests.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReader = r }
}

// WithSpanExporter replaces the configured span exporter.
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = e }
}

// Disabled returns a provider whose instruments record nothing.
func Disabled() *Provider {
	mp := noop.NewMeterProvider()
	meter := mp.Meter(ScopeName)
	// The noop meter never fails to create instruments.
	m, _ := NewMetrics(meter)
	return &Provider{
		Tracer:   nooptrace.NewTracerProvider().Tracer(ScopeName),
		Meter:    meter,
		Metrics:  m,
		flush:    func(context.Context) error { return nil },
		shutdown: func(context.Context) error { return nil },
	}
}

// Init sets up tracing and metrics for cfg. The returned provider must
// be shut down on exit to flush buffered data.
func Init(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}

	o := options{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = ScopeName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(buildinfo.Version),
			attribute.String("amazo.commit", buildinfo.GitCommit),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	spanExporter := o.spanExporter
	var metricReaders []sdkmetric.Reader
	switch cfg.Exporter {
	case ExporterStdout, "":
		if spanExporter == nil {
			spanExporter, err = stdouttrace.New(stdouttrace.WithWriter(o.writer))
			if err != nil {
				return nil, fmt.Errorf("create span exporter: %w", err)
			}
		}
		metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		metricReaders = append(metricReaders, sdkmetric.NewPeriodicReader(metricExporter))
	case ExporterNone:
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: stdout, none)", cfg.Exporter)
	}
	if o.metricReader != nil {
		metricReaders = append(metricReaders, o.metricReader)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if spanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(spanExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range metricReaders {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	meter := mp.Meter(ScopeName)
	m, err := NewMetrics(meter)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	return &Provider{
		Tracer:  tp.Tracer(ScopeName),
		Meter:   meter,
		Metrics: m,
		flush: func(ctx context.Context) error {
			return errors.Join(tp.ForceFlush(ctx), mp.ForceFlush(ctx))
		},
		shutdown: func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		},
	}, nil
}

// ForceFlush exports any buffered spans and metrics.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.flush == nil {
		return nil
	}
	return p.flush(ctx)
}

// Shutdown flushes and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
