// Package telemetry installs the OpenTelemetry trace and metric providers used by notecap.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const serviceName = "notecap"

// Options selects which providers to install.
type Options struct {
	Version string
	// TraceDir receives one trace-<timestamp>.jsonl file per process when set.
	TraceDir string
	// Metrics installs a Prometheus-backed meter provider and exposes its handler.
	Metrics bool
	Logger  *slog.Logger
}

// Runtime owns installed providers and their shutdown.
type Runtime struct {
	TracePath      string
	MetricsHandler http.Handler

	shutdowns []func(context.Context) error
	closers   []io.Closer
}

// Setup installs global providers according to opts. With nothing enabled the
// otel no-op providers stay in place.
func Setup(ctx context.Context, opts Options) (*Runtime, error) {
	rt := &Runtime{}
	if opts.TraceDir == "" && !opts.Metrics {
		return rt, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	if opts.TraceDir != "" {
		if err := rt.initTracer(opts.TraceDir, res); err != nil {
			_ = rt.Shutdown(ctx)
			return nil, err
		}
		if opts.Logger != nil {
			opts.Logger.Info("telemetry initialized", slog.String("exporter", "stdout"), slog.String("path", rt.TracePath))
		}
	}

	if opts.Metrics {
		if err := rt.initMetrics(res); err != nil {
			_ = rt.Shutdown(ctx)
			return nil, err
		}
		if opts.Logger != nil {
			opts.Logger.Info("telemetry initialized", slog.String("exporter", "prometheus"))
		}
	}
	return rt, nil
}

func (rt *Runtime) initTracer(dir string, res *resource.Resource) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("trace-%s.jsonl", time.Now().UTC().Format("20060102T150405.000Z")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	rt.closers = append(rt.closers, f)

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	// Syncer keeps short CLI runs from exiting before spans are written.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	rt.TracePath = path
	rt.shutdowns = append(rt.shutdowns, tp.Shutdown)
	return nil
}

func (rt *Runtime) initMetrics(res *resource.Resource) error {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	rt.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	rt.shutdowns = append(rt.shutdowns, mp.Shutdown)
	return nil
}

// Shutdown flushes providers and closes trace files.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.shutdowns) - 1; i >= 0; i-- {
		if err := rt.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range rt.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.shutdowns = nil
	rt.closers = nil
	return errors.Join(errs...)
}
