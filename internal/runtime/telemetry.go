package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fablecast/fablecast/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// telemetry bundles the globally installed trace and meter providers
// with the prometheus scrape handler, which the runtime serves on its
// own listener (config telemetry.prometheus_bind).
type telemetry struct {
	metrics  http.Handler
	shutdown func(context.Context) error
}

func initTelemetry(cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	ctx := context.Background()

	// The collaborator modes identify what a given deployment actually
	// runs (mock vs edge-tts, mock vs ffmpeg), which is the first thing
	// worth knowing when comparing traces across environments.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("synth.mode", cfg.Synth.Mode),
			attribute.String("assembler.mode", cfg.Assembler.Mode),
			attribute.String("delivery.mode", cfg.Delivery.Mode),
		),
	)
	if err != nil {
		return nil, err
	}

	traceProvider, stopTraces, err := newTraceProvider(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(traceProvider)

	meterProvider, scrapeHandler := newMeterProvider(res, logger)
	otel.SetMeterProvider(meterProvider)

	return &telemetry{
		metrics: scrapeHandler,
		shutdown: func(ctx context.Context) error {
			return errors.Join(meterProvider.Shutdown(ctx), stopTraces(ctx))
		},
	}, nil
}

// newTraceProvider exports spans over OTLP gRPC when an endpoint is
// configured, and pretty-prints them to stdout otherwise so local runs
// need no collector.
func newTraceProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		logger.Info("tracing to stdout")
		return tp, tp.Shutdown, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	logger.Info("tracing to OTLP collector", slog.String("endpoint", endpoint))
	return tp, tp.Shutdown, nil
}

// newMeterProvider wires the prometheus reader. If the exporter cannot
// be built the meter provider still works, there is just nothing to
// scrape and the metrics listener stays down.
func newMeterProvider(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("prometheus exporter unavailable", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.Handler()
}
