package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config describes the service and where its metrics go. A gRPC endpoint
// takes precedence over the HTTP one.
type Config struct {
	ServiceName      string
	ServiceNamespace string
	ServiceVersion   string
	Environment      string
	OTLPEndpoint     string
	OTLPGRPCEndpoint string
	Interval         time.Duration
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "pubsub-worker"
	}
	if c.ServiceNamespace == "" {
		c.ServiceNamespace = "default"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "1.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	return c
}

// MetricExporter owns the meter provider the transport records into.
type MetricExporter struct {
	cfg           Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	resource      *resource.Resource
	reader        sdkmetric.Reader
	global        bool
}

type Option func(*MetricExporter)

// WithReader replaces the OTLP exporter, e.g. with a ManualReader in tests.
func WithReader(reader sdkmetric.Reader) Option {
	return func(mc *MetricExporter) {
		mc.reader = reader
	}
}

// WithGlobal controls whether the provider is installed with otel.SetMeterProvider.
// It defaults to true.
func WithGlobal(global bool) Option {
	return func(mc *MetricExporter) {
		mc.global = global
	}
}

// NewMetricExporter creates a new metric exporter instance
func NewMetricExporter(cfg Config, opts ...Option) (*MetricExporter, func(), error) {
	mc := &MetricExporter{cfg: cfg.withDefaults(), global: true}
	for _, opt := range opts {
		opt(mc)
	}
	cfg = mc.cfg

	if mc.reader == nil && cfg.OTLPGRPCEndpoint == "" && cfg.OTLPEndpoint == "" {
		return nil, nil, fmt.Errorf("OTLP HTTP endpoint is required when gRPC endpoint is not configured")
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceNamespace(cfg.ServiceNamespace),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	reader := mc.reader
	if reader == nil {
		var exporter sdkmetric.Exporter
		if cfg.OTLPGRPCEndpoint != "" {
			exporter, err = otlpmetricgrpc.New(context.Background(),
				otlpmetricgrpc.WithEndpoint(cfg.OTLPGRPCEndpoint),
				otlpmetricgrpc.WithInsecure(),
			)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create OTLP gRPC exporter: %w", err)
			}
		} else {
			exporter, err = otlpmetrichttp.New(context.Background(),
				otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
				otlpmetrichttp.WithInsecure(),
			)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
			}
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	if mc.global {
		otel.SetMeterProvider(meterProvider)
	}

	mc.meterProvider = meterProvider
	mc.meter = meterProvider.Meter(cfg.ServiceName)
	mc.resource = res

	return mc, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mc.meterProvider.Shutdown(ctx)
	}, nil
}

// Meter is the meter instruments should be created from.
func (mc *MetricExporter) Meter() metric.Meter {
	return mc.meter
}

// Close gracefully shuts down the metric exporter
func (mc *MetricExporter) Close(ctx context.Context) error {
	return mc.meterProvider.Shutdown(ctx)
}
