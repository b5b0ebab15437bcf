package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	// ExporterNone records spans (so trace IDs propagate to upstreams) without exporting them.
	ExporterNone = "none"
)

// Config configures tracing of the mediator and its upstream calls.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	ServiceName    string         `koanf:"servicename"`
	ServiceVersion string         `koanf:"serviceversion"`
	Exporter       ExporterConfig `koanf:"exporter"`
}

type ExporterConfig struct {
	Type string     `koanf:"type"`
	OTLP OTLPConfig `koanf:"otlp"`
}

// OTLPConfig configures the OTLP gRPC exporter, e.g. towards an OpenTelemetry collector on localhost:4317.
type OTLPConfig struct {
	Endpoint string            `koanf:"endpoint"`
	Headers  map[string]string `koanf:"headers"`
	Timeout  time.Duration     `koanf:"timeout"`
	Insecure bool              `koanf:"insecure"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "mpi-mediator",
		ServiceVersion: "1.0.0",
		Exporter: ExporterConfig{
			Type: ExporterStdout,
			OTLP: OTLPConfig{
				Endpoint: "localhost:4317",
				Timeout:  10 * time.Second,
			},
		},
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return errors.New("service name is required when OpenTelemetry is enabled")
	}
	switch c.Exporter.Type {
	case ExporterOTLP:
		if c.Exporter.OTLP.Endpoint == "" {
			return errors.New("OTLP endpoint is required when using OTLP exporter")
		}
	case ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("unsupported exporter type: %s (supported: otlp, stdout, none)", c.Exporter.Type)
	}
	return nil
}

// TracerProvider is the process-wide tracer provider, registered as otel global by Initialize.
type TracerProvider struct {
	provider *trace.TracerProvider
}

// Initialize registers the global tracer provider and propagator. When tracing is disabled,
// a provider without exporter is registered, so spans still carry valid (but unexported) contexts.
func Initialize(ctx context.Context, config Config) (*TracerProvider, error) {
	var opts []trace.TracerProviderOption
	if config.Enabled {
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		))
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
		opts = append(opts, trace.WithResource(res))
		exporter, err := newExporter(ctx, config.Exporter)
		if err != nil {
			return nil, err
		}
		if exporter != nil {
			opts = append(opts, trace.WithBatcher(exporter))
		}
	}
	provider := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return &TracerProvider{provider: provider}, nil
}

// newExporter returns the span exporter for the configured type, or nil for ExporterNone.
func newExporter(ctx context.Context, config ExporterConfig) (trace.SpanExporter, error) {
	switch config.Type {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.OTLP.Endpoint),
			otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
				Enabled:         true,
				InitialInterval: time.Second,
				MaxInterval:     5 * time.Second,
				MaxElapsedTime:  30 * time.Second,
			}),
		}
		if config.OTLP.Timeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(config.OTLP.Timeout))
		}
		if len(config.OTLP.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(config.OTLP.Headers))
		}
		if config.OTLP.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		log.Ctx(ctx).Debug().Msgf("Exporting traces over OTLP (endpoint=%s, insecure=%t)", config.OTLP.Endpoint, config.OTLP.Insecure)
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exporter, nil
	case ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.Type)
	}
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}
