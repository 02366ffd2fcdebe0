// Package tracing provides OpenTelemetry tracing setup for Talos
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter protocols
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// TracingConfig holds configuration for tracing setup
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port only, the exporter adds the path
	Protocol       string // "http" (port 4318) or "grpc" (port 4317)
	SampleRatio    float64
}

// DefaultConfig returns a default tracing configuration
func DefaultConfig(serviceName string) TracingConfig {
	return TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "127.0.0.1:4318",
		Protocol:       ProtocolHTTP,
		SampleRatio:    1.0,
	}
}

// LoadConfig reads TALOS_OTLP_ENDPOINT, TALOS_OTLP_PROTOCOL,
// TALOS_TRACE_SAMPLE_RATIO and TALOS_ENV over the defaults. An empty
// endpoint disables tracing.
func LoadConfig(serviceName string) TracingConfig {
	cfg := DefaultConfig(serviceName)
	cfg.OTLPEndpoint = os.Getenv("TALOS_OTLP_ENDPOINT")
	if p := strings.ToLower(os.Getenv("TALOS_OTLP_PROTOCOL")); p != "" {
		cfg.Protocol = p
	}
	if r, err := strconv.ParseFloat(os.Getenv("TALOS_TRACE_SAMPLE_RATIO"), 64); err == nil {
		cfg.SampleRatio = r
	}
	if env := os.Getenv("TALOS_ENV"); env != "" {
		cfg.Environment = env
	}
	return cfg
}

// Enabled reports whether an exporter endpoint is configured
func (c TracingConfig) Enabled() bool {
	return c.OTLPEndpoint != ""
}

// Validate checks the protocol and sample ratio
func (c TracingConfig) Validate() error {
	if c.Protocol != ProtocolHTTP && c.Protocol != ProtocolGRPC {
		return fmt.Errorf("unsupported OTLP protocol %q", c.Protocol)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample ratio %v outside [0, 1]", c.SampleRatio)
	}
	return nil
}

func newExporter(ctx context.Context, config TracingConfig) (trace.SpanExporter, error) {
	if config.Protocol == ProtocolGRPC {
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
}

// SetupTracing initializes OpenTelemetry tracing with an OTLP exporter.
// Returns a shutdown function that should be called when the application exits
func SetupTracing(ctx context.Context, config TracingConfig, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Setting up tracing",
		zap.String("service_name", config.ServiceName),
		zap.String("otlp_endpoint", config.OTLPEndpoint),
		zap.String("protocol", config.Protocol),
		zap.String("environment", config.Environment))

	exporter, err := newExporter(ctx, config)
	if err != nil {
		logger.Error("Failed to create OTLP exporter", zap.Error(err))
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		logger.Error("Failed to create resource", zap.Error(err))
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(config.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("Tracing setup completed successfully")
	return tp.Shutdown, nil
}

// ShutdownTracing gracefully shuts down the tracing provider
func ShutdownTracing(shutdown func(context.Context) error, logger *zap.Logger) error {
	if shutdown == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Shutting down tracing")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := shutdown(ctx)
	if err != nil {
		logger.Error("Failed to shutdown tracing", zap.Error(err))
	} else {
		logger.Info("Tracing shutdown completed successfully")
	}
	return err
}
