package main

import (
	"context"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/zap"
)

const serviceName = "gentpl"

// newTracerProvider exports spans over OTLP/HTTP when
// OTEL_EXPORTER_OTLP_ENDPOINT is set and pretty prints them to w otherwise.
// The returned provider must be shut down to flush.
func newTracerProvider(ctx context.Context, w io.Writer, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	exporter, err := buildTraceExporter(ctx, w)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		log.Warn("otel resource init failed (continuing)", zap.Error(err))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func buildTraceExporter(ctx context.Context, w io.Writer) (sdktrace.SpanExporter, error) {
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(trimScheme(endpoint))}
		if strings.HasPrefix(endpoint, "http://") || otelInsecure() {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
}

func otelInsecure() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// trimScheme strips the URL scheme; WithEndpoint expects host[:port].
func trimScheme(endpoint string) string {
	for _, scheme := range []string{"http://", "https://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	return strings.TrimRight(endpoint, "/")
}
