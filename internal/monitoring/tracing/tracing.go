package tracing

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/version"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "memory-gateway"

var (
	initOnce sync.Once
	provider *sdktrace.TracerProvider
)

// Init sets up OTLP gRPC tracing when OTEL_EXPORTER_OTLP_ENDPOINT is present.
// Returns a shutdown function; it is a no-op when tracing is disabled.
func Init(ctx context.Context) func(context.Context) error {
	shutdown := func(context.Context) error { return nil }

	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return shutdown
	}

	initOnce.Do(func() {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(5*time.Second),
		)
		if err != nil {
			log.WithError(err).Warn("otlp exporter init failed, tracing disabled")
			return
		}

		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(tracerName),
			semconv.ServiceVersion(version.Version),
			attribute.String("service.component", "gateway"),
		))
		if err != nil {
			res = resource.Default()
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		log.WithField("endpoint", endpoint).Info("tracing enabled")
	})

	if provider != nil {
		shutdown = provider.Shutdown
	}
	return shutdown
}

// Tracer returns the service tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}
