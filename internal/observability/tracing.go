package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rheeghang/docent/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerName is the instrumentation scope used by docent packages.
const TracerName = "github.com/rheeghang/docent"

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Environment string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	SampleRatio float64
	// KeepHealthChecks records grpc.health.v1 spans.
	KeepHealthChecks bool

	// Exhibit metadata stamped on every span's resource.
	ContentDir      string
	DefaultLanguage string
	SettingsBackend string
	Bus             string

	Output io.Writer
}

// InitTracing installs a tracer provider for the docent server and returns
// its shutdown func. When tracing is disabled the global provider is a noop.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "docent"
	}
	sampler, err := newSampler(cfg)
	if err != nil {
		return nil, err
	}

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("sampler", sampler.Description()),
	)
	return tp.Shutdown, nil
}

func resourceAttributes(cfg TracingConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "docent"),
	}
	optional := []struct{ key, value string }{
		{"deployment.environment", cfg.Environment},
		{"docent.content_dir", cfg.ContentDir},
		{"docent.default_language", cfg.DefaultLanguage},
		{"docent.settings_backend", cfg.SettingsBackend},
		{"docent.bus", cfg.Bus},
	}
	for _, kv := range optional {
		if kv.value != "" {
			attrs = append(attrs, attribute.String(kv.key, kv.value))
		}
	}
	return attrs
}

// newSampler honours the parent decision, samples roots by ratio, and
// drops health-check roots unless KeepHealthChecks is set.
func newSampler(cfg TracingConfig) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case cfg.SampleRatio < 0 || cfg.SampleRatio > 1:
		return nil, fmt.Errorf("tracing sample ratio %v out of range [0,1]", cfg.SampleRatio)
	case cfg.SampleRatio == 1:
		root = sdktrace.AlwaysSample()
	case cfg.SampleRatio == 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	if !cfg.KeepHealthChecks {
		root = healthCheckFilter{next: root}
	}
	return sdktrace.ParentBased(root), nil
}

// healthCheckFilter drops spans for the gRPC health service, named either
// by otelgrpc ("grpc.health.v1.Health/Check") or our interceptor
// ("RPC/Health/Check").
type healthCheckFilter struct {
	next sdktrace.Sampler
}

func (f healthCheckFilter) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if isHealthCheckSpan(p.Name) {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.Drop,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return f.next.ShouldSample(p)
}

func (f healthCheckFilter) Description() string {
	return "DropHealthChecks{" + f.next.Description() + "}"
}

func isHealthCheckSpan(name string) bool {
	return strings.HasPrefix(name, "grpc.health.v1.Health/") || strings.HasPrefix(name, "RPC/Health/")
}

func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans within five seconds. Errors are logged,
// not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
