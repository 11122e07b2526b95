package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		SampleRatio: 1,
		Output:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}

	_, span := otel.Tracer(TracerName).Start(context.Background(), "session.observe")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "session.observe") {
		t.Fatalf("exported spans missing session.observe: %s", buf.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil); err == nil {
		t.Fatalf("InitTracing() with unknown exporter returned nil error")
	}
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, SampleRatio: 2}, nil); err == nil {
		t.Fatalf("InitTracing() with ratio 2 returned nil error")
	}
}

func TestSamplerDropsHealthChecks(t *testing.T) {
	sampler, err := newSampler(TracingConfig{SampleRatio: 1})
	if err != nil {
		t.Fatalf("newSampler() error = %v", err)
	}
	traceID := trace.TraceID{1}
	for name, want := range map[string]sdktrace.SamplingDecision{
		"grpc.health.v1.Health/Check": sdktrace.Drop,
		"RPC/Health/Watch":            sdktrace.Drop,
		"session.observe":             sdktrace.RecordAndSample,
		"HTTP GET /api/pages/{id}":    sdktrace.RecordAndSample,
	} {
		got := sampler.ShouldSample(sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: traceID, Name: name})
		if got.Decision != want {
			t.Fatalf("ShouldSample(%q) = %v, want %v", name, got.Decision, want)
		}
	}

	keep, err := newSampler(TracingConfig{SampleRatio: 1, KeepHealthChecks: true})
	if err != nil {
		t.Fatalf("newSampler() error = %v", err)
	}
	if got := keep.ShouldSample(sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: traceID, Name: "grpc.health.v1.Health/Check"}); got.Decision != sdktrace.RecordAndSample {
		t.Fatalf("KeepHealthChecks sampler dropped health span: %v", got.Decision)
	}
	if !strings.Contains(sampler.Description(), "DropHealthChecks") {
		t.Fatalf("Description() = %q", sampler.Description())
	}
}

func TestSamplerRatioBounds(t *testing.T) {
	never, err := newSampler(TracingConfig{SampleRatio: 0})
	if err != nil {
		t.Fatalf("newSampler() error = %v", err)
	}
	if got := never.ShouldSample(sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: trace.TraceID{2}, Name: "session.navigate"}); got.Decision != sdktrace.Drop {
		t.Fatalf("ratio 0 sampled a root span: %v", got.Decision)
	}
	if _, err := newSampler(TracingConfig{SampleRatio: -0.1}); err == nil {
		t.Fatalf("newSampler() with negative ratio returned nil error")
	}
}

func TestResourceAttributesCarryExhibitMetadata(t *testing.T) {
	attrs := resourceAttributes(TracingConfig{ServiceName: "docent", ContentDir: "exhibit", DefaultLanguage: "ko", Bus: "redis"})
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["docent.content_dir"] != "exhibit" || got["docent.default_language"] != "ko" || got["docent.bus"] != "redis" {
		t.Fatalf("resource attributes = %v", got)
	}
	if _, ok := got["deployment.environment"]; ok {
		t.Fatalf("empty environment should be omitted: %v", got)
	}
}
