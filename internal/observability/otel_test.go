package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/campustrade/marketplace-chat/internal/config"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func tracingConfig(enabled bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     enabled,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "marketplace-chat",
		SampleRatio: 1.0,
	}
}

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	restoreGlobals(t)

	prev := otel.GetTracerProvider()
	shutdown, err := SetupOTel(context.Background(), tracingConfig(false), "test")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled tracing replaced the global provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
}

func TestSetupOTel_EnabledInstallsProvider(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := SetupOTel(context.Background(), tracingConfig(true), "test")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("global provider is %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	// Span creation works without a collector; the batcher buffers.
	_, span := otel.Tracer("observability-test").Start(context.Background(), "send-message")
	span.End()
}

func TestSetupOTel_TLSBranch(t *testing.T) {
	restoreGlobals(t)

	cfg := tracingConfig(true)
	cfg.Insecure = false
	shutdown, err := SetupOTel(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("SetupOTel with TLS creds: %v", err)
	}
	_ = shutdown(context.Background())
}

func TestSetupOTel_ExporterFailureLeavesGlobalsAlone(t *testing.T) {
	restoreGlobals(t)

	orig := newTraceExporter
	defer func() { newTraceExporter = orig }()
	newTraceExporter = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("collector unreachable")
	}

	prev := otel.GetTracerProvider()
	if _, err := SetupOTel(context.Background(), tracingConfig(true), "test"); err == nil {
		t.Fatalf("expected exporter error")
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("provider replaced despite setup failure")
	}
}

func TestSetupOTel_ResourceFailureLeavesGlobalsAlone(t *testing.T) {
	restoreGlobals(t)

	orig := newTraceResource
	defer func() { newTraceResource = orig }()
	newTraceResource = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
		return nil, errors.New("bad attributes")
	}

	prev := otel.GetTracerProvider()
	if _, err := SetupOTel(context.Background(), tracingConfig(true), "test"); err == nil {
		t.Fatalf("expected resource error")
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("provider replaced despite setup failure")
	}
}

func TestSetupOTel_ShutdownFlushes(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := SetupOTel(context.Background(), tracingConfig(true), "test")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
