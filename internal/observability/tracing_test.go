package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-docchat-rag/internal/config"
)

func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabled(name string) config.OTELConfig {
	return config.OTELConfig{Enabled: true, Insecure: true, Endpoint: "localhost:4317", ServiceName: name, SampleRatio: 1}
}

func TestSetupOTel_DisabledStillPropagates(t *testing.T) {
	keepGlobals(t)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{}, "v0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		t.Fatalf("disabled tracing must not install an SDK provider")
	}

	// An upstream span context must survive into an outbound provider request.
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)
	h := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
	if got := h.Get("traceparent"); got == "" {
		t.Fatalf("traceparent not injected")
	}
}

func TestSetupOTel_EnabledInstallsProvider(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		keepGlobals(t)
		cfg := enabled("docchat-test")
		cfg.Insecure = insecure

		shutdown, err := SetupOTel(context.Background(), cfg, "v1.2.3")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("insecure=%v: expected SDK tracer provider", insecure)
		}
		_, span := otel.Tracer("rag/Orchestrator").Start(context.Background(), "Answer")
		if !span.SpanContext().IsSampled() {
			t.Fatalf("ratio 1 must sample")
		}
		span.End()
		_ = shutdown(context.Background())
	}
}

func TestSetupOTel_FailuresLeaveGlobals(t *testing.T) {
	cases := map[string]func(){
		"exporter": func() {
			newExporter = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("no collector")
			}
		},
		"resource": func() {
			newResource = func(context.Context, config.OTELConfig, string) (*resource.Resource, error) {
				return nil, errors.New("bad resource")
			}
		},
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			keepGlobals(t)
			origExp, origRes := newExporter, newResource
			t.Cleanup(func() { newExporter, newResource = origExp, origRes })
			breakIt()

			// TraceContext is comparable, unlike the composite SetupOTel installs.
			otel.SetTextMapPropagator(propagation.TraceContext{})
			tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
			if _, err := SetupOTel(context.Background(), enabled("svc"), "v0"); err == nil {
				t.Fatalf("expected error")
			}
			if otel.GetTracerProvider() != tp || otel.GetTextMapPropagator() != prop {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}

func TestClampRatio(t *testing.T) {
	cases := map[float64]float64{-0.5: 0, 0: 0, 0.25: 0.25, 1: 1, 7: 1}
	for in, want := range cases {
		if got := clampRatio(in); got != want {
			t.Fatalf("clampRatio(%v)=%v want %v", in, got, want)
		}
	}
}
