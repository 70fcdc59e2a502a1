package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var hexTraceID = regexp.MustCompile(`^[0-9a-f]{32}$`)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs swaps the default slog logger for one writing to the returned
// buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_RecordsUnderVoicechatScope(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "voicechat.exchange")
	if !hexTraceID.MatchString(CorrelationID(ctx)) {
		t.Errorf("correlation ID = %q, want 32 hex chars", CorrelationID(ctx))
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "voicechat.exchange" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestCorrelationID_DistinctPerRootSpan(t *testing.T) {
	useTracer(t)
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("no span: correlation ID = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "utterance")
		id := CorrelationID(ctx)
		span.End()
		if seen[id] {
			t.Fatalf("duplicate correlation ID %s", id)
		}
		seen[id] = true
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	t.Run("with span", func(t *testing.T) {
		buf := captureLogs(t)
		ctx, span := StartSpan(context.Background(), "exchange")
		defer span.End()

		Logger(ctx).Info("transcribed")
		out := buf.String()
		if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) || !strings.Contains(out, "span_id=") {
			t.Errorf("log line missing trace fields: %s", out)
		}
	})

	t.Run("without span", func(t *testing.T) {
		buf := captureLogs(t)
		Logger(context.Background()).Info("transcribed")
		if strings.Contains(buf.String(), "trace_id") {
			t.Errorf("log line has trace fields: %s", buf.String())
		}
	})
}

func TestInjectHeaders(t *testing.T) {
	useTracer(t)

	ctx, span := StartSpan(context.Background(), "exchange")
	defer span.End()

	h := http.Header{}
	InjectHeaders(ctx, h)
	parent := h.Get("traceparent")
	if !strings.Contains(parent, CorrelationID(ctx)) {
		t.Errorf("traceparent %q does not carry trace ID %s", parent, CorrelationID(ctx))
	}

	empty := http.Header{}
	InjectHeaders(context.Background(), empty)
	if empty.Get("traceparent") != "" {
		t.Errorf("traceparent set without a span: %q", empty.Get("traceparent"))
	}
}
