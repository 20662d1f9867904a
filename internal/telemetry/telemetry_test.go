package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Exporter: ExporterNone})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Exporter: "otlp"}); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestInit_StdoutWritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{ServiceName: "tracefix", Exporter: ExporterStdout, Writer: &buf})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := Tracer("tracefix/test").Start(context.Background(), "apply.changes")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if !strings.Contains(buf.String(), "apply.changes") {
		t.Errorf("exported output missing span name:\n%s", buf.String())
	}
}

func TestNewProvider_Recorder(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := NewProvider(Config{ServiceName: "tracefix"}, sdktrace.WithSpanProcessor(rec))

	_, span := tp.Tracer("x").Start(context.Background(), "apply.rollback")
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "apply.rollback" {
		t.Fatalf("ended spans = %v", ended)
	}
	found := false
	for _, kv := range ended[0].Resource().Attributes() {
		if string(kv.Key) == "service.name" && kv.Value.AsString() == "tracefix" {
			found = true
		}
	}
	if !found {
		t.Error("resource missing service.name")
	}
}
