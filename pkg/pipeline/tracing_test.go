package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-gentpl/pkg/backend"
	"github.com/goliatone/go-gentpl/pkg/backend/mock"
	"github.com/goliatone/go-gentpl/pkg/pipeline"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return recorder, provider
}

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

func TestRender_RecordsPhaseSpans(t *testing.T) {
	recorder, provider := newRecorder(t)
	tpl := mustNew(t, `{{ gen("x") }}`, mock.New(), pipeline.WithTracerProvider(provider))

	mustRender(t, tpl, nil)

	want := []string{"gentpl.collect", "gentpl.generate", "gentpl.interpolate", "gentpl.render"}
	ended := recorder.Ended()
	if diff := cmp.Diff(want, spanNames(ended)); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
	root := ended[len(ended)-1]
	for _, child := range ended[:len(ended)-1] {
		if child.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Fatalf("span %s is not a child of the render span", child.Name())
		}
	}
}

func TestRender_ZeroPromptsRecordsOnlyCollect(t *testing.T) {
	recorder, provider := newRecorder(t)
	tpl := mustNew(t, `static`, mock.New(), pipeline.WithTracerProvider(provider))

	mustRender(t, tpl, nil)

	if diff := cmp.Diff([]string{"gentpl.collect", "gentpl.render"}, spanNames(recorder.Ended())); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_FailedSpanStatus(t *testing.T) {
	recorder, provider := newRecorder(t)
	b := mock.New(mock.WithFailure(func(backend.Request) error { return errors.New("down") }))
	tpl := mustNew(t, `{{ gen("x") }}`, b, pipeline.WithTracerProvider(provider))

	if _, err := tpl.Render(context.Background(), nil); err == nil {
		t.Fatalf("expected render failure")
	}
	for _, span := range recorder.Ended() {
		if span.Name() == "gentpl.collect" {
			if span.Status().Code == codes.Error {
				t.Fatalf("collect span should not be marked failed")
			}
			continue
		}
		if span.Status().Code != codes.Error {
			t.Fatalf("span %s: expected error status, got %v", span.Name(), span.Status().Code)
		}
	}
}

func TestRender_DebugLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tpl := mustNew(t, `{{ gen("x") }}`, mock.New(), pipeline.WithLogger(zap.New(core)), pipeline.WithName("logged"))

	mustRender(t, tpl, nil)

	entries := logs.FilterMessage("render generated batch").All()
	if len(entries) != 1 {
		t.Fatalf("expected one batch log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["template"] != "logged" || fields["requests"] != int64(1) {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestRender_InterpolationFallbackIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b := mock.New()
	tpl := mustNew(t, `{{ gen("describe {missing}") }}`, b, pipeline.WithLogger(zap.New(core)))

	if got := mustRender(t, tpl, nil); got != "[MOCK: describe {missing}]" {
		t.Fatalf("output = %q", got)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
}
