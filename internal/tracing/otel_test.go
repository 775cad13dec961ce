package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/actual-software/mailslot/internal/config"
	mserrors "github.com/actual-software/mailslot/internal/errors"
)

func enabledConfig() config.TracingConfig {
	cfg := config.Default().Tracing
	cfg.Enabled = true

	return cfg
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(config.Default().Tracing, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, tracer.Enabled())

	ctx, span := tracer.StartSpan(context.Background(), "mailslot.push")
	assert.False(t, span.IsRecording())
	assert.Empty(t, tracer.TraceID(ctx))

	tracer.EndSpan(span, errors.New("ignored"))

	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, tracer.HTTPMiddleware(handler, "health"))

	require.NoError(t, tracer.Flush(context.Background()))
	require.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNew_NoneExporterDisables(t *testing.T) {
	cfg := enabledConfig()
	cfg.ExporterType = "none"

	tracer, err := New(cfg, nil)
	require.NoError(t, err)
	assert.False(t, tracer.Enabled())
}

func TestNew_UnknownExporter(t *testing.T) {
	cfg := enabledConfig()
	cfg.ExporterType = "carrier-pigeon"

	_, err := New(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exporter type")
}

func TestTracer_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	tracer, err := New(enabledConfig(), zaptest.NewLogger(t), WithExporter(exporter))
	require.NoError(t, err)
	require.True(t, tracer.Enabled())

	ctx, span := tracer.StartSpan(context.Background(), "mailslot.pop", attribute.Int("mailslot.channel_id", 4))
	assert.NotEmpty(t, tracer.TraceID(ctx))
	tracer.EndSpan(span, mserrors.New(mserrors.KindNoMessage))

	_, pushSpan := tracer.StartSpan(context.Background(), "mailslot.push")
	tracer.EndSpan(pushSpan, nil)

	require.NoError(t, tracer.Flush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	failed := spans[0]
	assert.Equal(t, "mailslot.pop", failed.Name)
	assert.Equal(t, codes.Error, failed.Status.Code)
	assert.Contains(t, failed.Attributes, attribute.Int("mailslot.channel_id", 4))
	assert.Contains(t, failed.Attributes, attribute.String("mailslot.error.kind", "NO_MESSAGE"))
	require.Len(t, failed.Events, 1, "error recorded as an event")

	assert.Equal(t, "mailslot.push", spans[1].Name)
	assert.Equal(t, codes.Unset, spans[1].Status.Code)

	require.NoError(t, tracer.Shutdown(context.Background()))
}

func TestTracer_HTTPMiddleware(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	tracer, err := New(enabledConfig(), zaptest.NewLogger(t), WithExporter(exporter))
	require.NoError(t, err)

	handler := tracer.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), "health")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, tracer.Flush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /healthz", spans[0].Name)

	require.NoError(t, tracer.Shutdown(context.Background()))
}
