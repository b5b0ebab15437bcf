package otel

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHandlerWithTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := provider.Tracer("test")

	t.Run("ok", func(t *testing.T) {
		exporter.Reset()
		handler := HandlerWithTracing(tracer, "match-patient", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/fhir", nil))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		require.Equal(t, "match-patient", spans[0].Name)
		require.Equal(t, codes.Ok, spans[0].Status.Code)
	})
	t.Run("error status", func(t *testing.T) {
		exporter.Reset()
		handler := HandlerWithTracing(tracer, "match-patient", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/fhir", nil))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		require.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

func TestError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	_, span := provider.Tracer("test").Start(t.Context(), "op")

	require.NoError(t, Error(span, nil))
	err := errors.New("boom")
	require.Same(t, err, Error(span, err, "store write failed"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "store write failed", spans[0].Status.Description)
}
