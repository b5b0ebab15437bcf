package coolfhir

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/mpi-mediator/lib/to"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func TestWriteOperationOutcomeFromError(t *testing.T) {
	t.Run("bad request includes message", func(t *testing.T) {
		httpResponse := httptest.NewRecorder()

		WriteOperationOutcomeFromError(context.Background(), BadRequest("invalid %s", "bundle"), "Match patient", httpResponse)

		require.Equal(t, http.StatusBadRequest, httpResponse.Code)
		require.Equal(t, FHIRJSONMediaType, httpResponse.Header().Get("Content-Type"))
		require.JSONEq(t, `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"processing","diagnostics":"Match patient failed: invalid bundle"}]}`, httpResponse.Body.String())
	})
	t.Run("wrapped error with code hides message", func(t *testing.T) {
		httpResponse := httptest.NewRecorder()

		err := fmt.Errorf("wrapped: %w", NewErrorWithCode("secret detail", http.StatusBadGateway))
		WriteOperationOutcomeFromError(context.Background(), err, "Match patient", httpResponse)

		require.Equal(t, http.StatusBadGateway, httpResponse.Code)
		require.NotContains(t, httpResponse.Body.String(), "secret detail")
		require.Contains(t, httpResponse.Body.String(), "Bad Gateway")
	})
	t.Run("upstream OperationOutcome", func(t *testing.T) {
		httpResponse := httptest.NewRecorder()

		err := fhirclient.OperationOutcomeError{
			OperationOutcome: NewOperationOutcome(fhir.IssueTypeNotFound, "gone"),
			HttpStatusCode:   http.StatusNotFound,
		}
		WriteOperationOutcomeFromError(context.Background(), err, "Fetch summary", httpResponse)

		require.Equal(t, http.StatusNotFound, httpResponse.Code)
		require.Contains(t, httpResponse.Body.String(), "gone")
	})
	t.Run("other error", func(t *testing.T) {
		httpResponse := httptest.NewRecorder()

		WriteOperationOutcomeFromError(context.Background(), errors.New("boom"), "Fetch summary", httpResponse)

		require.Equal(t, http.StatusInternalServerError, httpResponse.Code)
		require.NotContains(t, httpResponse.Body.String(), "boom")
	})
}

func TestSendResponse(t *testing.T) {
	httpResponse := httptest.NewRecorder()

	SendResponse(httpResponse, http.StatusCreated, fhir.Patient{Id: to.Ptr("1")}, map[string]string{"Location": "Patient/1"})

	require.Equal(t, http.StatusCreated, httpResponse.Code)
	require.Equal(t, "Patient/1", httpResponse.Header().Get("Location"))
	require.JSONEq(t, `{"resourceType":"Patient","id":"1"}`, httpResponse.Body.String())
}
