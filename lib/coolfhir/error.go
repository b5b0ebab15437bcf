package coolfhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/mpi-mediator/lib/to"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// ErrorWithCode is a wrapped error struct that can take an error message as well as an HTTP status code
type ErrorWithCode struct {
	Message    string
	StatusCode int
}

func (e ErrorWithCode) Error() string {
	return e.Message
}

// NewErrorWithCode constructs a new ErrorWithCode custom wrapped error
func NewErrorWithCode(message string, statusCode int) error {
	return &ErrorWithCode{
		Message:    message,
		StatusCode: statusCode,
	}
}

// BadRequestError wraps an error with a status code of 400
func BadRequestError(err error) error {
	return &ErrorWithCode{
		Message:    err.Error(),
		StatusCode: http.StatusBadRequest,
	}
}

// BadRequest creates an error with a status code of 400
func BadRequest(msg string, args ...any) error {
	return BadRequestError(fmt.Errorf(msg, args...))
}

// NewOperationOutcome creates an OperationOutcome with a single error issue.
func NewOperationOutcome(code fhir.IssueType, diagnostics string) fhir.OperationOutcome {
	return fhir.OperationOutcome{
		Issue: []fhir.OperationOutcomeIssue{
			{
				Severity:    fhir.IssueSeverityError,
				Code:        code,
				Diagnostics: to.Ptr(diagnostics),
			},
		},
	}
}

// WriteOperationOutcomeFromError writes an OperationOutcome based on the given error as HTTP response.
// When given an ErrorWithCode, it will write the contained status code, else it defaults to 500 Internal Server Error.
// Only for 400 Bad Request the error message is included in the response.
func WriteOperationOutcomeFromError(ctx context.Context, err error, desc string, httpResponse http.ResponseWriter) {
	log.Ctx(ctx).Error().Err(err).Msgf("%s failed", desc)

	statusCode := http.StatusInternalServerError
	var operationOutcome fhir.OperationOutcome

	var operationOutcomeErr fhirclient.OperationOutcomeError
	var errorWithCode *ErrorWithCode
	if errors.As(err, &operationOutcomeErr) {
		if operationOutcomeErr.HttpStatusCode > 0 {
			statusCode = operationOutcomeErr.HttpStatusCode
		}
		operationOutcome = operationOutcomeErr.OperationOutcome
	} else {
		if errors.As(err, &errorWithCode) && errorWithCode.StatusCode > 0 {
			statusCode = errorWithCode.StatusCode
		}
		diagnostics := http.StatusText(statusCode)
		if statusCode == http.StatusBadRequest {
			diagnostics = err.Error()
		}
		operationOutcome = NewOperationOutcome(fhir.IssueTypeProcessing, fmt.Sprintf("%s failed: %s", desc, diagnostics))
	}
	SendResponse(httpResponse, statusCode, operationOutcome)
}

// SendResponse writes the given resource as FHIR JSON HTTP response.
func SendResponse(httpResponse http.ResponseWriter, httpStatus int, resource interface{}, additionalHeaders ...map[string]string) {
	data, err := json.Marshal(resource)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		httpStatus = http.StatusInternalServerError
		data = []byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"processing","diagnostics":"Failed to marshal response"}]}`)
	}
	for _, headers := range additionalHeaders {
		for key, value := range headers {
			httpResponse.Header().Set(key, value)
		}
	}
	httpResponse.Header().Set("Content-Type", FHIRJSONMediaType)
	httpResponse.WriteHeader(httpStatus)
	if _, err := httpResponse.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
