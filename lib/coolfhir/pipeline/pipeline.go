package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

const defaultContentType = "application/fhir+json"

var marshalFailureBody = []byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"processing","diagnostics":"Failed to marshal response"}]}`)

func New() Instance {
	return Instance{}
}

// Instance is a response pipeline: it marshals a response resource and runs it through transformers before it is written.
// It is immutable; appending transformers returns a copy.
type Instance struct {
	httpResponseTransformers []HttpResponseTransformer
}

type HttpResponseTransformer interface {
	Transform(responseStatus *int, responseBody *[]byte, responseHeaders map[string][]string)
}

// AppendResponseTransformer returns a copy of the pipeline with the given transformer added.
func (p Instance) AppendResponseTransformer(transformer HttpResponseTransformer) Instance {
	transformers := make([]HttpResponseTransformer, 0, len(p.httpResponseTransformers)+1)
	transformers = append(transformers, p.httpResponseTransformers...)
	p.httpResponseTransformers = append(transformers, transformer)
	return p
}

// DoAndWrite renders the resource and writes it with the given status.
// If the resource can't be marshalled, a 500 OperationOutcome is written instead.
func (p Instance) DoAndWrite(httpResponseWriter http.ResponseWriter, resource any, responseStatusCode int) {
	status, headers, body, err := p.render(resource, responseStatusCode)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render pipeline response")
		status = http.StatusInternalServerError
		headers = http.Header{"Content-Type": {defaultContentType}}
		body = marshalFailureBody
	}
	for key, values := range headers {
		httpResponseWriter.Header()[key] = values
	}
	httpResponseWriter.WriteHeader(status)
	if len(body) == 0 {
		return
	}
	if _, err = httpResponseWriter.Write(body); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func (p Instance) render(resource any, status int) (int, http.Header, []byte, error) {
	body, err := marshalResponse(resource)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	headers := http.Header{}
	for _, transformer := range p.httpResponseTransformers {
		transformer.Transform(&status, &body, headers)
	}
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", defaultContentType)
	}
	if status == http.StatusNoContent {
		body = nil
	}
	headers.Set("Content-Length", strconv.Itoa(len(body)))
	return status, headers, body, nil
}

func marshalResponse(resource any) ([]byte, error) {
	switch r := resource.(type) {
	case nil:
		return nil, nil
	case []byte:
		return r, nil
	case json.RawMessage:
		return r, nil
	case io.Reader:
		return io.ReadAll(r)
	}
	return json.Marshal(resource)
}
