package coolfhir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	fhirclient "github.com/SanteonNL/go-fhir-client"
)

// Response is an upstream HTTP response as received: status code and (JSON) body.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// IsSuccessful returns true if the status code is 2xx.
func (r Response) IsSuccessful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// CaptureResponse is a PostRequestOption that captures the HTTP status code and body of the response.
// The body is restored on the response, so the FHIR client can still process it.
func CaptureResponse(target *Response) fhirclient.PostRequestOption {
	return func(_ fhirclient.Client, r *http.Response) error {
		target.StatusCode = r.StatusCode
		if r.Body == nil {
			return nil
		}
		data, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			*target = Response{}
			return fmt.Errorf("FHIR response read failed: %w", err)
		}
		target.Body = data
		r.Body = io.NopCloser(bytes.NewReader(data))
		return nil
	}
}

// Exchange performs a FHIR client call and returns the upstream response, regardless of its status code.
// The call must pass the given options to the FHIR client.
// An error is only returned when no usable response was received: the request failed (e.g. connection refused),
// or a 2xx response body isn't JSON. An empty body is returned as an empty JSON object,
// a non-JSON body of a non-2xx response (e.g. a proxy error page) as {"error": "<body>"}.
func Exchange(call func(opts ...fhirclient.Option) error) (*Response, error) {
	var response Response
	err := call(CaptureResponse(&response))
	if response.StatusCode == 0 {
		if err == nil {
			err = errors.New("no response received")
		}
		return nil, err
	}
	switch {
	case len(bytes.TrimSpace(response.Body)) == 0:
		response.Body = json.RawMessage(`{}`)
	case json.Valid(response.Body):
	case response.IsSuccessful():
		return nil, fmt.Errorf("invalid JSON in response (status=%d)", response.StatusCode)
	default:
		response.Body, _ = json.Marshal(map[string]string{"error": string(response.Body)})
	}
	return &response, nil
}
