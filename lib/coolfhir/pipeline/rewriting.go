package pipeline

import (
	"net/http"
)

var _ HttpResponseTransformer = &ResponseHeaderSetter{}

// ResponseHeaderSetter is a transformer that sets HTTP response headers.
type ResponseHeaderSetter http.Header

func (r ResponseHeaderSetter) Transform(_ *int, _ *[]byte, responseHeaders map[string][]string) {
	for headerName, headerValues := range r {
		responseHeaders[headerName] = headerValues
	}
}
