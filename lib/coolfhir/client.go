package coolfhir

import (
	"net/http"
	"net/url"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// FHIRJSONMediaType is the content type of FHIR resources in JSON format.
const FHIRJSONMediaType = fhirclient.FhirJsonMediaType

func Config() *fhirclient.Config {
	config := fhirclient.DefaultConfig()
	config.DefaultOptions = []fhirclient.Option{
		fhirclient.RequestHeaders(map[string][]string{
			"Cache-Control": {"no-cache"},
		}),
	}
	config.Non2xxStatusHandler = func(response *http.Response, responseBody []byte) {
		log.Debug().Msgf("Non-2xx status code from FHIR server (%s %s, status=%d), content: %s", response.Request.Method, FhirUrlLoggerSanitizer(response.Request.URL), response.StatusCode, string(responseBody))
	}
	return &config
}

// NewClient creates a FHIR client for the FHIR API at the given base URL (e.g. http://hapi:8080/fhir).
func NewClient(fhirBaseURL *url.URL, httpClient fhirclient.HttpRequestDoer) fhirclient.Client {
	return fhirclient.New(fhirBaseURL, httpClient, Config())
}

// NewHTTPClient creates an HTTP client for calling upstream services, propagating trace context.
// A zero timeout means no timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}
