package coolfhir

import "net/url"

// FhirUrlLoggerSanitizer is a URL logger sanitizer that masks query parameters,
// since they may contain patient identifying information.
func FhirUrlLoggerSanitizer(in *url.URL) *url.URL {
	if in == nil {
		return nil
	}
	result := *in
	q := url.Values{}
	for name, values := range in.Query() {
		for _, value := range values {
			switch name {
			case "_include", "_revinclude", "_count":
				q.Add(name, value)
			default:
				q.Add(name, "****")
			}
		}
	}
	result.RawQuery = q.Encode()
	return &result
}
