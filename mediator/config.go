package mediator

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const defaultURN = "urn:mediator:mpi-mediator"

func DefaultConfig() Config {
	return Config{
		URN:            defaultURN,
		MaxRequestSize: 10 * 1024 * 1024,
		DataStore: DataStoreConfig{
			Timeout: 30 * time.Second,
		},
	}
}

type Config struct {
	// URN is the mediator URN reported to OpenHIM in every response.
	URN string `koanf:"urn"`
	// MaxRequestSize is the maximum size of request bodies, in bytes.
	MaxRequestSize int64           `koanf:"maxrequestsize"`
	DataStore      DataStoreConfig `koanf:"datastore"`
}

// DataStoreConfig configures the FHIR data store, which also validates resources and serves patient summaries.
type DataStoreConfig struct {
	// URL is the base URL of the data store, without /fhir.
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

func (c Config) Validate() error {
	if c.URN == "" {
		return errors.New("mediator.urn is required")
	}
	if c.MaxRequestSize <= 0 {
		return errors.New("mediator.maxrequestsize must be positive")
	}
	if c.DataStore.URL == "" {
		return errors.New("mediator.datastore.url is required")
	}
	if _, err := c.DataStore.fhirBaseURL(); err != nil {
		return fmt.Errorf("invalid mediator.datastore.url: %w", err)
	}
	return nil
}

// fhirBaseURL returns the FHIR API base URL of the data store (<url>/fhir).
func (c DataStoreConfig) fhirBaseURL() (*url.URL, error) {
	parsed, err := url.Parse(c.URL)
	if err != nil {
		return nil, err
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("not an absolute URL: %s", c.URL)
	}
	return parsed.JoinPath("fhir"), nil
}
