package mpi

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the configuration of the MPI (client registry) connection.
type Config struct {
	// URL is the base URL of the MPI. Its FHIR API is expected at <URL>/fhir.
	URL string `koanf:"url"`
	// ProxyURL is the public base URL through which canonical patient references are dereferenced.
	// If set, it takes precedence over URL when canonical references are built.
	ProxyURL string        `koanf:"proxyurl"`
	Timeout  time.Duration `koanf:"timeout"`
	OAuth    OAuthConfig   `koanf:"oauth"`
}

type OAuthConfig struct {
	TokenURL     string   `koanf:"tokenurl"`
	ClientID     string   `koanf:"clientid"`
	ClientSecret string   `koanf:"clientsecret"`
	Scopes       []string `koanf:"scopes"`
}

func (c OAuthConfig) Enabled() bool {
	return c.TokenURL != ""
}

func (c Config) Validate(strictMode bool) error {
	if c.URL == "" {
		return errors.New("mpi.url is required")
	}
	if _, err := parseBaseURL(c.URL); err != nil {
		return fmt.Errorf("invalid mpi.url: %w", err)
	}
	if c.ProxyURL != "" {
		if _, err := parseBaseURL(c.ProxyURL); err != nil {
			return fmt.Errorf("invalid mpi.proxyurl: %w", err)
		}
	}
	if c.OAuth.Enabled() && c.OAuth.ClientID == "" {
		return errors.New("mpi.oauth.clientid is required when mpi.oauth.tokenurl is set")
	}
	if strictMode && !c.OAuth.Enabled() {
		return errors.New("mpi.oauth.tokenurl is required in strict mode")
	}
	return nil
}

// fhirBaseURL returns the base URL of the MPI's FHIR API.
func (c Config) fhirBaseURL() (*url.URL, error) {
	u, err := parseBaseURL(c.URL)
	if err != nil {
		return nil, err
	}
	return u.JoinPath("fhir"), nil
}

// canonicalBaseURL returns the base URL canonical patient references are built on.
func (c Config) canonicalBaseURL() (*url.URL, error) {
	if c.ProxyURL != "" {
		return parseBaseURL(c.ProxyURL)
	}
	return parseBaseURL(c.URL)
}

func parseBaseURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("not an absolute URL: %s", s)
	}
	return u, nil
}
