package mpi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenProvider supplies the bearer token sent to the MPI.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

var _ TokenProvider = StaticTokenProvider("")

// StaticTokenProvider always returns the same token. An empty token means no Authorization header is sent.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// tokenExpiryMargin is subtracted from a token's lifetime, so a cached token is never sent when it's about to expire.
const tokenExpiryMargin = 30 * time.Second

// defaultTokenTTL is used for tokens without an expiry.
const defaultTokenTTL = 5 * time.Minute

const tokenCacheKey = "mpi"

var _ TokenProvider = &OAuthTokenProvider{}

// OAuthTokenProvider acquires tokens using the OAuth2 client credentials grant and caches them until shortly before they expire.
type OAuthTokenProvider struct {
	config     clientcredentials.Config
	httpClient *http.Client
	cache      *ttlcache.Cache[string, string]
	mux        sync.Mutex
}

func NewOAuthTokenProvider(config OAuthConfig, httpClient *http.Client) *OAuthTokenProvider {
	return &OAuthTokenProvider{
		config: clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
			Scopes:       config.Scopes,
		},
		httpClient: httpClient,
		cache:      ttlcache.New[string, string](ttlcache.WithDisableTouchOnHit[string, string]()),
	}
}

func (o *OAuthTokenProvider) Token(ctx context.Context) (string, error) {
	if item := o.cache.Get(tokenCacheKey); item != nil {
		return item.Value(), nil
	}
	o.mux.Lock()
	defer o.mux.Unlock()
	// another caller might have acquired a token while we waited for the lock
	if item := o.cache.Get(tokenCacheKey); item != nil {
		return item.Value(), nil
	}
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	token, err := o.config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("unable to acquire MPI access token: %w", err)
	}
	ttl := defaultTokenTTL
	if !token.Expiry.IsZero() {
		ttl = time.Until(token.Expiry) - tokenExpiryMargin
	}
	if ttl > 0 {
		o.cache.Set(tokenCacheKey, token.AccessToken, ttl)
	}
	return token.AccessToken, nil
}
