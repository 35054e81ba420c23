package clientcreds

import (
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// Transport adds a cached bearer token to every request. A 401 answer drops
// the cached token so the next request fetches a new one; the failed
// request itself is not retried.
type Transport struct {
	Cache    *Cache
	Provider ProviderConfig
	// Base defaults to a pooled cleanhttp transport.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Cache.GetToken(req.Context(), t.Provider)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.base().RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.Cache.ClearEntry(t.Provider.Key())
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return defaultTransport
}

var defaultTransport = cleanhttp.DefaultPooledTransport()

// NewClient returns an HTTP client authenticated for p through cache.
func NewClient(cache *Cache, p ProviderConfig) *http.Client {
	return &http.Client{
		Transport: &Transport{Cache: cache, Provider: p},
		Timeout:   DefaultFetchTimeout,
	}
}
