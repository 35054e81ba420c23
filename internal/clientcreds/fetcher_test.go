package clientcreds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenRequest struct {
	user, pass string
	basic      bool
	form       url.Values
}

func tokenServer(t *testing.T, status int, body map[string]any) (*httptest.Server, *tokenRequest) {
	t.Helper()
	captured := &tokenRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		captured.user, captured.pass, captured.basic = r.BasicAuth()
		captured.form = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	return srv, captured
}

func TestOAuth2Fetcher_Success(t *testing.T) {
	srv, req := tokenServer(t, http.StatusOK, map[string]any{
		"access_token": "abc",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	f := NewOAuth2Fetcher(srv.Client())
	tok, err := f.Fetch(context.Background(), ProviderConfig{
		Name:         "acme",
		TokenURL:     srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       []string{"read", "write"},
	})
	require.NoError(t, err)

	assert.Equal(t, "abc", tok.AccessToken)
	assert.InDelta(t, time.Hour.Seconds(), tok.ExpiresIn.Seconds(), 5)

	require.True(t, req.basic, "client credentials must be sent as HTTP Basic")
	assert.Equal(t, "client", req.user)
	assert.Equal(t, "secret", req.pass)
	assert.Equal(t, "client_credentials", req.form.Get("grant_type"))
	assert.Equal(t, "read write", req.form.Get("scope"))
	assert.Empty(t, req.form.Get("client_secret"))
}

func TestOAuth2Fetcher_NoExpiry(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, map[string]any{
		"access_token": "abc",
		"token_type":   "Bearer",
	})

	tok, err := NewOAuth2Fetcher(srv.Client()).Fetch(context.Background(), ProviderConfig{TokenURL: srv.URL, ClientID: "c"})
	require.NoError(t, err)
	assert.Zero(t, tok.ExpiresIn)
}

func TestOAuth2Fetcher_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, false},
		{"bad client", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := tokenServer(t, tt.status, map[string]any{"error": "nope"})

			_, err := NewOAuth2Fetcher(srv.Client()).Fetch(context.Background(), ProviderConfig{Name: "acme", TokenURL: srv.URL, ClientID: "c"})
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrorUpstream)

			var ue *common.UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, "acme", ue.Provider)
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.retryable, common.IsRetryable(err))
		})
	}
}

func TestOAuth2Fetcher_NetworkErrorRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tokenURL := srv.URL
	srv.Close()

	_, err := NewOAuth2Fetcher(nil).Fetch(context.Background(), ProviderConfig{TokenURL: tokenURL, ClientID: "c"})
	require.Error(t, err)
	assert.True(t, common.IsRetryable(err))
}

func TestOAuth2Fetcher_CanceledContext(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, map[string]any{"access_token": "abc"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOAuth2Fetcher(srv.Client()).Fetch(ctx, ProviderConfig{TokenURL: srv.URL, ClientID: "c"})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, common.ErrorUpstream)
}

func TestCacheWithOAuth2Fetcher(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, map[string]any{
		"access_token": "abc",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	c, err := New(NewOAuth2Fetcher(srv.Client()))
	require.NoError(t, err)

	p := ProviderConfig{Name: "acme", TokenURL: srv.URL, ClientID: "c", ClientSecret: "s"}
	tok, err := c.GetToken(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, 1, c.Len())
}
