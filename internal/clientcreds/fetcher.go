package clientcreds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultFetchTimeout bounds a single token request.
const DefaultFetchTimeout = 10 * time.Second

// OAuth2Fetcher requests tokens with the client-credentials grant, sending
// the client id and secret as HTTP Basic credentials.
type OAuth2Fetcher struct {
	client *http.Client
	now    func() time.Time
}

// NewOAuth2Fetcher uses client, or a pooled client with DefaultFetchTimeout
// when client is nil.
func NewOAuth2Fetcher(client *http.Client) *OAuth2Fetcher {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = DefaultFetchTimeout
	}
	return &OAuth2Fetcher{client: client, now: time.Now}
}

// Fetch performs one token request. Failures come back as
// *common.UpstreamError unless ctx itself was canceled.
func (f *OAuth2Fetcher) Fetch(ctx context.Context, p ProviderConfig) (*Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		TokenURL:     p.TokenURL,
		Scopes:       p.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, f.client))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(p.label(), err)
	}

	var expiresIn time.Duration
	if !tok.Expiry.IsZero() {
		expiresIn = tok.Expiry.Sub(f.now())
	}

	return &Token{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}, nil
}

func classify(provider string, err error) error {
	ue := &common.UpstreamError{Provider: provider, Err: err}

	var re *oauth2.RetrieveError
	var netErr net.Error
	switch {
	case errors.As(err, &re):
		if re.Response != nil {
			ue.StatusCode = re.Response.StatusCode
		}
		ue.Retryable = ue.StatusCode == http.StatusTooManyRequests
	case errors.As(err, &netErr):
		ue.Retryable = true
	}

	return fmt.Errorf("token request: %w", ue)
}
