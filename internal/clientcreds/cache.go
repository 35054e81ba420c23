// Package clientcreds caches bearer tokens obtained with the OAuth2
// client-credentials grant for outbound calls to third-party APIs.
//
// Warm reads skip the fetch mutex and only hold the LRU's own lock for the
// lookup. A miss takes the cache's single mutex, checks again and only then
// fetches, so concurrent callers asking for the same provider trigger one
// token request.
package clientcreds

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/dmitrijs2005/credkeeper/internal/clientcreds"

const (
	// DefaultSafetyMargin is subtracted from the provider's expiry.
	DefaultSafetyMargin = 5 * time.Second
	// DefaultMaxEntries bounds the number of cached providers.
	DefaultMaxEntries = 128
)

// ProviderConfig identifies a token endpoint and the client registered with it.
type ProviderConfig struct {
	Name         string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Key is the cache key: one entry per token URL, client and scope set.
// Name is only a label and plays no part in it.
func (p ProviderConfig) Key() string {
	scopes := slices.Clone(p.Scopes)
	slices.Sort(scopes)
	scopes = slices.Compact(scopes)
	return p.TokenURL + "|" + p.ClientID + "|" + strings.Join(scopes, " ")
}

func (p ProviderConfig) label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.TokenURL
}

// Token is what a Fetcher returns. ExpiresIn is relative to the moment the
// provider answered; zero means the provider did not say.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Fetcher obtains a fresh token from a provider.
type Fetcher interface {
	Fetch(ctx context.Context, p ProviderConfig) (*Token, error)
}

// CachedCredential is a stored token. ExpiresAt already has the safety
// margin taken off.
type CachedCredential struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(d time.Duration) Option {
	return func(c *Cache) { c.margin = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for uncacheable tokens.
func WithLogger(l logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithRateLimit caps how often tokens are fetched across all providers.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Cache) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithMaxEntries overrides DefaultMaxEntries.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// Cache holds one token per provider key.
type Cache struct {
	fetcher    Fetcher
	entries    *lru.Cache[string, CachedCredential]
	mu         sync.Mutex
	margin     time.Duration
	maxEntries int
	now        func() time.Time
	limiter    *rate.Limiter
	logger     logging.Logger
	tracer     trace.Tracer
}

// New builds a cache in front of fetcher.
func New(fetcher Fetcher, opts ...Option) (*Cache, error) {
	c := &Cache{
		fetcher:    fetcher,
		margin:     DefaultSafetyMargin,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     logging.Nop{},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.margin < 0 {
		return nil, fmt.Errorf("safety margin must not be negative, got %s", c.margin)
	}

	entries, err := lru.New[string, CachedCredential](c.maxEntries)
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	c.entries = entries

	return c, nil
}

// GetToken returns a valid bearer token for p, fetching one when the cached
// token is missing or within the safety margin of expiry. Fetch errors are
// returned to the caller and never cached.
func (c *Cache) GetToken(ctx context.Context, p ProviderConfig) (string, error) {
	key := p.Key()

	if tok, ok := c.lookup(key); ok {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have refreshed it while we waited
	if tok, ok := c.lookup(key); ok {
		return tok, nil
	}

	return c.fetch(ctx, key, p)
}

// Clear drops every cached token.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// ClearEntry drops the token cached under key, if any.
func (c *Cache) ClearEntry(key string) {
	c.entries.Remove(key)
}

// Len is the number of cached tokens, including expired ones not yet evicted.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) lookup(key string) (string, bool) {
	e, ok := c.entries.Get(key)
	if !ok || !c.now().Before(e.ExpiresAt) {
		return "", false
	}
	return e.Token, true
}

func (c *Cache) fetch(ctx context.Context, key string, p ProviderConfig) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ClientCredentialCache.Fetch",
		trace.WithAttributes(attribute.String("provider", p.label())))
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limited")
			return "", fmt.Errorf("token fetch for %s: %w", p.label(), err)
		}
	}

	tok, err := c.fetcher.Fetch(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return "", err
	}

	if tok.ExpiresIn <= c.margin {
		span.SetAttributes(attribute.Bool("cached", false))
		c.logger.Warn(ctx, "token expires within safety margin, not caching",
			"provider", p.label(), "expires_in", tok.ExpiresIn.String())
		return tok.AccessToken, nil
	}

	c.entries.Add(key, CachedCredential{
		Key:       key,
		Token:     tok.AccessToken,
		ExpiresAt: c.now().Add(tok.ExpiresIn - c.margin),
	})
	span.SetAttributes(attribute.Bool("cached", true))

	return tok.AccessToken, nil
}
