package grpc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/feedline/core/go/routine"
)

// CachedTokenProvider wraps a TokenProvider with TTL caching, and can optionally
// keep the cache warm with a background refresh routine.
type CachedTokenProvider struct {
	provider TokenProvider
	ttl      time.Duration

	mu        sync.Mutex
	token     string
	fetchedAt time.Time

	refresher *routine.Routine
}

// NewCachedTokenProvider instantiates and returns a new CachedTokenProvider.
func NewCachedTokenProvider(provider TokenProvider, ttl time.Duration) *CachedTokenProvider {
	return &CachedTokenProvider{
		provider: provider,
		ttl:      ttl,
	}
}

// Token implements the TokenProvider interface. It returns the cached token while
// fresh, and queries the underlying provider otherwise.
func (c *CachedTokenProvider) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Since(c.fetchedAt) < c.ttl {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()
	return c.refresh(ctx)
}

func (c *CachedTokenProvider) refresh(ctx context.Context) (string, error) {
	token, err := c.provider.Token(ctx)
	if err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}
	c.mu.Lock()
	c.token = token
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return token, nil
}

// StartRefresh starts a background routine that refreshes the token at half its TTL,
// so calls rarely block on the provider. Close stops it.
func (c *CachedTokenProvider) StartRefresh(ctx context.Context) *CachedTokenProvider {
	if c.refresher != nil {
		return c
	}
	c.refresher = routine.New("token-refresh", func(ctx context.Context) error {
		_, err := c.refresh(ctx)
		return err
	}, nil).
		WithTicker(c.ttl / 2).
		WithConstantBackOff(time.Second).
		Start(ctx)
	return c
}

// Close stops the background refresh routine, if any.
func (c *CachedTokenProvider) Close() {
	if c.refresher != nil {
		c.refresher.Close()
	}
}
