package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ContainerSigner issues container-scoped access tokens.
type ContainerSigner interface {
	SignContainer(container string, expiry time.Time) (string, error)
}

// NoSigner refuses every token request. Used when Azure is not configured.
type NoSigner struct{}

func (NoSigner) SignContainer(string, time.Time) (string, error) {
	return "", fmt.Errorf("azure: %w", errBackendDisabled)
}

// SASCache hands out container SAS tokens, reusing one token per container while at least half
// of its lifetime remains. It is constructed once at startup and passed to its consumers.
type SASCache struct {
	signer ContainerSigner
	ttl    time.Duration
	tokens *expirable.LRU[string, string]
	now    func() time.Time
}

func NewSASCache(signer ContainerSigner, size int, ttl time.Duration) *SASCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SASCache{
		signer: signer,
		ttl:    ttl,
		tokens: expirable.NewLRU[string, string](size, nil, ttl/2),
		now:    time.Now,
	}
}

// ContainerToken returns a read token for the container.
func (c *SASCache) ContainerToken(_ context.Context, container string) (string, error) {
	if token, ok := c.tokens.Get(container); ok {
		return token, nil
	}
	token, err := c.signer.SignContainer(container, c.now().Add(c.ttl))
	if err != nil {
		return "", fmt.Errorf("container token: %w", err)
	}
	c.tokens.Add(container, token)
	return token, nil
}

// Evict drops the cached token of one container, e.g. after the storage key was rotated.
func (c *SASCache) Evict(container string) {
	c.tokens.Remove(container)
}

// Purge drops every cached token.
func (c *SASCache) Purge() {
	c.tokens.Purge()
}

func (c *SASCache) Len() int {
	return c.tokens.Len()
}
