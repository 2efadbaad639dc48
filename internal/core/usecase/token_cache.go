package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

const (
	tokenExpiryMargin  = 30 * time.Second
	tokenRefreshBudget = 15 * time.Second
)

// TokenCache holds the bearer credential for the access provider. Expired
// or missing credentials are refreshed lazily; concurrent callers share a
// single refresh.
type TokenCache struct {
	provider ports.AccessProvider
	store    ports.CredentialRepository
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cred  domain.Credential
	group singleflight.Group
}

// NewTokenCache returns a cache backed by provider. store may be nil, in
// which case credentials live only in memory.
func NewTokenCache(provider ports.AccessProvider, store ports.CredentialRepository, logger *slog.Logger) *TokenCache {
	return &TokenCache{provider: provider, store: store, logger: logger, now: time.Now}
}

func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if cred, ok := c.cached(); ok {
		return cred.Token, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		if cred, ok := c.cached(); ok {
			return cred, nil
		}
		return c.load(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(domain.Credential).Token, nil
}

// Refresh issues a fresh credential regardless of the cached one and
// persists it.
func (c *TokenCache) Refresh(ctx context.Context) (domain.Credential, error) {
	v, err, _ := c.group.Do("issue", func() (any, error) {
		return c.issue(ctx)
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return v.(domain.Credential), nil
}

func (c *TokenCache) cached() (domain.Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.cred.ValidAt(c.now().Add(tokenExpiryMargin))
}

func (c *TokenCache) set(cred domain.Credential) {
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
}

// load prefers a credential persisted by the refresh job and falls back to
// issuing one.
func (c *TokenCache) load(ctx context.Context) (domain.Credential, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenRefreshBudget)
	defer cancel()

	if c.store != nil {
		cred, err := c.store.Latest(ctx)
		switch {
		case err == nil && cred.ValidAt(c.now().Add(tokenExpiryMargin)):
			c.set(cred)
			return cred, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			c.logger.Warn("load persisted access token", "error", err)
		}
	}
	return c.issue(ctx)
}

func (c *TokenCache) issue(ctx context.Context) (domain.Credential, error) {
	c.logger.Info("refreshing access token")
	cred, err := c.provider.IssueToken(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("issue access token: %w", err)
	}
	c.set(cred)

	if c.store != nil {
		if err := c.store.Save(ctx, cred); err != nil {
			c.logger.Warn("persist access token", "error", err)
		}
	}
	return cred, nil
}
