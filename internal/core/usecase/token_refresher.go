package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

const deliveryRetention = 7 * 24 * time.Hour

// TokenRefresher proactively renews the access token on a fixed interval
// and prunes expired credentials and old delivery markers. Webhook
// handling does not depend on it: the token cache refreshes on demand.
type TokenRefresher struct {
	cache       *TokenCache
	credentials ports.CredentialRepository
	deliveries  ports.DeliveryRepository
	logger      *slog.Logger
	interval    time.Duration
	now         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshSuccessTotal atomic.Int64
	refreshFailureTotal atomic.Int64
}

type TokenRefresherMetrics struct {
	RefreshSuccessTotal int64
	RefreshFailureTotal int64
}

func NewTokenRefresher(cache *TokenCache, credentials ports.CredentialRepository, deliveries ports.DeliveryRepository, logger *slog.Logger, interval time.Duration) *TokenRefresher {
	if interval <= 0 {
		interval = 20 * time.Minute
	}
	return &TokenRefresher{
		cache:       cache,
		credentials: credentials,
		deliveries:  deliveries,
		logger:      logger,
		interval:    interval,
		now:         time.Now,
	}
}

func (r *TokenRefresher) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *TokenRefresher) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	r.wg.Wait()

	m := r.Metrics()
	r.logger.Info("token refresher stopped",
		"refresh_success_total", m.RefreshSuccessTotal,
		"refresh_failure_total", m.RefreshFailureTotal,
	)
	return nil
}

func (r *TokenRefresher) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *TokenRefresher) runOnce(ctx context.Context) {
	cred, err := r.cache.Refresh(ctx)
	if err != nil {
		r.refreshFailureTotal.Add(1)
		if ctx.Err() == nil {
			r.logger.Error("scheduled token refresh", "error", err)
		}
	} else {
		r.refreshSuccessTotal.Add(1)
		r.logger.Info("access token refreshed", "expires_at", cred.ExpiresAt)
	}

	now := r.now().UTC()
	if r.credentials != nil {
		if n, err := r.credentials.PruneExpired(ctx, now); err != nil {
			r.logger.Warn("prune expired tokens", "error", err)
		} else if n > 0 {
			r.logger.Debug("pruned expired tokens", "count", n)
		}
	}
	if r.deliveries != nil {
		if n, err := r.deliveries.PruneOlderThan(ctx, now.Add(-deliveryRetention)); err != nil {
			r.logger.Warn("prune delivery markers", "error", err)
		} else if n > 0 {
			r.logger.Debug("pruned delivery markers", "count", n)
		}
	}
}

func (r *TokenRefresher) Metrics() TokenRefresherMetrics {
	return TokenRefresherMetrics{
		RefreshSuccessTotal: r.refreshSuccessTotal.Load(),
		RefreshFailureTotal: r.refreshFailureTotal.Load(),
	}
}
