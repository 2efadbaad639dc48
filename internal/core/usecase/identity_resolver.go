package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

const (
	DefaultBadgeLookback  = 180 * time.Second
	DefaultBadgeLookahead = 5 * time.Second

	// DefaultResolveDelay gives the provider's badge feed time to catch up
	// with the AUX webhook before it is searched.
	DefaultResolveDelay = 1200 * time.Millisecond
)

type IdentityResolverConfig struct {
	ControllerID string
	Delay        time.Duration
	Lookback     time.Duration
	Lookahead    time.Duration
}

// IdentityResolver attributes a key transition to the badge holder whose
// accepted badge event at the same controller is the most recent one
// around the AUX timestamp.
type IdentityResolver struct {
	provider ports.AccessProvider
	tokens   ports.TokenSource
	ledger   ports.LedgerRepository
	cfg      IdentityResolverConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewIdentityResolver(provider ports.AccessProvider, tokens ports.TokenSource, ledger ports.LedgerRepository, cfg IdentityResolverConfig, logger *slog.Logger) *IdentityResolver {
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultBadgeLookback
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultBadgeLookahead
	}
	return &IdentityResolver{
		provider: provider,
		tokens:   tokens,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Resolve never fails: when nobody can be attributed it returns the
// unknown-user identity. Returns fall back to whoever holds the key.
func (r *IdentityResolver) Resolve(ctx context.Context, keyNumber int, action domain.Action, at time.Time) domain.Identity {
	if err := r.sleep(ctx, r.cfg.Delay); err != nil {
		r.logger.Warn("identity resolution delay interrupted", "key_number", keyNumber, "error", err)
	}

	if identity, ok := r.fromBadgeFeed(ctx, keyNumber, at); ok {
		return identity
	}

	if action == domain.ActionReturn {
		entry, err := r.ledger.Get(ctx, keyNumber)
		switch {
		case err == nil:
			r.logger.Info("identity taken from ledger", "key_number", keyNumber, "user_name", entry.UserName)
			return domain.Identity{UserID: entry.UserID, Name: entry.UserName}
		case !errors.Is(err, domain.ErrNotFound):
			r.logger.Warn("load ledger entry for identity fallback", "key_number", keyNumber, "error", err)
		}
	}

	return domain.UnknownIdentity()
}

func (r *IdentityResolver) fromBadgeFeed(ctx context.Context, keyNumber int, at time.Time) (domain.Identity, bool) {
	token, err := r.tokens.Token(ctx)
	if err != nil {
		r.logger.Warn("access token unavailable for identity search", "key_number", keyNumber, "error", err)
		return domain.Identity{}, false
	}

	start := at.Add(-r.cfg.Lookback)
	end := at.Add(r.cfg.Lookahead)
	events, err := r.provider.SearchAccessEvents(ctx, token, start, end)
	if err != nil {
		r.logger.Warn("search badge events", "key_number", keyNumber, "error", err)
		return domain.Identity{}, false
	}

	best, ok := MostRecentAcceptedBadge(events, r.cfg.ControllerID, start, end)
	if !ok {
		r.logger.Info("no accepted badge event in window", "key_number", keyNumber, "candidates", len(events))
		return domain.Identity{}, false
	}

	userID := best.UserID
	name := best.UserName
	if name == "" {
		name = domain.UnknownUserName
	}
	resolvedAt := best.Timestamp
	return domain.Identity{UserID: &userID, Name: name, ResolvedAt: &resolvedAt}, true
}

// MostRecentAcceptedBadge picks the latest accepted badge event carrying a
// user at controllerID inside [start, end].
func MostRecentAcceptedBadge(events []domain.BadgeEvent, controllerID string, start, end time.Time) (domain.BadgeEvent, bool) {
	candidates := make([]domain.BadgeEvent, 0, len(events))
	for _, evt := range events {
		if evt.UserID == "" || evt.ControllerID != controllerID {
			continue
		}
		if evt.Timestamp.Before(start) || evt.Timestamp.After(end) {
			continue
		}
		if !badgeAccepted(evt) {
			continue
		}
		candidates = append(candidates, evt)
	}
	if len(candidates) == 0 {
		return domain.BadgeEvent{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})
	return candidates[0], true
}

func badgeAccepted(evt domain.BadgeEvent) bool {
	return evt.Accepted ||
		strings.Contains(strings.ToLower(evt.Type), "accepted") ||
		strings.Contains(strings.ToLower(evt.EventType), "accepted")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
