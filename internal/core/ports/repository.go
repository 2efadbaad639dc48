package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

type KeyRepository interface {
	Get(ctx context.Context, keyNumber int) (domain.KeyRecord, error)
	List(ctx context.Context) ([]domain.KeyRecord, error)
	// CompareAndSwapStatus moves a key into next unless it is already there.
	// It reports false when another writer got there first.
	CompareAndSwapStatus(ctx context.Context, keyNumber int, next domain.KeyStatus) (bool, error)
}

type LedgerRepository interface {
	Get(ctx context.Context, keyNumber int) (domain.LedgerEntry, error)
	List(ctx context.Context) ([]domain.LedgerEntry, error)
}

type TransitionStore interface {
	Record(ctx context.Context, rec domain.TransitionRecord) error
	Revert(ctx context.Context, keyNumber int, action domain.Action) error
}

type EventLogRepository interface {
	List(ctx context.Context, filter domain.LogFilter) ([]domain.LogEntry, error)
}

type DeliveryRepository interface {
	// Claim inserts the delivery marker. It returns false when the marker
	// already existed.
	Claim(ctx context.Context, deliveryID string, receivedAt time.Time) (bool, error)
	Release(ctx context.Context, deliveryID string) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type CredentialRepository interface {
	Latest(ctx context.Context) (domain.Credential, error)
	Save(ctx context.Context, cred domain.Credential) error
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
