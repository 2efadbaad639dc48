package ports

import (
	"context"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

// APIKeyRepository stores hashed read API keys for the dashboard endpoints.
type APIKeyRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error)
	Upsert(ctx context.Context, key domain.APIKey) error
	DeactivateByName(ctx context.Context, name string) (int64, error)
}
