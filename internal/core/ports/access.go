package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

// AccessProvider is the vendor access-control API.
type AccessProvider interface {
	IssueToken(ctx context.Context) (domain.Credential, error)
	SearchAccessEvents(ctx context.Context, token string, start, end time.Time) ([]domain.BadgeEvent, error)
	UserPhoto(ctx context.Context, token, userID string) (domain.Image, error)
	CameraThumbnail(ctx context.Context, token, cameraID string, at time.Time) (domain.Image, error)
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
