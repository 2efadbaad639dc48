package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

type Enrichment struct {
	UserPhoto   *string
	SnapshotURL *string
}

// Enricher fetches the user's profile photo and a camera snapshot of the
// keybox. Both lookups are best effort and run concurrently.
type Enricher struct {
	provider ports.AccessProvider
	tokens   ports.TokenSource
	cameraID string
	logger   *slog.Logger
}

func NewEnricher(provider ports.AccessProvider, tokens ports.TokenSource, cameraID string, logger *slog.Logger) *Enricher {
	return &Enricher{provider: provider, tokens: tokens, cameraID: cameraID, logger: logger}
}

func (e *Enricher) Fetch(ctx context.Context, userID *string, at time.Time) Enrichment {
	var out Enrichment

	token, err := e.tokens.Token(ctx)
	if err != nil {
		e.logger.Warn("access token unavailable for enrichment", "error", err)
		return out
	}

	var g errgroup.Group
	if userID != nil && *userID != "" {
		g.Go(func() error {
			img, err := e.provider.UserPhoto(ctx, token, *userID)
			if err != nil {
				e.logger.Warn("fetch user photo", "user_id", *userID, "error", err)
				return nil
			}
			url := img.DataURL()
			out.UserPhoto = &url
			return nil
		})
	}
	if e.cameraID != "" {
		g.Go(func() error {
			img, err := e.provider.CameraThumbnail(ctx, token, e.cameraID, at)
			if err != nil {
				e.logger.Warn("fetch camera snapshot", "camera_id", e.cameraID, "error", err)
				return nil
			}
			url := img.DataURL()
			out.SnapshotURL = &url
			return nil
		})
	}
	_ = g.Wait()

	return out
}
