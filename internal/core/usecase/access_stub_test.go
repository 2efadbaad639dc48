package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

type stubAccessProvider struct {
	issueFn     func(ctx context.Context) (domain.Credential, error)
	searchFn    func(ctx context.Context, token string, start, end time.Time) ([]domain.BadgeEvent, error)
	photoFn     func(ctx context.Context, token, userID string) (domain.Image, error)
	thumbnailFn func(ctx context.Context, token, cameraID string, at time.Time) (domain.Image, error)

	issueCalls     atomic.Int64
	photoCalls     atomic.Int64
	thumbnailCalls atomic.Int64
}

func (s *stubAccessProvider) IssueToken(ctx context.Context) (domain.Credential, error) {
	s.issueCalls.Add(1)
	if s.issueFn != nil {
		return s.issueFn(ctx)
	}
	return domain.Credential{Token: "issued", ExpiresAt: time.Now().Add(25 * time.Minute)}, nil
}

func (s *stubAccessProvider) SearchAccessEvents(ctx context.Context, token string, start, end time.Time) ([]domain.BadgeEvent, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, token, start, end)
	}
	return nil, nil
}

func (s *stubAccessProvider) UserPhoto(ctx context.Context, token, userID string) (domain.Image, error) {
	s.photoCalls.Add(1)
	if s.photoFn != nil {
		return s.photoFn(ctx, token, userID)
	}
	return domain.Image{ContentType: "image/png", Data: []byte("photo")}, nil
}

func (s *stubAccessProvider) CameraThumbnail(ctx context.Context, token, cameraID string, at time.Time) (domain.Image, error) {
	s.thumbnailCalls.Add(1)
	if s.thumbnailFn != nil {
		return s.thumbnailFn(ctx, token, cameraID, at)
	}
	return domain.Image{ContentType: "image/jpeg", Data: []byte("frame")}, nil
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) {
	return s.token, s.err
}

type stubCredentialRepo struct {
	mu      sync.Mutex
	latest  *domain.Credential
	saved   []domain.Credential
	saveErr error
	pruned  int
}

func (s *stubCredentialRepo) Latest(context.Context) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return domain.Credential{}, domain.ErrNotFound
	}
	return *s.latest, nil
}

func (s *stubCredentialRepo) Save(_ context.Context, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, cred)
	return nil
}

func (s *stubCredentialRepo) PruneExpired(context.Context, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned++
	return 1, nil
}

var errProviderDown = errors.New("provider down")
