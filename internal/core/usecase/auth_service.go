package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

const apiKeyPrefix = "kbx_"

// AuthService issues, checks and revokes read API keys. Only the SHA-256
// of a key is stored; the plain token is shown once at issue time.
type AuthService struct {
	repo ports.APIKeyRepository
	now  func() time.Time
}

func NewAuthService(repo ports.APIKeyRepository) *AuthService {
	return &AuthService{repo: repo, now: time.Now}
}

func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.APIKey{}, domain.ErrUnauthorized
	}

	apiKey, err := s.repo.FindByTokenHash(ctx, HashToken(token))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.APIKey{}, domain.ErrUnauthorized
	case err != nil:
		return domain.APIKey{}, err
	case !apiKey.Active:
		return domain.APIKey{}, domain.ErrUnauthorized
	}
	return apiKey, nil
}

// Register stores token under name. It backs the bootstrap key whose
// plain value comes from configuration.
func (s *AuthService) Register(ctx context.Context, name, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("api key token is empty")
	}
	if name = strings.TrimSpace(name); name == "" {
		name = "bootstrap"
	}
	return s.repo.Upsert(ctx, domain.APIKey{
		TokenHash: HashToken(token),
		Name:      name,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
}

// Issue generates a new random key for name and returns its plain value.
func (s *AuthService) Issue(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("api key name is required")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	token := apiKeyPrefix + hex.EncodeToString(raw)
	if err := s.Register(ctx, name, token); err != nil {
		return "", err
	}
	return token, nil
}

// Revoke deactivates every key issued under name.
func (s *AuthService) Revoke(ctx context.Context, name string) (int64, error) {
	n, err := s.repo.DeactivateByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, domain.ErrNotFound
	}
	return n, nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
