package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"gorm.io/gorm"
)

type CredentialRepository struct {
	db *gormsqlite.DB
}

func NewCredentialRepository(db *gormsqlite.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Latest returns the credential with the furthest expiry.
func (r *CredentialRepository) Latest(ctx context.Context) (domain.Credential, error) {
	var model accessTokenModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Order("expires_at DESC").Order("id DESC").First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credential{}, domain.ErrNotFound
		}
		return domain.Credential{}, fmt.Errorf("latest credential: %w", err)
	}
	return domain.Credential{Token: model.Token, ExpiresAt: model.ExpiresAt}, nil
}

func (r *CredentialRepository) Save(ctx context.Context, cred domain.Credential) error {
	model := accessTokenModel{
		Token:     cred.Token,
		ExpiresAt: cred.ExpiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("expires_at < ?", now.UTC()).Delete(&accessTokenModel{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("prune credentials: %w", err)
	}
	return n, nil
}
