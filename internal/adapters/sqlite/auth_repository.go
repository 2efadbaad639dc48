package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

type APIKeyRepository struct {
	db *gormsqlite.DB
}

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	var model apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).Take(&model).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.APIKey{}, domain.ErrNotFound
	case err != nil:
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return domain.APIKey{
		TokenHash: model.TokenHash,
		Name:      model.Name,
		Active:    model.Active,
		CreatedAt: model.CreatedAt,
	}, nil
}

// Upsert stores key, reactivating and renaming an existing row with the
// same hash. created_at of an existing row is kept.
func (r *APIKeyRepository) Upsert(ctx context.Context, key domain.APIKey) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "active"}),
		}).Create(&apiKeyModel{
			TokenHash: key.TokenHash,
			Name:      key.Name,
			Active:    key.Active,
			CreatedAt: key.CreatedAt.UTC(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("upsert api key: %w", err)
	}
	return nil
}

// DeactivateByName revokes every active key issued under name and reports
// how many were revoked.
func (r *APIKeyRepository) DeactivateByName(ctx context.Context, name string) (int64, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&apiKeyModel{}).
			Where("name = ? AND active = ?", name, true).
			Update("active", false)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate api keys: %w", err)
	}
	return affected, nil
}
