package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type KeyRepository struct {
	db *gormsqlite.DB
}

func NewKeyRepository(db *gormsqlite.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) Get(ctx context.Context, keyNumber int) (domain.KeyRecord, error) {
	var model keyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("key_number = ?", keyNumber).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.KeyRecord{}, domain.ErrNotFound
		}
		return domain.KeyRecord{}, fmt.Errorf("get key: %w", err)
	}
	return keyToDomain(model), nil
}

func (r *KeyRepository) List(ctx context.Context) ([]domain.KeyRecord, error) {
	var models []keyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Order("key_number ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	keys := make([]domain.KeyRecord, 0, len(models))
	for _, model := range models {
		keys = append(keys, keyToDomain(model))
	}
	return keys, nil
}

// CompareAndSwapStatus creates the key as present on first sight and then
// moves it to next only if it is not already there. The writer pool holds a
// single connection, so the guarded UPDATE is the only arbiter between
// concurrent deliveries.
func (r *KeyRepository) CompareAndSwapStatus(ctx context.Context, keyNumber int, next domain.KeyStatus) (bool, error) {
	now := time.Now().UTC()
	var swapped bool
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		seed := keyModel{KeyNumber: keyNumber, Status: string(domain.KeyPresent), UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("ensure key row: %w", err)
		}

		res := tx.Model(&keyModel{}).
			Where("key_number = ? AND status <> ?", keyNumber, string(next)).
			Updates(map[string]any{"status": string(next), "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("update key status: %w", res.Error)
		}
		swapped = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("swap key status: %w", err)
	}
	return swapped, nil
}

func keyToDomain(model keyModel) domain.KeyRecord {
	return domain.KeyRecord{
		KeyNumber:    model.KeyNumber,
		Status:       domain.KeyStatus(model.Status),
		AssignedUser: model.AssignedUser,
		UpdatedAt:    model.UpdatedAt,
	}
}

type LedgerRepository struct {
	db *gormsqlite.DB
}

func NewLedgerRepository(db *gormsqlite.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Get(ctx context.Context, keyNumber int) (domain.LedgerEntry, error) {
	var model ongoingEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("key_number = ?", keyNumber).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LedgerEntry{}, domain.ErrNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	return ledgerToDomain(model), nil
}

func (r *LedgerRepository) List(ctx context.Context) ([]domain.LedgerEntry, error) {
	var models []ongoingEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Order("time_taken DESC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}

	entries := make([]domain.LedgerEntry, 0, len(models))
	for _, model := range models {
		entries = append(entries, ledgerToDomain(model))
	}
	return entries, nil
}

func ledgerToDomain(model ongoingEventModel) domain.LedgerEntry {
	return domain.LedgerEntry{
		KeyNumber: model.KeyNumber,
		UserID:    model.UserID,
		UserName:  model.UserName,
		UserPhoto: model.UserPhoto,
		TimeTaken: model.TimeTaken,
	}
}
