package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite/gormsqlite"
	"gorm.io/gorm/clause"
)

// DeliveryRepository records webhook ids that have been accepted for
// processing. The primary key on webhook_id is the idempotency gate.
type DeliveryRepository struct {
	db *gormsqlite.DB
}

func NewDeliveryRepository(db *gormsqlite.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Claim(ctx context.Context, deliveryID string, receivedAt time.Time) (bool, error) {
	var claimed bool
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		row := webhookHistoryModel{WebhookID: deliveryID, ReceivedAt: receivedAt.UTC()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return claimed, nil
}

func (r *DeliveryRepository) Release(ctx context.Context, deliveryID string) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("webhook_id = ?", deliveryID).Delete(&webhookHistoryModel{}).Error
	})
	if err != nil {
		return fmt.Errorf("release delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("received_at < ?", cutoff.UTC()).Delete(&webhookHistoryModel{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return n, nil
}
