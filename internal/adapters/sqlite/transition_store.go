package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransitionStore writes the consequences of an applied key transition in a
// single transaction: the audit row, the ledger mutation, the key owner and
// the outbox event.
type TransitionStore struct {
	db *gormsqlite.DB
}

func NewTransitionStore(db *gormsqlite.DB) *TransitionStore {
	return &TransitionStore{db: db}
}

func (s *TransitionStore) Record(ctx context.Context, rec domain.TransitionRecord) error {
	entry := rec.Entry
	if !entry.Action.Valid() {
		return fmt.Errorf("record transition: unknown action %q", entry.Action)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := requireStatus(tx.DB, entry.KeyNumber, entry.Action.TargetStatus()); err != nil {
			return err
		}

		logRow := eventLogModel{
			ID:          entry.ID,
			KeyNumber:   entry.KeyNumber,
			UserName:    entry.UserName,
			UserID:      entry.UserID,
			Action:      string(entry.Action),
			Timestamp:   entry.Timestamp,
			SnapshotURL: entry.SnapshotURL,
		}
		if err := tx.Create(&logRow).Error; err != nil {
			return fmt.Errorf("insert event log: %w", err)
		}

		if err := applyLedger(tx.DB, entry, rec.UserPhoto); err != nil {
			return err
		}

		return insertOutbox(tx.DB, rec.DeliveryID, entry)
	})
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// Revert moves a key back out of the status the action put it in. It is a
// no-op when another transition has already moved the key on.
func (s *TransitionStore) Revert(ctx context.Context, keyNumber int, action domain.Action) error {
	target := action.TargetStatus()
	previous := domain.KeyPresent
	if target == domain.KeyPresent {
		previous = domain.KeyTaken
	}

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&keyModel{}).
			Where("key_number = ? AND status = ?", keyNumber, string(target)).
			Updates(map[string]any{"status": string(previous), "updated_at": time.Now().UTC()}).Error
	})
	if err != nil {
		return fmt.Errorf("revert key status: %w", err)
	}
	return nil
}

// requireStatus fails with ErrTransitionSuperseded unless the key still
// holds the status its transition swapped it into.
func requireStatus(tx *gorm.DB, keyNumber int, want domain.KeyStatus) error {
	var key keyModel
	err := tx.Where("key_number = ?", keyNumber).Take(&key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("key %d has no row: %w", keyNumber, domain.ErrTransitionSuperseded)
	case err != nil:
		return fmt.Errorf("load key status: %w", err)
	case domain.KeyStatus(key.Status) != want:
		return fmt.Errorf("key %d is %s, not %s: %w", keyNumber, key.Status, want, domain.ErrTransitionSuperseded)
	}
	return nil
}

func applyLedger(tx *gorm.DB, entry domain.LogEntry, userPhoto *string) error {
	switch entry.Action {
	case domain.ActionTake:
		row := ongoingEventModel{
			KeyNumber: entry.KeyNumber,
			UserID:    entry.UserID,
			UserName:  entry.UserName,
			UserPhoto: userPhoto,
			TimeTaken: entry.Timestamp,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "user_name", "user_photo", "time_taken"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert ledger entry: %w", err)
		}
		owner := entry.UserName
		return setAssignedUser(tx, entry.KeyNumber, &owner, entry.Timestamp)
	default:
		if err := tx.Where("key_number = ?", entry.KeyNumber).Delete(&ongoingEventModel{}).Error; err != nil {
			return fmt.Errorf("delete ledger entry: %w", err)
		}
		return setAssignedUser(tx, entry.KeyNumber, nil, entry.Timestamp)
	}
}

func setAssignedUser(tx *gorm.DB, keyNumber int, owner *string, at time.Time) error {
	err := tx.Model(&keyModel{}).
		Where("key_number = ?", keyNumber).
		Updates(map[string]any{"assigned_user": owner, "updated_at": at}).Error
	if err != nil {
		return fmt.Errorf("set assigned user: %w", err)
	}
	return nil
}

func insertOutbox(tx *gorm.DB, deliveryID string, entry domain.LogEntry) error {
	payload, err := json.Marshal(logEntryPayload(entry))
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}

	envelope := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     domain.EventTypeFor(entry.Action),
		SchemaVersion: domain.CurrentEventSchemaVersion,
		KeyNumber:     entry.KeyNumber,
		DeliveryID:    deliveryID,
		OccurredAt:    entry.Timestamp,
		Payload:       payload,
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode outbox envelope: %w", err)
	}

	row := outboxEventModel{
		EventID:       envelope.EventID,
		Topic:         envelope.EventType,
		PayloadJSON:   string(envelopeJSON),
		Status:        "pending",
		Attempts:      0,
		NextAttemptAt: entry.Timestamp,
		LastError:     "",
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

type logEntryJSON struct {
	ID          string    `json:"id"`
	KeyNumber   int       `json:"key_number"`
	UserName    string    `json:"user_name"`
	UserID      *string   `json:"user_id"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	SnapshotURL *string   `json:"snapshot_url,omitempty"`
}

func logEntryPayload(entry domain.LogEntry) logEntryJSON {
	return logEntryJSON{
		ID:          entry.ID,
		KeyNumber:   entry.KeyNumber,
		UserName:    entry.UserName,
		UserID:      entry.UserID,
		Action:      string(entry.Action),
		Timestamp:   entry.Timestamp,
		SnapshotURL: entry.SnapshotURL,
	}
}
