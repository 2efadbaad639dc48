package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

func strPtr(s string) *string { return &s }

func TestTransitionStoreTakeThenReturn(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	keys := NewKeyRepository(db)
	ledger := NewLedgerRepository(db)
	store := NewTransitionStore(db)
	logs := NewEventLogRepository(db)
	outbox := NewOutboxRepository(db)

	takenAt := time.Now().UTC().Add(-time.Minute)
	if _, err := keys.CompareAndSwapStatus(ctx, 4, domain.KeyTaken); err != nil {
		t.Fatalf("swap take: %v", err)
	}
	err := store.Record(ctx, domain.TransitionRecord{
		DeliveryID: "wh-take",
		Entry: domain.LogEntry{
			ID:        "log-1",
			KeyNumber: 4,
			UserName:  "Ada",
			UserID:    strPtr("u-1"),
			Action:    domain.ActionTake,
			Timestamp: takenAt,
		},
		UserPhoto: strPtr("data:image/jpeg;base64,AA=="),
	})
	if err != nil {
		t.Fatalf("record take: %v", err)
	}

	entry, err := ledger.Get(ctx, 4)
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if entry.UserName != "Ada" || entry.UserID == nil || *entry.UserID != "u-1" || entry.UserPhoto == nil {
		t.Fatalf("unexpected ledger entry: %+v", entry)
	}
	rec, err := keys.Get(ctx, 4)
	if err != nil {
		t.Fatalf("key get: %v", err)
	}
	if rec.AssignedUser == nil || *rec.AssignedUser != "Ada" {
		t.Fatalf("expected key assigned to Ada, got %+v", rec.AssignedUser)
	}

	if _, err := keys.CompareAndSwapStatus(ctx, 4, domain.KeyPresent); err != nil {
		t.Fatalf("swap return: %v", err)
	}
	err = store.Record(ctx, domain.TransitionRecord{
		DeliveryID: "wh-return",
		Entry: domain.LogEntry{
			ID:        "log-2",
			KeyNumber: 4,
			UserName:  "Ada",
			UserID:    strPtr("u-1"),
			Action:    domain.ActionReturn,
			Timestamp: takenAt.Add(30 * time.Second),
		},
	})
	if err != nil {
		t.Fatalf("record return: %v", err)
	}

	if _, err := ledger.Get(ctx, 4); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ledger entry removed, got %v", err)
	}
	rec, err = keys.Get(ctx, 4)
	if err != nil {
		t.Fatalf("key get after return: %v", err)
	}
	if rec.Status != domain.KeyPresent || rec.AssignedUser != nil {
		t.Fatalf("unexpected key after return: %+v", rec)
	}

	entries, err := logs.List(ctx, domain.LogFilter{KeyNumber: 4})
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].ID != "log-2" || entries[1].ID != "log-1" {
		t.Fatalf("expected newest first, got %s, %s", entries[0].ID, entries[1].ID)
	}

	older, err := logs.List(ctx, domain.LogFilter{Before: entries[0].Timestamp})
	if err != nil {
		t.Fatalf("list log before cursor: %v", err)
	}
	if len(older) != 1 || older[0].ID != "log-1" {
		t.Fatalf("unexpected page after cursor: %+v", older)
	}

	pending, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(pending))
	}
	if pending[0].Topic != domain.EventKeyTaken || pending[1].Topic != domain.EventKeyReturned {
		t.Fatalf("unexpected topics: %s, %s", pending[0].Topic, pending[1].Topic)
	}
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(pending[0].PayloadJSON, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.DeliveryID != "wh-take" || envelope.KeyNumber != 4 {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestTransitionStoreOutboxFailureRollsBackLogAndLedger(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewTransitionStore(db)
	ledger := NewLedgerRepository(db)
	logs := NewEventLogRepository(db)

	if _, err := NewKeyRepository(db).CompareAndSwapStatus(ctx, 9, domain.KeyTaken); err != nil {
		t.Fatalf("swap: %v", err)
	}
	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if _, err := wdb.ExecContext(ctx, `
		CREATE TRIGGER trg_fail_outbox_insert
		BEFORE INSERT ON outbox_events
		BEGIN
			SELECT RAISE(ABORT, 'forced outbox failure');
		END;
	`); err != nil {
		t.Fatalf("create failure trigger: %v", err)
	}

	err = store.Record(ctx, domain.TransitionRecord{
		DeliveryID: "wh-1",
		Entry: domain.LogEntry{
			KeyNumber: 9,
			UserName:  domain.UnknownUserName,
			Action:    domain.ActionTake,
			Timestamp: time.Now().UTC(),
		},
	})
	if err == nil {
		t.Fatalf("expected record error")
	}
	if !strings.Contains(err.Error(), "forced outbox failure") {
		t.Fatalf("expected forced outbox failure, got: %v", err)
	}

	if _, err := ledger.Get(ctx, 9); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ledger rollback, got %v", err)
	}
	entries, err := logs.List(ctx, domain.LogFilter{KeyNumber: 9})
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected log rollback, got %d entries", len(entries))
	}
}

func TestTransitionStoreRevertOnlyUndoesMatchingStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	keys := NewKeyRepository(db)
	store := NewTransitionStore(db)

	if _, err := keys.CompareAndSwapStatus(ctx, 2, domain.KeyTaken); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := store.Revert(ctx, 2, domain.ActionTake); err != nil {
		t.Fatalf("revert take: %v", err)
	}
	rec, err := keys.Get(ctx, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.KeyPresent {
		t.Fatalf("expected present after revert, got %s", rec.Status)
	}

	// A second revert finds the key already present and leaves it alone.
	if err := store.Revert(ctx, 2, domain.ActionTake); err != nil {
		t.Fatalf("second revert: %v", err)
	}
	rec, err = keys.Get(ctx, 2)
	if err != nil {
		t.Fatalf("get after second revert: %v", err)
	}
	if rec.Status != domain.KeyPresent {
		t.Fatalf("expected still present, got %s", rec.Status)
	}
}

func TestEventLogIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := NewTransitionStore(db)

	if _, err := NewKeyRepository(db).CompareAndSwapStatus(ctx, 1, domain.KeyTaken); err != nil {
		t.Fatalf("swap: %v", err)
	}
	err := store.Record(ctx, domain.TransitionRecord{
		DeliveryID: "wh-1",
		Entry: domain.LogEntry{
			ID:        "log-1",
			KeyNumber: 1,
			UserName:  "Ada",
			Action:    domain.ActionTake,
			Timestamp: time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if _, err := wdb.ExecContext(ctx, `UPDATE event_log SET user_name = 'Eve' WHERE id = 'log-1'`); err == nil {
		t.Fatalf("expected update to be rejected")
	}
	if _, err := wdb.ExecContext(ctx, `DELETE FROM event_log WHERE id = 'log-1'`); err == nil {
		t.Fatalf("expected delete to be rejected")
	}
}

func TestTransitionStoreRejectsSupersededTransition(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	keys := NewKeyRepository(db)
	ledger := NewLedgerRepository(db)
	logs := NewEventLogRepository(db)
	outbox := NewOutboxRepository(db)
	store := NewTransitionStore(db)

	// The take swapped the key, then a return swapped it back before the
	// take was recorded.
	if _, err := keys.CompareAndSwapStatus(ctx, 6, domain.KeyTaken); err != nil {
		t.Fatalf("swap take: %v", err)
	}
	if _, err := keys.CompareAndSwapStatus(ctx, 6, domain.KeyPresent); err != nil {
		t.Fatalf("swap return: %v", err)
	}

	err := store.Record(ctx, domain.TransitionRecord{
		DeliveryID: "wh-take",
		Entry: domain.LogEntry{
			ID:        "log-late",
			KeyNumber: 6,
			UserName:  "Ada",
			Action:    domain.ActionTake,
			Timestamp: time.Now().UTC(),
		},
	})
	if !errors.Is(err, domain.ErrTransitionSuperseded) {
		t.Fatalf("expected superseded transition, got %v", err)
	}

	if _, err := ledger.Get(ctx, 6); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no ledger entry, got %v", err)
	}
	rec, err := keys.Get(ctx, 6)
	if err != nil {
		t.Fatalf("key get: %v", err)
	}
	if rec.Status != domain.KeyPresent || rec.AssignedUser != nil {
		t.Fatalf("key must stay present and unassigned, got %+v", rec)
	}
	entries, err := logs.List(ctx, domain.LogFilter{KeyNumber: 6})
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no log entry, got %d", len(entries))
	}
	pending, err := outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no outbox event, got %d", len(pending))
	}

	err = store.Record(ctx, domain.TransitionRecord{
		DeliveryID: "wh-ghost",
		Entry:      domain.LogEntry{KeyNumber: 77, UserName: "Ada", Action: domain.ActionReturn, Timestamp: time.Now().UTC()},
	})
	if !errors.Is(err, domain.ErrTransitionSuperseded) {
		t.Fatalf("expected superseded transition for a key without a row, got %v", err)
	}
}
