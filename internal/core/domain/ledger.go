package domain

import "time"

// LedgerEntry is the live record of a key that is out of the box.
type LedgerEntry struct {
	KeyNumber int
	UserID    *string
	UserName  string
	UserPhoto *string
	TimeTaken time.Time
}

// LogEntry is an immutable audit row, one per applied transition.
type LogEntry struct {
	ID          string
	KeyNumber   int
	UserName    string
	UserID      *string
	Action      Action
	Timestamp   time.Time
	SnapshotURL *string
}

type LogFilter struct {
	KeyNumber int
	Before    time.Time
	Limit     int
}

// TransitionRecord carries everything written after a guarded transition
// has been applied: the log row, the ledger mutation and the key owner.
type TransitionRecord struct {
	DeliveryID string
	Entry      LogEntry
	UserPhoto  *string
}
