package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

const (
	EventKeyTaken    = "key.taken"
	EventKeyReturned = "key.returned"
)

// EventTypeFor names the outbox event emitted for an applied action.
func EventTypeFor(action Action) string {
	if action == ActionReturn {
		return EventKeyReturned
	}
	return EventKeyTaken
}

type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	KeyNumber     int             `json:"key_number"`
	DeliveryID    string          `json:"delivery_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
