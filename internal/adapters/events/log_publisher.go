package events

import (
	"context"
	"log/slog"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

// LogPublisher is used when no downstream endpoint is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.logger.Info("outbox publish",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"key_number", event.KeyNumber,
		"delivery_id", event.DeliveryID,
	)
	return nil
}
