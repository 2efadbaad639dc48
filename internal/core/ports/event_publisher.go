package ports

import (
	"context"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

// EventPublisher delivers key transition events drained from the outbox.
// topic is the event type, key.taken or key.returned.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event domain.EventEnvelope) error
}
