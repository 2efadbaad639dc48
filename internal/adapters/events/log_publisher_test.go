package events

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

func TestLogPublisherWritesEventFields(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))

	event := domain.EventEnvelope{EventID: "evt-9", EventType: domain.EventKeyReturned, KeyNumber: 3, DeliveryID: "wh-9"}
	if err := pub.Publish(context.Background(), domain.EventKeyReturned, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"event_id=evt-9", "topic=key.returned", "key_number=3", "delivery_id=wh-9"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}
