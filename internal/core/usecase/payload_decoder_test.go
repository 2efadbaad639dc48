package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

func newDecoder(t *testing.T) *PayloadDecoder {
	t.Helper()
	d, err := NewPayloadDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d
}

func TestPayloadDecoderDecodesAuxDelivery(t *testing.T) {
	body := []byte(`{"webhook_id":" wh-1 ","created_at":1700000000.5,"data":{"notification_type":"door_auxinput_change_state","device_id":"aux-3","input_value":"True"}}`)

	d, err := newDecoder(t).Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.WebhookID != "wh-1" || d.DeviceID != "aux-3" || d.InputValue != "True" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if d.NotificationType != domain.AuxInputChangeNotification {
		t.Fatalf("unexpected notification type %q", d.NotificationType)
	}
	if want := time.Unix(1700000000, 500_000_000).UTC(); !d.CreatedAt.Equal(want) {
		t.Fatalf("created_at = %v, want %v", d.CreatedAt, want)
	}
}

func TestPayloadDecoderAcceptsBooleanInputValue(t *testing.T) {
	d, err := newDecoder(t).Decode([]byte(`{"webhook_id":"wh-2","data":{"notification_type":"door_auxinput_change_state","device_id":"aux-3","input_value":true}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if domain.ActionFromInput(d.InputValue) != domain.ActionReturn {
		t.Fatalf("boolean true should map to return, got input %q", d.InputValue)
	}
	if !d.CreatedAt.IsZero() {
		t.Fatalf("expected zero created_at when absent, got %v", d.CreatedAt)
	}
}

func TestPayloadDecoderPassesOtherNotificationTypes(t *testing.T) {
	d, err := newDecoder(t).Decode([]byte(`{"webhook_id":"wh-3","data":{"notification_type":"door_opened","extra":{"nested":1}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.NotificationType != "door_opened" {
		t.Fatalf("unexpected notification type %q", d.NotificationType)
	}
}

func TestPayloadDecoderRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"not json":          `nope`,
		"array":             `[]`,
		"missing data":      `{"webhook_id":"wh-4"}`,
		"data is string":    `{"data":"x"}`,
		"webhook_id number": `{"webhook_id":4,"data":{}}`,
		"input_value array": `{"data":{"input_value":[1]}}`,
	}
	d := newDecoder(t)
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode([]byte(body))
			if !errors.Is(err, domain.ErrMalformedDelivery) {
				t.Fatalf("expected malformed delivery, got %v", err)
			}
		})
	}
}
