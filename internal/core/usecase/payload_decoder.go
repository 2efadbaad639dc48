package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

// webhookSchema describes the envelope the access provider posts. Only the
// outer shape is enforced; notification-specific fields are checked after
// decoding so that unrelated notification types still pass.
const webhookSchema = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "webhook_id": {"type": "string"},
    "created_at": {"type": "number"},
    "data": {
      "type": "object",
      "properties": {
        "notification_type": {"type": "string"},
        "device_id": {"type": "string"},
        "input_value": {"type": ["string", "boolean"]}
      }
    }
  }
}`

type webhookPayload struct {
	WebhookID string       `json:"webhook_id"`
	CreatedAt *float64     `json:"created_at"`
	Data      *webhookData `json:"data"`
}

type webhookData struct {
	NotificationType string          `json:"notification_type"`
	DeviceID         string          `json:"device_id"`
	InputValue       json.RawMessage `json:"input_value"`
}

// PayloadDecoder validates raw webhook bodies against webhookSchema and
// decodes them into deliveries.
type PayloadDecoder struct {
	schema *santhosh.Schema
}

func NewPayloadDecoder() (*PayloadDecoder, error) {
	compiled, err := compileSchema(webhookSchema)
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return &PayloadDecoder{schema: compiled}, nil
}

func (d *PayloadDecoder) Decode(body []byte) (domain.Delivery, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Delivery{}, fmt.Errorf("invalid json: %w", domain.ErrMalformedDelivery)
	}
	if err := d.schema.Validate(raw); err != nil {
		return domain.Delivery{}, fmt.Errorf("%s: %w", strings.Join(validationMessages(err), "; "), domain.ErrMalformedDelivery)
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Delivery{}, fmt.Errorf("decode payload: %w", domain.ErrMalformedDelivery)
	}

	delivery := domain.Delivery{
		WebhookID:        strings.TrimSpace(payload.WebhookID),
		NotificationType: payload.Data.NotificationType,
		DeviceID:         payload.Data.DeviceID,
		InputValue:       inputValueString(payload.Data.InputValue),
	}
	if payload.CreatedAt != nil && *payload.CreatedAt > 0 {
		sec, frac := math.Modf(*payload.CreatedAt)
		delivery.CreatedAt = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return delivery, nil
}

// inputValueString normalises the AUX level, which arrives either as the
// string "True"/"False" or as a JSON boolean.
func inputValueString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func compileSchema(schemaJSON string) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("webhook.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("webhook.json")
}

func validationMessages(err error) []string {
	var ve *santhosh.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	return collectValidationErrors(ve)
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
