package domain

import "time"

const AuxInputChangeNotification = "door_auxinput_change_state"

// Delivery is a decoded inbound webhook.
type Delivery struct {
	WebhookID        string
	CreatedAt        time.Time
	NotificationType string
	DeviceID         string
	InputValue       string
}

type Reason string

const (
	ReasonApplied                 Reason = "applied"
	ReasonDuplicateDelivery       Reason = "duplicate_delivery"
	ReasonUnsupportedNotification Reason = "unsupported_notification"
	ReasonUnknownDevice           Reason = "unknown_device"
	ReasonAlreadyTaken            Reason = "already_taken"
	ReasonAlreadyPresent          Reason = "already_present"
	ReasonReturnBounce            Reason = "return_bounce"
	ReasonTakeBounce              Reason = "take_bounce"
	ReasonLostRace                Reason = "lost_race"
)

// Outcome is the result of handling one delivery. Ignored outcomes carry no
// side effects beyond the delivery marker.
type Outcome struct {
	Ignored   bool
	Reason    Reason
	KeyNumber int
	Action    Action
	Entry     *LogEntry
}

func Ignored(reason Reason) Outcome {
	return Outcome{Ignored: true, Reason: reason}
}
