package domain

import (
	"strings"
	"time"
)

type KeyStatus string

const (
	KeyPresent KeyStatus = "present"
	KeyTaken   KeyStatus = "taken"
)

type Action string

const (
	ActionTake   Action = "take"
	ActionReturn Action = "return"
)

// ActionFromInput maps an AUX input level to a custody action. The key
// sensor closes the circuit ("True") while the key hangs in the box.
func ActionFromInput(inputValue string) Action {
	if strings.EqualFold(strings.TrimSpace(inputValue), "true") {
		return ActionReturn
	}
	return ActionTake
}

// TargetStatus is the status a key ends up in after the action applies.
func (a Action) TargetStatus() KeyStatus {
	if a == ActionReturn {
		return KeyPresent
	}
	return KeyTaken
}

func (a Action) Valid() bool {
	return a == ActionTake || a == ActionReturn
}

type KeyRecord struct {
	KeyNumber    int
	Status       KeyStatus
	AssignedUser *string
	UpdatedAt    time.Time
}
