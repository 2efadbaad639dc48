package usecase

import (
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
)

const DefaultBounceWindow = 2 * time.Second

// DebouncePolicy filters AUX transitions that cannot be real: repeats of
// the current state and flips that follow a take too closely. It reads
// only what the caller loaded from the store for this delivery.
type DebouncePolicy struct {
	Window time.Duration
}

func NewDebouncePolicy(window time.Duration) DebouncePolicy {
	if window <= 0 {
		window = DefaultBounceWindow
	}
	return DebouncePolicy{Window: window}
}

// Check reports whether action must be suppressed and why. status is the
// stored key status ("" when the key has no row yet) and lastTaken the
// time_taken of the key's live ledger entry, if any.
func (p DebouncePolicy) Check(action domain.Action, status domain.KeyStatus, lastTaken *time.Time, now time.Time) (domain.Reason, bool) {
	if status == "" {
		status = domain.KeyPresent
	}

	switch action {
	case domain.ActionTake:
		if status == domain.KeyTaken {
			return domain.ReasonAlreadyTaken, true
		}
		if lastTaken != nil && now.Sub(*lastTaken) < p.Window {
			return domain.ReasonTakeBounce, true
		}
	case domain.ActionReturn:
		if status == domain.KeyPresent {
			return domain.ReasonAlreadyPresent, true
		}
		if lastTaken != nil && now.Sub(*lastTaken) < p.Window {
			return domain.ReasonReturnBounce, true
		}
	}
	return "", false
}
