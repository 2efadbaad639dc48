package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

type ReconcilerStores struct {
	Deliveries  ports.DeliveryRepository
	Keys        ports.KeyRepository
	Ledger      ports.LedgerRepository
	Transitions ports.TransitionStore
}

// Reconciler turns AUX input webhooks into key custody transitions. It
// keeps no state between deliveries: duplicates are stopped by the
// delivery marker and concurrent transitions by the key status swap.
type Reconciler struct {
	stores   ReconcilerStores
	resolver *IdentityResolver
	enricher *Enricher
	keymap   map[string]int
	policy   DebouncePolicy
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(stores ReconcilerStores, resolver *IdentityResolver, enricher *Enricher, keymap map[string]int, policy DebouncePolicy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		stores:   stores,
		resolver: resolver,
		enricher: enricher,
		keymap:   keymap,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one verified delivery. Suppressed deliveries come back
// as ignored outcomes; an error means nothing was applied and the sender
// should retry.
func (r *Reconciler) Handle(ctx context.Context, d domain.Delivery) (domain.Outcome, error) {
	if d.NotificationType != domain.AuxInputChangeNotification {
		return domain.Ignored(domain.ReasonUnsupportedNotification), nil
	}
	if d.WebhookID == "" {
		return domain.Outcome{}, fmt.Errorf("webhook_id is required: %w", domain.ErrMalformedDelivery)
	}

	log := r.logger.With("delivery_id", d.WebhookID, "device_id", d.DeviceID)

	claimed, err := r.stores.Deliveries.Claim(ctx, d.WebhookID, r.now().UTC())
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		log.Info("duplicate delivery ignored")
		return domain.Ignored(domain.ReasonDuplicateDelivery), nil
	}

	keyNumber, ok := r.keymap[d.DeviceID]
	if !ok {
		log.Info("delivery from unmapped aux device ignored")
		return domain.Ignored(domain.ReasonUnknownDevice), nil
	}

	action := domain.ActionFromInput(d.InputValue)
	log = log.With("key_number", keyNumber, "action", action)

	outcome, err := r.apply(ctx, log, d, keyNumber, action)
	if err != nil {
		r.release(ctx, log, d.WebhookID)
		return domain.Outcome{}, err
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, d domain.Delivery, keyNumber int, action domain.Action) (domain.Outcome, error) {
	ignored := func(reason domain.Reason) domain.Outcome {
		log.Info("transition suppressed", "reason", reason)
		out := domain.Ignored(reason)
		out.KeyNumber = keyNumber
		out.Action = action
		return out
	}

	var status domain.KeyStatus
	rec, err := r.stores.Keys.Get(ctx, keyNumber)
	switch {
	case err == nil:
		status = rec.Status
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Outcome{}, fmt.Errorf("load key state: %w", err)
	}

	var lastTaken *time.Time
	entry, err := r.stores.Ledger.Get(ctx, keyNumber)
	switch {
	case err == nil:
		lastTaken = &entry.TimeTaken
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Outcome{}, fmt.Errorf("load ledger entry: %w", err)
	case status == domain.KeyTaken && !rec.UpdatedAt.IsZero():
		// A take still resolving its identity has swapped the status but
		// not yet written its ledger entry.
		swappedAt := rec.UpdatedAt
		lastTaken = &swappedAt
	}

	if reason, suppressed := r.policy.Check(action, status, lastTaken, r.now()); suppressed {
		return ignored(reason), nil
	}

	swapped, err := r.stores.Keys.CompareAndSwapStatus(ctx, keyNumber, action.TargetStatus())
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("swap key status: %w", err)
	}
	if !swapped {
		return ignored(domain.ReasonLostRace), nil
	}

	// The swap is durable from here on; a dropped request must not leave it
	// without its log entry.
	ctx = context.WithoutCancel(ctx)

	eventTime := d.CreatedAt
	if eventTime.IsZero() {
		eventTime = r.now()
	}

	identity := r.resolver.Resolve(ctx, keyNumber, action, eventTime)
	enrichment := r.enricher.Fetch(ctx, identity.UserID, eventTime)

	logEntry := domain.LogEntry{
		ID:          uuid.NewString(),
		KeyNumber:   keyNumber,
		UserName:    identity.Name,
		UserID:      identity.UserID,
		Action:      action,
		Timestamp:   r.now().UTC(),
		SnapshotURL: enrichment.SnapshotURL,
	}
	err = r.stores.Transitions.Record(ctx, domain.TransitionRecord{
		DeliveryID: d.WebhookID,
		Entry:      logEntry,
		UserPhoto:  enrichment.UserPhoto,
	})
	if errors.Is(err, domain.ErrTransitionSuperseded) {
		// A later transition moved the key on while this one was resolving;
		// the delivery is settled and the key must not be reverted.
		return ignored(domain.ReasonLostRace), nil
	}
	if err != nil {
		if revertErr := r.stores.Transitions.Revert(ctx, keyNumber, action); revertErr != nil {
			log.Error("revert key transition", "error", revertErr)
		}
		return domain.Outcome{}, fmt.Errorf("record transition: %w", err)
	}

	log.Info("key transition applied", "user_name", identity.Name, "log_id", logEntry.ID)
	return domain.Outcome{
		Reason:    domain.ReasonApplied,
		KeyNumber: keyNumber,
		Action:    action,
		Entry:     &logEntry,
	}, nil
}

// release drops the delivery marker so a redelivery is processed again.
func (r *Reconciler) release(ctx context.Context, log *slog.Logger, deliveryID string) {
	if err := r.stores.Deliveries.Release(context.WithoutCancel(ctx), deliveryID); err != nil {
		log.Error("release delivery marker", "error", err)
	}
}
