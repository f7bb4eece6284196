package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
	"github.com/MathisL971/expo-inklink-sub000/internal/queue"
)

// adjuster is the only caller of InventoryStore.AdjustAvailability.  It
// turns guard failures into domain errors and owns the retry policy for
// both consuming and restoring tickets.
type adjuster struct {
	store            InventoryStore
	publisher        Publisher
	log              *slog.Logger
	clock            clock.Clock
	attempts         int
	rollbackAttempts int
	backoff          time.Duration
}

func newAdjuster(store InventoryStore, clk clock.Clock, cfg settings) *adjuster {
	return &adjuster{
		store:            store,
		publisher:        cfg.publisher,
		log:              cfg.log,
		clock:            clk,
		attempts:         cfg.createAttempts,
		rollbackAttempts: cfg.rollbackAttempts,
		backoff:          cfg.backoff,
	}
}

// reconcileRef identifies what an inventory restore was for, so a stranded
// restore can be traced back by an operator.
type reconcileRef struct {
	ReservationID string
	TicketID      string
	Reason        string
}

// consume takes line.Quantity tickets from the tier.  A guard failure means
// a concurrent reservation got there first.
func (a *adjuster) consume(ctx context.Context, eventID string, line model.ReservationLine) error {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		_, err := a.store.AdjustAvailability(ctx, eventID, line.TierID, -line.Quantity)
		if err == nil {
			return nil
		}
		var ce *model.CapacityError
		if errors.As(err, &ce) {
			return &model.InsufficientAvailabilityError{
				TierID:    line.TierID,
				TierName:  line.Name,
				Requested: line.Quantity,
				Available: ce.Available,
			}
		}
		if !model.IsConflict(err) {
			return fmt.Errorf("reserve tier %s: %w", line.TierID, err)
		}
		lastErr = err
		if attempt < a.attempts {
			if err := sleepCtx(ctx, a.delay(attempt)); err != nil {
				return err
			}
		}
	}
	return &model.ConflictError{Op: "reserve tier " + line.TierID, Err: lastErr}
}

// restore gives quantity tickets back to the tier.  It runs detached from
// the caller's cancellation and keeps retrying with backoff; when it still
// cannot complete, the incident is logged and published for manual
// reconciliation.
func (a *adjuster) restore(ctx context.Context, eventID, tierID string, quantity int, ref reconcileRef) error {
	ctx = context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= a.rollbackAttempts; attempt++ {
		_, err := a.store.AdjustAvailability(ctx, eventID, tierID, quantity)
		if err == nil {
			return nil
		}
		lastErr = err

		var ce *model.CapacityError
		if errors.As(err, &ce) {
			// Restoring past the tier total means the counters are already
			// inconsistent; retrying cannot help.
			a.log.Error("inventory restore rejected by capacity guard",
				"event_id", eventID, "tier_id", tierID, "delta", quantity,
				"available", ce.Available, "total", ce.Total,
				"reservation_id", ref.ReservationID, "ticket_id", ref.TicketID)
			a.reportStranded(ctx, eventID, tierID, quantity, ref, err)
			return err
		}
		if errors.Is(err, model.ErrNotFound) {
			break
		}
		a.log.Warn("inventory restore failed, retrying",
			"event_id", eventID, "tier_id", tierID, "delta", quantity,
			"attempt", attempt, "error", err)
		if attempt < a.rollbackAttempts {
			_ = sleepCtx(ctx, a.delay(attempt))
		}
	}
	a.reportStranded(ctx, eventID, tierID, quantity, ref, lastErr)
	return &model.ConflictError{Op: "restore tier " + tierID, Err: lastErr}
}

// restoreLines restores every line, continuing past failures.
func (a *adjuster) restoreLines(ctx context.Context, eventID string, lines []model.ReservationLine, ref reconcileRef) error {
	var errs []error
	for _, l := range lines {
		if err := a.restore(ctx, eventID, l.TierID, l.Quantity, ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *adjuster) reportStranded(ctx context.Context, eventID, tierID string, quantity int, ref reconcileRef, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	a.log.Error("inventory restore incomplete, manual reconciliation required",
		"event_id", eventID, "tier_id", tierID, "delta", quantity,
		"reservation_id", ref.ReservationID, "ticket_id", ref.TicketID,
		"reason", ref.Reason, "error", msg)
	ev := queue.InventoryReconcileEvent{
		EventID:       eventID,
		TierID:        tierID,
		Delta:         quantity,
		ReservationID: ref.ReservationID,
		TicketID:      ref.TicketID,
		Reason:        ref.Reason,
		Error:         msg,
		OccurredAt:    a.clock.Now().Format(time.RFC3339),
	}
	if err := a.publisher.Publish(ctx, queue.InventoryReconcileQueue, ev); err != nil {
		a.log.Warn("publish reconcile event failed", "error", err)
	}
}

func (a *adjuster) delay(attempt int) time.Duration {
	if a.backoff <= 0 {
		return 0
	}
	d := a.backoff << (attempt - 1)
	if d > maxRetryBackoff || d <= 0 {
		d = maxRetryBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
