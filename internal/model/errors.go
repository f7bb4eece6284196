package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound matches every *NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller acts on a reservation or ticket
// owned by someone else.  Handlers translate it into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ValidationError reports malformed or missing input.  No state has been
// changed when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown event, tier, reservation or ticket.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidTierError reports a tier that is not part of the requested event.
type InvalidTierError struct {
	EventID string
	TierID  string
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("tier %s does not belong to event %s", e.TierID, e.EventID)
}

// InsufficientAvailabilityError reports that a tier cannot cover the
// requested quantity.  Callers can recover by asking for fewer tickets.
type InsufficientAvailabilityError struct {
	TierID    string
	TierName  string
	Requested int
	Available int
}

func (e *InsufficientAvailabilityError) Error() string {
	name := e.TierName
	if name == "" {
		name = e.TierID
	}
	if e.Available <= 0 {
		return fmt.Sprintf("%s is sold out", name)
	}
	return fmt.Sprintf("only %d tickets left for %s, requested %d", e.Available, name, e.Requested)
}

// ReservationExpiredError is returned when payment arrives after the hold
// lapsed.  The payment collaborator must void or refund the charge.
type ReservationExpiredError struct {
	ReservationID string
	ExpiresAt     time.Time
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("reservation %s expired at %s, please select again",
		e.ReservationID, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// InvalidStateError reports an operation that is not allowed in the
// current status, e.g. cancelling a paid reservation.
type InvalidStateError struct {
	Kind   string // "reservation" or "ticket"
	ID     string
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: status is %s", e.Op, e.Kind, e.ID, e.Status)
}

// ConflictError is a transient optimistic-concurrency loss.  The operation
// may be retried.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: concurrent update conflict, please retry", e.Op)
	}
	return fmt.Sprintf("%s: concurrent update conflict, please retry: %v", e.Op, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// CapacityError is returned by the inventory store when a delta would take
// a tier below zero or above its total.  On a restore path it signals a
// bug and is logged at error level.
type CapacityError struct {
	EventID   string
	TierID    string
	Delta     int
	Available int
	Total     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity guard on tier %s of event %s: available %d, total %d, delta %d",
		e.TierID, e.EventID, e.Available, e.Total, e.Delta)
}

// IsConflict reports whether err is (or wraps) a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
