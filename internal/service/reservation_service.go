package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
	"github.com/MathisL971/expo-inklink-sub000/internal/queue"
)

// ReservationService runs the hold state machine:
//
//	pending -> paid       (ConfirmPayment)
//	pending -> cancelled  (Cancel)
//	pending -> expired    (Expire, sweeper or lazy read)
//
// It is the only writer of reservation status and the only component that
// adjusts inventory on behalf of reservations.  It keeps no mutable state
// of its own; every decision is made by a conditional write in the store.
type ReservationService struct {
	inventory InventoryStore
	ledger    ReservationLedger
	tickets   *TicketService
	adj       *adjuster
	publisher Publisher
	clock     clock.Clock
	log       *slog.Logger
	hold      time.Duration
	newID     func() string
}

func NewReservationService(inventory InventoryStore, ledger ReservationLedger, tickets *TicketService, clk clock.Clock, opts ...Option) *ReservationService {
	cfg := applyOptions(opts)
	return &ReservationService{
		inventory: inventory,
		ledger:    ledger,
		tickets:   tickets,
		adj:       newAdjuster(inventory, clk, cfg),
		publisher: cfg.publisher,
		clock:     clk,
		log:       cfg.log,
		hold:      cfg.holdDuration,
		newID:     cfg.newID,
	}
}

// HoldDuration is how long a new reservation holds its tickets.
func (s *ReservationService) HoldDuration() time.Duration { return s.hold }

// MaxLineQuantity bounds a single merged line; stores keep quantities in
// 32-bit columns.
const MaxLineQuantity = math.MaxInt32

type LineInput struct {
	TierID   string `json:"tier_id"`
	Quantity int    `json:"quantity"`
}

type CreateReservationInput struct {
	EventID string
	UserID  string
	Lines   []LineInput
}

// Actor is the caller of a cancellation.  Admins may cancel any hold.
type Actor struct {
	UserID string
	Admin  bool
}

func (a Actor) owns(userID string) bool { return a.Admin || a.UserID == userID }

type ConfirmPaymentInput struct {
	ReservationID    string
	PaymentReference string
	PaymentMethod    string
}

// Confirmation is the outcome of a settled payment.
type Confirmation struct {
	Reservation model.Reservation `json:"reservation"`
	Tickets     []model.Ticket    `json:"tickets"`
}

// Create validates the request against current availability, takes the
// tickets out of every requested tier and records a pending reservation.
// Tier decrements are all-or-nothing: if any tier loses a race, the tiers
// already decremented for this call are restored before returning.
func (s *ReservationService) Create(ctx context.Context, in CreateReservationInput) (model.Reservation, error) {
	lines, err := normalizeLines(in)
	if err != nil {
		return model.Reservation{}, err
	}
	eventID := strings.TrimSpace(in.EventID)
	ev, err := s.inventory.GetEvent(ctx, eventID)
	if err != nil {
		return model.Reservation{}, err
	}

	held := make([]model.ReservationLine, 0, len(lines))
	for _, l := range lines {
		tier, ok := ev.Tier(l.TierID)
		if !ok {
			return model.Reservation{}, &model.InvalidTierError{EventID: ev.ID, TierID: l.TierID}
		}
		if l.Quantity > tier.AvailableQuantity {
			return model.Reservation{}, &model.InsufficientAvailabilityError{
				TierID:    tier.ID,
				TierName:  tier.Name,
				Requested: l.Quantity,
				Available: tier.AvailableQuantity,
			}
		}
		held = append(held, model.ReservationLine{
			TierID:         tier.ID,
			Name:           tier.Name,
			Quantity:       l.Quantity,
			UnitPriceCents: tier.UnitPriceCents,
		})
	}

	// Stores keep millisecond precision; truncate so guards compare equal.
	now := s.clock.Now().Truncate(time.Millisecond)
	res := model.Reservation{
		ID:        s.newID(),
		EventID:   ev.ID,
		UserID:    strings.TrimSpace(in.UserID),
		Lines:     held,
		ExpiresAt: now.Add(s.hold),
		Status:    model.ReservationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	applied := make([]model.ReservationLine, 0, len(held))
	for _, l := range held {
		if err := s.adj.consume(ctx, ev.ID, l); err != nil {
			if rbErr := s.rollback(ctx, res, applied, "create aborted"); rbErr != nil {
				return model.Reservation{}, rbErr
			}
			return model.Reservation{}, err
		}
		applied = append(applied, l)
	}

	if err := s.ledger.InsertReservation(ctx, res); err != nil {
		if rbErr := s.rollback(ctx, res, applied, "reservation insert failed"); rbErr != nil {
			return model.Reservation{}, rbErr
		}
		return model.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	s.log.Info("reservation created",
		"reservation_id", res.ID, "event_id", res.EventID, "user_id", res.UserID,
		"quantity", res.Quantity(), "expires_at", res.ExpiresAt)
	return res, nil
}

func (s *ReservationService) rollback(ctx context.Context, res model.Reservation, applied []model.ReservationLine, reason string) error {
	if len(applied) == 0 {
		return nil
	}
	err := s.adj.restoreLines(ctx, res.EventID, applied, reconcileRef{ReservationID: res.ID, Reason: reason})
	if err == nil {
		return nil
	}
	if model.IsConflict(err) {
		return err
	}
	return &model.ConflictError{Op: "roll back reservation " + res.ID, Err: err}
}

// ConfirmPayment marks a pending reservation paid and issues its tickets.
// Inventory is not touched: it was consumed when the hold was created.
// Retrying with the same payment reference returns the tickets already
// issued instead of creating new ones.
func (s *ReservationService) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (Confirmation, error) {
	id := strings.TrimSpace(in.ReservationID)
	ref := strings.TrimSpace(in.PaymentReference)
	if id == "" {
		return Confirmation{}, &model.ValidationError{Field: "reservation_id", Message: "is required"}
	}
	if ref == "" {
		return Confirmation{}, &model.ValidationError{Field: "payment_reference", Message: "is required"}
	}
	in.PaymentReference = ref

	res, err := s.ledger.GetReservation(ctx, id)
	if err != nil {
		return Confirmation{}, err
	}
	if res.Status != model.ReservationPending {
		return s.settled(ctx, res, in)
	}

	now := s.clock.Now()
	if res.ExpiredAt(now) {
		return Confirmation{}, s.expireForConfirm(ctx, res)
	}

	ok, err := s.ledger.TransitionReservation(ctx, model.ReservationTransition{
		ID:               res.ID,
		From:             model.ReservationPending,
		To:               model.ReservationPaid,
		At:               now,
		RequireUnexpired: true,
		PaymentReference: ref,
	})
	if err != nil {
		return Confirmation{}, fmt.Errorf("mark reservation %s paid: %w", res.ID, err)
	}
	if !ok {
		// Lost to a concurrent expire, cancel or confirm; answer from the
		// state that won.
		latest, err := s.ledger.GetReservation(ctx, res.ID)
		if err != nil {
			return Confirmation{}, err
		}
		if latest.Status == model.ReservationPending {
			if !latest.ExpiredAt(now) {
				return Confirmation{}, &model.ConflictError{Op: "confirm payment for reservation " + res.ID}
			}
			return Confirmation{}, s.expireForConfirm(ctx, latest)
		}
		return s.settled(ctx, latest, in)
	}

	res.Status = model.ReservationPaid
	res.PaymentReference = ref
	res.UpdatedAt = now

	tickets, err := s.tickets.Issue(ctx, res, in.PaymentMethod)
	if err != nil {
		return Confirmation{Reservation: res}, fmt.Errorf("issue tickets for reservation %s: %w", res.ID, err)
	}
	s.log.Info("reservation paid",
		"reservation_id", res.ID, "payment_reference", ref, "tickets", len(tickets))
	s.publishConfirmed(ctx, res, tickets, now)
	return Confirmation{Reservation: res, Tickets: tickets}, nil
}

// settled answers a confirmation for a reservation that is no longer
// pending.
func (s *ReservationService) settled(ctx context.Context, res model.Reservation, in ConfirmPaymentInput) (Confirmation, error) {
	switch res.Status {
	case model.ReservationPaid:
		if res.PaymentReference != in.PaymentReference {
			return Confirmation{}, &model.InvalidStateError{
				Kind: "reservation", ID: res.ID, Op: "confirm payment for", Status: string(res.Status),
			}
		}
		tickets, err := s.tickets.Issue(ctx, res, in.PaymentMethod)
		if err != nil {
			return Confirmation{Reservation: res}, fmt.Errorf("issue tickets for reservation %s: %w", res.ID, err)
		}
		return Confirmation{Reservation: res, Tickets: tickets}, nil
	case model.ReservationExpired:
		return Confirmation{}, &model.ReservationExpiredError{ReservationID: res.ID, ExpiresAt: res.ExpiresAt}
	default:
		return Confirmation{}, &model.InvalidStateError{
			Kind: "reservation", ID: res.ID, Op: "confirm payment for", Status: string(res.Status),
		}
	}
}

func (s *ReservationService) expireForConfirm(ctx context.Context, res model.Reservation) error {
	latest, err := s.Expire(ctx, res.ID)
	if err != nil {
		s.log.Warn("lazy expire during confirmation failed", "reservation_id", res.ID, "error", err)
		return &model.ReservationExpiredError{ReservationID: res.ID, ExpiresAt: res.ExpiresAt}
	}
	if latest.Status == model.ReservationPaid {
		// Cannot happen with a guarded transition, but never report a paid
		// reservation as expired.
		return &model.InvalidStateError{Kind: "reservation", ID: res.ID, Op: "confirm payment for", Status: string(latest.Status)}
	}
	return &model.ReservationExpiredError{ReservationID: res.ID, ExpiresAt: res.ExpiresAt}
}

// Cancel releases a pending hold and restores its tickets.
func (s *ReservationService) Cancel(ctx context.Context, id string, actor Actor) (model.Reservation, error) {
	res, err := s.ledger.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if !actor.owns(res.UserID) {
		return model.Reservation{}, fmt.Errorf("cancel reservation %s: %w", id, model.ErrForbidden)
	}
	if res.Status != model.ReservationPending {
		return model.Reservation{}, &model.InvalidStateError{Kind: "reservation", ID: res.ID, Op: "cancel", Status: string(res.Status)}
	}

	now := s.clock.Now()
	ok, err := s.ledger.TransitionReservation(ctx, model.ReservationTransition{
		ID:   res.ID,
		From: model.ReservationPending,
		To:   model.ReservationCancelled,
		At:   now,
	})
	if err != nil {
		return model.Reservation{}, fmt.Errorf("cancel reservation %s: %w", res.ID, err)
	}
	if !ok {
		latest, err := s.ledger.GetReservation(ctx, res.ID)
		if err != nil {
			return model.Reservation{}, err
		}
		return model.Reservation{}, &model.InvalidStateError{Kind: "reservation", ID: res.ID, Op: "cancel", Status: string(latest.Status)}
	}

	res.Status = model.ReservationCancelled
	res.UpdatedAt = now
	restoreErr := s.adj.restoreLines(ctx, res.EventID, res.Lines, reconcileRef{ReservationID: res.ID, Reason: "cancel"})
	s.log.Info("reservation cancelled", "reservation_id", res.ID, "actor", actor.UserID, "admin", actor.Admin)
	s.publishReleased(ctx, res, now)
	return res, restoreErr
}

// Expire transitions a lapsed pending reservation to expired and restores
// its tickets.  Calling it on a reservation that is already terminal is a
// no-op, since the sweeper and lazy read paths may race.
func (s *ReservationService) Expire(ctx context.Context, id string) (model.Reservation, error) {
	res, err := s.ledger.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if res.Status.Terminal() {
		return res, nil
	}
	now := s.clock.Now()
	if !res.ExpiredAt(now) {
		return res, &model.InvalidStateError{Kind: "reservation", ID: res.ID, Op: "expire", Status: "pending until " + res.ExpiresAt.Format(time.RFC3339)}
	}

	ok, err := s.ledger.TransitionReservation(ctx, model.ReservationTransition{
		ID:             res.ID,
		From:           model.ReservationPending,
		To:             model.ReservationExpired,
		At:             now,
		RequireExpired: true,
	})
	if err != nil {
		return model.Reservation{}, fmt.Errorf("expire reservation %s: %w", res.ID, err)
	}
	if !ok {
		return s.ledger.GetReservation(ctx, res.ID)
	}

	res.Status = model.ReservationExpired
	res.UpdatedAt = now
	restoreErr := s.adj.restoreLines(ctx, res.EventID, res.Lines, reconcileRef{ReservationID: res.ID, Reason: "expire"})
	s.log.Info("reservation expired", "reservation_id", res.ID, "event_id", res.EventID, "quantity", res.Quantity())
	s.publishReleased(ctx, res, now)
	return res, restoreErr
}

// Get returns a reservation, expiring it first if its hold has lapsed.
func (s *ReservationService) Get(ctx context.Context, id string) (model.Reservation, error) {
	res, err := s.ledger.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	return s.lazyExpire(ctx, res), nil
}

// List returns reservations matching q with lapsed holds expired.
func (s *ReservationService) List(ctx context.Context, q model.ReservationQuery) ([]model.Reservation, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, &model.ValidationError{Field: "status", Message: "must be one of pending, paid, expired, cancelled"}
	}
	items, err := s.ledger.ListReservations(ctx, q)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, r := range items {
		r = s.lazyExpire(ctx, r)
		// A hold expired just now no longer matches a status filter.
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *ReservationService) lazyExpire(ctx context.Context, res model.Reservation) model.Reservation {
	if res.Status != model.ReservationPending || !res.ExpiredAt(s.clock.Now()) {
		return res
	}
	latest, err := s.Expire(ctx, res.ID)
	if err != nil && latest.ID == "" {
		s.log.Warn("lazy expire failed", "reservation_id", res.ID, "error", err)
		return res
	}
	return latest
}

func (s *ReservationService) publishConfirmed(ctx context.Context, res model.Reservation, tickets []model.Ticket, at time.Time) {
	ev := queue.ReservationConfirmedEvent{
		ReservationID:    res.ID,
		UserID:           res.UserID,
		EventID:          res.EventID,
		PaymentReference: res.PaymentReference,
		TotalPriceCents:  res.TotalPriceCents(),
		ConfirmedAt:      at.Format(time.RFC3339),
	}
	for _, t := range tickets {
		ev.TicketIDs = append(ev.TicketIDs, t.ID)
		ev.Tiers = append(ev.Tiers, fmt.Sprintf("%s x%d", t.TierName, t.Quantity))
	}
	if err := s.publisher.Publish(ctx, queue.ReservationConfirmedQueue, ev); err != nil {
		s.log.Warn("publish reservation confirmed failed", "reservation_id", res.ID, "error", err)
	}
}

func (s *ReservationService) publishReleased(ctx context.Context, res model.Reservation, at time.Time) {
	ev := queue.ReservationReleasedEvent{
		ReservationID: res.ID,
		EventID:       res.EventID,
		Status:        string(res.Status),
		Quantity:      res.Quantity(),
		ReleasedAt:    at.Format(time.RFC3339),
	}
	if err := s.publisher.Publish(ctx, queue.ReservationReleasedQueue, ev); err != nil {
		s.log.Warn("publish reservation released failed", "reservation_id", res.ID, "error", err)
	}
}

// normalizeLines validates the request and merges repeated tiers so each
// tier is decremented once.
func normalizeLines(in CreateReservationInput) ([]LineInput, error) {
	if strings.TrimSpace(in.EventID) == "" {
		return nil, &model.ValidationError{Field: "event_id", Message: "is required"}
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, &model.ValidationError{Field: "user_id", Message: "is required"}
	}
	if len(in.Lines) == 0 {
		return nil, &model.ValidationError{Field: "lines", Message: "at least one line is required"}
	}
	out := make([]LineInput, 0, len(in.Lines))
	index := make(map[string]int, len(in.Lines))
	for i, l := range in.Lines {
		tierID := strings.TrimSpace(l.TierID)
		if tierID == "" {
			return nil, &model.ValidationError{Field: fmt.Sprintf("lines[%d].tier_id", i), Message: "is required"}
		}
		if l.Quantity < 1 {
			return nil, &model.ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Message: "must be at least 1"}
		}
		if l.Quantity > MaxLineQuantity {
			return nil, &model.ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Message: fmt.Sprintf("must be at most %d", MaxLineQuantity)}
		}
		if j, ok := index[tierID]; ok {
			if l.Quantity > MaxLineQuantity-out[j].Quantity {
				return nil, &model.ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Message: fmt.Sprintf("total for tier %s must be at most %d", tierID, MaxLineQuantity)}
			}
			out[j].Quantity += l.Quantity
			continue
		}
		index[tierID] = len(out)
		out = append(out, LineInput{TierID: tierID, Quantity: l.Quantity})
	}
	return out, nil
}

