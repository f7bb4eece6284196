package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// TicketService issues tickets for paid reservations and manages their
// life afterwards.  Cancelled and refunded tickets go back on sale.
type TicketService struct {
	store TicketStore
	adj   *adjuster
	clock clock.Clock
	log   *slog.Logger
	newID func() string
}

func NewTicketService(store TicketStore, inventory InventoryStore, clk clock.Clock, opts ...Option) *TicketService {
	cfg := applyOptions(opts)
	return &TicketService{
		store: store,
		adj:   newAdjuster(inventory, clk, cfg),
		clock: clk,
		log:   cfg.log,
		newID: cfg.newID,
	}
}

// Issue converts a paid reservation into one ticket per line.  It is
// idempotent per reservation: lines that already have a ticket are left
// alone and the full set is returned.
func (s *TicketService) Issue(ctx context.Context, res model.Reservation, paymentMethod string) ([]model.Ticket, error) {
	if res.Status != model.ReservationPaid {
		return nil, &model.InvalidStateError{Kind: "reservation", ID: res.ID, Op: "issue tickets for", Status: string(res.Status)}
	}
	existing, err := s.store.ListTicketsByReservation(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	if len(existing) >= len(res.Lines) {
		return existing, nil
	}

	now := s.clock.Now().Truncate(time.Millisecond)
	tickets := make([]model.Ticket, 0, len(res.Lines))
	for _, l := range res.Lines {
		tickets = append(tickets, model.Ticket{
			ID:                   s.newID(),
			ReservationID:        res.ID,
			EventID:              res.EventID,
			UserID:               res.UserID,
			TierID:               l.TierID,
			TierName:             l.Name,
			Quantity:             l.Quantity,
			UnitPriceCents:       l.UnitPriceCents,
			TotalPriceCents:      l.TotalPriceCents(),
			Status:               model.TicketPurchased,
			PaymentStatus:        model.PaymentCompleted,
			PurchaseDate:         now,
			PaymentMethod:        paymentMethod,
			PaymentTransactionID: res.PaymentReference,
			UpdatedAt:            now,
		})
	}
	if err := s.store.InsertTickets(ctx, tickets); err != nil {
		return nil, fmt.Errorf("insert tickets: %w", err)
	}
	issued, err := s.store.ListTicketsByReservation(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	s.log.Info("tickets issued", "reservation_id", res.ID, "tickets", len(issued))
	return issued, nil
}

func (s *TicketService) Get(ctx context.Context, id string) (model.Ticket, error) {
	return s.store.GetTicket(ctx, id)
}

func (s *TicketService) List(ctx context.Context, q model.TicketQuery) ([]model.Ticket, error) {
	return s.store.ListTickets(ctx, q)
}

// Cancel voids a purchased ticket on behalf of its owner (or an admin) and
// puts its quantity back on sale.  Payment status is left for Refund.
func (s *TicketService) Cancel(ctx context.Context, id string, actor Actor) (model.Ticket, error) {
	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, err
	}
	if !actor.owns(t.UserID) {
		return model.Ticket{}, fmt.Errorf("cancel ticket %s: %w", id, model.ErrForbidden)
	}
	return s.release(ctx, t, model.TicketCancelled, "", "cancel")
}

// Refund marks a purchased ticket refunded and puts it back on sale.
func (s *TicketService) Refund(ctx context.Context, id string) (model.Ticket, error) {
	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, err
	}
	return s.release(ctx, t, model.TicketRefunded, model.PaymentRefunded, "refund")
}

func (s *TicketService) release(ctx context.Context, t model.Ticket, to model.TicketStatus, ps model.PaymentStatus, op string) (model.Ticket, error) {
	if t.Status != model.TicketPurchased {
		return model.Ticket{}, &model.InvalidStateError{Kind: "ticket", ID: t.ID, Op: op, Status: string(t.Status)}
	}
	now := s.clock.Now().Truncate(time.Millisecond)
	ok, err := s.store.TransitionTicket(ctx, model.TicketTransition{
		ID:            t.ID,
		From:          model.TicketPurchased,
		To:            to,
		PaymentStatus: ps,
		At:            now,
	})
	if err != nil {
		return model.Ticket{}, fmt.Errorf("%s ticket %s: %w", op, t.ID, err)
	}
	if !ok {
		latest, err := s.store.GetTicket(ctx, t.ID)
		if err != nil {
			return model.Ticket{}, err
		}
		return model.Ticket{}, &model.InvalidStateError{Kind: "ticket", ID: t.ID, Op: op, Status: string(latest.Status)}
	}
	t.Status = to
	if ps != "" {
		t.PaymentStatus = ps
	}
	t.UpdatedAt = now
	restoreErr := s.adj.restore(ctx, t.EventID, t.TierID, t.Quantity, reconcileRef{
		ReservationID: t.ReservationID,
		TicketID:      t.ID,
		Reason:        "ticket " + op,
	})
	s.log.Info("ticket released", "ticket_id", t.ID, "status", t.Status, "quantity", t.Quantity)
	return t, restoreErr
}

// CheckIn marks a purchased ticket used at the door.
func (s *TicketService) CheckIn(ctx context.Context, id string) (model.Ticket, error) {
	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, err
	}
	if t.Status != model.TicketPurchased {
		return model.Ticket{}, &model.InvalidStateError{Kind: "ticket", ID: t.ID, Op: "check in", Status: string(t.Status)}
	}
	now := s.clock.Now().Truncate(time.Millisecond)
	ok, err := s.store.TransitionTicket(ctx, model.TicketTransition{
		ID:          t.ID,
		From:        model.TicketPurchased,
		To:          model.TicketUsed,
		CheckInDate: &now,
		At:          now,
	})
	if err != nil {
		return model.Ticket{}, fmt.Errorf("check in ticket %s: %w", t.ID, err)
	}
	if !ok {
		latest, err := s.store.GetTicket(ctx, t.ID)
		if err != nil {
			return model.Ticket{}, err
		}
		return model.Ticket{}, &model.InvalidStateError{Kind: "ticket", ID: t.ID, Op: "check in", Status: string(latest.Status)}
	}
	t.Status = model.TicketUsed
	t.CheckInDate = &now
	t.UpdatedAt = now
	return t, nil
}
