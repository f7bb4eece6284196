package service

import (
	"context"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// InventoryStore holds the authoritative per-tier counters.
// AdjustAvailability must be atomic per tier and must refuse any delta
// that would leave available outside [0, total] with a *model.CapacityError.
type InventoryStore interface {
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	GetTier(ctx context.Context, eventID, tierID string) (model.Tier, error)
	AdjustAvailability(ctx context.Context, eventID, tierID string, delta int) (int, error)
}

// CatalogStore adds event authoring and browsing on top of the inventory.
type CatalogStore interface {
	InventoryStore
	CreateEvent(ctx context.Context, ev model.Event) error
	SearchEvents(ctx context.Context, q model.EventSearchQuery) ([]model.Event, int64, error)
}

// ReservationLedger persists holds.  TransitionReservation returns false,
// without error, when the reservation is no longer in the From state or an
// expiry guard does not hold.
type ReservationLedger interface {
	InsertReservation(ctx context.Context, r model.Reservation) error
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	TransitionReservation(ctx context.Context, t model.ReservationTransition) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	ListReservations(ctx context.Context, q model.ReservationQuery) ([]model.Reservation, error)
}

// TicketStore persists issued tickets.  InsertTickets must ignore a ticket
// whose (reservation ID, tier ID) pair already exists.
type TicketStore interface {
	InsertTickets(ctx context.Context, tickets []model.Ticket) error
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	ListTicketsByReservation(ctx context.Context, reservationID string) ([]model.Ticket, error)
	ListTickets(ctx context.Context, q model.TicketQuery) ([]model.Ticket, error)
	TransitionTicket(ctx context.Context, t model.TicketTransition) (bool, error)
}

// Store is implemented by every backend in internal/repository.
type Store interface {
	CatalogStore
	ReservationLedger
	TicketStore
}

// Publisher emits domain events to the message broker.  Failures are
// logged by callers and never fail the request.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// NopPublisher discards every event.
func NopPublisher() Publisher { return nopPublisher{} }
