package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
	"github.com/MathisL971/expo-inklink-sub000/internal/repository/memrepo"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	key     string
	payload any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{key: key, payload: payload})
	return nil
}

func (p *recordingPublisher) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.key == key {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *memrepo.Store
	clock   *clock.Manual
	pub     *recordingPublisher
	catalog *CatalogService
	tickets *TicketService
	res     *ReservationService
}

// newFixture wires every service over a fresh in-memory store.  inventory
// replaces the store for tier adjustments when a test needs to inject
// failures.
func newFixture(t *testing.T, inventory InventoryStore, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memrepo.New(),
		clock: clock.NewManual(t0),
		pub:   &recordingPublisher{},
	}
	if inventory == nil {
		inventory = f.store
	}
	base := []Option{
		WithLogger(quietLogger()),
		WithPublisher(f.pub),
		WithHoldDuration(10 * time.Minute),
		WithRetryBackoff(0),
	}
	opts = append(base, opts...)
	f.catalog = NewCatalogService(f.store, f.clock, opts...)
	f.tickets = NewTicketService(f.store, inventory, f.clock, opts...)
	f.res = NewReservationService(inventory, f.store, f.tickets, f.clock, opts...)
	return f
}

func (f *fixture) seedEvent(t *testing.T, tiers ...TierInput) model.Event {
	t.Helper()
	ev, err := f.catalog.CreateEvent(context.Background(), CreateEventInput{
		Name:     "Distributed Systems Symposium",
		Venue:    "Main Hall",
		StartsAt: t0.Add(30 * 24 * time.Hour),
		EndsAt:   t0.Add(30*24*time.Hour + 8*time.Hour),
		Tiers:    tiers,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return ev
}

func (f *fixture) available(t *testing.T, eventID, tierID string) int {
	t.Helper()
	tier, err := f.store.GetTier(context.Background(), eventID, tierID)
	if err != nil {
		t.Fatalf("get tier: %v", err)
	}
	return tier.AvailableQuantity
}

func (f *fixture) reserve(t *testing.T, ev model.Event, userID string, qty int) model.Reservation {
	t.Helper()
	res, err := f.res.Create(context.Background(), CreateReservationInput{
		EventID: ev.ID,
		UserID:  userID,
		Lines:   []LineInput{{TierID: ev.Tiers[0].ID, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	return res
}

func (f *fixture) status(t *testing.T, id string) model.ReservationStatus {
	t.Helper()
	r, err := f.store.GetReservation(context.Background(), id)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	return r.Status
}
