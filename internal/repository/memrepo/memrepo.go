// Package memrepo is an in-process implementation of every store used by
// the service layer.  It backs STORE_DRIVER=memory and the unit tests.  A
// single mutex serialises all access, which gives each inventory
// adjustment the same atomic check-and-write a database provides.
package memrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

type ticketKey struct {
	reservationID string
	tierID        string
}

// Store holds events, reservations and tickets in memory.
type Store struct {
	mu           sync.Mutex
	events       map[string]*model.Event
	eventOrder   []string
	reservations map[string]*model.Reservation
	resOrder     []string
	tickets      map[string]*model.Ticket
	ticketOrder  []string
	ticketByLine map[ticketKey]string
}

func New() *Store {
	return &Store{
		events:       make(map[string]*model.Event),
		reservations: make(map[string]*model.Reservation),
		tickets:      make(map[string]*model.Ticket),
		ticketByLine: make(map[ticketKey]string),
	}
}

func cloneEvent(e *model.Event) model.Event {
	out := *e
	out.Tiers = append([]model.Tier(nil), e.Tiers...)
	return out
}

func cloneReservation(r *model.Reservation) model.Reservation {
	out := *r
	out.Lines = append([]model.ReservationLine(nil), r.Lines...)
	return out
}

func cloneTicket(t *model.Ticket) model.Ticket {
	out := *t
	if t.CheckInDate != nil {
		d := *t.CheckInDate
		out.CheckInDate = &d
	}
	return out
}

// ---- events and inventory ----

func (s *Store) CreateEvent(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return &model.ValidationError{Field: "id", Message: "event " + ev.ID + " already exists"}
	}
	cp := cloneEvent(&ev)
	s.events[ev.ID] = &cp
	s.eventOrder = append(s.eventOrder, ev.ID)
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return model.Event{}, &model.NotFoundError{Kind: "event", ID: eventID}
	}
	return cloneEvent(ev), nil
}

func (s *Store) GetTier(_ context.Context, eventID, tierID string) (model.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return model.Tier{}, &model.NotFoundError{Kind: "event", ID: eventID}
	}
	t, ok := ev.Tier(tierID)
	if !ok {
		return model.Tier{}, &model.NotFoundError{Kind: "tier", ID: tierID}
	}
	return t, nil
}

// AdjustAvailability applies delta to the tier's available counter and
// returns the new value.  The delta is refused when the result would leave
// [0, total].
func (s *Store) AdjustAvailability(_ context.Context, eventID, tierID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return 0, &model.NotFoundError{Kind: "event", ID: eventID}
	}
	for i := range ev.Tiers {
		t := &ev.Tiers[i]
		if t.ID != tierID {
			continue
		}
		next := t.AvailableQuantity + delta
		if next < 0 || next > t.TotalQuantity {
			return t.AvailableQuantity, &model.CapacityError{
				EventID: eventID, TierID: tierID, Delta: delta,
				Available: t.AvailableQuantity, Total: t.TotalQuantity,
			}
		}
		t.AvailableQuantity = next
		return next, nil
	}
	return 0, &model.NotFoundError{Kind: "tier", ID: tierID}
}

func (s *Store) SearchEvents(_ context.Context, q model.EventSearchQuery) ([]model.Event, int64, error) {
	q = q.Normalize()
	needle := strings.ToLower(strings.TrimSpace(q.Query))
	s.mu.Lock()
	matched := make([]model.Event, 0)
	for _, id := range s.eventOrder {
		ev := s.events[id]
		if needle != "" &&
			!strings.Contains(strings.ToLower(ev.Name), needle) &&
			!strings.Contains(strings.ToLower(ev.Venue), needle) {
			continue
		}
		if !q.From.IsZero() && ev.StartsAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !ev.StartsAt.Before(q.To) {
			continue
		}
		if q.AvailableOnly && ev.Available() == 0 {
			continue
		}
		matched = append(matched, cloneEvent(ev))
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].StartsAt.Before(matched[j].StartsAt) })
	total := int64(len(matched))
	start := q.Offset()
	if start >= len(matched) {
		return []model.Event{}, total, nil
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// ---- reservations ----

func (s *Store) InsertReservation(_ context.Context, r model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[r.ID]; ok {
		return &model.ValidationError{Field: "id", Message: "reservation " + r.ID + " already exists"}
	}
	cp := cloneReservation(&r)
	s.reservations[r.ID] = &cp
	s.resOrder = append(s.resOrder, r.ID)
	return nil
}

func (s *Store) GetReservation(_ context.Context, id string) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return model.Reservation{}, &model.NotFoundError{Kind: "reservation", ID: id}
	}
	return cloneReservation(r), nil
}

// TransitionReservation is a compare-and-set on status plus the optional
// expiry guards.
func (s *Store) TransitionReservation(_ context.Context, t model.ReservationTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[t.ID]
	if !ok {
		return false, &model.NotFoundError{Kind: "reservation", ID: t.ID}
	}
	if r.Status != t.From {
		return false, nil
	}
	if t.RequireUnexpired && !t.At.Before(r.ExpiresAt) {
		return false, nil
	}
	if t.RequireExpired && t.At.Before(r.ExpiresAt) {
		return false, nil
	}
	r.Status = t.To
	r.UpdatedAt = t.At
	if t.PaymentReference != "" {
		r.PaymentReference = t.PaymentReference
	}
	return true, nil
}

func (s *Store) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, id := range s.resOrder {
		r := s.reservations[id]
		if r.Status != model.ReservationPending || now.Before(r.ExpiresAt) {
			continue
		}
		out = append(out, cloneReservation(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListReservations(_ context.Context, q model.ReservationQuery) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Reservation, 0)
	// newest first
	for i := len(s.resOrder) - 1; i >= 0; i-- {
		r := s.reservations[s.resOrder[i]]
		if q.UserID != "" && r.UserID != q.UserID {
			continue
		}
		if q.EventID != "" && r.EventID != q.EventID {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		out = append(out, cloneReservation(r))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// ---- tickets ----

// InsertTickets stores new tickets, skipping any whose reservation and tier
// already have a ticket.
func (s *Store) InsertTickets(_ context.Context, tickets []model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range tickets {
		t := tickets[i]
		key := ticketKey{reservationID: t.ReservationID, tierID: t.TierID}
		if _, dup := s.ticketByLine[key]; dup {
			continue
		}
		cp := cloneTicket(&t)
		s.tickets[t.ID] = &cp
		s.ticketOrder = append(s.ticketOrder, t.ID)
		s.ticketByLine[key] = t.ID
	}
	return nil
}

func (s *Store) GetTicket(_ context.Context, id string) (model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return model.Ticket{}, &model.NotFoundError{Kind: "ticket", ID: id}
	}
	return cloneTicket(t), nil
}

func (s *Store) ListTicketsByReservation(_ context.Context, reservationID string) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Ticket, 0)
	for _, id := range s.ticketOrder {
		if t := s.tickets[id]; t.ReservationID == reservationID {
			out = append(out, cloneTicket(t))
		}
	}
	return out, nil
}

func (s *Store) ListTickets(_ context.Context, q model.TicketQuery) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Ticket, 0)
	for i := len(s.ticketOrder) - 1; i >= 0; i-- {
		t := s.tickets[s.ticketOrder[i]]
		if q.UserID != "" && t.UserID != q.UserID {
			continue
		}
		if q.EventID != "" && t.EventID != q.EventID {
			continue
		}
		out = append(out, cloneTicket(t))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TransitionTicket(_ context.Context, tr model.TicketTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[tr.ID]
	if !ok {
		return false, &model.NotFoundError{Kind: "ticket", ID: tr.ID}
	}
	if t.Status != tr.From {
		return false, nil
	}
	t.Status = tr.To
	if tr.PaymentStatus != "" {
		t.PaymentStatus = tr.PaymentStatus
	}
	if tr.CheckInDate != nil {
		d := *tr.CheckInDate
		t.CheckInDate = &d
	}
	t.UpdatedAt = tr.At
	return true, nil
}

// Ping satisfies the health check.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }
