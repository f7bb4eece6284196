package model

import "time"

// ReservationStatus is the lifecycle state of a hold.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationPaid      ReservationStatus = "paid"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationPaid || s == ReservationExpired || s == ReservationCancelled
}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationPending, ReservationPaid, ReservationExpired, ReservationCancelled:
		return true
	}
	return false
}

// Reservation records a user's hold on tickets for one event.  It
// groups one or more tier lines and is owned by the reservation service.
//
// Fields:
//  ID               – primary key identifier.
//  EventID          – event the tickets belong to.
//  UserID           – identity of the requester (external IdP subject).
//  Lines            – held tiers with price snapshots.
//  ExpiresAt        – the hold is released at this instant if unpaid.
//  Status           – pending, paid, expired or cancelled.
//  PaymentReference – external settlement reference once paid.
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type Reservation struct {
	ID               string            `json:"id" bson:"_id"`
	EventID          string            `json:"event_id" bson:"event_id"`
	UserID           string            `json:"user_id" bson:"user_id"`
	Lines            []ReservationLine `json:"lines" bson:"lines"`
	ExpiresAt        time.Time         `json:"expires_at" bson:"expires_at"`
	Status           ReservationStatus `json:"status" bson:"status"`
	PaymentReference string            `json:"payment_reference,omitempty" bson:"payment_reference,omitempty"`
	CreatedAt        time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" bson:"updated_at"`
}

// ReservationLine is a quantity of one tier held under a reservation.
// Name and UnitPriceCents are copied from the tier at creation time so
// later price changes do not affect an outstanding hold.
type ReservationLine struct {
	TierID         string `json:"tier_id" bson:"tier_id"`
	Name           string `json:"name" bson:"name"`
	Quantity       int    `json:"quantity" bson:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents" bson:"unit_price_cents"`
}

// TotalPriceCents is unit price times quantity for the line.
func (l ReservationLine) TotalPriceCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// TotalPriceCents sums all lines.  It is the amount handed to the payment
// processor when creating a payment intent.
func (r Reservation) TotalPriceCents() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.TotalPriceCents()
	}
	return total
}

// Quantity is the number of tickets held across all lines.
func (r Reservation) Quantity() int {
	n := 0
	for _, l := range r.Lines {
		n += l.Quantity
	}
	return n
}

// ExpiredAt reports whether the hold has lapsed at now.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ReservationTransition is a conditional status change.  The store applies
// it only if the reservation is currently in From; the expiry guards make
// confirm and expire mutually exclusive at the boundary.
type ReservationTransition struct {
	ID   string
	From ReservationStatus
	To   ReservationStatus
	At   time.Time

	// RequireUnexpired applies only when ExpiresAt > At.
	RequireUnexpired bool
	// RequireExpired applies only when ExpiresAt <= At.
	RequireExpired bool

	PaymentReference string
}

// ReservationQuery lists reservations by owner and/or event.
type ReservationQuery struct {
	UserID  string
	EventID string
	Status  ReservationStatus // empty = any
	Limit   int
}
