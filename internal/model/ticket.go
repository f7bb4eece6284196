package model

import "time"

type TicketStatus string

const (
	TicketPurchased TicketStatus = "purchased"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
	TicketUsed      TicketStatus = "used"
	TicketExpired   TicketStatus = "expired"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Ticket is an immutable proof of purchase for one tier line of a paid
// reservation.  Only Status, PaymentStatus and CheckInDate change after
// issuance.
type Ticket struct {
	ID                   string        `json:"id" bson:"_id"`
	ReservationID        string        `json:"reservation_id" bson:"reservation_id"`
	EventID              string        `json:"event_id" bson:"event_id"`
	UserID               string        `json:"user_id" bson:"user_id"`
	TierID               string        `json:"tier_id" bson:"tier_id"`
	TierName             string        `json:"tier_name" bson:"tier_name"`
	Quantity             int           `json:"quantity" bson:"quantity"`
	UnitPriceCents       int64         `json:"unit_price_cents" bson:"unit_price_cents"`
	TotalPriceCents      int64         `json:"total_price_cents" bson:"total_price_cents"`
	Status               TicketStatus  `json:"status" bson:"status"`
	PaymentStatus        PaymentStatus `json:"payment_status" bson:"payment_status"`
	PurchaseDate         time.Time     `json:"purchase_date" bson:"purchase_date"`
	CheckInDate          *time.Time    `json:"check_in_date,omitempty" bson:"check_in_date,omitempty"`
	PaymentMethod        string        `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	PaymentTransactionID string        `json:"payment_transaction_id,omitempty" bson:"payment_transaction_id,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at" bson:"updated_at"`
}

// TicketTransition is a conditional ticket status change applied only
// when the ticket is currently in From.
type TicketTransition struct {
	ID            string
	From          TicketStatus
	To            TicketStatus
	PaymentStatus PaymentStatus // empty = unchanged
	CheckInDate   *time.Time
	At            time.Time
}

// TicketQuery lists tickets by owner and/or event.
type TicketQuery struct {
	UserID  string
	EventID string
	Limit   int
}
