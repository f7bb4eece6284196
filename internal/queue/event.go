// Package queue defines message payloads exchanged over the message broker.
package queue

const (
	ReservationConfirmedQueue = "reservation.confirmed"
	ReservationReleasedQueue  = "reservation.released"
	InventoryReconcileQueue   = "inventory.reconcile"
)

// Queues lists every queue the service publishes to.
var Queues = []string{ReservationConfirmedQueue, ReservationReleasedQueue, InventoryReconcileQueue}

// ReservationConfirmedEvent is published when a reservation is paid and its
// tickets are issued.  It carries enough for downstream consumers to log,
// email or trigger analytics without querying the primary store.
type ReservationConfirmedEvent struct {
	ReservationID    string   `json:"reservation_id"`
	UserID           string   `json:"user_id"`
	EventID          string   `json:"event_id"`
	PaymentReference string   `json:"payment_reference"`
	TicketIDs        []string `json:"ticket_ids"`
	Tiers            []string `json:"tiers"`
	TotalPriceCents  int64    `json:"total_price_cents"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

// ReservationReleasedEvent is published when a hold is cancelled or
// expires and its tickets go back on sale.
type ReservationReleasedEvent struct {
	ReservationID string `json:"reservation_id"`
	EventID       string `json:"event_id"`
	Status        string `json:"status"`
	Quantity      int    `json:"quantity"`
	ReleasedAt    string `json:"released_at"`
}

// InventoryReconcileEvent is published when an inventory restore could
// not be completed.  Each one is a data-integrity incident that needs an
// operator.
type InventoryReconcileEvent struct {
	EventID       string `json:"event_id"`
	TierID        string `json:"tier_id"`
	Delta         int    `json:"delta"`
	ReservationID string `json:"reservation_id,omitempty"`
	TicketID      string `json:"ticket_id,omitempty"`
	Reason        string `json:"reason"`
	Error         string `json:"error"`
	OccurredAt    string `json:"occurred_at"`
}
