package model

import "time"

// Event is a ticketed academic or conference event.  Its tiers carry the
// authoritative inventory counters for the event.
//
// Fields:
//  ID          – primary key identifier (UUID string).
//  Name        – display name.
//  Description – free-form description.
//  Venue       – where the event takes place.
//  StartsAt    – scheduled start (UTC).
//  EndsAt      – scheduled end (UTC).
//  Tiers       – sellable ticket tiers, in display order.
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type Event struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	Venue       string    `json:"venue" bson:"venue"`
	StartsAt    time.Time `json:"starts_at" bson:"starts_at"`
	EndsAt      time.Time `json:"ends_at" bson:"ends_at"`
	Tiers       []Tier    `json:"tiers" bson:"tiers"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// Tier is a priced block of tickets within an event.  AvailableQuantity
// only changes through guarded inventory adjustments, never by writing
// the field directly.
type Tier struct {
	ID                string `json:"id" bson:"id"`
	Name              string `json:"name" bson:"name"`
	UnitPriceCents    int64  `json:"unit_price_cents" bson:"unit_price_cents"`
	TotalQuantity     int    `json:"total_quantity" bson:"total_quantity"`
	AvailableQuantity int    `json:"available_quantity" bson:"available_quantity"`
}

// Tier returns the tier with the given ID and whether it exists.
func (e Event) Tier(tierID string) (Tier, bool) {
	for _, t := range e.Tiers {
		if t.ID == tierID {
			return t, true
		}
	}
	return Tier{}, false
}

// Available reports the sum of available tickets across all tiers.
func (e Event) Available() int {
	n := 0
	for _, t := range e.Tiers {
		n += t.AvailableQuantity
	}
	return n
}

// EventSearchQuery enumerates every filter accepted when browsing events.
// Unknown query parameters are ignored by the handler rather than passed
// through to the store.
type EventSearchQuery struct {
	Query         string    // case-insensitive match on name or venue
	From          time.Time // events starting at or after From (zero = no bound)
	To            time.Time // events starting before To (zero = no bound)
	AvailableOnly bool      // only events with at least one available ticket
	Page          int
	PageSize      int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging values into their accepted ranges.
func (q EventSearchQuery) Normalize() EventSearchQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

// Offset is the number of rows skipped for the current page.
func (q EventSearchQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}
