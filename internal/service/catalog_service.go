package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// CatalogService authors and browses events.  It never adjusts
// availability after a tier has been created.
type CatalogService struct {
	store CatalogStore
	clock clock.Clock
	log   *slog.Logger
	newID func() string
}

func NewCatalogService(store CatalogStore, clk clock.Clock, opts ...Option) *CatalogService {
	cfg := applyOptions(opts)
	return &CatalogService{store: store, clock: clk, log: cfg.log, newID: cfg.newID}
}

type TierInput struct {
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
}

type CreateEventInput struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Venue       string      `json:"venue"`
	StartsAt    time.Time   `json:"starts_at"`
	EndsAt      time.Time   `json:"ends_at"`
	Tiers       []TierInput `json:"tiers"`
}

// DuplicateEventInput overrides fields of the copy; zero values keep the
// source event's values.
type DuplicateEventInput struct {
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// InitTiers is the single place where new tiers get their counters: every
// tier starts fully available.
func InitTiers(in []TierInput, newID func() string) ([]model.Tier, error) {
	if len(in) == 0 {
		return nil, &model.ValidationError{Field: "tiers", Message: "at least one tier is required"}
	}
	seen := make(map[string]struct{}, len(in))
	tiers := make([]model.Tier, 0, len(in))
	for i, t := range in {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, &model.ValidationError{Field: fmt.Sprintf("tiers[%d].name", i), Message: "is required"}
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, &model.ValidationError{Field: fmt.Sprintf("tiers[%d].name", i), Message: "duplicates another tier"}
		}
		seen[key] = struct{}{}
		if t.UnitPriceCents < 0 {
			return nil, &model.ValidationError{Field: fmt.Sprintf("tiers[%d].unit_price_cents", i), Message: "must not be negative"}
		}
		if t.Quantity < 0 {
			return nil, &model.ValidationError{Field: fmt.Sprintf("tiers[%d].quantity", i), Message: "must not be negative"}
		}
		tiers = append(tiers, model.Tier{
			ID:                newID(),
			Name:              name,
			UnitPriceCents:    t.UnitPriceCents,
			TotalQuantity:     t.Quantity,
			AvailableQuantity: t.Quantity,
		})
	}
	return tiers, nil
}

func (s *CatalogService) CreateEvent(ctx context.Context, in CreateEventInput) (model.Event, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Event{}, &model.ValidationError{Field: "name", Message: "is required"}
	}
	if !in.StartsAt.IsZero() && !in.EndsAt.IsZero() && in.EndsAt.Before(in.StartsAt) {
		return model.Event{}, &model.ValidationError{Field: "ends_at", Message: "must not be before starts_at"}
	}
	tiers, err := InitTiers(in.Tiers, s.newID)
	if err != nil {
		return model.Event{}, err
	}
	now := s.clock.Now().Truncate(time.Millisecond)
	ev := model.Event{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Venue:       strings.TrimSpace(in.Venue),
		StartsAt:    in.StartsAt.UTC().Truncate(time.Millisecond),
		EndsAt:      in.EndsAt.UTC().Truncate(time.Millisecond),
		Tiers:       tiers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	s.log.Info("event created", "event_id", ev.ID, "tiers", len(ev.Tiers))
	return ev, nil
}

// DuplicateEvent copies an event's details and tier layout into a new
// event whose tiers start fully available again.
func (s *CatalogService) DuplicateEvent(ctx context.Context, sourceID string, in DuplicateEventInput) (model.Event, error) {
	src, err := s.store.GetEvent(ctx, sourceID)
	if err != nil {
		return model.Event{}, err
	}
	tiers := make([]TierInput, 0, len(src.Tiers))
	for _, t := range src.Tiers {
		tiers = append(tiers, TierInput{Name: t.Name, UnitPriceCents: t.UnitPriceCents, Quantity: t.TotalQuantity})
	}
	out := CreateEventInput{
		Name:        src.Name + " (copy)",
		Description: src.Description,
		Venue:       src.Venue,
		StartsAt:    src.StartsAt,
		EndsAt:      src.EndsAt,
		Tiers:       tiers,
	}
	if n := strings.TrimSpace(in.Name); n != "" {
		out.Name = n
	}
	if !in.StartsAt.IsZero() {
		out.StartsAt = in.StartsAt
	}
	if !in.EndsAt.IsZero() {
		out.EndsAt = in.EndsAt
	}
	return s.CreateEvent(ctx, out)
}

func (s *CatalogService) GetEvent(ctx context.Context, id string) (model.Event, error) {
	return s.store.GetEvent(ctx, id)
}

func (s *CatalogService) SearchEvents(ctx context.Context, q model.EventSearchQuery) ([]model.Event, int64, error) {
	q = q.Normalize()
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, 0, &model.ValidationError{Field: "to", Message: "must not be before from"}
	}
	return s.store.SearchEvents(ctx, q)
}
