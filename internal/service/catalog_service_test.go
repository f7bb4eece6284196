package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

func TestInitTiers(t *testing.T) {
	n := 0
	newID := func() string { n++; return fmt.Sprintf("tier-%d", n) }

	tiers, err := InitTiers([]TierInput{
		{Name: " General ", UnitPriceCents: 2500, Quantity: 100},
		{Name: "Free", UnitPriceCents: 0, Quantity: 0},
	}, newID)
	if err != nil {
		t.Fatalf("InitTiers: %v", err)
	}
	if tiers[0].Name != "General" || tiers[0].AvailableQuantity != 100 || tiers[0].TotalQuantity != 100 {
		t.Fatalf("unexpected tier %+v", tiers[0])
	}
	if tiers[1].ID != "tier-2" {
		t.Fatalf("expected generated id, got %q", tiers[1].ID)
	}

	bad := [][]TierInput{
		nil,
		{{Name: "", Quantity: 1}},
		{{Name: "A", Quantity: 1}, {Name: "a", Quantity: 1}},
		{{Name: "A", UnitPriceCents: -1, Quantity: 1}},
		{{Name: "A", Quantity: -1}},
	}
	for i, in := range bad {
		var ve *model.ValidationError
		if _, err := InitTiers(in, newID); !errors.As(err, &ve) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestCatalogService(t *testing.T) {
	ctx := context.Background()

	t.Run("create validates", func(t *testing.T) {
		f := newFixture(t, nil)
		var ve *model.ValidationError
		_, err := f.catalog.CreateEvent(ctx, CreateEventInput{Tiers: []TierInput{{Name: "A", Quantity: 1}}})
		if !errors.As(err, &ve) || ve.Field != "name" {
			t.Fatalf("expected name ValidationError, got %v", err)
		}
		_, err = f.catalog.CreateEvent(ctx, CreateEventInput{
			Name: "Backwards", StartsAt: t0, EndsAt: t0.Add(-time.Hour),
			Tiers: []TierInput{{Name: "A", Quantity: 1}},
		})
		if !errors.As(err, &ve) || ve.Field != "ends_at" {
			t.Fatalf("expected ends_at ValidationError, got %v", err)
		}
	})

	t.Run("duplicate starts fully available", func(t *testing.T) {
		f := newFixture(t, nil)
		src := f.seedEvent(t, TierInput{Name: "General", UnitPriceCents: unitPrice, Quantity: 10})
		f.reserve(t, src, "u", 4)

		cp, err := f.catalog.DuplicateEvent(ctx, src.ID, DuplicateEventInput{})
		if err != nil {
			t.Fatalf("duplicate: %v", err)
		}
		if cp.ID == src.ID || cp.Tiers[0].ID == src.Tiers[0].ID {
			t.Fatalf("copy reused identifiers")
		}
		if cp.Name != src.Name+" (copy)" {
			t.Fatalf("unexpected name %q", cp.Name)
		}
		if cp.Tiers[0].AvailableQuantity != 10 || cp.Tiers[0].TotalQuantity != 10 {
			t.Fatalf("copy tier not reset: %+v", cp.Tiers[0])
		}

		renamed, err := f.catalog.DuplicateEvent(ctx, src.ID, DuplicateEventInput{Name: "Encore", StartsAt: t0.Add(60 * 24 * time.Hour)})
		if err != nil {
			t.Fatalf("duplicate with overrides: %v", err)
		}
		if renamed.Name != "Encore" || !renamed.StartsAt.Equal(t0.Add(60*24*time.Hour)) {
			t.Fatalf("overrides not applied: %+v", renamed)
		}
		if _, err := f.catalog.DuplicateEvent(ctx, "missing", DuplicateEventInput{}); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("search filters and pages", func(t *testing.T) {
		f := newFixture(t, nil)
		mk := func(name, venue string, startsIn time.Duration, qty int) model.Event {
			ev, err := f.catalog.CreateEvent(ctx, CreateEventInput{
				Name: name, Venue: venue, StartsAt: t0.Add(startsIn), EndsAt: t0.Add(startsIn + time.Hour),
				Tiers: []TierInput{{Name: "General", UnitPriceCents: 1000, Quantity: qty}},
			})
			if err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
			return ev
		}
		mk("Go Workshop", "Lab 1", 3*time.Hour, 5)
		mk("Rust Meetup", "Lab 2", 1*time.Hour, 5)
		mk("Go Conference", "Auditorium", 2*time.Hour, 0)

		items, total, err := f.catalog.SearchEvents(ctx, model.EventSearchQuery{Query: "go"})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if total != 2 || items[0].Name != "Go Conference" {
			t.Fatalf("expected 2 go events ordered by start, got %d %+v", total, items)
		}

		items, total, _ = f.catalog.SearchEvents(ctx, model.EventSearchQuery{AvailableOnly: true})
		if total != 2 {
			t.Fatalf("expected 2 events with availability, got %d", total)
		}

		items, total, _ = f.catalog.SearchEvents(ctx, model.EventSearchQuery{From: t0.Add(2 * time.Hour), To: t0.Add(3 * time.Hour)})
		if total != 1 || items[0].Name != "Go Conference" {
			t.Fatalf("expected only the conference in [2h, 3h), got %+v", items)
		}

		items, total, _ = f.catalog.SearchEvents(ctx, model.EventSearchQuery{Page: 2, PageSize: 2})
		if total != 3 || len(items) != 1 || items[0].Name != "Go Workshop" {
			t.Fatalf("unexpected second page: total=%d items=%+v", total, items)
		}

		var ve *model.ValidationError
		if _, _, err := f.catalog.SearchEvents(ctx, model.EventSearchQuery{From: t0, To: t0.Add(-time.Hour)}); !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}
