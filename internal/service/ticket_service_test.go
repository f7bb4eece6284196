package service

import (
	"context"
	"errors"
	"testing"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

func TestTicketService(t *testing.T) {
	ctx := context.Background()

	// paid returns a fixture holding one paid reservation of three
	// general tickets and one student ticket.
	paid := func(t *testing.T) (*fixture, model.Event, []model.Ticket) {
		f := newFixture(t, nil)
		ev := f.seedEvent(t,
			TierInput{Name: "General", UnitPriceCents: unitPrice, Quantity: 10},
			TierInput{Name: "Student", UnitPriceCents: 1500, Quantity: 4},
		)
		res, err := f.res.Create(ctx, CreateReservationInput{EventID: ev.ID, UserID: "holder", Lines: []LineInput{
			{TierID: ev.Tiers[0].ID, Quantity: 3},
			{TierID: ev.Tiers[1].ID, Quantity: 1},
		}})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		conf, err := f.res.ConfirmPayment(ctx, ConfirmPaymentInput{ReservationID: res.ID, PaymentReference: "pay_t", PaymentMethod: "card"})
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		return f, ev, conf.Tickets
	}

	t.Run("one ticket per line", func(t *testing.T) {
		_, _, tickets := paid(t)
		if len(tickets) != 2 {
			t.Fatalf("expected 2 tickets, got %d", len(tickets))
		}
		for _, tk := range tickets {
			if tk.Status != model.TicketPurchased || tk.PaymentMethod != "card" || tk.UserID != "holder" {
				t.Fatalf("unexpected ticket %+v", tk)
			}
			if tk.TotalPriceCents != tk.UnitPriceCents*int64(tk.Quantity) {
				t.Fatalf("total does not match unit price: %+v", tk)
			}
		}
	})

	t.Run("issue refuses unpaid reservations", func(t *testing.T) {
		f := newFixture(t, nil)
		ev := f.seedEvent(t, TierInput{Name: "General", UnitPriceCents: unitPrice, Quantity: 10})
		res := f.reserve(t, ev, "u", 1)
		_, err := f.tickets.Issue(ctx, res, "card")
		var ise *model.InvalidStateError
		if !errors.As(err, &ise) {
			t.Fatalf("expected InvalidStateError, got %v", err)
		}
	})

	t.Run("cancel puts the quantity back on sale", func(t *testing.T) {
		f, ev, tickets := paid(t)
		general := tickets[0]
		got, err := f.tickets.Cancel(ctx, general.ID, Actor{UserID: "holder"})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.Status != model.TicketCancelled || got.PaymentStatus != model.PaymentCompleted {
			t.Fatalf("unexpected ticket after cancel %+v", got)
		}
		if n := f.available(t, ev.ID, general.TierID); n != 10 {
			t.Fatalf("expected 10 available, got %d", n)
		}

		_, err = f.tickets.Cancel(ctx, general.ID, Actor{UserID: "holder"})
		var ise *model.InvalidStateError
		if !errors.As(err, &ise) {
			t.Fatalf("expected InvalidStateError on second cancel, got %v", err)
		}
		if n := f.available(t, ev.ID, general.TierID); n != 10 {
			t.Fatalf("second cancel changed availability to %d", n)
		}
	})

	t.Run("cancel by another user", func(t *testing.T) {
		f, _, tickets := paid(t)
		_, err := f.tickets.Cancel(ctx, tickets[0].ID, Actor{UserID: "someone-else"})
		if !errors.Is(err, model.ErrForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	})

	t.Run("refund marks payment refunded", func(t *testing.T) {
		f, ev, tickets := paid(t)
		student := tickets[1]
		got, err := f.tickets.Refund(ctx, student.ID)
		if err != nil {
			t.Fatalf("refund: %v", err)
		}
		if got.Status != model.TicketRefunded || got.PaymentStatus != model.PaymentRefunded {
			t.Fatalf("unexpected ticket after refund %+v", got)
		}
		if n := f.available(t, ev.ID, student.TierID); n != 4 {
			t.Fatalf("expected 4 available, got %d", n)
		}
	})

	t.Run("check-in does not release inventory", func(t *testing.T) {
		f, ev, tickets := paid(t)
		general := tickets[0]
		got, err := f.tickets.CheckIn(ctx, general.ID)
		if err != nil {
			t.Fatalf("check in: %v", err)
		}
		if got.Status != model.TicketUsed || got.CheckInDate == nil {
			t.Fatalf("unexpected ticket after check-in %+v", got)
		}
		if n := f.available(t, ev.ID, general.TierID); n != 7 {
			t.Fatalf("expected 7 available, got %d", n)
		}
		var ise *model.InvalidStateError
		if _, err := f.tickets.Cancel(ctx, general.ID, Actor{UserID: "holder"}); !errors.As(err, &ise) {
			t.Fatalf("expected used ticket cancel to fail, got %v", err)
		}
		if _, err := f.tickets.CheckIn(ctx, general.ID); !errors.As(err, &ise) {
			t.Fatalf("expected second check-in to fail, got %v", err)
		}
	})

	t.Run("list by owner and event", func(t *testing.T) {
		f, ev, _ := paid(t)
		mine, err := f.tickets.List(ctx, model.TicketQuery{UserID: "holder"})
		if err != nil || len(mine) != 2 {
			t.Fatalf("expected 2 tickets for holder, got %d (%v)", len(mine), err)
		}
		byEvent, err := f.tickets.List(ctx, model.TicketQuery{EventID: ev.ID, Limit: 1})
		if err != nil || len(byEvent) != 1 {
			t.Fatalf("expected limit to apply, got %d (%v)", len(byEvent), err)
		}
		if _, err := f.tickets.Get(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}
