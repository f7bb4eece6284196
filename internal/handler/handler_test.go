package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/clock"
	"github.com/MathisL971/expo-inklink-sub000/internal/handler"
	"github.com/MathisL971/expo-inklink-sub000/internal/middleware"
	"github.com/MathisL971/expo-inklink-sub000/internal/repository/memrepo"
	"github.com/MathisL971/expo-inklink-sub000/internal/router"
	"github.com/MathisL971/expo-inklink-sub000/internal/service"
	"github.com/MathisL971/expo-inklink-sub000/internal/utils"
)

const secret = "handler-test-secret"

type api struct {
	t     *testing.T
	e     *echo.Echo
	clock *clock.Manual
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memrepo.New()
	clk := clock.NewManual(time.Now().UTC().Truncate(time.Millisecond))
	opts := []service.Option{service.WithLogger(log), service.WithHoldDuration(5 * time.Minute), service.WithRetryBackoff(0)}

	catalog := service.NewCatalogService(store, clk, opts...)
	tickets := service.NewTicketService(store, store, clk, opts...)
	reservations := service.NewReservationService(store, store, tickets, clk, opts...)

	eh := handler.NewEventHandler(catalog, log)
	rh := handler.NewReservationHandler(reservations, log)
	th := handler.NewTicketHandler(tickets, log)

	e := echo.New()
	router.RegisterRoutes(e, store)
	router.RegisterPublic(e, eh, nil, nil)
	router.RegisterCustomer(e, rh, th, secret, nil)
	router.RegisterAdmin(e, eh, rh, th, secret)
	return &api{t: t, e: e, clock: clk}
}

func (a *api) token(sub, role string) string {
	a.t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, time.Hour)
	if err != nil {
		a.t.Fatalf("token: %v", err)
	}
	return tok.Token
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(bs)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

type tierView struct {
	ID                string `json:"id"`
	AvailableQuantity int    `json:"available_quantity"`
}

type eventView struct {
	ID    string     `json:"id"`
	Tiers []tierView `json:"tiers"`
}

type reservationView struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ExpiresAt       string `json:"expires_at"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

type ticketView struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Status   string `json:"status"`
}

func (a *api) createEvent(admin string, qty int) eventView {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/admin/events", admin, map[string]any{
		"name":      "Graduate Research Day",
		"venue":     "Science Hall",
		"starts_at": a.clock.Now().Add(72 * time.Hour).Format(time.RFC3339),
		"ends_at":   a.clock.Now().Add(80 * time.Hour).Format(time.RFC3339),
		"tiers":     []map[string]any{{"name": "General", "unit_price_cents": 1250, "quantity": qty}},
	})
	expectStatus(a.t, rec, http.StatusCreated)
	return decode[eventView](a.t, rec)
}

func (a *api) available(eventID string) int {
	a.t.Helper()
	rec := a.do(http.MethodGet, "/v1/events/"+eventID, "", nil)
	expectStatus(a.t, rec, http.StatusOK)
	return decode[eventView](a.t, rec).Tiers[0].AvailableQuantity
}

func TestReservationFlow(t *testing.T) {
	a := newAPI(t)
	admin := a.token("staff", middleware.RoleAdmin)
	alice := a.token("alice", middleware.RoleCustomer)
	bob := a.token("bob", middleware.RoleCustomer)
	payments := a.token("payment-service", middleware.RolePayment)

	ev := a.createEvent(admin, 10)
	tierID := ev.Tiers[0].ID

	rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
		"event_id": ev.ID,
		"lines":    []map[string]any{{"tier_id": tierID, "quantity": 3}},
	})
	expectStatus(t, rec, http.StatusCreated)
	res := decode[reservationView](t, rec)
	if res.Status != "pending" || res.TotalPriceCents != 3*1250 || res.ExpiresAt == "" {
		t.Fatalf("unexpected reservation %+v", res)
	}
	if n := a.available(ev.ID); n != 7 {
		t.Fatalf("expected 7 available, got %d", n)
	}

	// Only the owner, admins and the payment collaborator can read it.
	expectStatus(t, a.do(http.MethodGet, "/v1/reservations/"+res.ID, bob, nil), http.StatusForbidden)
	expectStatus(t, a.do(http.MethodGet, "/v1/reservations/"+res.ID, payments, nil), http.StatusOK)

	// Customers cannot confirm their own payment.
	pay := map[string]any{"payment_reference": "pay_123", "payment_method": "card"}
	expectStatus(t, a.do(http.MethodPost, "/v1/reservations/"+res.ID+"/confirm-payment", alice, pay), http.StatusForbidden)

	rec = a.do(http.MethodPost, "/v1/reservations/"+res.ID+"/confirm-payment", payments, pay)
	expectStatus(t, rec, http.StatusOK)
	conf := decode[struct {
		Reservation reservationView `json:"reservation"`
		Tickets     []ticketView    `json:"tickets"`
	}](t, rec)
	if conf.Reservation.Status != "paid" || len(conf.Tickets) != 1 || conf.Tickets[0].Quantity != 3 {
		t.Fatalf("unexpected confirmation %+v", conf)
	}

	// Retrying the same payment is harmless.
	rec = a.do(http.MethodPost, "/v1/reservations/"+res.ID+"/confirm-payment", payments, pay)
	expectStatus(t, rec, http.StatusOK)

	// A paid reservation cannot be cancelled.
	expectStatus(t, a.do(http.MethodDelete, "/v1/reservations/"+res.ID, alice, nil), http.StatusConflict)

	rec = a.do(http.MethodGet, "/v1/my-tickets", alice, nil)
	expectStatus(t, rec, http.StatusOK)
	mine := decode[struct {
		Data  []ticketView `json:"data"`
		Total int          `json:"total"`
	}](t, rec)
	if mine.Total != 1 {
		t.Fatalf("expected one ticket, got %+v", mine)
	}
	ticketID := mine.Data[0].ID

	rec = a.do(http.MethodGet, "/v1/tickets/"+ticketID+"/qr", alice, nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	expectStatus(t, a.do(http.MethodGet, "/v1/tickets/"+ticketID, bob, nil), http.StatusForbidden)

	// Cancelling the ticket puts its tickets back on sale.
	rec = a.do(http.MethodDelete, "/v1/tickets/"+ticketID, alice, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[ticketView](t, rec); got.Status != "cancelled" {
		t.Fatalf("expected cancelled ticket, got %+v", got)
	}
	if n := a.available(ev.ID); n != 10 {
		t.Fatalf("expected 10 available, got %d", n)
	}
}

func TestReservationErrors(t *testing.T) {
	a := newAPI(t)
	admin := a.token("staff", middleware.RoleAdmin)
	alice := a.token("alice", middleware.RoleCustomer)
	payments := a.token("payment-service", middleware.RolePayment)
	ev := a.createEvent(admin, 2)
	tierID := ev.Tiers[0].ID

	t.Run("unauthenticated", func(t *testing.T) {
		expectStatus(t, a.do(http.MethodPost, "/v1/reservations", "", map[string]any{}), http.StatusUnauthorized)
	})

	t.Run("user_id must match the token", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
			"event_id": ev.ID, "user_id": "mallory",
			"lines": []map[string]any{{"tier_id": tierID, "quantity": 1}},
		})
		expectStatus(t, rec, http.StatusForbidden)
	})

	t.Run("validation", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{"event_id": ev.ID})
		expectStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("unknown tier", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
			"event_id": ev.ID, "lines": []map[string]any{{"tier_id": "nope", "quantity": 1}},
		})
		expectStatus(t, rec, http.StatusUnprocessableEntity)
	})

	t.Run("unknown event", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
			"event_id": "missing", "lines": []map[string]any{{"tier_id": tierID, "quantity": 1}},
		})
		expectStatus(t, rec, http.StatusNotFound)
	})

	t.Run("insufficient availability", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
			"event_id": ev.ID, "lines": []map[string]any{{"tier_id": tierID, "quantity": 3}},
		})
		expectStatus(t, rec, http.StatusConflict)
		body := decode[map[string]any](t, rec)
		if body["error"] != "insufficient_availability" || body["available"] != float64(2) {
			t.Fatalf("unexpected body %v", body)
		}
	})

	t.Run("cancel then confirm", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
			"event_id": ev.ID, "lines": []map[string]any{{"tier_id": tierID, "quantity": 2}},
		})
		expectStatus(t, rec, http.StatusCreated)
		res := decode[reservationView](t, rec)

		expectStatus(t, a.do(http.MethodDelete, "/v1/reservations/"+res.ID, alice, nil), http.StatusNoContent)
		if n := a.available(ev.ID); n != 2 {
			t.Fatalf("expected 2 available, got %d", n)
		}
		rec = a.do(http.MethodPost, "/v1/reservations/"+res.ID+"/confirm-payment", payments, map[string]any{"payment_reference": "p"})
		expectStatus(t, rec, http.StatusConflict)
	})

	t.Run("expired hold", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
			"event_id": ev.ID, "lines": []map[string]any{{"tier_id": tierID, "quantity": 1}},
		})
		expectStatus(t, rec, http.StatusCreated)
		res := decode[reservationView](t, rec)

		a.clock.Advance(6 * time.Minute)
		rec = a.do(http.MethodPost, "/v1/reservations/"+res.ID+"/confirm-payment", payments, map[string]any{"payment_reference": "late"})
		expectStatus(t, rec, http.StatusGone)

		rec = a.do(http.MethodGet, "/v1/my-reservations?status=expired", alice, nil)
		expectStatus(t, rec, http.StatusOK)
		list := decode[struct {
			Data []reservationView `json:"data"`
		}](t, rec)
		if len(list.Data) != 1 || list.Data[0].ID != res.ID {
			t.Fatalf("expected the expired hold in the list, got %+v", list.Data)
		}
		if n := a.available(ev.ID); n != 2 {
			t.Fatalf("expected 2 available, got %d", n)
		}
	})
}

func TestEventEndpoints(t *testing.T) {
	a := newAPI(t)
	admin := a.token("staff", middleware.RoleAdmin)
	alice := a.token("alice", middleware.RoleCustomer)

	expectStatus(t, a.do(http.MethodPost, "/v1/admin/events", alice, map[string]any{"name": "x"}), http.StatusForbidden)
	ev := a.createEvent(admin, 5)

	rec := a.do(http.MethodGet, "/v1/events?q=research&available_only=true&page_size=5", "", nil)
	expectStatus(t, rec, http.StatusOK)
	page := decode[struct {
		Data     []eventView `json:"data"`
		Total    int         `json:"total"`
		Page     int         `json:"page"`
		PageSize int         `json:"page_size"`
	}](t, rec)
	if page.Total != 1 || page.Data[0].ID != ev.ID || page.Page != 1 || page.PageSize != 5 {
		t.Fatalf("unexpected page %+v", page)
	}

	expectStatus(t, a.do(http.MethodGet, "/v1/events?from=yesterday", "", nil), http.StatusBadRequest)
	expectStatus(t, a.do(http.MethodGet, "/v1/events?available_only=maybe", "", nil), http.StatusBadRequest)
	expectStatus(t, a.do(http.MethodGet, "/v1/events/missing", "", nil), http.StatusNotFound)

	rec = a.do(http.MethodPost, "/v1/admin/events/"+ev.ID+"/duplicate", admin, nil)
	expectStatus(t, rec, http.StatusCreated)
	if cp := decode[eventView](t, rec); cp.ID == ev.ID || cp.Tiers[0].AvailableQuantity != 5 {
		t.Fatalf("unexpected copy %+v", cp)
	}

	rec = a.do(http.MethodGet, "/v1/admin/events/"+ev.ID+"/reservations", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"total":0`) {
		t.Fatalf("expected no reservations, got %s", rec.Body)
	}
}

func TestDoorEndpoints(t *testing.T) {
	a := newAPI(t)
	admin := a.token("staff", middleware.RoleAdmin)
	alice := a.token("alice", middleware.RoleCustomer)
	ev := a.createEvent(admin, 4)

	rec := a.do(http.MethodPost, "/v1/reservations", alice, map[string]any{
		"event_id": ev.ID, "lines": []map[string]any{{"tier_id": ev.Tiers[0].ID, "quantity": 2}},
	})
	expectStatus(t, rec, http.StatusCreated)
	res := decode[reservationView](t, rec)
	rec = a.do(http.MethodPost, "/v1/reservations/"+res.ID+"/confirm-payment", admin, map[string]any{"payment_reference": "desk-1"})
	expectStatus(t, rec, http.StatusOK)

	rec = a.do(http.MethodGet, "/v1/admin/events/"+ev.ID+"/tickets", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	tickets := decode[struct {
		Data []ticketView `json:"data"`
	}](t, rec).Data
	if len(tickets) != 1 {
		t.Fatalf("expected one ticket, got %d", len(tickets))
	}
	id := tickets[0].ID

	expectStatus(t, a.do(http.MethodPost, "/v1/admin/tickets/"+id+"/check-in", alice, nil), http.StatusForbidden)
	rec = a.do(http.MethodPost, "/v1/admin/tickets/"+id+"/check-in", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[ticketView](t, rec); got.Status != "used" {
		t.Fatalf("expected used, got %+v", got)
	}
	expectStatus(t, a.do(http.MethodPost, "/v1/admin/tickets/"+id+"/refund", admin, nil), http.StatusConflict)
	expectStatus(t, a.do(http.MethodGet, "/v1/tickets/"+id+"/qr", alice, nil), http.StatusConflict)
	if n := a.available(ev.ID); n != 2 {
		t.Fatalf("check-in must not release inventory, got %d available", n)
	}
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rec.Body)
	}
}
