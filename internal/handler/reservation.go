package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/middleware"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
	"github.com/MathisL971/expo-inklink-sub000/internal/service"
)

// ReservationHandler exposes the hold lifecycle over HTTP.  All methods
// assume JWTAuth has run; the caller's identity comes from the token
// subject, never from the request body.
type ReservationHandler struct {
	svc *service.ReservationService
	log *slog.Logger
}

func NewReservationHandler(svc *service.ReservationService, log *slog.Logger) *ReservationHandler {
	if svc == nil {
		panic("nil reservation service passed to NewReservationHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ReservationHandler{svc: svc, log: log}
}

// reservationView adds the derived total to the stored reservation.
type reservationView struct {
	model.Reservation
	Quantity        int   `json:"quantity"`
	TotalPriceCents int64 `json:"total_price_cents"`
}

func viewReservation(r model.Reservation) reservationView {
	return reservationView{Reservation: r, Quantity: r.Quantity(), TotalPriceCents: r.TotalPriceCents()}
}

func viewReservations(rs []model.Reservation) []reservationView {
	out := make([]reservationView, 0, len(rs))
	for _, r := range rs {
		out = append(out, viewReservation(r))
	}
	return out
}

func actorFrom(c echo.Context) service.Actor {
	return service.Actor{UserID: middleware.UserID(c), Admin: middleware.IsAdmin(c)}
}

// Create handles POST /v1/reservations.  The body carries the event and
// the requested lines; user_id may be omitted and must match the token
// subject when present (admins may reserve on behalf of another user).
func (h *ReservationHandler) Create(c echo.Context) error {
	var body struct {
		EventID string              `json:"event_id"`
		UserID  string              `json:"user_id"`
		Lines   []service.LineInput `json:"lines"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	caller := middleware.UserID(c)
	userID := caller
	if u := strings.TrimSpace(body.UserID); u != "" && u != caller {
		if !middleware.IsAdmin(c) {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "message": "user_id does not match the authenticated user"})
		}
		userID = u
	}
	res, err := h.svc.Create(c.Request().Context(), service.CreateReservationInput{
		EventID: body.EventID,
		UserID:  userID,
		Lines:   body.Lines,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, viewReservation(res))
}

// ConfirmPayment handles POST /v1/reservations/:id/confirm-payment.  It is
// called by the payment collaborator once a charge has settled.
func (h *ReservationHandler) ConfirmPayment(c echo.Context) error {
	var body struct {
		PaymentReference string `json:"payment_reference"`
		PaymentMethod    string `json:"payment_method"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	conf, err := h.svc.ConfirmPayment(c.Request().Context(), service.ConfirmPaymentInput{
		ReservationID:    c.Param("id"),
		PaymentReference: body.PaymentReference,
		PaymentMethod:    body.PaymentMethod,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reservation": viewReservation(conf.Reservation),
		"tickets":     conf.Tickets,
	})
}

// Cancel handles DELETE /v1/reservations/:id.  The hold is released even
// when restoring inventory needs manual reconciliation; that case is
// logged and published by the service.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	res, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		if res.ID == "" {
			return writeError(c, h.log, err)
		}
		h.log.Warn("reservation cancelled with incomplete inventory restore", "reservation_id", res.ID, "error", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /v1/reservations/:id for the owner, admins and the
// payment collaborator.
func (h *ReservationHandler) Get(c echo.Context) error {
	res, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if res.UserID != middleware.UserID(c) && !middleware.IsAdmin(c) && middleware.Role(c) != middleware.RolePayment {
		return writeError(c, h.log, model.ErrForbidden)
	}
	return c.JSON(http.StatusOK, viewReservation(res))
}

// ListMine handles GET /v1/my-reservations?status=&limit=.
func (h *ReservationHandler) ListMine(c echo.Context) error {
	q := model.ReservationQuery{
		UserID: middleware.UserID(c),
		Status: model.ReservationStatus(strings.ToLower(strings.TrimSpace(c.QueryParam("status")))),
		Limit:  queryLimit(c),
	}
	items, err := h.svc.List(c.Request().Context(), q)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": viewReservations(items), "total": len(items)})
}

// ListForEvent handles GET /v1/admin/events/:id/reservations?status=.
func (h *ReservationHandler) ListForEvent(c echo.Context) error {
	q := model.ReservationQuery{
		EventID: c.Param("id"),
		Status:  model.ReservationStatus(strings.ToLower(strings.TrimSpace(c.QueryParam("status")))),
		Limit:   queryLimit(c),
	}
	items, err := h.svc.List(c.Request().Context(), q)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": viewReservations(items), "total": len(items)})
}

// queryLimit reads ?limit=, clamped to [1, MaxPageSize].
func queryLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n < 1 {
		return model.DefaultPageSize
	}
	if n > model.MaxPageSize {
		return model.MaxPageSize
	}
	return n
}
