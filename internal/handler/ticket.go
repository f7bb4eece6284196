package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/middleware"
	"github.com/MathisL971/expo-inklink-sub000/internal/model"
	"github.com/MathisL971/expo-inklink-sub000/internal/service"
	"github.com/MathisL971/expo-inklink-sub000/internal/utils"
)

// TicketHandler serves issued tickets to their owners and to admins at the
// door.
type TicketHandler struct {
	svc *service.TicketService
	log *slog.Logger
}

func NewTicketHandler(svc *service.TicketService, log *slog.Logger) *TicketHandler {
	if svc == nil {
		panic("nil ticket service passed to NewTicketHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &TicketHandler{svc: svc, log: log}
}

// owned loads a ticket and checks that the caller may see it.
func (h *TicketHandler) owned(c echo.Context) (model.Ticket, error) {
	t, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return model.Ticket{}, err
	}
	if t.UserID != middleware.UserID(c) && !middleware.IsAdmin(c) {
		return model.Ticket{}, model.ErrForbidden
	}
	return t, nil
}

// ListMine handles GET /v1/my-tickets.
func (h *TicketHandler) ListMine(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context(), model.TicketQuery{UserID: middleware.UserID(c), Limit: queryLimit(c)})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": items, "total": len(items)})
}

// ListForEvent handles GET /v1/admin/events/:id/tickets.
func (h *TicketHandler) ListForEvent(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context(), model.TicketQuery{EventID: c.Param("id"), Limit: queryLimit(c)})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": items, "total": len(items)})
}

// Get handles GET /v1/tickets/:id.
func (h *TicketHandler) Get(c echo.Context) error {
	t, err := h.owned(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, t)
}

// QRCode handles GET /v1/tickets/:id/qr and returns a PNG.  Only
// purchased tickets get a scannable code.
func (h *TicketHandler) QRCode(c echo.Context) error {
	t, err := h.owned(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if t.Status != model.TicketPurchased {
		return writeError(c, h.log, &model.InvalidStateError{Kind: "ticket", ID: t.ID, Op: "render QR code for", Status: string(t.Status)})
	}
	size, _ := strconv.Atoi(c.QueryParam("size"))
	if size < 64 || size > 1024 {
		size = utils.DefaultQRSize
	}
	png, err := utils.TicketQRCode(t, size)
	if err != nil {
		return writeError(c, h.log, err)
	}
	c.Response().Header().Set("Cache-Control", "private, max-age=60")
	return c.Blob(http.StatusOK, "image/png", png)
}

// Cancel handles DELETE /v1/tickets/:id.  The ticket's quantity goes back
// on sale.
func (h *TicketHandler) Cancel(c echo.Context) error {
	t, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), actorFrom(c))
	return h.released(c, t, err)
}

// Refund handles POST /v1/admin/tickets/:id/refund.
func (h *TicketHandler) Refund(c echo.Context) error {
	t, err := h.svc.Refund(c.Request().Context(), c.Param("id"))
	return h.released(c, t, err)
}

func (h *TicketHandler) released(c echo.Context, t model.Ticket, err error) error {
	if err != nil {
		if t.ID == "" {
			return writeError(c, h.log, err)
		}
		h.log.Warn("ticket released with incomplete inventory restore", "ticket_id", t.ID, "error", err)
	}
	return c.JSON(http.StatusOK, t)
}

// CheckIn handles POST /v1/admin/tickets/:id/check-in.
func (h *TicketHandler) CheckIn(c echo.Context) error {
	t, err := h.svc.CheckIn(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, t)
}
