package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
	"github.com/MathisL971/expo-inklink-sub000/internal/service"
)

// EventHandler serves public browsing and admin event authoring.
type EventHandler struct {
	svc *service.CatalogService
	log *slog.Logger
}

func NewEventHandler(svc *service.CatalogService, log *slog.Logger) *EventHandler {
	if svc == nil {
		panic("nil catalog service passed to NewEventHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &EventHandler{svc: svc, log: log}
}

// Search handles GET /v1/events.  Accepted parameters are q, from, to
// (RFC 3339), available_only, page and page_size; anything else is
// ignored.
func (h *EventHandler) Search(c echo.Context) error {
	q := model.EventSearchQuery{Query: strings.TrimSpace(c.QueryParam("q"))}
	var err error
	if q.From, err = parseTimeParam(c, "from"); err != nil {
		return badRequest(c, err.Error())
	}
	if q.To, err = parseTimeParam(c, "to"); err != nil {
		return badRequest(c, err.Error())
	}
	if v := c.QueryParam("available_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "available_only must be true or false")
		}
		q.AvailableOnly = b
	}
	q.Page, _ = strconv.Atoi(c.QueryParam("page"))
	q.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	q = q.Normalize()

	items, total, err := h.svc.SearchEvents(c.Request().Context(), q)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":      items,
		"total":     total,
		"page":      q.Page,
		"page_size": q.PageSize,
	})
}

func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: name, Message: "must be an RFC 3339 timestamp"}
	}
	return t.UTC(), nil
}

// Get handles GET /v1/events/:id.
func (h *EventHandler) Get(c echo.Context) error {
	ev, err := h.svc.GetEvent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, ev)
}

// Create handles POST /v1/admin/events.
func (h *EventHandler) Create(c echo.Context) error {
	var body service.CreateEventInput
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	ev, err := h.svc.CreateEvent(c.Request().Context(), body)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, ev)
}

// Duplicate handles POST /v1/admin/events/:id/duplicate.  An empty body
// copies the event as is.
func (h *EventHandler) Duplicate(c echo.Context) error {
	var body service.DuplicateEventInput
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	ev, err := h.svc.DuplicateEvent(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, ev)
}
