package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// retryAfterSeconds is advertised on 503 responses for contended writes.
const retryAfterSeconds = "1"

// writeError translates a service error into the JSON envelope
// {"error": code, "message": text}.  Unknown errors are logged and
// reported as 500 without leaking internals.
func writeError(c echo.Context, log *slog.Logger, err error) error {
	var (
		ve  *model.ValidationError
		ce  *model.ConflictError
		ca  *model.CapacityError
		ite *model.InvalidTierError
		ia  *model.InsufficientAvailabilityError
		ee  *model.ReservationExpiredError
		ise *model.InvalidStateError
	)
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "field": ve.Field, "message": ve.Error()})
	case errors.Is(err, model.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "message": "you do not own this resource"})
	case errors.As(err, &ce):
		log.Warn("request lost a concurrent update", "path", c.Path(), "error", err)
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "conflict", "message": ce.Error()})
	case errors.As(err, &ca):
		log.Error("inventory guard violated", "event_id", ca.EventID, "tier_id", ca.TierID,
			"delta", ca.Delta, "available", ca.Available, "total", ca.Total)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "inventory_inconsistent", "message": "inventory could not be updated"})
	case errors.As(err, &ite):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid_tier", "tier_id": ite.TierID, "message": ite.Error()})
	case errors.As(err, &ia):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "insufficient_availability",
			"tier_id":   ia.TierID,
			"requested": ia.Requested,
			"available": ia.Available,
			"message":   ia.Error(),
		})
	case errors.As(err, &ee):
		return c.JSON(http.StatusGone, echo.Map{"error": "reservation_expired", "expires_at": ee.ExpiresAt, "message": ee.Error()})
	case errors.As(err, &ise):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_state", "status": ise.Status, "message": ise.Error()})
	case errors.Is(err, model.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": err.Error()})
	default:
		log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "internal server error"})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": msg})
}
