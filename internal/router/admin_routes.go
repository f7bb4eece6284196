package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/handler"
	"github.com/MathisL971/expo-inklink-sub000/internal/middleware"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
// All routes require a valid JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, ev *handler.EventHandler, r *handler.ReservationHandler, t *handler.TicketHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)

	// ---- Events ----
	g.POST("/events", ev.Create)
	g.POST("/events/:id/duplicate", ev.Duplicate)

	// ---- Sales ----
	g.GET("/events/:id/reservations", r.ListForEvent)
	g.GET("/events/:id/tickets", t.ListForEvent)

	// ---- Door ----
	g.POST("/tickets/:id/check-in", t.CheckIn)
	g.POST("/tickets/:id/refund", t.Refund)
}
