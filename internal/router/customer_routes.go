package router

import (
	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/handler"
	"github.com/MathisL971/expo-inklink-sub000/internal/middleware"
)

// RegisterCustomer registers the reservation and ticket endpoints used by
// ticket buyers.  Every route requires a valid JWT; admins pass the role
// check too so support staff can act for a customer.  Ownership is
// enforced by the handlers and services.
func RegisterCustomer(e *echo.Echo, r *handler.ReservationHandler, t *handler.TicketHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin),
	)
	g.POST("/reservations", r.Create, chain(limiter)...)
	g.DELETE("/reservations/:id", r.Cancel)
	g.GET("/my-reservations", r.ListMine)

	g.GET("/my-tickets", t.ListMine)
	g.GET("/tickets/:id", t.Get)
	g.GET("/tickets/:id/qr", t.QRCode)
	g.DELETE("/tickets/:id", t.Cancel)

	// The payment collaborator reads reservations to price a charge and
	// then confirms them; customers may read their own.
	read := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin, middleware.RolePayment),
	)
	read.GET("/reservations/:id", r.Get)

	pay := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RolePayment, middleware.RoleAdmin),
	)
	pay.POST("/reservations/:id/confirm-payment", r.ConfirmPayment)
}
