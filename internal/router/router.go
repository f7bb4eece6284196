package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/MathisL971/expo-inklink-sub000/internal/handler"
)

// RegisterRoutes registers routes that do not require authentication.
// GET /healthz pings the configured store.
func RegisterRoutes(e *echo.Echo, store handler.Pinger) {
	e.GET("/healthz", handler.Health(store))
}

// RegisterPublic registers the unauthenticated event browse endpoints.
// Both the optional limiter and the event cache may be nil.  Only the
// event detail route is cached; search results change with every hold.
func RegisterPublic(e *echo.Echo, h *handler.EventHandler, limiter, eventCache echo.MiddlewareFunc) {
	g := e.Group("/v1", chain(limiter)...)
	g.GET("/events", h.Search)
	g.GET("/events/:id", h.Get, chain(eventCache)...)
}

// chain drops nil middleware so optional Redis-backed layers can be
// switched off by passing nil.
func chain(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
