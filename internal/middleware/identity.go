package middleware

// identity.go exposes the caller identity that JWTAuth stored in the Echo
// context.

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject, or "" on public routes.
func UserID(c echo.Context) string {
	if v, ok := c.Get(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// Role returns the authenticated role in upper case, or "".
func Role(c echo.Context) string {
	if v, ok := c.Get(ctxRole).(string); ok {
		return v
	}
	return ""
}

// IsAdmin reports whether the caller holds the ADMIN role.
func IsAdmin(c echo.Context) bool { return Role(c) == RoleAdmin }

// rateSubject identifies the caller for rate limiting; anonymous callers
// share the "anon" bucket per IP.
func rateSubject(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "anon"
}
