package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityConfig selects the transport-dependent headers.
type SecurityConfig struct {
	// HSTS pins browsers to HTTPS. Only set it where TLS terminates in front
	// of the server; a development instance on plain HTTP must not send it.
	HSTS bool
}

// SecurityHeaders sets the response headers for a JSON API whose responses
// carry patient data. Nothing it serves is meant to be framed, embedded or
// cached.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			return next(c)
		}
	}
}
