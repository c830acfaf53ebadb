package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that are served without a bearer credential.
// The websocket endpoint authenticates during its own handshake.
var publicPaths = map[string]bool{
	"/health":          true,
	"/health/db":       true,
	"/metrics":         true,
	"/ws":              true,
	"/api/v1/realtime": true,
}

// AuthSkipper reports whether the matched route skips authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

