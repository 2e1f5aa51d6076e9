package middleware

import (
	"net/http"
	"strings"

	"univapay-integration-demo/internal/service"

	"github.com/labstack/echo/v4"
)

const UsernameKey = "username"

// AuthMiddleware validates the Bearer token and stores the username in the
// echo context.
func AuthMiddleware(authService service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid Authorization header")
			}

			username, err := authService.VerifyToken(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(UsernameKey, username)
			return next(c)
		}
	}
}

// Username returns the authenticated user set by AuthMiddleware.
func Username(c echo.Context) string {
	username, _ := c.Get(UsernameKey).(string)
	return username
}
