package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"geoserver-relay/internal/apperr"
)

// RateLimit returns a per-client-IP token bucket limiter allowing rps
// requests per second. Rejections use the relay's JSON error shape.
func RateLimit(rps float64) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(rps))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, apperr.Response{
				Message:    "Too many requests",
				StatusCode: http.StatusTooManyRequests,
				ErrorCode:  "RATE_LIMITED",
			})
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, apperr.Response{
				Message:    "Unable to identify client",
				StatusCode: http.StatusForbidden,
				ErrorCode:  "FORBIDDEN",
			})
		},
	})
}
