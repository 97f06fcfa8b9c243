package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// HeaderBaseURL carries the URL-encoded GeoServer base URL of a request.
const HeaderBaseURL = "X-GeoServer-BaseUrl"

// CORS returns a middleware answering preflights for the relay routes.
// An empty origins list allows any origin.
func CORS(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderContentType,
			echo.HeaderAuthorization,
			HeaderBaseURL,
			HeaderSessionID,
		},
		ExposeHeaders: []string{"Geowebcache-Cache-Result"},
		MaxAge:        600,
	})
}
