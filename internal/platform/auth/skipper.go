package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":                true,
	"/health/db":             true,
	"/api/v1/doctors/public": true,
}

// AuthSkipper matches on the registered route path, so it only works after
// routing (echo Use, not Pre).
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()] || publicPaths[c.Request().URL.Path]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
