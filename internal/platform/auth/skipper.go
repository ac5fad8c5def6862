package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that never require an access token: the
// infrastructure endpoints and the two endpoints a client calls to obtain
// one.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,

	// Code and assertion exchange happen before the client holds a token.
	"/token":     true,
	"/assertion": true,
}

// AuthSkipper returns true for requests whose path should skip
// authentication. Pass it as the skipper of AccessTokenMiddleware so health
// checks, metrics scraping and the token exchange stay reachable without a
// bearer token.
func AuthSkipper(c echo.Context) bool {
	// c.Path() is the route pattern, so query strings never affect the match.
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
