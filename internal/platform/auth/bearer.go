package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const subjectKey contextKey = "assertion_subject"

// AssertionParser verifies an assertion carried in an access token.
type AssertionParser interface {
	Parse(raw string) (*AssertionClaims, error)
}

// AccessTokenMiddleware requires an access token issued by the token
// endpoint. Accepted forms are "IHE-SAML <b64>" and "Bearer IHE-SAML <b64>".
// The assertion subject is stored on the request context.
func AccessTokenMiddleware(parser AssertionParser, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			assertion, ok := decodeAccessToken(authHeader)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := parser.Parse(assertion)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithSubject(c.Request().Context(), claims.Subject)))
			return next(c)
		}
	}
}

func decodeAccessToken(header string) (string, bool) {
	token := header
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		token = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(token, AccessTokenPrefix) {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token[len(AccessTokenPrefix):]))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// WithSubject returns ctx carrying the authenticated assertion subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the assertion subject set by
// AccessTokenMiddleware.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}
