package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// OAuthError represents an OAuth 2.0 error response.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Handler serves the token endpoint and the identity provider callback.
type Handler struct {
	exchange *TokenExchangeService
	authn    *AuthenticationService
	logger   zerolog.Logger
}

// NewHandler creates the HTTP handler. authn may be nil, in which case the
// callback route is not registered.
func NewHandler(exchange *TokenExchangeService, authn *AuthenticationService, logger zerolog.Logger) *Handler {
	return &Handler{exchange: exchange, authn: authn, logger: logger}
}

// RegisterRoutes registers the authorization endpoints on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/token", h.handleToken)
	if h.authn != nil {
		g.POST("/assertion", h.handleAssertion)
	}
}

// handleToken handles POST /token.
func (h *Handler) handleToken(c echo.Context) error {
	clientID, clientSecret := extractClientCredentials(c)

	resp, err := h.exchange.Exchange(c.Request().Context(), TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  c.FormValue("redirect_uri"),
	})
	if err != nil {
		status, oauthErr := tokenError(err)
		return c.JSON(status, oauthErr)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")
	return c.JSON(http.StatusOK, resp)
}

// handleAssertion handles POST /assertion, the identity provider callback.
func (h *Handler) handleAssertion(c echo.Context) error {
	req := CallbackRequest{
		IDToken:     c.FormValue("id_token"),
		ClientID:    c.FormValue("client_id"),
		RedirectURI: c.FormValue("redirect_uri"),
		Scope:       c.FormValue("scope"),
		State:       c.FormValue("state"),
		TokenType:   c.FormValue("token_type"),
	}

	target, err := url.Parse(req.RedirectURI)
	if req.RedirectURI != "" && (err != nil || !target.IsAbs()) {
		return c.JSON(http.StatusBadRequest, &OAuthError{
			Code:        "invalid_request",
			Description: "redirect_uri must be an absolute URI",
		})
	}

	code, err := h.authn.Complete(c.Request().Context(), req)
	if err != nil {
		status, oauthErr := callbackError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("client_id", req.ClientID).Msg("authentication callback failed")
		}
		return c.JSON(status, oauthErr)
	}

	q := target.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

func tokenError(err error) (int, *OAuthError) {
	var missing *MissingFieldError
	var mismatch *BindingMismatchError
	switch {
	case errors.Is(err, ErrInvalidGrantType):
		return http.StatusBadRequest, &OAuthError{Code: "unsupported_grant_type", Description: err.Error()}
	case errors.As(err, &missing):
		return http.StatusBadRequest, &OAuthError{Code: "invalid_request", Description: err.Error()}
	case errors.Is(err, ErrUnknownCode):
		return http.StatusBadRequest, &OAuthError{Code: "invalid_grant", Description: err.Error()}
	case errors.As(err, &mismatch):
		return http.StatusBadRequest, &OAuthError{Code: "invalid_grant", Description: err.Error()}
	default:
		return http.StatusInternalServerError, &OAuthError{Code: "server_error", Description: "internal server error"}
	}
}

func callbackError(err error) (int, *OAuthError) {
	var missing *MissingFieldError
	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest, &OAuthError{Code: "invalid_request", Description: err.Error()}
	case errors.Is(err, ErrInvalidIDToken):
		return http.StatusUnauthorized, &OAuthError{Code: "access_denied", Description: "id_token could not be verified"}
	case errors.Is(err, ErrMissingAssertion):
		return http.StatusBadGateway, &OAuthError{Code: "server_error", Description: err.Error()}
	default:
		return http.StatusInternalServerError, &OAuthError{Code: "server_error", Description: "internal server error"}
	}
}

// extractClientCredentials reads client_id and client_secret from HTTP
// Basic authentication, falling back to the form body.
func extractClientCredentials(c echo.Context) (string, string) {
	clientID, clientSecret, ok := c.Request().BasicAuth()
	if ok && clientID != "" {
		return clientID, clientSecret
	}
	return c.FormValue("client_id"), c.FormValue("client_secret")
}
