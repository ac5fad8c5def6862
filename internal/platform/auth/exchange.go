package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/platform/metrics"
)

const (
	// GrantTypeAuthorizationCode is the only grant the token endpoint serves.
	GrantTypeAuthorizationCode = "authorization_code"

	// AccessTokenPrefix labels the encoded assertion carried as access token.
	AccessTokenPrefix = "IHE-SAML "

	// DefaultExpiresIn is the expires_in value reported to clients.
	DefaultExpiresIn = 60000
)

var (
	// ErrInvalidGrantType is returned for any grant_type other than
	// authorization_code.
	ErrInvalidGrantType = errors.New("grant_type must be 'authorization_code'")

	// ErrUnknownCode is returned when the code is absent, expired or was
	// already redeemed.
	ErrUnknownCode = errors.New("invalid or already used authorization code")
)

// MissingFieldError names a required token request field that was blank.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return e.Field + " is required"
}

// BindingMismatchError reports that a request field did not match the value
// bound to the code at authentication time. The code is consumed by then.
type BindingMismatchError struct {
	Field string
}

func (e *BindingMismatchError) Error() string {
	return e.Field + " does not match the authorization request"
}

// TokenRequest carries the token endpoint form fields.
type TokenRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// TokenResponse is the OAuth2 token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// TokenExchangeService redeems authorization codes for access tokens that
// carry the assertion captured at authentication.
type TokenExchangeService struct {
	store     CodeStore
	expiresIn int
	logger    zerolog.Logger
}

// NewTokenExchangeService creates a service over store. A non-positive
// expiresIn falls back to DefaultExpiresIn.
func NewTokenExchangeService(store CodeStore, expiresIn int, logger zerolog.Logger) *TokenExchangeService {
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	return &TokenExchangeService{
		store:     store,
		expiresIn: expiresIn,
		logger:    logger.With().Str("component", "token-exchange").Logger(),
	}
}

// Exchange redeems req.Code. The client secret is accepted but not checked:
// the flow serves public clients. Every error other than a store failure is
// final for the given code.
func (s *TokenExchangeService) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	resp, err := s.exchange(ctx, req)
	outcome := exchangeOutcome(err)
	metrics.TokenExchanges.WithLabelValues(outcome).Inc()

	if err != nil {
		ev := s.logger.Info()
		if outcome == "error" {
			ev = s.logger.Error().Err(err)
		}
		ev.Str("client_id", req.ClientID).Str("outcome", outcome).Msg("token exchange rejected")
		return nil, err
	}
	s.logger.Info().Str("client_id", req.ClientID).Str("scope", resp.Scope).Msg("token issued")
	return resp, nil
}

func (s *TokenExchangeService) exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType != GrantTypeAuthorizationCode {
		return nil, ErrInvalidGrantType
	}
	switch {
	case isBlank(req.Code):
		return nil, &MissingFieldError{Field: "code"}
	case isBlank(req.ClientID):
		return nil, &MissingFieldError{Field: "client_id"}
	case isBlank(req.RedirectURI):
		return nil, &MissingFieldError{Field: "redirect_uri"}
	}

	stored, err := s.store.Redeem(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("redeem code: %w", err)
	}
	if stored == nil {
		return nil, ErrUnknownCode
	}

	if stored.ClientID != req.ClientID {
		return nil, &BindingMismatchError{Field: "client_id"}
	}
	if stored.RedirectURI != req.RedirectURI {
		return nil, &BindingMismatchError{Field: "redirect_uri"}
	}

	return &TokenResponse{
		AccessToken: AccessTokenPrefix + base64.StdEncoding.EncodeToString([]byte(stored.Assertion)),
		TokenType:   stored.TokenType,
		ExpiresIn:   s.expiresIn,
		Scope:       stored.Scope,
	}, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func exchangeOutcome(err error) string {
	var missing *MissingFieldError
	var mismatch *BindingMismatchError
	switch {
	case err == nil:
		return "issued"
	case errors.Is(err, ErrInvalidGrantType):
		return "invalid_grant_type"
	case errors.As(err, &missing):
		return "missing_field"
	case errors.Is(err, ErrUnknownCode):
		return "unknown_code"
	case errors.As(err, &mismatch):
		return "binding_mismatch"
	default:
		return "error"
	}
}
