package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/platform/metrics"
)

// codeBytes is the entropy of a minted authorization code.
const codeBytes = 32

// maxCodeAttempts bounds retries when a freshly minted code collides.
const maxCodeAttempts = 3

// IDTokenParser verifies identity provider tokens.
type IDTokenParser interface {
	Verify(raw string) (*IDTokenClaims, error)
}

// CallbackRequest carries the fields posted by the identity provider
// callback.
type CallbackRequest struct {
	IDToken     string
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
	TokenType   string
}

// AuthenticationService turns a verified identity provider token into an
// assertion held under a fresh authorization code.
type AuthenticationService struct {
	verifier IDTokenParser
	issuer   AssertionIssuer
	store    CodeStore
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewAuthenticationService wires the callback flow. A non-positive ttl
// falls back to DefaultCodeTTL.
func NewAuthenticationService(verifier IDTokenParser, issuer AssertionIssuer, store CodeStore, ttl time.Duration, logger zerolog.Logger) *AuthenticationService {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &AuthenticationService{
		verifier: verifier,
		issuer:   issuer,
		store:    store,
		ttl:      ttl,
		logger:   logger.With().Str("component", "authentication").Logger(),
	}
}

// Complete verifies req.IDToken, obtains an assertion and stores it under a
// newly minted code, which it returns.
func (s *AuthenticationService) Complete(ctx context.Context, req CallbackRequest) (string, error) {
	switch {
	case isBlank(req.IDToken):
		return "", &MissingFieldError{Field: "id_token"}
	case isBlank(req.ClientID):
		return "", &MissingFieldError{Field: "client_id"}
	case isBlank(req.RedirectURI):
		return "", &MissingFieldError{Field: "redirect_uri"}
	}

	claims, err := s.verifier.Verify(req.IDToken)
	if err != nil {
		return "", err
	}

	name := claims.Name
	if name == "" && (claims.GivenName != "" || claims.FamilyName != "") {
		name = claims.GivenName + " " + claims.FamilyName
	}
	assertion, err := s.issuer.Issue(ctx, AssertionRequest{
		Subject:      claims.Subject,
		Name:         name,
		Organization: claims.Organization,
		Role:         claims.Role,
		Scope:        req.Scope,
		ClientID:     req.ClientID,
	})
	if err != nil {
		return "", fmt.Errorf("issuing assertion: %w", err)
	}
	if assertion == "" {
		return "", ErrMissingAssertion
	}

	tokenType := req.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	authReq := &AuthenticationRequest{
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		Scope:       req.Scope,
		TokenType:   tokenType,
		Assertion:   assertion,
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateRandomHex(codeBytes)
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		err = s.store.Store(ctx, code, authReq, s.ttl)
		if errors.Is(err, ErrCodeInUse) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("storing code: %w", err)
		}

		metrics.CodesIssued.Inc()
		s.logger.Info().
			Str("client_id", req.ClientID).
			Str("subject", claims.Subject).
			Msg("authorization code issued")
		return code, nil
	}
	return "", ErrCodeInUse
}
