package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mag/gateway/internal/platform/ids"
)

// ErrMissingAssertion is returned when the assertion provider answers
// without an assertion.
var ErrMissingAssertion = errors.New("assertion provider returned no assertion")

// AssertionRequest describes the subject and audience an assertion is
// issued for.
type AssertionRequest struct {
	Subject      string
	Name         string
	Organization string
	Role         string
	Scope        string
	ClientID     string
}

// AssertionIssuer obtains a serialized security assertion for an
// authenticated user. The gateway treats the result as opaque.
type AssertionIssuer interface {
	Issue(ctx context.Context, req AssertionRequest) (string, error)
}

// AssertionClaims is the payload of assertions minted by JWTAssertionIssuer.
type AssertionClaims struct {
	jwt.RegisteredClaims
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
	Role         string `json:"role,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// JWTAssertionIssuer is a standalone assertion provider that signs HS256
// JWTs, for deployments without an external security token service.
type JWTAssertionIssuer struct {
	issuer   string
	audience string
	key      []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewJWTAssertionIssuer creates an issuer. A non-positive lifetime defaults
// to five minutes.
func NewJWTAssertionIssuer(issuer, audience string, key []byte, lifetime time.Duration) (*JWTAssertionIssuer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("assertion signing key is required")
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	return &JWTAssertionIssuer{
		issuer:   issuer,
		audience: audience,
		key:      key,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Issue implements AssertionIssuer.
func (i *JWTAssertionIssuer) Issue(_ context.Context, req AssertionRequest) (string, error) {
	now := i.now()
	claims := AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ids.AssertionID(),
			Issuer:    i.issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
		Name:         req.Name,
		Organization: req.Organization,
		Role:         req.Role,
		Scope:        req.Scope,
		ClientID:     req.ClientID,
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}
	return signed, nil
}

// Parse verifies an assertion minted by this issuer.
func (i *JWTAssertionIssuer) Parse(raw string) (*AssertionClaims, error) {
	claims := &AssertionClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing assertion: %w", err)
	}
	return claims, nil
}
