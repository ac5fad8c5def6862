package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/platform/metrics"
)

// spyStore records calls and delegates to an in-memory store.
type spyStore struct {
	inner     *InMemoryCodeStore
	redeemed  []string
	redeemErr error
}

func newSpyStore() *spyStore {
	return &spyStore{inner: NewInMemoryCodeStore()}
}

func (s *spyStore) Store(ctx context.Context, code string, req *AuthenticationRequest, ttl time.Duration) error {
	return s.inner.Store(ctx, code, req, ttl)
}

func (s *spyStore) Redeem(ctx context.Context, code string) (*AuthenticationRequest, error) {
	s.redeemed = append(s.redeemed, code)
	if s.redeemErr != nil {
		return nil, s.redeemErr
	}
	return s.inner.Redeem(ctx, code)
}

func validTokenRequest() TokenRequest {
	return TokenRequest{
		GrantType:   "authorization_code",
		Code:        "code-1",
		ClientID:    "app-1",
		RedirectURI: "https://app.example.org/cb",
	}
}

func newExchangeFixture(t *testing.T) (*TokenExchangeService, *spyStore) {
	t.Helper()
	store := newSpyStore()
	if err := store.Store(context.Background(), "code-1", sampleRequest(), time.Minute); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	return NewTokenExchangeService(store, 0, zerolog.Nop()), store
}

func TestExchange_Success(t *testing.T) {
	svc, _ := newExchangeFixture(t)
	before := testutil.ToFloat64(metrics.TokenExchanges.WithLabelValues("issued"))

	resp, err := svc.Exchange(context.Background(), validTokenRequest())
	if err != nil {
		t.Fatalf("Exchange: unexpected error: %v", err)
	}

	wantToken := "IHE-SAML " + base64.StdEncoding.EncodeToString([]byte("<saml2:Assertion/>"))
	if resp.AccessToken != wantToken {
		t.Errorf("AccessToken = %q, want %q", resp.AccessToken, wantToken)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 60000 {
		t.Errorf("ExpiresIn = %d, want 60000", resp.ExpiresIn)
	}
	if resp.Scope != sampleRequest().Scope {
		t.Errorf("Scope = %q, want %q", resp.Scope, sampleRequest().Scope)
	}

	if got := testutil.ToFloat64(metrics.TokenExchanges.WithLabelValues("issued")); got != before+1 {
		t.Errorf("issued counter = %v, want %v", got, before+1)
	}
}

func TestExchange_AccessTokenRoundTrip(t *testing.T) {
	svc, _ := newExchangeFixture(t)

	resp, err := svc.Exchange(context.Background(), validTokenRequest())
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.AccessToken, AccessTokenPrefix))
	if err != nil {
		t.Fatalf("decoding access token: %v", err)
	}
	if string(decoded) != "<saml2:Assertion/>" {
		t.Errorf("decoded assertion = %q", decoded)
	}
}

func TestExchange_InvalidGrantTypeDoesNotTouchStore(t *testing.T) {
	for _, gt := range []string{"", "refresh_token", "Authorization_Code", "authorization_code "} {
		t.Run(gt, func(t *testing.T) {
			svc, store := newExchangeFixture(t)
			req := validTokenRequest()
			req.GrantType = gt

			_, err := svc.Exchange(context.Background(), req)
			if !errors.Is(err, ErrInvalidGrantType) {
				t.Fatalf("expected ErrInvalidGrantType, got %v", err)
			}
			if len(store.redeemed) != 0 {
				t.Errorf("store was touched: %v", store.redeemed)
			}
			if store.inner.Len() != 1 {
				t.Error("code should still be stored")
			}
		})
	}
}

func TestExchange_MissingFields(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*TokenRequest)
	}{
		{"code", func(r *TokenRequest) { r.Code = "" }},
		{"code", func(r *TokenRequest) { r.Code = "   " }},
		{"client_id", func(r *TokenRequest) { r.ClientID = "" }},
		{"redirect_uri", func(r *TokenRequest) { r.RedirectURI = "\t" }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			svc, store := newExchangeFixture(t)
			req := validTokenRequest()
			tt.mutate(&req)

			_, err := svc.Exchange(context.Background(), req)
			var missing *MissingFieldError
			if !errors.As(err, &missing) {
				t.Fatalf("expected MissingFieldError, got %v", err)
			}
			if missing.Field != tt.field {
				t.Errorf("Field = %q, want %q", missing.Field, tt.field)
			}
			if len(store.redeemed) != 0 {
				t.Error("store should not be consulted for an incomplete request")
			}
		})
	}
}

func TestExchange_UnknownCode(t *testing.T) {
	svc, _ := newExchangeFixture(t)
	req := validTokenRequest()
	req.Code = "never-issued"

	if _, err := svc.Exchange(context.Background(), req); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode, got %v", err)
	}
}

func TestExchange_CodeIsSingleUse(t *testing.T) {
	svc, _ := newExchangeFixture(t)

	if _, err := svc.Exchange(context.Background(), validTokenRequest()); err != nil {
		t.Fatalf("first Exchange: %v", err)
	}
	if _, err := svc.Exchange(context.Background(), validTokenRequest()); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("second Exchange: expected ErrUnknownCode, got %v", err)
	}
}

func TestExchange_BindingMismatchConsumesCode(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*TokenRequest)
	}{
		{"client_id", func(r *TokenRequest) { r.ClientID = "APP-1" }},
		{"redirect_uri", func(r *TokenRequest) { r.RedirectURI = "https://app.example.org/other" }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			svc, _ := newExchangeFixture(t)
			req := validTokenRequest()
			tt.mutate(&req)

			_, err := svc.Exchange(context.Background(), req)
			var mismatch *BindingMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("expected BindingMismatchError, got %v", err)
			}
			if mismatch.Field != tt.field {
				t.Errorf("Field = %q, want %q", mismatch.Field, tt.field)
			}

			// The corrected request cannot reuse the code.
			if _, err := svc.Exchange(context.Background(), validTokenRequest()); !errors.Is(err, ErrUnknownCode) {
				t.Errorf("retry: expected ErrUnknownCode, got %v", err)
			}
		})
	}
}

func TestExchange_ClientSecretIgnored(t *testing.T) {
	svc, _ := newExchangeFixture(t)
	req := validTokenRequest()
	req.ClientSecret = "anything"

	if _, err := svc.Exchange(context.Background(), req); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
}

func TestExchange_StoreFailure(t *testing.T) {
	svc, store := newExchangeFixture(t)
	store.redeemErr = errors.New("connection reset")

	_, err := svc.Exchange(context.Background(), validTokenRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnknownCode) {
		t.Error("store failure must not look like an unknown code")
	}
	if exchangeOutcome(err) != "error" {
		t.Errorf("outcome = %q, want error", exchangeOutcome(err))
	}
}

func TestExchange_ConfiguredExpiresIn(t *testing.T) {
	store := newSpyStore()
	store.Store(context.Background(), "code-1", sampleRequest(), time.Minute)
	svc := NewTokenExchangeService(store, 3600, zerolog.Nop())

	resp, err := svc.Exchange(context.Background(), validTokenRequest())
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", resp.ExpiresIn)
	}
}
