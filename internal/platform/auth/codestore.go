package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// DefaultCodeTTL is how long an authorization code stays redeemable.
const DefaultCodeTTL = 60 * time.Second

// ErrCodeInUse is returned by Store when an unexpired entry already exists
// under the same code.
var ErrCodeInUse = errors.New("authorization code already in use")

// AuthenticationRequest is the state captured when a user authenticates,
// keyed by the authorization code handed back to the client.
type AuthenticationRequest struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`
	TokenType   string `json:"token_type"`
	// Assertion is the serialized security assertion, opaque to the gateway.
	Assertion string `json:"-"`
}

// CodeStore holds authorization codes until they are redeemed.
//
// Redeem is an atomic get-and-remove: when several callers redeem the same
// code concurrently exactly one of them receives the request, the others
// get (nil, nil) as if the code never existed. Expired entries are never
// returned.
type CodeStore interface {
	Store(ctx context.Context, code string, req *AuthenticationRequest, ttl time.Duration) error
	Redeem(ctx context.Context, code string) (*AuthenticationRequest, error)
}

type codeEntry struct {
	req       AuthenticationRequest
	expiresAt time.Time
}

// InMemoryCodeStore is a process-local CodeStore. Store, Redeem and the
// expiry sweep share one mutex.
type InMemoryCodeStore struct {
	mu      sync.Mutex
	entries map[string]codeEntry
	now     func() time.Time
}

// NewInMemoryCodeStore creates an empty store.
func NewInMemoryCodeStore() *InMemoryCodeStore {
	return &InMemoryCodeStore{
		entries: make(map[string]codeEntry),
		now:     time.Now,
	}
}

// Store implements CodeStore.
func (s *InMemoryCodeStore) Store(_ context.Context, code string, req *AuthenticationRequest, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.entries[code]; ok && now.Before(existing.expiresAt) {
		return ErrCodeInUse
	}
	s.entries[code] = codeEntry{req: *req, expiresAt: now.Add(ttl)}
	return nil
}

// Redeem implements CodeStore.
func (s *InMemoryCodeStore) Redeem(_ context.Context, code string) (*AuthenticationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[code]
	if !ok {
		return nil, nil
	}
	delete(s.entries, code)

	if !s.now().Before(entry.expiresAt) {
		return nil, nil
	}
	req := entry.req
	return &req, nil
}

// Len reports the number of entries held, expired or not.
func (s *InMemoryCodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup removes expired entries.
func (s *InMemoryCodeStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for code, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, code)
		}
	}
}

// StartCleanup sweeps expired entries every interval until ctx is done.
func (s *InMemoryCodeStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// generateRandomHex generates a cryptographically random hex string of n bytes.
func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
