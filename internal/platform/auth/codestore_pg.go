package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgRow represents a single row returned by QueryRow.
type pgRow interface {
	Scan(dest ...any) error
}

// pgConn is the minimal database interface required by PGCodeStore.
// Both *pgxpool.Pool (via pgxPoolWrapper) and test mocks implement this.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Exec(ctx context.Context, sql string, args ...any) error
}

// PGCodeStore is a CodeStore backed by the authorization_codes table, so
// that every gateway replica can redeem a code issued by any other.
type PGCodeStore struct {
	db pgConn
}

// NewPGCodeStore creates a PG-backed store over db. Use
// NewPGCodeStoreFromPool in production.
func NewPGCodeStore(db pgConn) *PGCodeStore {
	return &PGCodeStore{db: db}
}

// NewPGCodeStoreFromPool creates a PG-backed store from a *pgxpool.Pool.
func NewPGCodeStoreFromPool(pool *pgxpool.Pool) *PGCodeStore {
	return NewPGCodeStore(&pgxPoolWrapper{pool: pool})
}

// Store implements CodeStore. An expired row under the same code is
// replaced; a live one is left alone and ErrCodeInUse returned. Creation and
// expiry times come from the database clock, the same clock Redeem and
// Cleanup compare against.
func (s *PGCodeStore) Store(ctx context.Context, code string, req *AuthenticationRequest, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	const query = `INSERT INTO authorization_codes
    (code, client_id, redirect_uri, scope, token_type, assertion, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now() + $7::bigint * interval '1 millisecond')
ON CONFLICT (code) DO UPDATE SET client_id    = EXCLUDED.client_id,
                                 redirect_uri = EXCLUDED.redirect_uri,
                                 scope        = EXCLUDED.scope,
                                 token_type   = EXCLUDED.token_type,
                                 assertion    = EXCLUDED.assertion,
                                 created_at   = EXCLUDED.created_at,
                                 expires_at   = EXCLUDED.expires_at
WHERE authorization_codes.expires_at <= now()
RETURNING code`

	var stored string
	err := s.db.QueryRow(ctx, query, code, req.ClientID, req.RedirectURI, req.Scope,
		req.TokenType, req.Assertion, ttl.Milliseconds()).Scan(&stored)
	if err != nil {
		if isNoRows(err) {
			return ErrCodeInUse
		}
		return fmt.Errorf("store authorization code: %w", err)
	}
	return nil
}

// Redeem implements CodeStore using DELETE ... RETURNING, so concurrent
// redemptions of one code have a single winner.
func (s *PGCodeStore) Redeem(ctx context.Context, code string) (*AuthenticationRequest, error) {
	const query = `DELETE FROM authorization_codes
WHERE code = $1 AND expires_at > now()
RETURNING client_id, redirect_uri, scope, token_type, assertion`

	var req AuthenticationRequest
	err := s.db.QueryRow(ctx, query, code).Scan(
		&req.ClientID, &req.RedirectURI, &req.Scope, &req.TokenType, &req.Assertion)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("redeem authorization code: %w", err)
	}
	return &req, nil
}

// Cleanup deletes all expired rows from the table.
func (s *PGCodeStore) Cleanup(ctx context.Context) error {
	const query = `DELETE FROM authorization_codes WHERE expires_at <= now()`
	if err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("cleanup authorization codes: %w", err)
	}
	return nil
}

// StartCleanup runs Cleanup every interval until ctx is done. Failures are
// passed to onErr when it is non-nil.
func (s *PGCodeStore) StartCleanup(ctx context.Context, interval time.Duration, onErr func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}()
}

// isNoRows returns true when the error represents a "no rows" condition.
// It works with both pgx (pgx.ErrNoRows) and the mock used in tests.
func isNoRows(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no rows")
}

// pgxPoolWrapper adapts *pgxpool.Pool to pgConn; the pool's Exec also
// returns a command tag.
type pgxPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxPoolWrapper) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return w.pool.QueryRow(ctx, sql, args...)
}

func (w *pgxPoolWrapper) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.pool.Exec(ctx, sql, args...)
	return err
}
