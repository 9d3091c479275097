package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrConflict means a key was reused for a different request.
var ErrConflict = errors.New("idempotency key reused with a different request")

// Guard hashes client keys with a salt before they reach the store, and
// checks replays against the original request's fingerprint.
type Guard struct {
	Store  Store
	Salt   string
	Window time.Duration
	Now    func() time.Time
}

// Key derives the storage key for a client key within a scope, usually the route.
func (g *Guard) Key(scope, clientKey string) string {
	sum := sha256.Sum256([]byte(g.Salt + "\x00" + scope + "\x00" + clientKey))
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies a request by its body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the stored response for key, ErrConflict if it was recorded
// for another body, or nil when the request is new.
func (g *Guard) Lookup(ctx context.Context, key string, body []byte) (*Record, error) {
	rec, err := g.Store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	if rec.Fingerprint != "" && rec.Fingerprint != Fingerprint(body) {
		return nil, ErrConflict
	}
	return rec, nil
}

// Remember stores a response for key for the guard's window.
func (g *Guard) Remember(ctx context.Context, key string, body []byte, status int, response []byte) error {
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	rec := Record{
		Fingerprint: Fingerprint(body),
		StatusCode:  status,
		Response:    response,
		CreatedAt:   now.UTC(),
		ExpiresAt:   now.Add(g.Window).UTC(),
	}
	if err := g.Store.Save(ctx, key, rec); err != nil {
		return fmt.Errorf("idempotency save: %w", err)
	}
	return nil
}
