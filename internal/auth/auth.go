package auth

import (
	"context"
	"errors"
	"time"

	"gitgate/gateway/internal/policy"
	"gitgate/gateway/internal/worktree"
)

// Session is the authorization context bound to one worker's lifetime.
// Only the token digest is ever held; the raw token exists exactly
// once, in the create response.
type Session struct {
	ID          string           `json:"id"`
	Owner       string           `json:"owner"`  // owning worker/container id
	Origin      string           `json:"origin"` // expected network origin of the worker
	Mode        policy.Mode      `json:"mode"`   // immutable for the session's lifetime
	TokenDigest string           `json:"tokenDigest"`
	CreatedAt   time.Time        `json:"createdAt"`
	LastActive  time.Time        `json:"lastActive"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	TTL         time.Duration    `json:"ttl"`
	Grants      []worktree.Grant `json:"grants"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CreateParams are the attributes of a new session. The token itself
// is generated by the store, never supplied.
type CreateParams struct {
	ID     string
	Owner  string
	Origin string
	Mode   policy.Mode
	TTL    time.Duration
	Grants []worktree.Grant
}

var (
	// ErrInvalidMode rejects a mode outside private/public.
	ErrInvalidMode = errors.New("invalid session mode")
	// ErrSessionInvalid covers absent, expired and origin-mismatched
	// sessions alike; callers must not be able to distinguish them.
	ErrSessionInvalid = errors.New("session invalid")
)

// Store is the session lifecycle interface. Create and Revoke are
// reserved for the trusted launcher; Validate is the per-request path.
type Store interface {
	// Create stores a new session and returns it together with the raw
	// token, exactly once.
	Create(ctx context.Context, params CreateParams) (*Session, string, error)

	// Validate authenticates a presented token against its bound
	// origin. Every successful validation is also a heartbeat: it
	// extends expiry by the session's TTL.
	Validate(ctx context.Context, token, origin string) (*Session, error)

	// Revoke removes the session and reclaims its worktrees. Reports
	// whether a session was actually removed.
	Revoke(ctx context.Context, token string) (bool, error)

	// Snapshot returns a copy of every live session.
	Snapshot() []*Session

	Close() error
}
