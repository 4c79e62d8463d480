// Package audit records exactly one entry per gateway request,
// success or failure. Entries carry the token digest, never the raw
// token, so security review never requires access to secrets.
package audit

import (
	"context"
	"time"
)

// Outcome classifies how a request terminated.
type Outcome string

const (
	OutcomeForwarded    Outcome = "forwarded"
	OutcomeDeniedAuth   Outcome = "denied_auth"
	OutcomeDeniedPolicy Outcome = "denied_policy"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeDownstream   Outcome = "downstream_error"
	OutcomeError        Outcome = "error"
)

// Entry is one audit record.
type Entry struct {
	ID          string
	Timestamp   time.Time
	TokenDigest string
	Origin      string
	Operation   string
	Repo        string
	Mode        string
	Outcome     Outcome
	Reason      string
	StatusCode  int
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
