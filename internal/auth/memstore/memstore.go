// Package memstore is the in-memory session store with disk
// persistence. The full digest table is rewritten to a single
// permission-restricted file after every mutation; compromise of that
// file cannot forge a live token because only digests are persisted.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gitgate/gateway/internal/auth"
	"gitgate/gateway/internal/utils"
	"gitgate/gateway/internal/worktree"
)

// ReclaimFunc is invoked whenever a session leaves the table, so its
// worktrees can be torn down.
type ReclaimFunc func(ctx context.Context, sessionID string)

type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session // keyed by token digest

	path    string
	reclaim ReclaimFunc
	log     *slog.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// Open loads (or creates) the store backed by the session file at
// path. Entries that expired while the process was down are pruned and
// reclaimed immediately.
func Open(path string, reclaim ReclaimFunc, log *slog.Logger) (*MemStore, error) {
	if reclaim == nil {
		reclaim = func(context.Context, string) {}
	}
	s := &MemStore{
		sessions: make(map[string]*auth.Session),
		path:     path,
		reclaim:  reclaim,
		log:      log.With("component", "sessions"),
		now:      time.Now,
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session table: %w", err)
	}

	var table map[string]*auth.Session
	if err := json.Unmarshal(data, &table); err != nil {
		return fmt.Errorf("parse session table: %w", err)
	}

	now := s.now()
	pruned := 0
	for digest, sess := range table {
		if sess.Expired(now) {
			s.reclaim(context.Background(), sess.ID)
			pruned++
			continue
		}
		s.sessions[digest] = sess
	}
	if pruned > 0 {
		s.log.Info("pruned expired sessions at startup", "count", pruned)
		return s.persistLocked()
	}
	return nil
}

func (s *MemStore) Create(ctx context.Context, params auth.CreateParams) (*auth.Session, string, error) {
	if !params.Mode.Valid() {
		return nil, "", fmt.Errorf("%w: %q", auth.ErrInvalidMode, params.Mode)
	}
	if params.TTL <= 0 {
		return nil, "", fmt.Errorf("session ttl must be positive")
	}

	token, err := utils.NewSessionToken()
	if err != nil {
		return nil, "", err
	}
	digest := utils.DigestSHA([]byte(token))

	now := s.now()
	sess := &auth.Session{
		ID:          params.ID,
		Owner:       params.Owner,
		Origin:      params.Origin,
		Mode:        params.Mode,
		TokenDigest: digest,
		CreatedAt:   now,
		LastActive:  now,
		ExpiresAt:   now.Add(params.TTL),
		TTL:         params.TTL,
		Grants:      params.Grants,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[digest]; exists {
		// 256-bit collision; treat as an internal fault.
		return nil, "", fmt.Errorf("token digest collision")
	}
	s.sessions[digest] = sess
	if err := s.persistLocked(); err != nil {
		delete(s.sessions, digest)
		return nil, "", err
	}

	s.log.Info("session created",
		"session", sess.ID, "owner", sess.Owner, "mode", sess.Mode,
		"origin", sess.Origin, "expires", sess.ExpiresAt)
	return copySession(sess), token, nil
}

// Validate returns the session iff the token digest is present, the
// session has not expired and the caller's origin matches the bound
// one. Success extends expiry; expiry is monotonically non-decreasing.
func (s *MemStore) Validate(ctx context.Context, token, origin string) (*auth.Session, error) {
	digest := utils.DigestSHA([]byte(token))

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[digest]
	if !ok {
		return nil, auth.ErrSessionInvalid
	}
	now := s.now()
	if sess.Expired(now) {
		return nil, auth.ErrSessionInvalid
	}
	if !utils.ConstantTimeEquals(sess.Origin, origin) {
		return nil, auth.ErrSessionInvalid
	}

	sess.LastActive = now
	if exp := now.Add(sess.TTL); exp.After(sess.ExpiresAt) {
		sess.ExpiresAt = exp
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return copySession(sess), nil
}

func (s *MemStore) Revoke(ctx context.Context, token string) (bool, error) {
	digest := utils.DigestSHA([]byte(token))

	s.mu.Lock()
	sess, ok := s.sessions[digest]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.sessions, digest)
	if err := s.persistLocked(); err != nil {
		// The on-disk table still holds the session; put the in-memory
		// entry back so the two stay consistent and the worktrees are
		// not reclaimed under a session that survived.
		s.sessions[digest] = sess
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	s.reclaim(ctx, sess.ID)
	s.log.Info("session revoked", "session", sess.ID)
	return true, nil
}

func (s *MemStore) Snapshot() []*auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	return out
}

// StartSweep runs the periodic expiry sweep until Close. The sweep
// collects expired sessions under the lock, then reclaims outside it,
// so it never races in-flight validations; interrupting it mid-cycle
// leaves nothing half-deleted.
func (s *MemStore) StartSweep(interval time.Duration) {
	s.stopSweep = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopSweep:
				return
			case <-ticker.C:
				s.sweepOnce()
			}
		}
	}()
}

func (s *MemStore) sweepOnce() {
	now := s.now()

	s.mu.Lock()
	var expired []*auth.Session
	for digest, sess := range s.sessions {
		if sess.Expired(now) {
			expired = append(expired, sess)
			delete(s.sessions, digest)
		}
	}
	if len(expired) > 0 {
		if err := s.persistLocked(); err != nil {
			s.log.Error("persist after sweep failed", "error", err)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.log.Info("session expired", "session", sess.ID, "owner", sess.Owner)
		s.reclaim(context.Background(), sess.ID)
	}
}

func (s *MemStore) Close() error {
	if s.stopSweep != nil {
		close(s.stopSweep)
		<-s.sweepDone
		s.stopSweep = nil
	}
	return nil
}

// persistLocked serializes the digest table via temp-file plus atomic
// rename. Caller holds s.mu, which makes this the single writer.
func (s *MemStore) persistLocked() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session table: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist session table: %w", err)
	}
	return nil
}

func copySession(sess *auth.Session) *auth.Session {
	cp := *sess
	cp.Grants = append([]worktree.Grant(nil), sess.Grants...)
	return &cp
}
