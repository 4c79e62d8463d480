package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitgate/gateway/internal/audit"
	"gitgate/gateway/internal/auth/memstore"
	"gitgate/gateway/internal/config"
	"gitgate/gateway/internal/dto"
	"gitgate/gateway/internal/engine"
	"gitgate/gateway/internal/middleware"
	"gitgate/gateway/internal/policy"
	"gitgate/gateway/internal/ratelimit"
	"gitgate/gateway/internal/service"
	"gitgate/gateway/internal/visibility"
	"gitgate/gateway/internal/worktree"
)

const adminToken = "admin-secret-for-tests"

func init() {
	gin.SetMode(gin.TestMode)
}

// routerRunner simulates the worktree commands on disk and answers
// every forwarded operation with canned output.
type routerRunner struct {
	mu  sync.Mutex
	out string
	err error
}

func (f *routerRunner) Git(_ context.Context, dir string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(args) >= 2 && args[0] == "worktree" {
		switch args[1] {
		case "add":
			return "", os.MkdirAll(args[len(args)-1], 0700)
		case "remove":
			return "", os.RemoveAll(args[len(args)-1])
		}
		return "", nil
	}
	return f.out, f.err
}

// newTestRouter wires the full stack the way the server does: gin
// router, admin and session middleware, SQLite audit store, in-memory
// session store, fake engine runner. The returned dir is the data dir
// holding sessions.json and the worktree layout.
func newTestRouter(t *testing.T, mutate func(*config.Config)) (*gin.Engine, *routerRunner, string) {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.AdminToken = adminToken
	if mutate != nil {
		mutate(cfg)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	oracle := &visibility.StaticOracle{Repos: map[string]visibility.Visibility{
		"org/a": visibility.Public,
		"org/b": visibility.Private,
	}}
	run := &routerRunner{}
	build := worktree.NewBuilder(dataDir)
	for _, repo := range []string{"org/a", "org/b"} {
		require.NoError(t, os.MkdirAll(build.RepoGitDir(repo), 0700))
	}
	prov := worktree.NewProvisioner(build, run, oracle, log)

	auditStore, err := audit.NewSQLiteStore(filepath.Join(dataDir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { auditStore.Close() })

	store, err := memstore.Open(filepath.Join(dataDir, "sessions.json"),
		func(ctx context.Context, id string) { _ = prov.Reclaim(ctx, id) }, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pol := &policy.Engine{DefaultMode: policy.Mode(cfg.DefaultMode), Strict: cfg.Strict}
	eng := engine.New(run, cfg.GitTimeout, log)
	srvc := service.NewService(cfg, store, prov, oracle, eng, pol, auditStore, log)

	router := gin.New()
	adminGrp := router.Group("/api/v1/admin")
	sessionGrp := router.Group("/api/v1/session")

	admin := middleware.NewAdmin(cfg.AdminToken, auditStore, log)
	adminGrp.Use(admin.Authenticator())

	failLimiter := ratelimit.New(cfg.RateLimits.LookupFail.Max, cfg.RateLimits.LookupFail.Window)
	heartbeatLimiter := ratelimit.New(cfg.RateLimits.Heartbeat.Max, cfg.RateLimits.Heartbeat.Window)
	authenticator := middleware.NewAuthenticator(store, failLimiter, heartbeatLimiter, auditStore, log)

	NewHandler(srvc, log).RegisterRoutes(adminGrp, sessionGrp, authenticator)
	return router, run, dataDir
}

func do(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// createSession allocates a session through the public API. httptest
// requests arrive from 192.0.2.1, so the session is bound to it.
func createSession(t *testing.T, router *gin.Engine, mode string) dto.CreateSessionResp {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/v1/admin/sessions", adminToken, dto.CreateSessionReq{
		Owner:  "container-1",
		Origin: "192.0.2.1",
		Mode:   mode,
		Repos:  []string{"org/a", "org/b"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.CreateSessionResp](t, w)
}

// >>>

func TestAdmin_RejectsMissingAndWrongCredential(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	for name, token := range map[string]string{
		"missing": "",
		"wrong":   "not-the-admin-token",
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/api/v1/admin/audit", token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAdmin_SessionTokenNeverOpensAdminSurface(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)
	sess := createSession(t, router, "private")

	w := do(t, router, http.MethodGet, "/api/v1/admin/audit", sess.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSession_EndToEnd(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	sess := createSession(t, router, "private")
	assert.NotEmpty(t, sess.SessionID)
	assert.Contains(t, sess.Token, "wgs_")
	require.Len(t, sess.Repos, 1)
	assert.Equal(t, "org/b", sess.Repos[0].Repo)
	assert.Equal(t, "private", sess.Repos[0].Visibility)
	assert.DirExists(t, sess.Repos[0].Path)
}

func TestCreateSession_BadModeReturns400(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	w := do(t, router, http.MethodPost, "/api/v1/admin/sessions", adminToken, dto.CreateSessionReq{
		Owner: "container-1", Origin: "192.0.2.1", Mode: "internal",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BAD_FORM")
}

func TestSession_MissingTokenIs401(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

func TestSession_AdminTokenNeverOpensSessionSurface(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", adminToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSession_FailedLookupsRateLimited(t *testing.T) {
	router, _, _ := newTestRouter(t, func(cfg *config.Config) {
		cfg.RateLimits.LookupFail = config.Limit{Max: 2, Window: time.Minute}
	})

	for i := 0; i < 2; i++ {
		w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", "wgs_bogus", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", "wgs_bogus", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestSession_ValidSessionUnaffectedByOthersFailures(t *testing.T) {
	router, _, _ := newTestRouter(t, func(cfg *config.Config) {
		cfg.RateLimits.LookupFail = config.Limit{Max: 1, Window: time.Minute}
	})
	sess := createSession(t, router, "private")

	// Exhaust the anti-enumeration budget with a bogus token.
	do(t, router, http.MethodPost, "/api/v1/session/heartbeat", "wgs_bogus", nil)
	do(t, router, http.MethodPost, "/api/v1/session/heartbeat", "wgs_bogus", nil)

	w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", sess.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHeartbeat_ExtendsExpiry(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)
	sess := createSession(t, router, "private")

	w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", sess.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hb := decode[dto.HeartbeatResp](t, w)
	assert.Equal(t, sess.SessionID, hb.SessionID)
	assert.False(t, hb.ExpiresAt.Before(sess.ExpiresAt))
}

func TestHeartbeat_LimitedBeforeValidation(t *testing.T) {
	router, _, dataDir := newTestRouter(t, func(cfg *config.Config) {
		cfg.RateLimits.Heartbeat = config.Limit{Max: 1, Window: time.Minute}
	})
	sess := createSession(t, router, "private")

	w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", sess.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	table, err := os.ReadFile(filepath.Join(dataDir, "sessions.json"))
	require.NoError(t, err)

	// Past the limit the request is refused before token validation,
	// so it must not extend expiry or rewrite the session table.
	w = do(t, router, http.MethodPost, "/api/v1/session/heartbeat", sess.Token, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	after, err := os.ReadFile(filepath.Join(dataDir, "sessions.json"))
	require.NoError(t, err)
	assert.Equal(t, string(table), string(after),
		"a rate-limited heartbeat must not touch the session table")
}

func TestHeartbeat_LimitDoesNotThrottleGitOps(t *testing.T) {
	router, _, _ := newTestRouter(t, func(cfg *config.Config) {
		cfg.RateLimits.Heartbeat = config.Limit{Max: 1, Window: time.Minute}
	})
	sess := createSession(t, router, "private")

	w := do(t, router, http.MethodPost, "/api/v1/session/heartbeat", sess.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The heartbeat budget is spent; git operations have their own path.
	w = do(t, router, http.MethodPost, "/api/v1/session/git", sess.Token, dto.GitOpReq{
		Op: "fetch", Repo: "org/b",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestGitOp_GrantedPushForwarded(t *testing.T) {
	router, run, _ := newTestRouter(t, nil)
	run.out = "Everything up-to-date"
	sess := createSession(t, router, "private")

	w := do(t, router, http.MethodPost, "/api/v1/session/git", sess.Token, dto.GitOpReq{
		Op: "push", Repo: "org/b", Args: []string{"HEAD:refs/heads/main"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Everything up-to-date", decode[dto.GitOpResp](t, w).Output)
}

func TestGitOp_UngrantedRepoIs403(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)
	sess := createSession(t, router, "private")

	w := do(t, router, http.MethodPost, "/api/v1/session/git", sess.Token, dto.GitOpReq{
		Op: "push", Repo: "org/a",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")
}

func TestGitOp_RevokedSessionIs401(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)
	sess := createSession(t, router, "private")

	w := do(t, router, http.MethodDelete, "/api/v1/admin/sessions", adminToken,
		dto.DeleteSessionReq{Token: sess.Token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.DeleteSessionResp](t, w).Removed)

	w = do(t, router, http.MethodPost, "/api/v1/session/git", sess.Token, dto.GitOpReq{
		Op: "fetch", Repo: "org/b",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVisibilityQuery(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	w := do(t, router, http.MethodPost, "/api/v1/admin/visibility", adminToken,
		dto.VisibilityQueryReq{Repos: []string{"org/a", "org/b"}})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.VisibilityQueryResp](t, w)
	assert.Equal(t, "public", resp.Visibility["org/a"])
	assert.Equal(t, "private", resp.Visibility["org/b"])
}

func TestAuditList_RecordsDenials(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)
	sess := createSession(t, router, "private")

	do(t, router, http.MethodPost, "/api/v1/session/git", sess.Token, dto.GitOpReq{
		Op: "push", Repo: "org/a",
	})

	w := do(t, router, http.MethodGet, "/api/v1/admin/audit?limit=10", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.AuditListResp](t, w)

	var found bool
	for _, e := range resp.Entries {
		if e.Outcome == string(audit.OutcomeDeniedPolicy) && e.Repo == "org/a" {
			found = true
			assert.NotEmpty(t, e.TokenDigest)
			assert.NotEqual(t, sess.Token, e.TokenDigest)
		}
	}
	assert.True(t, found, "policy denial must land in the audit trail")
}

func TestAuditList_BadLimitIs400(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	w := do(t, router, http.MethodGet, "/api/v1/admin/audit?limit=zero", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
