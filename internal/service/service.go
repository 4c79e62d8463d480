package service

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gitgate/gateway/internal/audit"
	"gitgate/gateway/internal/auth"
	"gitgate/gateway/internal/config"
	"gitgate/gateway/internal/consts/errs"
	"gitgate/gateway/internal/dto"
	"gitgate/gateway/internal/engine"
	"gitgate/gateway/internal/middleware"
	"gitgate/gateway/internal/policy"
	"gitgate/gateway/internal/ratelimit"
	"gitgate/gateway/internal/visibility"
	"gitgate/gateway/internal/worktree"
)

// Service orchestrates the gateway pipeline: rate limit, identity,
// policy, provisioning, forwarding and auditing.
type Service struct {
	cfg    *config.Config
	store  auth.Store
	prov   *worktree.Provisioner
	oracle visibility.Oracle
	engine *engine.Engine
	policy *policy.Engine
	audit  audit.Store
	log    *slog.Logger

	createLimiter *ratelimit.Limiter // creation attempts per origin
}

func NewService(cfg *config.Config, store auth.Store, prov *worktree.Provisioner,
	oracle visibility.Oracle, eng *engine.Engine, pol *policy.Engine,
	auditStore audit.Store, log *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		prov:   prov,
		oracle: oracle,
		engine: eng,
		policy: pol,
		audit:  auditStore,
		log:    log.With("component", "service"),

		createLimiter: ratelimit.New(cfg.RateLimits.Create.Max, cfg.RateLimits.Create.Window),
	}
}

// >>>

func (s *Service) record(ctx *gin.Context, e audit.Entry) {
	if e.Origin == "" {
		e.Origin = ctx.ClientIP()
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.log.Error("audit record failed", "error", err)
	}
}

// badForm records the rejection and returns the matching error, so a
// malformed request still leaves exactly one audit record.
func (s *Service) badForm(ctx *gin.Context, entry audit.Entry, msg string) *errs.Errorf {
	entry.Outcome = audit.OutcomeError
	entry.Reason = msg
	entry.StatusCode = http.StatusBadRequest
	s.record(ctx, entry)
	return errs.Raw(errs.ErrBadForm, msg)
}

// >>>

// CreateSession is the linchpin operation: filtering, worktree
// provisioning and session registration happen as one logical
// transaction. Admin middleware has already authenticated the caller.
func (s *Service) CreateSession(ctx *gin.Context, req *dto.CreateSessionReq) (*dto.CreateSessionResp, *errs.Errorf) {
	if !s.createLimiter.Allowed(ctx.ClientIP()) {
		s.record(ctx, audit.Entry{
			Operation:  "create-session",
			Outcome:    audit.OutcomeRateLimited,
			Reason:     "too many session creations",
			StatusCode: http.StatusTooManyRequests,
		})
		return nil, errs.Raw(errs.ErrRateLimited, "too many session creations")
	}

	mode := policy.Mode(req.Mode)
	if !mode.Valid() {
		return nil, s.badForm(ctx, audit.Entry{Operation: "create-session"},
			fmt.Sprintf("unrecognized mode %q", req.Mode))
	}
	if req.Owner == "" || req.Origin == "" {
		return nil, s.badForm(ctx, audit.Entry{Operation: "create-session", Mode: string(mode)},
			"owner and origin are required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, err)
	}
	sessionID := id.String()

	grants, err := s.prov.ProvisionAtomic(ctx, sessionID, mode, req.Repos)
	if err != nil {
		s.record(ctx, audit.Entry{
			Operation:  "create-session",
			Mode:       string(mode),
			Outcome:    audit.OutcomeError,
			Reason:     "provisioning failed",
			StatusCode: http.StatusInternalServerError,
		})
		return nil, &errs.Errorf{Type: errs.ErrProvisioning, Message: "provisioning failed", Error: err}
	}

	session, token, err := s.store.Create(ctx, auth.CreateParams{
		ID:     sessionID,
		Owner:  req.Owner,
		Origin: req.Origin,
		Mode:   mode,
		TTL:    s.cfg.SessionTTL,
		Grants: grants,
	})
	if err != nil {
		// Registration failed after provisioning: tear the worktrees
		// back down so no half-created session survives.
		if rerr := s.prov.Reclaim(ctx, sessionID); rerr != nil {
			s.log.Error("rollback reclaim failed", "session", sessionID, "error", rerr)
		}
		s.record(ctx, audit.Entry{
			Operation:  "create-session",
			Mode:       string(mode),
			Outcome:    audit.OutcomeError,
			Reason:     "session registration failed",
			StatusCode: http.StatusInternalServerError,
		})
		return nil, &errs.Errorf{Type: errs.ErrProvisioning, Message: "session registration failed", Error: err}
	}

	s.record(ctx, audit.Entry{
		TokenDigest: session.TokenDigest,
		Operation:   "create-session",
		Mode:        string(mode),
		Outcome:     audit.OutcomeForwarded,
		Reason:      fmt.Sprintf("granted %d of %d candidates", len(grants), len(req.Repos)),
		StatusCode:  http.StatusOK,
	})

	resp := &dto.CreateSessionResp{
		SessionID: session.ID,
		Token:     token,
		Mode:      string(session.Mode),
		ExpiresAt: session.ExpiresAt,
	}
	for _, g := range grants {
		resp.Repos = append(resp.Repos, dto.RepoGrant{
			Repo:       g.Repo,
			Path:       g.Path,
			Visibility: string(g.Visibility),
		})
	}
	return resp, nil
}

func (s *Service) DeleteSession(ctx *gin.Context, req *dto.DeleteSessionReq) (*dto.DeleteSessionResp, *errs.Errorf) {
	if req.Token == "" {
		return nil, s.badForm(ctx, audit.Entry{Operation: "delete-session"}, "token is required")
	}

	removed, err := s.store.Revoke(ctx, req.Token)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, err)
	}

	s.record(ctx, audit.Entry{
		Operation:  "delete-session",
		Outcome:    audit.OutcomeForwarded,
		Reason:     fmt.Sprintf("removed=%t", removed),
		StatusCode: http.StatusOK,
	})
	return &dto.DeleteSessionResp{Removed: removed}, nil
}

// >>>

// Heartbeat relies on the middleware chain having already done the
// work: the per-token limiter ran before validation, and validation
// extended expiry as a side effect.
func (s *Service) Heartbeat(ctx *gin.Context) (*dto.HeartbeatResp, *errs.Errorf) {
	session, ok := middleware.SessionFromCtx(ctx)
	if !ok {
		return nil, errs.Raw(errs.ErrUnauthorized, "no session")
	}

	s.record(ctx, audit.Entry{
		TokenDigest: session.TokenDigest,
		Operation:   "heartbeat",
		Mode:        string(session.Mode),
		Outcome:     audit.OutcomeForwarded,
		StatusCode:  http.StatusOK,
	})
	return &dto.HeartbeatResp{
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// >>>

// GitOp runs the full authorization pipeline for one version-control
// operation and forwards it to the engine only if every step passes.
func (s *Service) GitOp(ctx *gin.Context, req *dto.GitOpReq) (*dto.GitOpResp, *errs.Errorf) {
	session, ok := middleware.SessionFromCtx(ctx)
	if !ok {
		return nil, errs.Raw(errs.ErrUnauthorized, "no session")
	}

	op := policy.Operation(req.Op)
	if !op.Known() {
		return nil, s.badForm(ctx, audit.Entry{
			TokenDigest: session.TokenDigest,
			Mode:        string(session.Mode),
			Operation:   req.Op,
		}, fmt.Sprintf("unknown operation %q", req.Op))
	}

	entry := audit.Entry{
		TokenDigest: session.TokenDigest,
		Operation:   string(op),
	}

	// Resolution is explicit: an unresolved target or mode is a deny,
	// never a silent default.
	repo, ok := s.policy.ResolveRepo(req.Repo, req.Payload)
	if !ok {
		return nil, s.denyPolicy(ctx, entry, "target repository could not be resolved")
	}
	entry.Repo = repo

	mode, ok := s.policy.ResolveMode(session.Mode)
	if !ok {
		return nil, s.denyPolicy(ctx, entry, "no determinable session mode")
	}
	entry.Mode = string(mode)

	grant, ok := findGrant(session, repo)
	if !ok {
		return nil, s.denyPolicy(ctx, entry, fmt.Sprintf("session holds no grant for %s", repo))
	}

	// Visibility is re-read from the source of truth on every request;
	// a repository reclassified after provisioning is caught here.
	vis, err := s.oracle.Lookup(ctx, repo)
	if err != nil {
		return nil, s.denyPolicy(ctx, entry, "repository visibility could not be determined")
	}

	decision := s.policy.Decide(op, vis, mode, op.IsWrite())
	if !decision.Allowed {
		return nil, s.denyPolicy(ctx, entry, decision.Reason)
	}

	out, err := s.engine.Run(ctx, grant.Path, op, req.Args)
	if err != nil {
		entry.Outcome = audit.OutcomeDownstream
		entry.Reason = err.Error()
		entry.StatusCode = http.StatusBadGateway
		s.record(ctx, entry)
		return nil, &errs.Errorf{Type: errs.ErrDownstream, Message: "engine failure", ReturnRaw: true, Error: err}
	}

	entry.Outcome = audit.OutcomeForwarded
	entry.StatusCode = http.StatusOK
	s.record(ctx, entry)
	return &dto.GitOpResp{Output: out}, nil
}

func (s *Service) denyPolicy(ctx *gin.Context, entry audit.Entry, reason string) *errs.Errorf {
	entry.Outcome = audit.OutcomeDeniedPolicy
	entry.Reason = reason
	entry.StatusCode = http.StatusForbidden
	s.record(ctx, entry)
	return errs.Raw(errs.ErrForbidden, reason)
}

func findGrant(session *auth.Session, repo string) (worktree.Grant, bool) {
	for _, g := range session.Grants {
		if g.Repo == repo {
			return g, true
		}
	}
	return worktree.Grant{}, false
}

// >>>

func (s *Service) VisibilityQuery(ctx *gin.Context, req *dto.VisibilityQueryReq) (*dto.VisibilityQueryResp, *errs.Errorf) {
	if len(req.Repos) == 0 {
		return nil, s.badForm(ctx, audit.Entry{Operation: "visibility-query"}, "repos is required")
	}

	vis, err := visibility.LookupAll(ctx, s.oracle, req.Repos)
	if err != nil {
		s.record(ctx, audit.Entry{
			Operation:  "visibility-query",
			Outcome:    audit.OutcomeDownstream,
			Reason:     err.Error(),
			StatusCode: http.StatusBadGateway,
		})
		return nil, &errs.Errorf{Type: errs.ErrDownstream, Message: "visibility lookup failed", ReturnRaw: true, Error: err}
	}

	resp := &dto.VisibilityQueryResp{Visibility: make(map[string]string, len(vis))}
	for repo, v := range vis {
		resp.Visibility[repo] = string(v)
	}
	s.record(ctx, audit.Entry{
		Operation:  "visibility-query",
		Outcome:    audit.OutcomeForwarded,
		StatusCode: http.StatusOK,
	})
	return resp, nil
}

func (s *Service) AuditList(ctx *gin.Context, limit int) (*dto.AuditListResp, *errs.Errorf) {
	entries, err := s.audit.List(ctx, limit)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, err)
	}

	resp := &dto.AuditListResp{}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, dto.AuditItem{
			ID:          e.ID,
			Timestamp:   e.Timestamp,
			TokenDigest: e.TokenDigest,
			Origin:      e.Origin,
			Operation:   e.Operation,
			Repo:        e.Repo,
			Mode:        e.Mode,
			Outcome:     string(e.Outcome),
			Reason:      e.Reason,
			StatusCode:  e.StatusCode,
		})
	}
	return resp, nil
}
