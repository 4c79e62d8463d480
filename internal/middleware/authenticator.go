package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gitgate/gateway/internal/audit"
	"gitgate/gateway/internal/auth"
	"gitgate/gateway/internal/consts/errs"
	"gitgate/gateway/internal/ratelimit"
	"gitgate/gateway/internal/utils"
)

// CtxSessionKey is where the authenticator stores the validated
// session for downstream handlers.
var CtxSessionKey = "gitgateSession"

const sessionTokenPrefix = "wgs_"

// Authenticator validates the per-session bearer token and its bound
// origin on every session-scoped request.
type Authenticator struct {
	store            auth.Store
	failLimiter      *ratelimit.Limiter // failed lookups per origin (anti-enumeration)
	heartbeatLimiter *ratelimit.Limiter // heartbeats per presented token
	audit            audit.Store
	log              *slog.Logger
}

func NewAuthenticator(store auth.Store, failLimiter, heartbeatLimiter *ratelimit.Limiter,
	auditStore audit.Store, log *slog.Logger) *Authenticator {
	return &Authenticator{
		store:            store,
		failLimiter:      failLimiter,
		heartbeatLimiter: heartbeatLimiter,
		audit:            auditStore,
		log:              log.With("component", "authn"),
	}
}

// Authenticator returns the session middleware. Order per request:
// token presence, validation plus origin binding (which doubles as the
// heartbeat), then the anti-enumeration limiter on failure. A valid
// session is never blocked by other callers' failed lookups.
func (a *Authenticator) Authenticator() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		origin := ctx.ClientIP()

		token := BearerToken(ctx)
		if token == "" || !strings.HasPrefix(token, sessionTokenPrefix) {
			a.deny(ctx, origin, "", audit.OutcomeDeniedAuth,
				http.StatusUnauthorized, "missing or malformed session token")
			return
		}

		session, err := a.store.Validate(ctx, token, origin)
		if err != nil {
			digest := utils.DigestSHA([]byte(token))
			if !a.failLimiter.Allowed(origin) {
				a.deny(ctx, origin, digest, audit.OutcomeRateLimited,
					http.StatusTooManyRequests, "too many failed session lookups")
				return
			}
			a.deny(ctx, origin, digest, audit.OutcomeDeniedAuth,
				http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx.Set(CtxSessionKey, session)
	}
}

// HeartbeatLimit throttles heartbeats per presented token. It runs
// before the authenticator, so a heartbeat flood past the limit buys
// neither an expiry extension nor a session-table rewrite. The key is
// the token's digest: stable per session, computable without touching
// the store.
func (a *Authenticator) HeartbeatLimit() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := BearerToken(ctx)
		if token == "" {
			return // presence is checked by the authenticator next
		}
		digest := utils.DigestSHA([]byte(token))
		if !a.heartbeatLimiter.Allowed(digest) {
			a.deny(ctx, ctx.ClientIP(), digest, audit.OutcomeRateLimited,
				http.StatusTooManyRequests, "too many heartbeats")
		}
	}
}

func (a *Authenticator) deny(ctx *gin.Context, origin, digest string, outcome audit.Outcome, status int, msg string) {
	if err := a.audit.Record(ctx, audit.Entry{
		TokenDigest: digest,
		Origin:      origin,
		Operation:   ctx.Request.Method + " " + ctx.Request.URL.Path,
		Outcome:     outcome,
		Reason:      msg,
		StatusCode:  status,
	}); err != nil {
		a.log.Error("audit record failed", "error", err)
	}

	errType := errs.ErrUnauthorized
	if status == http.StatusTooManyRequests {
		errType = errs.ErrRateLimited
	}
	ctx.AbortWithStatusJSON(status, errs.Raw(errType, msg))
}

// SessionFromCtx returns the session the authenticator attached.
func SessionFromCtx(ctx *gin.Context) (*auth.Session, bool) {
	v, ok := ctx.Get(CtxSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*auth.Session)
	return session, ok
}

// BearerToken extracts the credential from the Authorization header.
func BearerToken(ctx *gin.Context) string {
	header := ctx.Request.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
