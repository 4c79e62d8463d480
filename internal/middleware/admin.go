package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gitgate/gateway/internal/audit"
	"gitgate/gateway/internal/consts/errs"
	"gitgate/gateway/internal/utils"
)

// Admin guards the administrative surface. The admin credential is a
// separate secret class from session tokens: a session token is
// rejected here before it is ever compared, so the two can never be
// interchanged.
type Admin struct {
	adminToken string
	audit      audit.Store
	log        *slog.Logger
}

func NewAdmin(adminToken string, auditStore audit.Store, log *slog.Logger) *Admin {
	return &Admin{
		adminToken: adminToken,
		audit:      auditStore,
		log:        log.With("component", "authn-admin"),
	}
}

func (a *Admin) Authenticator() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := BearerToken(ctx)
		if token == "" || strings.HasPrefix(token, sessionTokenPrefix) ||
			!utils.ConstantTimeEquals(token, a.adminToken) {
			a.deny(ctx)
			return
		}
	}
}

func (a *Admin) deny(ctx *gin.Context) {
	if err := a.audit.Record(ctx, audit.Entry{
		Origin:     ctx.ClientIP(),
		Operation:  ctx.Request.Method + " " + ctx.Request.URL.Path,
		Outcome:    audit.OutcomeDeniedAuth,
		Reason:     "bad admin credential",
		StatusCode: http.StatusUnauthorized,
	}); err != nil {
		a.log.Error("audit record failed", "error", err)
	}
	ctx.AbortWithStatusJSON(http.StatusUnauthorized,
		errs.Raw(errs.ErrUnauthorized, "bad admin credential"))
}
