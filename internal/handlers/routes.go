package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"gitgate/gateway/internal/consts/errs"
	"gitgate/gateway/internal/middleware"
	"gitgate/gateway/internal/service"
)

type Handler struct {
	service *service.Service
	log     *slog.Logger
}

func NewHandler(srv *service.Service, log *slog.Logger) *Handler {
	return &Handler{
		service: srv,
		log:     log.With("component", "http"),
	}
}

func (h *Handler) RegisterRoutes(adminGrp, sessionGrp *gin.RouterGroup, authn *middleware.Authenticator) {
	// atomic session allocation: filter, provision, register
	adminGrp.POST("/sessions", h.createSession)
	// explicit teardown; expiry handles the rest
	adminGrp.DELETE("/sessions", h.deleteSession)
	// informational repo → visibility map
	adminGrp.POST("/visibility", h.visibilityQuery)
	// recent audit trail
	adminGrp.GET("/audit", h.auditList)

	// Session routes chain their middleware per route: the heartbeat
	// limiter has to run before validation, and validation extends
	// expiry as a side effect.
	sessionGrp.POST("/heartbeat", authn.HeartbeatLimit(), authn.Authenticator(), h.heartbeat)
	sessionGrp.POST("/git", authn.Authenticator(), h.gitOp)
}

func (h *Handler) handleErrf(ctx *gin.Context, errf *errs.Errorf) bool {
	if errf == nil {
		return false
	}

	if errf.Error != nil {
		h.log.Error("request failed",
			"type", string(errf.Type), "path", ctx.Request.URL.Path, "error", errf.Error)
	}
	if errf.ReturnRaw {
		ctx.JSON(errf.Status(), errf)
	} else {
		ctx.JSON(errf.Status(), &errs.Errorf{Type: errf.Type})
	}
	return true
}
