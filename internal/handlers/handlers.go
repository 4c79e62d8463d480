package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gitgate/gateway/internal/consts/errs"
	"gitgate/gateway/internal/dto"
)

func (h *Handler) createSession(ctx *gin.Context) {
	req := new(dto.CreateSessionReq)
	if err := ctx.Bind(req); err != nil {
		return
	}

	resp, errf := h.service.CreateSession(ctx, req)
	if h.handleErrf(ctx, errf) {
		return
	}

	ctx.JSON(http.StatusCreated, resp)
}

func (h *Handler) deleteSession(ctx *gin.Context) {
	req := new(dto.DeleteSessionReq)
	if err := ctx.Bind(req); err != nil {
		return
	}

	resp, errf := h.service.DeleteSession(ctx, req)
	if h.handleErrf(ctx, errf) {
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

func (h *Handler) visibilityQuery(ctx *gin.Context) {
	req := new(dto.VisibilityQueryReq)
	if err := ctx.Bind(req); err != nil {
		return
	}

	resp, errf := h.service.VisibilityQuery(ctx, req)
	if h.handleErrf(ctx, errf) {
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

func (h *Handler) auditList(ctx *gin.Context) {
	limit := 100
	if q := ctx.Query("limit"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			h.handleErrf(ctx, errs.Raw(errs.ErrBadForm, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	resp, errf := h.service.AuditList(ctx, limit)
	if h.handleErrf(ctx, errf) {
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

func (h *Handler) heartbeat(ctx *gin.Context) {
	resp, errf := h.service.Heartbeat(ctx)
	if h.handleErrf(ctx, errf) {
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

func (h *Handler) gitOp(ctx *gin.Context) {
	req := new(dto.GitOpReq)
	if err := ctx.Bind(req); err != nil {
		return
	}

	resp, errf := h.service.GitOp(ctx, req)
	if h.handleErrf(ctx, errf) {
		return
	}

	ctx.JSON(http.StatusOK, resp)
}
