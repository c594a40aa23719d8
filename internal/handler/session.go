package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleetsync/internal/automation"
	"fleetsync/internal/service"
)

// SessionHandler exposes the interactive portal login flow: operators
// start a login, read the pending state, and supply the second factor.
type SessionHandler struct {
	Sessions *service.SessionAuthManager
	Logger   *zap.Logger
}

func (h *SessionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/providers/heetch")
	group.GET("/session", h.sessionState)
	group.POST("/auth/start", h.startLogin)
	group.POST("/auth/complete", h.completeLogin)
}

type startLoginRequest struct {
	OrgID string `json:"org_id" binding:"required"`
	Phone string `json:"phone"`
}

type completeLoginRequest struct {
	OrgID    string `json:"org_id" binding:"required"`
	Handle   string `json:"handle"`
	SMSCode  string `json:"sms_code"`
	Password string `json:"password"`
}

func (h *SessionHandler) sessionState(c *gin.Context) {
	if h.Sessions == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	orgID := strings.TrimSpace(c.Query("org_id"))
	if orgID == "" {
		Error(c, http.StatusBadRequest, "org_id is required", nil)
		return
	}
	Ok(c, h.Sessions.State(c.Request.Context(), orgID), nil)
}

func (h *SessionHandler) startLogin(c *gin.Context) {
	if h.Sessions == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req startLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	result, err := h.Sessions.StartLogin(c.Request.Context(), req.OrgID, req.Phone)
	if err != nil {
		h.Logger.Warn("portal login start failed",
			zap.String("org_id", req.OrgID), zap.Error(err))
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

func (h *SessionHandler) completeLogin(c *gin.Context) {
	if h.Sessions == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var req completeLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.SMSCode == "" && req.Password == "" {
		Error(c, http.StatusBadRequest, "sms_code or password is required", nil)
		return
	}
	err := h.Sessions.CompleteLogin(c.Request.Context(), req.OrgID, req.Handle, req.SMSCode, req.Password)
	if err != nil {
		h.Logger.Warn("portal login completion failed",
			zap.String("org_id", req.OrgID), zap.Error(err))
		Error(c, completeStatusCode(err), err.Error(), nil)
		return
	}
	Ok(c, h.Sessions.State(c.Request.Context(), req.OrgID), nil)
}

func completeStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrLoginPending), errors.Is(err, automation.ErrUnknownHandle):
		return http.StatusConflict
	case errors.Is(err, automation.ErrLoginFailed):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}
