package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnisense-ai/omnisense-backend/internal/core/session"
	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

type MonitorHandler struct {
	Orch  *session.Orchestrator
	Store *state.Store
	User  string
}

func NewMonitorHandler(orch *session.Orchestrator, store *state.Store, user string) *MonitorHandler {
	return &MonitorHandler{Orch: orch, Store: store, User: user}
}

func (h *MonitorHandler) Start(c *gin.Context) {
	var req types.StartMonitorReq
	// The body is optional; an empty one starts with the current mode.
	_ = c.ShouldBindJSON(&req)
	if req.ModeID != "" && !h.Store.SelectMode(h.User, req.ModeID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mode_not_found"})
		return
	}

	if err := h.Orch.Start(); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "already_running"})
		case errors.Is(err, session.ErrPermission):
			c.JSON(http.StatusForbidden, gin.H{"error": "permission_denied", "detail": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "start_failed", "detail": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, h.Orch.Status())
}

func (h *MonitorHandler) Stop(c *gin.Context) {
	if err := h.Orch.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stop_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Orch.Status())
}

func (h *MonitorHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orch.Status())
}
