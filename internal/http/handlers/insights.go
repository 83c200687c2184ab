package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

type InsightsHandler struct {
	Store *state.Store
	User  string
}

func NewInsightsHandler(store *state.Store, user string) *InsightsHandler {
	return &InsightsHandler{Store: store, User: user}
}

func (h *InsightsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"insights": h.Store.Insights(h.User)})
}

func (h *InsightsHandler) Feedback(c *gin.Context) {
	var req types.FeedbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	if req.Feedback != types.FeedbackPositive && req.Feedback != types.FeedbackNegative {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_feedback"})
		return
	}
	if !h.Store.SetFeedback(h.User, c.Param("id"), req.Feedback) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *InsightsHandler) Dismiss(c *gin.Context) {
	if !h.Store.Dismiss(h.User, c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}
