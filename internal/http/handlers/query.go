package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omnisense-ai/omnisense-backend/internal/core/session"
	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

// Answerer resolves a typed question against the mode context and recent
// conversation history.
type Answerer interface {
	AnswerQuery(ctx context.Context, question string, history []string, guidelines, knowledge string) (string, error)
}

type QueryHandler struct {
	Answerer Answerer
	Store    *state.Store
	Pub      session.Publisher
	User     string
}

func NewQueryHandler(a Answerer, store *state.Store, pub session.Publisher, user string) *QueryHandler {
	return &QueryHandler{Answerer: a, Store: store, Pub: pub, User: user}
}

func (h *QueryHandler) Ask(c *gin.Context) {
	var req types.QueryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_question"})
		return
	}

	mode := h.Store.CurrentMode(h.User)
	answer, err := h.Answerer.AnswerQuery(c.Request.Context(), question,
		h.Store.History(h.User), mode.Guidelines, mode.FileContent)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "query_failed"})
		return
	}

	ins := types.Insight{
		ID:        uuid.NewString(),
		Type:      types.InsightVoice,
		Timestamp: time.Now().UnixMilli(),
		Question:  question,
		Answer:    answer,
	}
	h.Store.AddInsight(h.User, ins)
	h.Store.AppendHistory(h.User, question, answer)
	if h.Pub != nil {
		h.Pub.PublishInsight(ins)
	}
	c.JSON(http.StatusOK, ins)
}
