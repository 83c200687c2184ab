package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

type ModesHandler struct {
	Store *state.Store
	User  string
}

func NewModesHandler(store *state.Store, user string) *ModesHandler {
	return &ModesHandler{Store: store, User: user}
}

func (h *ModesHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"modes":   h.Store.Modes(h.User),
		"current": h.Store.CurrentMode(h.User).ID,
	})
}

func (h *ModesHandler) Upsert(c *gin.Context) {
	var req types.UpsertModeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name_required"})
		return
	}
	mode := h.Store.UpsertMode(h.User, types.Mode{
		ID:          req.ID,
		Name:        req.Name,
		Guidelines:  req.Guidelines,
		FileContent: req.FileContent,
		FileName:    req.FileName,
	})
	c.JSON(http.StatusOK, mode)
}

func (h *ModesHandler) Select(c *gin.Context) {
	if !h.Store.SelectMode(h.User, c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, h.Store.CurrentMode(h.User))
}
