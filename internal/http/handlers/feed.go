package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/omnisense-ai/omnisense-backend/pkg/types"
	"github.com/omnisense-ai/omnisense-backend/pkg/ws"
)

// FeedHandler serves the HUD event feed and doubles as the orchestrator's
// publisher: every insight and status change is pushed to all connected
// clients.
type FeedHandler struct {
	Hub      *ws.Hub
	Upgrader websocket.Upgrader
}

func NewFeedHandler(h *ws.Hub) *FeedHandler {
	return &FeedHandler{
		Hub: h,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *FeedHandler) PublishInsight(ins types.Insight) {
	h.Hub.Broadcast(gin.H{
		"type":    "insight",
		"ts":      time.Now().UnixMilli(),
		"insight": ins,
	})
}

func (h *FeedHandler) PublishStatus(state, detail string) {
	h.Hub.Broadcast(gin.H{
		"type":   "status",
		"ts":     time.Now().UnixMilli(),
		"state":  state,
		"detail": detail,
	})
}

func (h *FeedHandler) WS(c *gin.Context) {
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	id := uuid.NewString()
	h.Hub.Add(id, conn)
	defer func() {
		h.Hub.Remove(id)
		conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	_ = h.Hub.Send(id, gin.H{
		"type": "hello",
		"ts":   time.Now().UnixMilli(),
	})

	// Clients only listen; the read loop exists to notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}
