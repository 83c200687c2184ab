package http

import (
	"github.com/gin-gonic/gin"

	"github.com/omnisense-ai/omnisense-backend/internal/config"
	"github.com/omnisense-ai/omnisense-backend/internal/core/session"
	"github.com/omnisense-ai/omnisense-backend/internal/http/handlers"
	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
)

// Deps carries the long-lived components the router exposes.
type Deps struct {
	Orch     *session.Orchestrator
	Store    *state.Store
	Answerer handlers.Answerer
	Feed     *handlers.FeedHandler
}

func NewRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.Default()

	mh := handlers.NewMonitorHandler(d.Orch, d.Store, cfg.User)
	ih := handlers.NewInsightsHandler(d.Store, cfg.User)
	moh := handlers.NewModesHandler(d.Store, cfg.User)
	qh := handlers.NewQueryHandler(d.Answerer, d.Store, d.Feed, cfg.User)

	api := r.Group("/v1")
	api.POST("/monitor/start", mh.Start)
	api.POST("/monitor/stop", mh.Stop)
	api.GET("/monitor/status", mh.Status)
	api.GET("/insights", ih.List)
	api.POST("/insights/:id/feedback", ih.Feedback)
	api.DELETE("/insights/:id", ih.Dismiss)
	api.GET("/modes", moh.List)
	api.POST("/modes", moh.Upsert)
	api.POST("/modes/:id/select", moh.Select)
	api.POST("/query", qh.Ask)
	r.GET("/v1/feed", d.Feed.WS)
	return r
}
