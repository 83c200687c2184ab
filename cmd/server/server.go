package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omnisense-ai/omnisense-backend/internal/config"
	"github.com/omnisense-ai/omnisense-backend/internal/core/audio"
	"github.com/omnisense-ai/omnisense-backend/internal/core/capture"
	"github.com/omnisense-ai/omnisense-backend/internal/core/gemini"
	"github.com/omnisense-ai/omnisense-backend/internal/core/knowledge"
	"github.com/omnisense-ai/omnisense-backend/internal/core/screen"
	"github.com/omnisense-ai/omnisense-backend/internal/core/session"
	h "github.com/omnisense-ai/omnisense-backend/internal/http"
	"github.com/omnisense-ai/omnisense-backend/internal/http/handlers"
	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg.LogFile)
	slog.SetDefault(logger)

	if cfg.APIKey == "" {
		logger.Error("GEMINI_API_KEY is not set")
		os.Exit(1)
	}

	backend, err := state.OpenSQLite(cfg.StatePath)
	if err != nil {
		logger.Error("open state store", "error", err)
		os.Exit(1)
	}
	store := state.New(backend, logger)
	defer store.Close()

	gem, err := gemini.New(cfg.APIKey, cfg.Model)
	if err != nil {
		logger.Error("create gemini client", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	feed := handlers.NewFeedHandler(hub)

	orch := session.New(session.Config{
		User: cfg.User,
		OpenMic: func() (capture.Source, error) {
			return capture.NewMicSource(capture.DefaultBlockSize), nil
		},
		OpenSpeaker: func() (audio.Sink, error) {
			return audio.OpenSpeaker(audio.PlaybackRate)
		},
		Connect: func(instruction string) (session.LiveConn, error) {
			return gemini.ConnectLive(gemini.LiveConfig{
				APIKey:            cfg.APIKey,
				Model:             cfg.LiveModel,
				SystemInstruction: instruction,
				Logger:            logger,
			})
		},
		Grabber:          screen.DisplayGrabber{Display: cfg.Display},
		Analyzer:         gem,
		Store:            store,
		Publisher:        feed,
		SnapshotInterval: cfg.SnapInterval,
		CaptureDumpPath:  cfg.DumpPath,
		Logger:           logger,
	})
	defer orch.Stop()

	router := h.NewRouter(cfg, h.Deps{
		Orch:     orch,
		Store:    store,
		Answerer: gem,
		Feed:     feed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.KnowledgeDir != "" {
		// Load the user's record so document refreshes reach its modes
		// before the first request arrives.
		store.CurrentMode(cfg.User)
		watcher, err := knowledge.NewWatcher(cfg.KnowledgeDir, store, logger)
		if err != nil {
			logger.Error("start knowledge watcher", "error", err)
			os.Exit(1)
		}
		g.Go(func() error { return watcher.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(logFile string) *slog.Logger {
	if logFile == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}, nil))
}
