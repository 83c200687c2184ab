// Package screen rasterizes the current display on a fixed timer and
// submits each still for one-shot question extraction.
package screen

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

const (
	// DefaultInterval between snapshots. Tunable between 8 and 12 seconds.
	DefaultInterval = 8 * time.Second

	jpegQuality = 55
)

// Grabber rasterizes the current screen contents.
type Grabber interface {
	Grab() (image.Image, error)
}

// Analyzer runs the one-shot screen analysis call.
type Analyzer interface {
	AnalyzeScreen(ctx context.Context, jpegImage []byte, guidelines, knowledge string) (*types.ScreenResult, error)
}

// Sampler drives the snapshot timer. A failed grab or analysis call is
// logged and absorbed; the next tick still fires on schedule.
type Sampler struct {
	grabber  Grabber
	analyzer Analyzer
	mode     func() types.Mode
	emit     func(types.Insight)
	interval time.Duration
	logger   *slog.Logger
}

func New(grabber Grabber, analyzer Analyzer, mode func() types.Mode, emit func(types.Insight), interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		grabber:  grabber,
		analyzer: analyzer,
		mode:     mode,
		emit:     emit,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce captures, analyzes and possibly emits one screen insight.
// Returns true when an insight was emitted.
func (s *Sampler) SampleOnce(ctx context.Context) bool {
	img, err := s.grabber.Grab()
	if err != nil {
		s.logger.Warn("screen grab failed", "error", err)
		return false
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return false
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		s.logger.Warn("snapshot encode failed", "error", err)
		return false
	}

	mode := s.mode()
	res, err := s.analyzer.AnalyzeScreen(ctx, buf.Bytes(), mode.Guidelines, mode.FileContent)
	if err != nil {
		s.logger.Warn("screen analysis failed", "error", err)
		return false
	}
	if res == nil || strings.TrimSpace(res.Question) == "" {
		// Nothing interesting on screen this cycle.
		return false
	}

	s.emit(types.Insight{
		ID:        uuid.NewString(),
		Type:      types.InsightScreen,
		Timestamp: time.Now().UnixMilli(),
		Question:  strings.TrimSpace(res.Question),
		Answer:    strings.TrimSpace(res.Answer),
	})
	return true
}
