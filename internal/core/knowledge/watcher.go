// Package knowledge watches a directory of plain-text grounding documents
// and refreshes the modes that reference them when a file changes.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
)

// Watcher reloads .txt documents into the state store. Other extensions
// are ignored; document format conversion is out of scope.
type Watcher struct {
	dir     string
	store   *state.Store
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

func NewWatcher(dir string, store *state.Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("knowledge: create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("knowledge: watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, store: store, watcher: w, logger: logger}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.logger.Info("watching knowledge directory", "path", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if err := w.handleEvent(event); err != nil {
				w.logger.Error("failed to handle knowledge event",
					"error", err,
					"event", event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("knowledge watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) error {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return nil
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".txt") {
		return nil
	}

	content, err := os.ReadFile(event.Name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if n := w.store.RefreshDocument(name, string(content)); n > 0 {
		w.logger.Info("refreshed knowledge document", "file", name, "modes", n)
	}
	return nil
}
