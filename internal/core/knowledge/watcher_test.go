package knowledge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

func TestWatcherRefreshesDocument(t *testing.T) {
	dir := t.TempDir()
	store := state.New(state.NewMemoryBackend(), slog.New(slog.DiscardHandler))
	defer store.Close()
	store.UpsertMode("u", types.Mode{Name: "A", FileName: "notes.txt", FileContent: "stale"})

	w, err := NewWatcher(dir, store, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("fresh"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		refreshed := false
		for _, m := range store.Modes("u") {
			if m.Name == "A" && m.FileContent == "fresh" {
				refreshed = true
			}
		}
		if refreshed {
			cancel()
			<-done
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("document change never propagated to the mode")
}

func TestWatcherIgnoresNonText(t *testing.T) {
	dir := t.TempDir()
	store := state.New(state.NewMemoryBackend(), slog.New(slog.DiscardHandler))
	defer store.Close()
	store.UpsertMode("u", types.Mode{Name: "A", FileName: "notes.docx", FileContent: "keep"})

	w, err := NewWatcher(dir, store, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, "notes.docx"), []byte("binary-ish"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	for _, m := range store.Modes("u") {
		if m.Name == "A" && m.FileContent != "keep" {
			t.Fatal("non-text document was ingested")
		}
	}
}
