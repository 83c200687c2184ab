// Package state persists per-user application state: the bounded insight
// history, the named modes and the last-selected mode. Reads hit an
// in-memory cache loaded on first use; mutations schedule a debounced write
// through the injected backend.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

const (
	// MaxInsights caps the history; the oldest entry is evicted on overflow.
	MaxInsights = 50

	maxHistory      = 10
	defaultDebounce = 500 * time.Millisecond
)

// Record is one user's durable state.
type Record struct {
	Insights   []types.Insight `json:"insights"`
	Modes      []types.Mode    `json:"modes"`
	LastModeID string          `json:"last_mode_id"`
	History    []string        `json:"history"`
}

// clone copies the record with fresh backing arrays, so a snapshot taken
// for a save never aliases state still being mutated under the store lock.
func (r *Record) clone() *Record {
	return &Record{
		Insights:   append([]types.Insight(nil), r.Insights...),
		Modes:      append([]types.Mode(nil), r.Modes...),
		LastModeID: r.LastModeID,
		History:    append([]string(nil), r.History...),
	}
}

// Backend is a durable key-value store for Records.
type Backend interface {
	Load(user string) (*Record, error) // nil, nil when absent
	Save(user string, rec *Record) error
	Close() error
}

// Store is the in-process view over a Backend. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	cache    map[string]*Record
	dirty    map[string]bool
	timers   map[string]*time.Timer
	debounce time.Duration
	logger   *slog.Logger
}

func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		cache:    map[string]*Record{},
		dirty:    map[string]bool{},
		timers:   map[string]*time.Timer{},
		debounce: defaultDebounce,
		logger:   logger,
	}
}

// record returns the cached record for user, loading or seeding it.
// Callers must hold s.mu.
func (s *Store) record(user string) *Record {
	if rec, ok := s.cache[user]; ok {
		return rec
	}
	rec, err := s.backend.Load(user)
	if err != nil {
		s.logger.Error("load user state failed, starting fresh", "user", user, "error", err)
	}
	if rec == nil {
		rec = defaultRecord()
	}
	s.cache[user] = rec
	return rec
}

func defaultRecord() *Record {
	mode := types.Mode{
		ID:          uuid.NewString(),
		Name:        "Technical Interview",
		Guidelines:  "Act as a professional assistant. Respond strictly in English. Extract keywords from speech and screen. Be extremely fast. For technical questions, provide concise, high-impact bullet points. Follow the provided reference context strictly.",
		FileContent: "General Technical Core: Saga, Microservices, Spring Boot, Java 21, Microservices Modernization.",
	}
	return &Record{
		Modes:      []types.Mode{mode},
		LastModeID: mode.ID,
	}
}

// markDirty schedules a debounced save. Callers must hold s.mu.
func (s *Store) markDirty(user string) {
	s.dirty[user] = true
	if t, ok := s.timers[user]; ok {
		t.Reset(s.debounce)
		return
	}
	s.timers[user] = time.AfterFunc(s.debounce, func() { s.flushUser(user) })
}

func (s *Store) flushUser(user string) {
	s.mu.Lock()
	if !s.dirty[user] {
		s.mu.Unlock()
		return
	}
	s.dirty[user] = false
	rec := s.cache[user].clone()
	s.mu.Unlock()

	if err := s.backend.Save(user, rec); err != nil {
		s.logger.Error("save user state failed", "user", user, "error", err)
	}
}

// Flush writes all pending state immediately.
func (s *Store) Flush() {
	s.mu.Lock()
	users := make([]string, 0, len(s.dirty))
	for u, d := range s.dirty {
		if d {
			users = append(users, u)
		}
	}
	s.mu.Unlock()
	for _, u := range users {
		s.flushUser(u)
	}
}

// Close flushes and releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()
	s.Flush()
	return s.backend.Close()
}

// AddInsight prepends ins to the user's history, evicting the oldest entry
// past MaxInsights.
func (s *Store) AddInsight(user string, ins types.Insight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	rec.Insights = append([]types.Insight{ins}, rec.Insights...)
	if len(rec.Insights) > MaxInsights {
		rec.Insights = rec.Insights[:MaxInsights]
	}
	s.markDirty(user)
}

// Insights returns a copy of the user's history, most recent first.
func (s *Store) Insights(user string) []types.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	out := make([]types.Insight, len(rec.Insights))
	copy(out, rec.Insights)
	return out
}

// SetFeedback tags an insight. Reports whether the id existed.
func (s *Store) SetFeedback(user, id string, fb types.Feedback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	for i := range rec.Insights {
		if rec.Insights[i].ID == id {
			rec.Insights[i].Feedback = fb
			s.markDirty(user)
			return true
		}
	}
	return false
}

// Dismiss removes an insight by id. Reports whether the id existed.
func (s *Store) Dismiss(user, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	for i := range rec.Insights {
		if rec.Insights[i].ID == id {
			rec.Insights = append(rec.Insights[:i], rec.Insights[i+1:]...)
			s.markDirty(user)
			return true
		}
	}
	return false
}

// Modes returns a copy of the user's mode list.
func (s *Store) Modes(user string) []types.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	out := make([]types.Mode, len(rec.Modes))
	copy(out, rec.Modes)
	return out
}

// UpsertMode inserts or replaces a mode and returns it. A missing id gets
// one assigned.
func (s *Store) UpsertMode(user string, mode types.Mode) types.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	if mode.ID == "" {
		mode.ID = uuid.NewString()
	}
	for i := range rec.Modes {
		if rec.Modes[i].ID == mode.ID {
			rec.Modes[i] = mode
			s.markDirty(user)
			return mode
		}
	}
	rec.Modes = append(rec.Modes, mode)
	s.markDirty(user)
	return mode
}

// SelectMode records the last-selected mode. Reports whether the id exists.
func (s *Store) SelectMode(user, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	for _, m := range rec.Modes {
		if m.ID == id {
			rec.LastModeID = id
			s.markDirty(user)
			return true
		}
	}
	return false
}

// CurrentMode returns the last-selected mode, falling back to the first.
func (s *Store) CurrentMode(user string) types.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	for _, m := range rec.Modes {
		if m.ID == rec.LastModeID {
			return m
		}
	}
	if len(rec.Modes) > 0 {
		return rec.Modes[0]
	}
	return types.Mode{}
}

// AppendHistory records one typed exchange, keeping the last few entries.
func (s *Store) AppendHistory(user, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	rec.History = append(rec.History, "User: "+question, "Assistant: "+answer)
	if len(rec.History) > maxHistory {
		rec.History = rec.History[len(rec.History)-maxHistory:]
	}
	s.markDirty(user)
}

// History returns a copy of the conversation snippets.
func (s *Store) History(user string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(user)
	out := make([]string, len(rec.History))
	copy(out, rec.History)
	return out
}

// RefreshDocument replaces the attached document text on every cached
// user's modes that reference fileName. Returns the number of modes
// updated. Driven by the knowledge directory watcher. Only users whose
// records are already cached are touched; callers that need refreshes for
// a user must read that user's state once first (the server warms its
// configured user at startup).
func (s *Store) RefreshDocument(fileName, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for user, rec := range s.cache {
		changed := false
		for i := range rec.Modes {
			if rec.Modes[i].FileName == fileName {
				rec.Modes[i].FileContent = content
				changed = true
				updated++
			}
		}
		if changed {
			s.markDirty(user)
		}
	}
	return updated
}
