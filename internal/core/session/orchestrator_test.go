package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/omnisense-ai/omnisense-backend/internal/core/audio"
	"github.com/omnisense-ai/omnisense-backend/internal/core/capture"
	"github.com/omnisense-ai/omnisense-backend/internal/core/gemini"
	"github.com/omnisense-ai/omnisense-backend/internal/core/screen"
	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

type fakeMic struct {
	mu      sync.Mutex
	deliver func([]float32)
	open    bool
	err     error
}

func (f *fakeMic) Start(deliver func([]float32)) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliver = deliver
	f.open = true
	return nil
}

func (f *fakeMic) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeMic) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type fakeSpeaker struct {
	mu     sync.Mutex
	open   bool
	played int
}

func (f *fakeSpeaker) Now() float64 { return 0 }

func (f *fakeSpeaker) Play(buf *audio.PCMBuffer, at float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played++
	return nil
}

func (f *fakeSpeaker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeSpeaker) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type fakeLive struct {
	mu     sync.Mutex
	events chan gemini.Event
	open   bool
	frames []audio.EncodedFrame
}

func newFakeLive() *fakeLive {
	return &fakeLive{events: make(chan gemini.Event, 16), open: true}
}

func (f *fakeLive) SendFrame(frame audio.EncodedFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return gemini.ErrSessionClosed
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeLive) Events() <-chan gemini.Event { return f.events }

func (f *fakeLive) Err() error { return nil }

func (f *fakeLive) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.open = false
		close(f.events)
	}
	return nil
}

func (f *fakeLive) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type fakeGrabber struct{ err error }

func (f *fakeGrabber) Grab() (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 32, 32)), nil
}

type nullAnalyzer struct{}

func (nullAnalyzer) AnalyzeScreen(context.Context, []byte, string, string) (*types.ScreenResult, error) {
	return &types.ScreenResult{}, nil
}

var _ screen.Analyzer = nullAnalyzer{}

type recordingPublisher struct {
	mu       sync.Mutex
	insights []types.Insight
	statuses []string
}

func (p *recordingPublisher) PublishInsight(ins types.Insight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insights = append(p.insights, ins)
}

func (p *recordingPublisher) PublishStatus(state, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, state)
}

func (p *recordingPublisher) insightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.insights)
}

type harness struct {
	orch    *Orchestrator
	mic     *fakeMic
	speaker *fakeSpeaker
	live    *fakeLive
	grabber *fakeGrabber
	store   *state.Store
	pub     *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mic:     &fakeMic{},
		speaker: &fakeSpeaker{open: true},
		live:    newFakeLive(),
		grabber: &fakeGrabber{},
		store:   state.New(state.NewMemoryBackend(), slog.New(slog.DiscardHandler)),
		pub:     &recordingPublisher{},
	}
	t.Cleanup(func() { h.store.Close() })
	h.orch = New(Config{
		User:             "u",
		OpenMic:          func() (capture.Source, error) { return h.mic, nil },
		OpenSpeaker:      func() (audio.Sink, error) { return h.speaker, nil },
		Connect:          func(string) (LiveConn, error) { return h.live, nil },
		Grabber:          h.grabber,
		Analyzer:         nullAnalyzer{},
		Store:            h.store,
		Publisher:        h.pub,
		SnapshotInterval: time.Hour, // keep the sampler out of these tests
		Logger:           slog.New(slog.DiscardHandler),
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.orch.Start(); err != nil {
		t.Fatal(err)
	}
	if got := h.orch.Status().State; got != "open" {
		t.Fatalf("state = %q, want open", got)
	}
	if err := h.orch.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start = %v, want ErrAlreadyRunning", err)
	}
	if !h.mic.isOpen() {
		t.Fatal("microphone not held while open")
	}

	if err := h.orch.Stop(); err != nil {
		t.Fatal(err)
	}
	if h.mic.isOpen() || h.speaker.isOpen() || h.live.isOpen() {
		t.Fatal("teardown left a handle open")
	}
	if got := h.orch.Status().State; got != "closed" {
		t.Fatalf("state = %q, want closed", got)
	}

	// Stop again: no-op, no panic, still no handles.
	if err := h.orch.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.orch.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := h.orch.Status().State; got != "idle" {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestMicDenialClassifiedAsPermission(t *testing.T) {
	t.Parallel()

	// The device is not held until the source starts, so denial surfaces
	// from the pipeline start, after the speaker and live session exist.
	h := newHarness(t)
	h.mic.err = errors.New("device busy")
	err := h.orch.Start()
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
	if got := h.orch.Status().State; got != "error" {
		t.Fatalf("state = %q, want error", got)
	}
	if h.orch.Status().LastError == "" {
		t.Fatal("permission failure left no user-facing message")
	}
	if h.speaker.isOpen() || h.live.isOpen() {
		t.Fatal("microphone denial leaked the speaker or live session")
	}
	// A later start succeeds once the device frees up.
	h.mic.err = nil
	if err := h.orch.Start(); err != nil {
		t.Fatal(err)
	}
	h.orch.Stop()
}

func TestDisplayDenial(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.grabber.err = screen.ErrNoDisplay
	if err := h.orch.Start(); !errors.Is(err, ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
	if h.mic.isOpen() {
		t.Fatal("microphone acquired despite display denial")
	}
}

func TestConnectFailureReleasesDevices(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.orch.cfg.Connect = func(string) (LiveConn, error) {
		return nil, errors.New("dial refused")
	}
	h.speaker.open = true
	if err := h.orch.Start(); err == nil {
		t.Fatal("expected connect failure")
	}
	if h.mic.isOpen() || h.speaker.isOpen() {
		t.Fatal("transport failure leaked a device handle")
	}
}

func TestEventRoutingToInsight(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.orch.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop()

	h.live.events <- gemini.Event{UserText: "Hello"}
	h.live.events <- gemini.Event{UserText: " world"}
	h.live.events <- gemini.Event{ModelText: "Hi"}
	h.live.events <- gemini.Event{ModelText: " there"}
	h.live.events <- gemini.Event{TurnComplete: true}

	waitFor(t, "voice insight", func() bool { return h.pub.insightCount() == 1 })

	got := h.store.Insights("u")
	if len(got) != 1 {
		t.Fatalf("stored insights = %d, want 1", len(got))
	}
	if got[0].Question != "Hello world" || got[0].Answer != "Hi there" {
		t.Fatalf("insight = %+v", got[0])
	}
	if got[0].Type != types.InsightVoice {
		t.Fatalf("type = %q", got[0].Type)
	}
}

func TestModelAudioScheduled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.orch.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop()

	frame := audio.EncodePCM(make([]float32, 240))
	h.live.events <- gemini.Event{Audio: []string{frame.Data, "!!!not-base64!!!", frame.Data}}

	// Both valid frames play; the malformed one is skipped, not fatal.
	waitFor(t, "scheduled playback", func() bool {
		h.speaker.mu.Lock()
		defer h.speaker.mu.Unlock()
		return h.speaker.played == 2
	})
}

func TestCaptureFramesReachLiveSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.orch.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop()

	h.mic.deliver(make([]float32, capture.DefaultBlockSize))
	h.live.mu.Lock()
	n := len(h.live.frames)
	mime := ""
	if n > 0 {
		mime = h.live.frames[0].MIMEType
	}
	h.live.mu.Unlock()
	if n != 1 || mime != "audio/pcm;rate=16000" {
		t.Fatalf("live session saw %d frames (mime %q)", n, mime)
	}
}

func TestRemoteCloseStopsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.orch.Start(); err != nil {
		t.Fatal(err)
	}

	// The remote end hangs up; the orchestrator must tear down rather than
	// leave a half-open session.
	h.live.Close()
	waitFor(t, "auto stop", func() bool { return h.orch.Status().State == "closed" })
	if h.mic.isOpen() || h.speaker.isOpen() {
		t.Fatal("auto-stop left device handles open")
	}
}
