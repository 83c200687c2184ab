// Package session owns the monitoring lifecycle: device acquisition, the
// live audio session, and the routing of inbound events to playback and
// the transcript aggregator.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omnisense-ai/omnisense-backend/internal/core/audio"
	"github.com/omnisense-ai/omnisense-backend/internal/core/capture"
	"github.com/omnisense-ai/omnisense-backend/internal/core/gemini"
	"github.com/omnisense-ai/omnisense-backend/internal/core/screen"
	"github.com/omnisense-ai/omnisense-backend/internal/core/transcript"
	"github.com/omnisense-ai/omnisense-backend/internal/repo/state"
	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

// State of the monitoring session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start while a session is open.
var ErrAlreadyRunning = errors.New("session: monitoring already running")

// ErrPermission wraps device acquisition failures (microphone or display),
// the native analog of the user denying a capture permission.
var ErrPermission = errors.New("session: capture permission denied")

// LiveConn is the remote live session as the orchestrator sees it.
// *gemini.LiveSession satisfies it.
type LiveConn interface {
	SendFrame(frame audio.EncodedFrame) error
	Events() <-chan gemini.Event
	Err() error
	Close() error
}

// Publisher receives insights as they are created, for fan-out to HUD
// clients.
type Publisher interface {
	PublishInsight(ins types.Insight)
	PublishStatus(state string, detail string)
}

// Config wires the orchestrator. Device and transport constructors are
// injected so tests can drive the state machine without hardware.
type Config struct {
	User             string
	OpenMic          func() (capture.Source, error)
	OpenSpeaker      func() (audio.Sink, error)
	Connect          func(systemInstruction string) (LiveConn, error)
	Grabber          screen.Grabber
	Analyzer         screen.Analyzer
	Store            *state.Store
	Publisher        Publisher
	SnapshotInterval time.Duration
	CaptureDumpPath  string
	Logger           *slog.Logger
}

// Orchestrator drives Idle → Connecting → Open → Closed, with Error
// reachable from Connecting. One instance equals at most one live session.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	lastErr   string
	startedAt time.Time
	pipeline  *capture.Pipeline
	speaker   audio.Sink
	live      LiveConn
	sched     *audio.Scheduler
	agg       *transcript.Aggregator
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
		agg:    transcript.New(),
	}
}

// Start acquires the display and microphone, opens the live session and
// begins monitoring. On any acquisition failure every handle obtained so
// far is released before the Error state is reported.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateConnecting, StateOpen:
		return ErrAlreadyRunning
	}
	o.state = StateConnecting
	o.lastErr = ""

	mode := o.cfg.Store.CurrentMode(o.cfg.User)

	// Display first: a probe grab is the closest native analog to asking
	// for screen-share permission.
	if _, err := o.cfg.Grabber.Grab(); err != nil {
		return o.failLocked(fmt.Errorf("%w: %v", ErrPermission, err))
	}

	mic, err := o.cfg.OpenMic()
	if err != nil {
		return o.failLocked(fmt.Errorf("%w: microphone: %v", ErrPermission, err))
	}

	speaker, err := o.cfg.OpenSpeaker()
	if err != nil {
		mic.Stop()
		return o.failLocked(fmt.Errorf("%w: speaker: %v", ErrPermission, err))
	}

	live, err := o.cfg.Connect(buildInstruction(mode))
	if err != nil {
		speaker.Close()
		mic.Stop()
		return o.failLocked(fmt.Errorf("session: connect live session: %w", err))
	}

	opts := []capture.Option{capture.WithErrorHandler(o.fatal)}
	if o.cfg.CaptureDumpPath != "" {
		opts = append(opts, capture.WithDump(audio.NewCaptureDump(o.cfg.CaptureDumpPath)))
	}
	pipeline, err := capture.New(mic, live, o.logger, opts...)
	if err != nil {
		live.Close()
		speaker.Close()
		mic.Stop()
		return o.failLocked(fmt.Errorf("session: build capture pipeline: %w", err))
	}
	// The input device is not held until the source starts, so a start
	// failure here is the microphone being denied, not a transport fault.
	if err := pipeline.Start(); err != nil {
		live.Close()
		speaker.Close()
		mic.Stop()
		return o.failLocked(fmt.Errorf("%w: microphone: %v", ErrPermission, err))
	}

	o.pipeline = pipeline
	o.speaker = speaker
	o.live = live
	o.sched = audio.NewScheduler(speaker)
	o.agg.Reset()
	o.startedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.loopDone = make(chan struct{})

	sampler := screen.New(o.cfg.Grabber, o.cfg.Analyzer,
		func() types.Mode { return o.cfg.Store.CurrentMode(o.cfg.User) },
		o.publishInsight, o.cfg.SnapshotInterval, o.logger)
	go sampler.Run(ctx)
	go o.eventLoop(ctx, live)

	o.state = StateOpen
	o.logger.Info("monitoring started", "user", o.cfg.User, "mode", mode.Name)
	if o.cfg.Publisher != nil {
		o.cfg.Publisher.PublishStatus(StateOpen.String(), "")
	}
	return nil
}

// failLocked records err, moves to Error and notifies listeners. Callers
// must hold o.mu and have already released any acquired handles.
func (o *Orchestrator) failLocked(err error) error {
	o.state = StateError
	o.lastErr = err.Error()
	o.logger.Error("monitoring failed to start", "error", err)
	if o.cfg.Publisher != nil {
		o.cfg.Publisher.PublishStatus(StateError.String(), err.Error())
	}
	return err
}

// Stop tears the session down: sampler timer, event loop, microphone,
// live session and output sink go together. Idempotent; stopping an idle
// orchestrator is a no-op.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.state != StateOpen {
		// Error and Closed both hold no handles.
		if o.state != StateIdle {
			o.state = StateClosed
		}
		o.mu.Unlock()
		return nil
	}
	pipeline, speaker, live := o.pipeline, o.speaker, o.live
	cancel, loopDone := o.cancel, o.loopDone
	o.pipeline, o.speaker, o.live, o.cancel, o.loopDone = nil, nil, nil, nil, nil
	o.state = StateClosed
	o.mu.Unlock()

	cancel()
	var err error
	if perr := pipeline.Stop(); perr != nil {
		err = perr
	}
	if cerr := live.Close(); err == nil {
		err = cerr
	}
	<-loopDone
	if serr := speaker.Close(); err == nil {
		err = serr
	}

	o.mu.Lock()
	o.agg.Reset()
	o.mu.Unlock()

	o.logger.Info("monitoring stopped", "user", o.cfg.User)
	if o.cfg.Publisher != nil {
		o.cfg.Publisher.PublishStatus(StateClosed.String(), "")
	}
	return err
}

// fatal handles a session-level error raised mid-flight (sustained
// transport failure). Teardown runs off the reporting goroutine, which may
// be the audio callback.
func (o *Orchestrator) fatal(err error) {
	o.logger.Error("session error, stopping", "error", err)
	o.mu.Lock()
	o.lastErr = err.Error()
	o.mu.Unlock()
	if o.cfg.Publisher != nil {
		o.cfg.Publisher.PublishStatus(StateError.String(), err.Error())
	}
	go o.Stop()
}

// eventLoop consumes the ordered inbound stream. Fragments and the
// turn-complete signal are processed strictly in arrival order; per-frame
// decode failures are skipped, never fatal.
func (o *Orchestrator) eventLoop(ctx context.Context, live LiveConn) {
	defer close(o.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live.Events():
			if !ok {
				// Remote end of the session went away (the analog of the
				// user stopping the screen share from browser chrome).
				if err := live.Err(); err != nil {
					o.fatal(fmt.Errorf("session: live stream ended: %w", err))
				} else {
					o.logger.Info("live session ended remotely")
					go o.Stop()
				}
				return
			}
			o.handleEvent(ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ev gemini.Event) {
	o.mu.Lock()
	sched := o.sched
	if ev.UserText != "" {
		o.agg.AppendUser(ev.UserText)
	}
	if ev.ModelText != "" {
		o.agg.AppendModel(ev.ModelText)
	}
	var flushed types.Insight
	var haveInsight bool
	if ev.TurnComplete {
		flushed, haveInsight = o.agg.TurnComplete()
	}
	o.mu.Unlock()

	for _, part := range ev.Audio {
		raw, err := audio.DecodePCM(part)
		if err != nil {
			o.logger.Warn("skipping malformed audio frame", "error", err)
			continue
		}
		buf, err := audio.ToPCMBuffer(raw, audio.PlaybackRate, 1)
		if err != nil {
			o.logger.Warn("skipping misaligned audio frame", "error", err)
			continue
		}
		if _, err := sched.Schedule(buf); err != nil {
			o.logger.Warn("playback schedule failed", "error", err)
		}
	}

	if haveInsight {
		o.publishInsight(flushed)
	}
}

func (o *Orchestrator) publishInsight(ins types.Insight) {
	o.cfg.Store.AddInsight(o.cfg.User, ins)
	if o.cfg.Publisher != nil {
		o.cfg.Publisher.PublishInsight(ins)
	}
}

// Status reports the current state for the HTTP surface.
func (o *Orchestrator) Status() types.MonitorStatusResp {
	o.mu.Lock()
	defer o.mu.Unlock()
	resp := types.MonitorStatusResp{
		State:     o.state.String(),
		LastError: o.lastErr,
	}
	if o.state == StateOpen {
		resp.UptimeMs = time.Since(o.startedAt).Milliseconds()
		if o.pipeline != nil {
			resp.FramesSent = o.pipeline.FramesSent()
		}
	}
	return resp
}

// buildInstruction assembles the live-session system prompt from the
// active mode, bounding the grounding document to a short prefix.
func buildInstruction(mode types.Mode) string {
	const ragLimit = 5000
	rag := mode.FileContent
	if r := []rune(rag); len(r) > ragLimit {
		rag = string(r[:ragLimit])
	}
	return fmt.Sprintf(`STRICTLY ENGLISH. FAST TRANSCRIBER AND TECHNICAL AGENT.
- EXTRACT KEYWORDS from speech.
- YOU MUST TRANSCRIBE EVERYTHING SPOKEN.
- RESPOND concisely only when requested.
- GUIDELINES: %s
- REFERENCE DATA: %s`, mode.Guidelines, rag)
}
