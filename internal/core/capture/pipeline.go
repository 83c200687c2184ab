// Package capture owns the microphone input while monitoring is active,
// slicing it into fixed-size blocks and forwarding encoded frames to the
// live transport.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/omnisense-ai/omnisense-backend/internal/core/audio"
)

// DefaultBlockSize is the capture block size in samples. A latency vs
// throughput tradeoff; must stay a power of two the device supports.
const DefaultBlockSize = 4096

// Consecutive send failures tolerated before the session is declared dead.
const maxSendFailures = 10

// Source delivers fixed-size mono float32 blocks at the capture rate.
// Start claims an exclusive hold on the device; Stop releases it.
type Source interface {
	Start(deliver func(block []float32)) error
	Stop() error
}

// FrameSink receives encoded frames for transmission. SendFrame must not
// block; the pipeline is fire-and-forget and never waits on transport
// acknowledgment.
type FrameSink interface {
	SendFrame(frame audio.EncodedFrame) error
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithBlockSize overrides DefaultBlockSize. n must be a power of two.
func WithBlockSize(n int) Option {
	return func(p *Pipeline) error {
		if n <= 0 || n&(n-1) != 0 {
			return fmt.Errorf("capture: block size %d is not a power of two", n)
		}
		p.blockSize = n
		return nil
	}
}

// WithDump tees quantized capture samples into a WAV dump.
func WithDump(d *audio.CaptureDump) Option {
	return func(p *Pipeline) error {
		p.dump = d
		return nil
	}
}

// WithErrorHandler sets the callback invoked once when sustained transport
// failure turns into a session-level error.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pipeline) error {
		p.onFatal = fn
		return nil
	}
}

// Pipeline reads blocks from a Source, encodes them and hands them to a
// FrameSink. Individual send failures are counted, not retried; crossing
// maxSendFailures in a row escalates once through the error handler.
type Pipeline struct {
	src       Source
	sink      FrameSink
	dump      *audio.CaptureDump
	onFatal   func(error)
	blockSize int
	logger    *slog.Logger

	mu      sync.Mutex
	running bool

	frames    atomic.Int64
	failures  atomic.Int32
	escalated atomic.Bool
}

func New(src Source, sink FrameSink, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		src:       src,
		sink:      sink,
		blockSize: DefaultBlockSize,
		logger:    logger,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// BlockSize returns the configured capture block size in samples.
func (p *Pipeline) BlockSize() int { return p.blockSize }

// Start claims the source and begins delivery. The device hold is released
// only on Stop.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("capture: already running")
	}
	if err := p.src.Start(p.handleBlock); err != nil {
		return fmt.Errorf("capture: start source: %w", err)
	}
	p.running = true
	return nil
}

// Stop releases the device and finalizes the dump. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	err := p.src.Stop()
	if p.dump != nil {
		if derr := p.dump.Close(); err == nil {
			err = derr
		}
	}
	return err
}

// FramesSent reports how many frames reached the sink.
func (p *Pipeline) FramesSent() int64 { return p.frames.Load() }

// handleBlock runs on the device callback; it must stay short and
// non-blocking to avoid audio glitches.
func (p *Pipeline) handleBlock(block []float32) {
	frame := audio.EncodePCM(block)
	if p.dump != nil {
		p.dump.Append(audio.Quantize(block))
	}
	if err := p.sink.SendFrame(frame); err != nil {
		n := p.failures.Add(1)
		p.logger.Warn("dropped capture frame", "error", err, "consecutive", n)
		if n >= maxSendFailures && p.onFatal != nil && p.escalated.CompareAndSwap(false, true) {
			p.onFatal(fmt.Errorf("capture: transport rejected %d consecutive frames: %w", n, err))
		}
		return
	}
	p.failures.Store(0)
	p.frames.Add(1)
}
