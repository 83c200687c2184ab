package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const speakerBlockSize = 1024

type queuedSegment struct {
	samples    []float32
	startFrame int64
}

// SpeakerSink renders scheduled mono segments through the default output
// device. Its timeline is a sample clock: frames rendered so far divided by
// the sample rate, so Now() advances in lockstep with the device callback.
type SpeakerSink struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	queue  []queuedSegment
	clock  int64
	rate   int
	closed bool
}

// OpenSpeaker initializes PortAudio, opens the default output stream at the
// given rate and starts rendering. Close releases both.
func OpenSpeaker(rate int) (*SpeakerSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	s := &SpeakerSink{rate: rate}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), speakerBlockSize, s.render)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *SpeakerSink) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.clock) / float64(s.rate)
}

// Play queues buf's first channel to begin at the given timeline offset.
// Segments arrive pre-ordered from the Scheduler, so the queue stays sorted
// by construction.
func (s *SpeakerSink) Play(buf *PCMBuffer, at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker sink closed")
	}
	if buf.Frames() == 0 {
		return nil
	}
	s.queue = append(s.queue, queuedSegment{
		samples:    buf.Channels[0],
		startFrame: int64(at*float64(s.rate) + 0.5),
	})
	return nil
}

// render is the device callback: zero-fill, then copy every queued segment
// overlapping this block. Handlers must stay short; this does no allocation.
func (s *SpeakerSink) render(out []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range out {
		out[i] = 0
	}
	blockStart := s.clock
	blockEnd := blockStart + int64(len(out))
	keep := s.queue[:0]
	for _, seg := range s.queue {
		segEnd := seg.startFrame + int64(len(seg.samples))
		if segEnd <= blockStart {
			continue
		}
		if seg.startFrame < blockEnd {
			from := blockStart - seg.startFrame
			if from < 0 {
				from = 0
			}
			dst := seg.startFrame + from - blockStart
			for i := from; i < int64(len(seg.samples)) && dst < int64(len(out)); i++ {
				out[dst] = seg.samples[i]
				dst++
			}
		}
		keep = append(keep, seg)
	}
	s.queue = keep
	s.clock = blockEnd
}

// Close halts all pending and in-flight segments immediately.
func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	stream := s.stream
	s.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Stop()
		if cerr := stream.Close(); err == nil {
			err = cerr
		}
	}
	portaudio.Terminate()
	return err
}
