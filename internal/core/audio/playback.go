package audio

import "sync"

// Sink is the output timeline a Scheduler renders onto. Now reports the
// sink's current playback position in seconds; Play begins rendering buf at
// the given offset on that timeline.
type Sink interface {
	Now() float64
	Play(buf *PCMBuffer, at float64) error
	Close() error
}

// Scheduler places decoded frames back-to-back on a Sink. Segments play in
// the exact order Schedule was called, contiguous in time. The cursor never
// moves backward; if the producer falls behind real time the resulting
// silence gap is expected and not corrected.
type Scheduler struct {
	mu     sync.Mutex
	sink   Sink
	cursor float64
}

func NewScheduler(sink Sink) *Scheduler {
	return &Scheduler{sink: sink}
}

// Schedule queues buf at max(cursor, sink position) and advances the cursor
// by the buffer's duration. Returns the chosen start time.
func (s *Scheduler) Schedule(buf *PCMBuffer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.cursor
	if now := s.sink.Now(); now > start {
		start = now
	}
	if err := s.sink.Play(buf, start); err != nil {
		return 0, err
	}
	s.cursor = start + buf.Duration()
	return start, nil
}

// Cursor returns the next segment's earliest start time.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Reset rewinds the cursor for a fresh session. Callers must have torn down
// the old sink first; pending segments die with it.
func (s *Scheduler) Reset(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.cursor = 0
}
