package audio

import (
	"fmt"
	"os"
	"sync"

	wav "github.com/youpy/go-wav"
)

// CaptureDump accumulates quantized capture samples and writes a mono WAV
// file on Close. Debug aid for inspecting what the pipeline actually sent;
// sessions are bounded so buffering in memory is acceptable.
type CaptureDump struct {
	mu      sync.Mutex
	path    string
	samples []int16
	closed  bool
}

func NewCaptureDump(path string) *CaptureDump {
	return &CaptureDump{path: path}
}

func (d *CaptureDump) Append(pcm []int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.samples = append(d.samples, pcm...)
}

func (d *CaptureDump) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	f, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("create capture dump: %w", err)
	}
	defer f.Close()

	w := wav.NewWriter(f, uint32(len(d.samples)), 1, CaptureRate, 16)
	out := make([]wav.Sample, len(d.samples))
	for i, v := range d.samples {
		out[i].Values[0] = int(v)
	}
	if err := w.WriteSamples(out); err != nil {
		return fmt.Errorf("write capture dump: %w", err)
	}
	d.samples = nil
	return nil
}
