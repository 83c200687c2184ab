package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/omnisense-ai/omnisense-backend/internal/core/audio"
)

// MicSource captures mono float32 blocks from the default input device at
// the capture rate. One source equals one exclusive device hold.
type MicSource struct {
	blockSize int
	stream    *portaudio.Stream
}

func NewMicSource(blockSize int) *MicSource {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &MicSource{blockSize: blockSize}
}

func (m *MicSource) Start(deliver func(block []float32)) error {
	if m.stream != nil {
		return fmt.Errorf("mic source already started")
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.CaptureRate), m.blockSize, func(in []float32) {
		deliver(in)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}
	m.stream = stream
	return nil
}

func (m *MicSource) Stop() error {
	if m.stream == nil {
		return nil
	}
	err := m.stream.Stop()
	if cerr := m.stream.Close(); err == nil {
		err = cerr
	}
	m.stream = nil
	portaudio.Terminate()
	return err
}
