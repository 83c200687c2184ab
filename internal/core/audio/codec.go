// Package audio converts between float PCM sample blocks and the base64
// 16-bit little-endian framing the live transport speaks, and schedules
// decoded frames for gapless sequential playback.
package audio

import (
	"encoding/base64"
	"fmt"
)

const (
	// CaptureRate is the microphone sample rate in Hz.
	CaptureRate = 16000
	// PlaybackRate is the model audio sample rate in Hz.
	PlaybackRate = 24000

	bytesPerSample = 2
)

// ErrDecode reports a malformed base64 payload.
var ErrDecode = fmt.Errorf("audio: malformed base64 payload")

// ErrFormat reports a raw PCM payload whose length is not a whole multiple
// of the sample stride.
var ErrFormat = fmt.Errorf("audio: payload not aligned to sample stride")

// EncodedFrame is a text-safe encoding of one PCM frame, tagged with the
// MIME descriptor the transport expects.
type EncodedFrame struct {
	Data     string
	MIMEType string
}

// Quantize converts float samples in [-1, 1] to signed 16-bit integers by
// scaling and truncation. Out-of-range input wraps per integer-conversion
// semantics; callers own their gain staging.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(int32(s * 32768))
	}
	return out
}

// EncodePCM serializes float samples to a base64 16-bit LE frame tagged
// for the capture rate. Deterministic, no error path.
func EncodePCM(samples []float32) EncodedFrame {
	pcm := Quantize(samples)
	raw := make([]byte, len(pcm)*bytesPerSample)
	for i, v := range pcm {
		raw[i*2] = byte(v)
		raw[i*2+1] = byte(v >> 8)
	}
	return EncodedFrame{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", CaptureRate),
	}
}

// DecodePCM reverses the base64 step only.
func DecodePCM(text string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return raw, nil
}

// PCMBuffer is a decoded frame: per-channel float samples at a fixed rate.
type PCMBuffer struct {
	Channels   [][]float32
	SampleRate int
}

// Frames returns the per-channel sample count.
func (b *PCMBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the buffer length in seconds.
func (b *PCMBuffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// ToPCMBuffer reinterprets raw bytes as interleaved 16-bit LE samples,
// de-interleaves by channel and rescales to float in [-1, 1].
func ToPCMBuffer(raw []byte, sampleRate, channels int) (*PCMBuffer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: rate=%d channels=%d", ErrFormat, sampleRate, channels)
	}
	stride := bytesPerSample * channels
	if len(raw)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes, stride %d", ErrFormat, len(raw), stride)
	}
	frames := len(raw) / stride
	buf := &PCMBuffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * bytesPerSample
			v := int16(raw[off]) | int16(raw[off+1])<<8
			buf.Channels[ch][i] = float32(v) / 32768.0
		}
	}
	return buf, nil
}
