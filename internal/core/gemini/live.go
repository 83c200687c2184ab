package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnisense-ai/omnisense-backend/internal/core/audio"
)

const defaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	setupTimeout  = 10 * time.Second
	sendQueueSize = 32
)

// ErrBackpressure reports that the outbound queue is full. The capture
// pipeline is fire-and-forget, so the frame is dropped and counted rather
// than retried.
var ErrBackpressure = errors.New("gemini: outbound queue full")

// ErrSessionClosed reports sends on a closed or failed session.
var ErrSessionClosed = errors.New("gemini: session closed")

// JSON structures for live API communication.

type sendTextPart struct {
	Text string `json:"text"`
}

type sendContent struct {
	Parts []sendTextPart `json:"parts"`
}

type sendGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type sendSetup struct {
	Model                    string               `json:"model"`
	GenerationConfig         sendGenerationConfig `json:"generationConfig"`
	SystemInstruction        *sendContent         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  struct{}             `json:"inputAudioTranscription"`
	OutputAudioTranscription struct{}             `json:"outputAudioTranscription"`
}

type mediaBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type sendRealtimeInput struct {
	Media mediaBlob `json:"media"`
}

type clientMessage struct {
	Setup         *sendSetup         `json:"setup,omitempty"`
	RealtimeInput *sendRealtimeInput `json:"realtimeInput,omitempty"`
}

type receivedTranscription struct {
	Text string `json:"text"`
}

type receivedInlineData struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type receivedPart struct {
	InlineData *receivedInlineData `json:"inlineData"`
	Text       string              `json:"text"`
}

type receivedModelTurn struct {
	Parts []receivedPart `json:"parts"`
}

type receivedServerContent struct {
	InputTranscription  *receivedTranscription `json:"inputTranscription"`
	OutputTranscription *receivedTranscription `json:"outputTranscription"`
	ModelTurn           *receivedModelTurn     `json:"modelTurn"`
	TurnComplete        bool                   `json:"turnComplete"`
}

type receivedMessage struct {
	SetupComplete *struct{}              `json:"setupComplete"`
	ServerContent *receivedServerContent `json:"serverContent"`
}

// Event is one inbound live-session event. Events are delivered strictly
// in arrival order on a single channel and must be consumed in that order.
type Event struct {
	UserText     string
	ModelText    string
	Audio        []string // base64 PCM parts of the model turn
	TurnComplete bool
}

// LiveConfig configures a live session. Endpoint defaults to the hosted
// live API; tests point it at a local server.
type LiveConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	Endpoint          string
	Logger            *slog.Logger
}

// LiveSession is a bidirectional audio session with the live API. Outbound
// frames flow through a bounded queue serviced by the writer goroutine;
// inbound messages become Events on a single ordered channel.
type LiveSession struct {
	conn   *websocket.Conn
	send   chan audio.EncodedFrame
	events chan Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	errMu sync.Mutex
	err   error
}

// ConnectLive dials the live endpoint, sends the session setup and blocks
// until the server acknowledges it, so callers observe a ready session or
// an error, never a half-open one.
func ConnectLive(cfg LiveConfig) (*LiveSession, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultLiveEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.Dial(endpoint+"?key="+cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial live endpoint: %w", err)
	}

	setup := clientMessage{
		Setup: &sendSetup{
			Model: cfg.Model,
			GenerationConfig: sendGenerationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &sendContent{
			Parts: []sendTextPart{{Text: cfg.SystemInstruction}},
		}
	}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: send setup: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(setupTimeout))
	var ack receivedMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gemini: await setup ack: %w", err)
	}
	if ack.SetupComplete == nil {
		conn.Close()
		return nil, errors.New("gemini: server did not acknowledge setup")
	}
	conn.SetReadDeadline(time.Time{})

	s := &LiveSession{
		conn:   conn,
		send:   make(chan audio.EncodedFrame, sendQueueSize),
		events: make(chan Event, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

// SendFrame hands one encoded frame to the writer goroutine without
// blocking the audio callback.
func (s *LiveSession) SendFrame(frame audio.EncodedFrame) error {
	select {
	case <-s.done:
		if err := s.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// Events returns the ordered inbound event stream. The channel closes when
// the session ends, locally or remotely.
func (s *LiveSession) Events() <-chan Event {
	return s.events
}

// Err returns the first terminal transport error, if any.
func (s *LiveSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close shuts the session down. Safe to call more than once.
func (s *LiveSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
	return nil
}

func (s *LiveSession) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.Close()
}

// readLoop delivers inbound messages as Events in arrival order.
func (s *LiveSession) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("live session read failed", "error", err)
				s.fail(err)
			}
			return
		}

		var msg receivedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("live session message unmarshal failed", "error", err)
			continue
		}
		sc := msg.ServerContent
		if sc == nil {
			continue
		}

		var ev Event
		if sc.InputTranscription != nil {
			ev.UserText = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			ev.ModelText = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					ev.Audio = append(ev.Audio, p.InlineData.Data)
				}
			}
		}
		ev.TurnComplete = sc.TurnComplete

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *LiveSession) writeLoop() {
	for {
		select {
		case frame := <-s.send:
			msg := clientMessage{
				RealtimeInput: &sendRealtimeInput{
					Media: mediaBlob{Data: frame.Data, MIMEType: frame.MIMEType},
				},
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				select {
				case <-s.done:
				default:
					s.logger.Warn("live session write failed", "error", err)
					s.fail(err)
				}
				return
			}
		case <-s.done:
			return
		}
	}
}
