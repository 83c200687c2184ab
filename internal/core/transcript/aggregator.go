// Package transcript accumulates partial transcription fragments into
// per-turn buffers and flushes them into insight records on turn-complete.
package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnisense-ai/omnisense-backend/pkg/types"
)

// Placeholder labels used when a turn carried speech on only one side.
const (
	noQuestionLabel = "(no question transcribed)"
	noAnswerLabel   = "(no answer transcribed)"
)

// State of the current turn.
type State int

const (
	Idle State = iota
	Accumulating
)

// Aggregator buffers user and model speech fragments for the current turn.
// The live session delivers fragments and the terminal signal on one
// strictly ordered event stream, so the aggregator is not safe for
// concurrent use and does not need to be.
type Aggregator struct {
	user  strings.Builder
	model strings.Builder
	state State
	now   func() time.Time
}

func New() *Aggregator {
	return &Aggregator{now: time.Now}
}

func (a *Aggregator) State() State { return a.state }

// AppendUser concatenates a user speech fragment onto the current turn.
func (a *Aggregator) AppendUser(fragment string) {
	a.user.WriteString(fragment)
	a.state = Accumulating
}

// AppendModel concatenates a model speech fragment onto the current turn.
func (a *Aggregator) AppendModel(fragment string) {
	a.model.WriteString(fragment)
	a.state = Accumulating
}

// UserText returns the running user transcription, trimmed. Used for the
// live "speak to transcribe" echo.
func (a *Aggregator) UserText() string {
	return strings.TrimSpace(a.user.String())
}

// TurnComplete flushes both buffers. It emits exactly one insight when at
// least one buffer holds text, substituting a placeholder for the empty
// side, then returns the aggregator to Idle. A turn-complete with both
// buffers empty is a no-op.
func (a *Aggregator) TurnComplete() (types.Insight, bool) {
	question := strings.TrimSpace(a.user.String())
	answer := strings.TrimSpace(a.model.String())
	a.Reset()

	if question == "" && answer == "" {
		return types.Insight{}, false
	}
	if question == "" {
		question = noQuestionLabel
	}
	if answer == "" {
		answer = noAnswerLabel
	}
	return types.Insight{
		ID:        uuid.NewString(),
		Type:      types.InsightVoice,
		Timestamp: a.now().UnixMilli(),
		Question:  question,
		Answer:    answer,
	}, true
}

// Reset discards any buffered fragments and returns to Idle.
func (a *Aggregator) Reset() {
	a.user.Reset()
	a.model.Reset()
	a.state = Idle
}
