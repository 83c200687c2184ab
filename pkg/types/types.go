package types

// InsightType tells which pipeline produced an insight.
type InsightType string

const (
	InsightVoice  InsightType = "voice"
	InsightScreen InsightType = "screen"
)

// Feedback is an optional user rating attached to an insight after creation.
type Feedback string

const (
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// Insight is one extracted question/answer pair. Immutable after creation
// except for the Feedback tag.
type Insight struct {
	ID        string      `json:"id"`
	Type      InsightType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Question  string      `json:"question"`
	Answer    string      `json:"answer"`
	Feedback  Feedback    `json:"feedback,omitempty"`
}

// Mode is a named job profile: guideline text plus an optional grounding
// document attached for retrieval-augmented prompts.
type Mode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Guidelines  string `json:"guidelines"`
	FileContent string `json:"file_content,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

// ScreenResult is the structured payload returned by a one-shot screen
// analysis call. An empty Question means nothing interesting was found.
type ScreenResult struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type StartMonitorReq struct {
	ModeID string `json:"mode_id"`
}

type MonitorStatusResp struct {
	State      string `json:"state"`
	UptimeMs   int64  `json:"uptime_ms"`
	FramesSent int64  `json:"frames_sent"`
	LastError  string `json:"last_error,omitempty"`
}

type QueryReq struct {
	Question string `json:"question"`
}

type FeedbackReq struct {
	Feedback Feedback `json:"feedback"`
}

type UpsertModeReq struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Guidelines  string `json:"guidelines"`
	FileContent string `json:"file_content"`
	FileName    string `json:"file_name"`
}
