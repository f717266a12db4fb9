package core

import "time"

// Chat roles recorded on a session's message log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Severity grades a progress log line.
type Severity string

const (
	// SeverityInfo is a routine progress line.
	SeverityInfo Severity = "info"
	// SeverityWarn is a recoverable anomaly (retry, degraded output).
	SeverityWarn Severity = "warn"
	// SeverityError is a failure line (per-document or terminal).
	SeverityError Severity = "error"
)

// LogLine is one persisted progress line. Seq is contiguous per run starting
// at 1; the pull path returns lines in append order across runs, so the
// absolute position in the snapshot is the index an observer diffs against.
type LogLine struct {
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is one append-only entry in a session's conversation history.
// Assistant messages produced by a finished run bundle the aggregated result
// plus the full ordered log snapshot, making the run exactly replayable from
// the chat history alone.
type ChatMessage struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Result    *GenerationResult `json:"result,omitempty"`
	Log       []LogLine         `json:"log,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewUserMessage creates a user-authored chat message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantMessage creates an assistant message bundling the run's result
// and log snapshot.
func NewAssistantMessage(content string, result *GenerationResult, log []LogLine) ChatMessage {
	return ChatMessage{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   content,
		Result:    result,
		Log:       log,
		Timestamp: time.Now().UTC(),
	}
}
