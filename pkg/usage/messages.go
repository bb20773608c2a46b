package usage

import (
	"encoding/json"
	"time"
)

// Message type tags. Tags and shapes are part of the worker wire protocol.
const (
	// TypeShutdown asks the worker to flush and exit.
	TypeShutdown = "shutdown"

	// TypeStart opens a request: metadata and the captured request body.
	TypeStart = "start"

	// TypeChunk carries a slice of the response body.
	TypeChunk = "chunk"

	// TypeEnd closes a request.
	TypeEnd = "end"

	// TypeSummary carries a per-request usage summary from the worker.
	TypeSummary = "summary"

	// TypePayload carries a per-request history payload from the worker.
	TypePayload = "payload"
)

// Message is the envelope exchanged with the worker in both directions.
//
// Only the fields for Type are set; a shutdown message encodes as
// {"type":"shutdown"}. Receivers ignore tags they do not know.
type Message struct {
	Type      string     `json:"type"`
	RequestID string     `json:"request_id,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Data      []byte     `json:"data,omitempty"`
	End       *EndInfo   `json:"end,omitempty"`

	Summary json.RawMessage `json:"summary,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ShutdownMessage returns the shutdown control message.
func ShutdownMessage() Message {
	return Message{Type: TypeShutdown}
}

// StartInfo describes a request whose response is about to be relayed.
type StartInfo struct {
	Account       string    `json:"account,omitempty"`
	Provider      string    `json:"provider"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Agent         string    `json:"agent,omitempty"`
	ClientName    string    `json:"client_name,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	Attempt       int       `json:"attempt"`
	StatusCode    int       `json:"status_code"`
	ContentType   string    `json:"content_type,omitempty"`
	RequestBody   []byte    `json:"request_body,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// EndInfo closes a request.
type EndInfo struct {
	Error   string    `json:"error,omitempty"`
	EndedAt time.Time `json:"ended_at"`
}

// Summary is the worker's per-request usage summary.
type Summary struct {
	RequestID           string  `json:"request_id"`
	Account             string  `json:"account,omitempty"`
	Model               string  `json:"model,omitempty"`
	StatusCode          int     `json:"status_code"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CostUSD             float64 `json:"cost_usd"`
	DurationMs          int64   `json:"duration_ms"`
}

// Payload is the worker's per-request history record.
type Payload struct {
	RequestID     string    `json:"request_id"`
	Account       string    `json:"account,omitempty"`
	Provider      string    `json:"provider"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Agent         string    `json:"agent,omitempty"`
	ClientName    string    `json:"client_name,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	Model         string    `json:"model,omitempty"`
	StatusCode    int       `json:"status_code"`
	Streamed      bool      `json:"streamed"`
	RequestBody   string    `json:"request_body,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	Truncated     bool      `json:"truncated,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Summary       Summary   `json:"summary"`
}

// DecodeMessage decodes one wire message. ok is false for tags outside the
// protocol, which callers skip.
func DecodeMessage(raw []byte) (msg Message, ok bool, err error) {
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, false, err
	}
	switch msg.Type {
	case TypeShutdown, TypeStart, TypeChunk, TypeEnd, TypeSummary, TypePayload:
		return msg, true, nil
	default:
		return msg, false, nil
	}
}
