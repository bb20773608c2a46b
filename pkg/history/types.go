package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mercator-hq/relay/pkg/usage"
)

// RequestRecord is one proxied request as persisted in history.
type RequestRecord struct {
	// Identification
	ID        string `json:"id"`
	RequestID string `json:"request_id"`

	// Routing
	Account  string `json:"account,omitempty"`
	Provider string `json:"provider"`
	Agent    string `json:"agent,omitempty"`

	// Request
	Method        string `json:"method"`
	Path          string `json:"path"`
	ClientName    string `json:"client_name,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	Model         string `json:"model,omitempty"`

	// Response
	StatusCode int    `json:"status_code"`
	Streamed   bool   `json:"streamed"`
	Error      string `json:"error,omitempty"`

	// Usage
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CostUSD             float64 `json:"cost_usd"`
	DurationMs          int64   `json:"duration_ms"`

	// Captured bodies, cut to the worker's capture limit.
	RequestBody  string `json:"request_body,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`

	// Timestamps
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Succeeded reports whether the upstream answered with a 2xx status and the
// relay finished without error.
func (r *RequestRecord) Succeeded() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// RecordFromPayload converts a worker payload into a history record.
func RecordFromPayload(p *usage.Payload, recordedAt time.Time) *RequestRecord {
	return &RequestRecord{
		ID:                  uuid.New().String(),
		RequestID:           p.RequestID,
		Account:             p.Account,
		Provider:            p.Provider,
		Agent:               p.Agent,
		Method:              p.Method,
		Path:                p.Path,
		ClientName:          p.ClientName,
		ClientVersion:       p.ClientVersion,
		Model:               p.Model,
		StatusCode:          p.StatusCode,
		Streamed:            p.Streamed,
		Error:               p.Error,
		InputTokens:         p.Summary.InputTokens,
		OutputTokens:        p.Summary.OutputTokens,
		CacheReadTokens:     p.Summary.CacheReadTokens,
		CacheCreationTokens: p.Summary.CacheCreationTokens,
		CostUSD:             p.Summary.CostUSD,
		DurationMs:          p.Summary.DurationMs,
		RequestBody:         p.RequestBody,
		ResponseBody:        p.ResponseBody,
		Truncated:           p.Truncated,
		StartedAt:           p.StartedAt,
		EndedAt:             p.EndedAt,
		RecordedAt:          recordedAt,
	}
}

// Query filters history records. Zero values do not filter.
type Query struct {
	// Time range over StartedAt
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive
	EndTime   *time.Time `json:"end_time,omitempty"`   // Exclusive

	Account string `json:"account,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Model   string `json:"model,omitempty"`

	// Status is "success" or "error".
	Status string `json:"status,omitempty"`

	// Pagination. Results are ordered newest first.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Storage persists request history. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Store persists a record.
	Store(ctx context.Context, record *RequestRecord) error

	// Query returns records matching q, newest first. A zero Limit returns
	// at most DefaultQueryLimit records.
	Query(ctx context.Context, q *Query) ([]*RequestRecord, error)

	// Count returns the number of records matching q, ignoring pagination.
	Count(ctx context.Context, q *Query) (int64, error)

	// DeleteBefore removes records that started before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteOldest removes the n oldest records.
	DeleteOldest(ctx context.Context, n int64) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}

// DefaultQueryLimit caps Query results when no limit is given.
const DefaultQueryLimit = 100
