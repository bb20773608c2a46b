package usage

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// maxUsageScanBytes bounds how much of a non-streamed response is kept
	// for reading its usage block.
	maxUsageScanBytes = 8 << 20

	// maxSSELineBytes bounds a single buffered SSE line.
	maxSSELineBytes = 1 << 20
)

// Processor consumes worker messages. Handle returns true when the worker
// should exit.
type Processor interface {
	Handle(msg Message, emit func(Message)) (exit bool)
}

// Worker accumulates request telemetry from start/chunk/end messages and
// emits one summary and one payload per request.
//
// A Worker is owned by a single goroutine and is not safe for concurrent use.
type Worker struct {
	maxCapture int
	pending    map[string]*requestState
	now        func() time.Time
	logger     *slog.Logger
}

// NewWorker creates a worker that keeps at most maxCapture bytes of each
// request and response body in payloads.
func NewWorker(maxCapture int) *Worker {
	if maxCapture <= 0 {
		maxCapture = 256 * 1024
	}
	return &Worker{
		maxCapture: maxCapture,
		pending:    make(map[string]*requestState),
		now:        time.Now,
		logger:     slog.Default().With("component", "usage.worker"),
	}
}

// Handle implements Processor.
func (w *Worker) Handle(msg Message, emit func(Message)) bool {
	switch msg.Type {
	case TypeStart:
		if msg.RequestID == "" || msg.Start == nil {
			return false
		}
		w.pending[msg.RequestID] = newRequestState(msg.RequestID, *msg.Start, w.maxCapture)

	case TypeChunk:
		if st, ok := w.pending[msg.RequestID]; ok {
			st.write(msg.Data)
		}

	case TypeEnd:
		st, ok := w.pending[msg.RequestID]
		if !ok {
			return false
		}
		delete(w.pending, msg.RequestID)
		end := EndInfo{EndedAt: w.now()}
		if msg.End != nil {
			end = *msg.End
		}
		w.finish(st, end, emit)

	case TypeShutdown:
		w.Flush(emit)
		return true
	}
	return false
}

// Flush completes every pending request as interrupted.
func (w *Worker) Flush(emit func(Message)) {
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := w.pending[id]
		delete(w.pending, id)
		w.finish(st, EndInfo{Error: "worker shut down before the request ended", EndedAt: w.now()}, emit)
	}
}

// Pending returns the number of requests awaiting their end message.
func (w *Worker) Pending() int {
	return len(w.pending)
}

func (w *Worker) finish(st *requestState, end EndInfo, emit func(Message)) {
	st.complete()

	summary := Summary{
		RequestID:           st.id,
		Account:             st.start.Account,
		Model:               st.model,
		StatusCode:          st.start.StatusCode,
		InputTokens:         st.input,
		OutputTokens:        st.output,
		CacheReadTokens:     st.cacheRead,
		CacheCreationTokens: st.cacheCreation,
	}
	summary.CostUSD = EstimateCost(summary.Model, summary.InputTokens, summary.OutputTokens,
		summary.CacheReadTokens, summary.CacheCreationTokens)
	if !st.start.StartedAt.IsZero() && !end.EndedAt.IsZero() {
		summary.DurationMs = end.EndedAt.Sub(st.start.StartedAt).Milliseconds()
	}

	respBody := st.body
	truncated := st.truncated
	if len(respBody) > w.maxCapture {
		respBody = respBody[:w.maxCapture]
		truncated = true
	}
	reqBody := st.start.RequestBody
	if len(reqBody) > w.maxCapture {
		reqBody = reqBody[:w.maxCapture]
		truncated = true
	}

	payload := Payload{
		RequestID:     st.id,
		Account:       st.start.Account,
		Provider:      st.start.Provider,
		Method:        st.start.Method,
		Path:          st.start.Path,
		Agent:         st.start.Agent,
		ClientName:    st.start.ClientName,
		ClientVersion: st.start.ClientVersion,
		Model:         st.model,
		StatusCode:    st.start.StatusCode,
		Streamed:      st.streamed,
		RequestBody:   string(reqBody),
		ResponseBody:  string(respBody),
		Truncated:     truncated,
		Error:         end.Error,
		StartedAt:     st.start.StartedAt,
		EndedAt:       end.EndedAt,
		Summary:       summary,
	}

	rawSummary, err := json.Marshal(summary)
	if err != nil {
		w.logger.Error("failed to encode summary", "request_id", st.id, "error", err)
		return
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("failed to encode payload", "request_id", st.id, "error", err)
		return
	}

	emit(Message{Type: TypeSummary, Summary: rawSummary})
	emit(Message{Type: TypePayload, Payload: rawPayload})
}

// requestState is the accumulated telemetry of one request.
type requestState struct {
	id        string
	start     StartInfo
	streamed  bool
	limit     int
	body      []byte
	truncated bool
	line      []byte

	model         string
	input         int64
	output        int64
	cacheRead     int64
	cacheCreation int64
}

func newRequestState(id string, start StartInfo, maxCapture int) *requestState {
	st := &requestState{
		id:       id,
		start:    start,
		streamed: strings.Contains(start.ContentType, "text/event-stream"),
		limit:    maxCapture,
	}
	if !st.streamed && st.limit < maxUsageScanBytes {
		st.limit = maxUsageScanBytes
	}
	return st
}

func (s *requestState) write(data []byte) {
	if room := s.limit - len(s.body); room > 0 {
		if len(data) > room {
			s.body = append(s.body, data[:room]...)
			s.truncated = true
		} else {
			s.body = append(s.body, data...)
		}
	} else if len(data) > 0 {
		s.truncated = true
	}

	if !s.streamed {
		return
	}

	s.line = append(s.line, data...)
	for {
		i := bytes.IndexByte(s.line, '\n')
		if i < 0 {
			break
		}
		s.scanLine(s.line[:i])
		s.line = s.line[i+1:]
	}
	if len(s.line) > maxSSELineBytes {
		s.line = nil
	}
}

// complete reads usage that is only available once the body is whole.
func (s *requestState) complete() {
	if s.streamed {
		if len(s.line) > 0 {
			s.scanLine(s.line)
			s.line = nil
		}
	} else if !s.truncated && gjson.ValidBytes(s.body) {
		root := gjson.ParseBytes(s.body)
		if m := root.Get("model"); m.Exists() {
			s.model = m.String()
		}
		s.applyUsage(root.Get("usage"))
	}

	if s.model == "" && len(s.start.RequestBody) > 0 {
		s.model = gjson.GetBytes(s.start.RequestBody, "model").String()
	}
}

func (s *requestState) scanLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte("data:")) {
		return
	}
	data := bytes.TrimSpace(line[len("data:"):])
	if !gjson.ValidBytes(data) {
		return
	}

	event := gjson.ParseBytes(data)
	switch event.Get("type").String() {
	case "message_start":
		if m := event.Get("message.model"); m.Exists() {
			s.model = m.String()
		}
		s.applyUsage(event.Get("message.usage"))
	case "message_delta":
		s.applyUsage(event.Get("usage"))
	}
}

// applyUsage overwrites counters present in u. Streamed counts are
// cumulative, so the latest value wins.
func (s *requestState) applyUsage(u gjson.Result) {
	if !u.Exists() {
		return
	}
	if v := u.Get("input_tokens"); v.Exists() {
		s.input = v.Int()
	}
	if v := u.Get("output_tokens"); v.Exists() {
		s.output = v.Int()
	}
	if v := u.Get("cache_read_input_tokens"); v.Exists() {
		s.cacheRead = v.Int()
	}
	if v := u.Get("cache_creation_input_tokens"); v.Exists() {
		s.cacheCreation = v.Int()
	}
}
