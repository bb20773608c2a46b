package history

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/usage"
)

type recorderFixture struct {
	bus      *usage.Bus
	storage  *MemoryStorage
	accounts *accounts.MemoryStore
	registry *prometheus.Registry
	recorder *Recorder
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()
	f := &recorderFixture{
		bus:      usage.NewBus(),
		storage:  NewMemoryStorage(),
		accounts: accounts.NewMemoryStore(),
		registry: prometheus.NewRegistry(),
	}
	if err := f.accounts.Create(context.Background(), &accounts.Account{Name: "work", APIKey: "sk-test"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.recorder = NewRecorder(RecorderConfig{
		Bus:      f.bus,
		Storage:  f.storage,
		Accounts: f.accounts,
		Metrics:  metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test"}, f.registry),
	})
	return f
}

func encode(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return raw
}

func TestRecorder_Payload(t *testing.T) {
	f := newRecorderFixture(t)
	payload := usage.Payload{
		RequestID:  "req-1",
		Account:    "work",
		Provider:   "anthropic",
		Method:     "POST",
		Path:       "/v1/messages",
		Agent:      "reviewer",
		Model:      "claude-sonnet-4",
		StatusCode: 200,
		StartedAt:  baseTime,
		EndedAt:    baseTime.Add(time.Second),
		Summary:    usage.Summary{RequestID: "req-1", InputTokens: 12, OutputTokens: 34, CostUSD: 0.5},
	}

	if err := f.recorder.handle(context.Background(), usage.Event{Type: usage.TypePayload, Data: encode(t, payload)}); err != nil {
		t.Fatalf("handle() error = %v", err)
	}

	got, _ := f.storage.Query(context.Background(), &Query{})
	if len(got) != 1 {
		t.Fatalf("stored %d records, want 1", len(got))
	}
	r := got[0]
	if r.ID == "" || r.RequestID != "req-1" || r.Agent != "reviewer" {
		t.Errorf("unexpected record %+v", r)
	}
	if r.InputTokens != 12 || r.OutputTokens != 34 || r.CostUSD != 0.5 {
		t.Errorf("usage not copied from summary: %+v", r)
	}
	if r.RecordedAt.IsZero() {
		t.Error("RecordedAt not set")
	}
}

func TestRecorder_Summary(t *testing.T) {
	f := newRecorderFixture(t)
	summary := usage.Summary{
		RequestID:    "req-1",
		Account:      "work",
		Model:        "claude-sonnet-4",
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      0.25,
	}

	for i := 0; i < 2; i++ {
		if err := f.recorder.handle(context.Background(), usage.Event{Type: usage.TypeSummary, Data: encode(t, summary)}); err != nil {
			t.Fatalf("handle() error = %v", err)
		}
	}

	acct, err := f.accounts.GetByName(context.Background(), "work")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if acct.InputTokens != 200 || acct.OutputTokens != 100 || acct.CostUSD != 0.5 {
		t.Errorf("account totals = %d/%d/%v, want 200/100/0.5", acct.InputTokens, acct.OutputTokens, acct.CostUSD)
	}

	input := `
# HELP test_usage_tokens_total Tokens consumed by account, model and kind
# TYPE test_usage_tokens_total counter
test_usage_tokens_total{account="work",kind="cache_creation",model="claude-sonnet-4"} 0
test_usage_tokens_total{account="work",kind="cache_read",model="claude-sonnet-4"} 0
test_usage_tokens_total{account="work",kind="input",model="claude-sonnet-4"} 200
test_usage_tokens_total{account="work",kind="output",model="claude-sonnet-4"} 100
`
	if err := testutil.GatherAndCompare(f.registry, strings.NewReader(input), "test_usage_tokens_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestRecorder_SummaryWithoutKnownAccount(t *testing.T) {
	f := newRecorderFixture(t)
	tests := []struct {
		name    string
		summary usage.Summary
	}{
		{name: "unauthenticated", summary: usage.Summary{Model: "m", InputTokens: 3}},
		{name: "deleted account", summary: usage.Summary{Account: "gone", Model: "m", InputTokens: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.recorder.handle(context.Background(), usage.Event{Type: usage.TypeSummary, Data: encode(t, tt.summary)}); err != nil {
				t.Fatalf("handle() error = %v", err)
			}
		})
	}

	acct, _ := f.accounts.GetByName(context.Background(), "work")
	if acct.InputTokens != 0 {
		t.Errorf("unrelated account updated: %d input tokens", acct.InputTokens)
	}
}

func TestRecorder_MalformedEvent(t *testing.T) {
	f := newRecorderFixture(t)
	if err := f.recorder.handle(context.Background(), usage.Event{Type: usage.TypePayload, Data: json.RawMessage(`{`)}); err == nil {
		t.Error("expected decode error for malformed payload")
	}
	if err := f.recorder.handle(context.Background(), usage.Event{Type: "other", Data: json.RawMessage(`{`)}); err != nil {
		t.Errorf("unknown event type should be ignored, got %v", err)
	}
}

func TestRecorder_NilStorageSkipsPayloads(t *testing.T) {
	f := newRecorderFixture(t)
	f.recorder.cfg.Storage = nil
	if err := f.recorder.handle(context.Background(), usage.Event{Type: usage.TypePayload, Data: json.RawMessage(`{`)}); err != nil {
		t.Errorf("handle() error = %v, want nil without storage", err)
	}
}

func TestRecorder_StartStop(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()
	f.recorder.Start(ctx)
	f.recorder.Start(ctx)

	payload := usage.Payload{RequestID: "req-bus", Provider: "anthropic", Method: "POST", Path: "/v1/messages", StatusCode: 200, StartedAt: baseTime}
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.bus.Publish(usage.Event{Type: usage.TypePayload, Data: encode(t, payload)})
		n, _ := f.storage.Count(ctx, &Query{})
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("payload published on the bus was never stored")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.recorder.Stop()
	f.recorder.Stop()

	if delivered := f.bus.Publish(usage.Event{Type: usage.TypePayload, Data: encode(t, payload)}); delivered != 0 {
		t.Errorf("Publish() after Stop delivered to %d subscribers, want 0", delivered)
	}
}
