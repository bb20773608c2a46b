package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/pkg/history"
)

func seedHistory(t *testing.T, store history.Storage, now time.Time) {
	t.Helper()
	records := []*history.RequestRecord{
		{ID: "1", RequestID: "req-1", Account: "work", Model: "claude-sonnet-4", StatusCode: 200, InputTokens: 10, OutputTokens: 5, StartedAt: now.Add(-3 * time.Hour)},
		{ID: "2", RequestID: "req-2", Account: "work", Model: "claude-opus-4", StatusCode: 529, StartedAt: now.Add(-30 * time.Minute)},
		{ID: "3", RequestID: "req-3", Account: "ci", Agent: "reviewer", Model: "claude-sonnet-4", StatusCode: 200, StartedAt: now.Add(-10 * time.Minute)},
	}
	for _, r := range records {
		r.RecordedAt = r.StartedAt
		if err := store.Store(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHistoryQuery(t *testing.T) {
	_, hist := useMemoryStores(t)
	seedHistory(t, hist, time.Now())

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "all newest first", args: nil, want: []string{"req-3", "req-2", "req-1"}},
		{name: "since", args: []string{"--since", "1h"}, want: []string{"req-3", "req-2"}},
		{name: "account", args: []string{"--account", "work"}, want: []string{"req-2", "req-1"}},
		{name: "errors", args: []string{"--status", "ERROR"}, want: []string{"req-2"}},
		{name: "agent", args: []string{"--agent", "reviewer"}, want: []string{"req-3"}},
		{name: "paginated", args: []string{"--limit", "1", "--offset", "1"}, want: []string{"req-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"history", "query", "-o", "json"}, tt.args...)
			out, err := executeCommand(t, "", args...)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			var records []history.RequestRecord
			if err := json.Unmarshal([]byte(out), &records); err != nil {
				t.Fatalf("invalid JSON: %v\n%s", err, out)
			}
			var got []string
			for _, r := range records {
				got = append(got, r.RequestID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("request IDs = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHistoryQuery_Text(t *testing.T) {
	_, hist := useMemoryStores(t)

	out, err := executeCommand(t, "", "history", "query")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(out, "No records found.") {
		t.Errorf("empty output = %q", out)
	}

	seedHistory(t, hist, time.Now())
	out, err = executeCommand(t, "", "history", "query", "--account", "ci")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, want := range []string{"STARTED", "ci", "reviewer", "req-3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryQuery_InvalidFlags(t *testing.T) {
	useMemoryStores(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad since", []string{"--since", "yesterday"}},
		{"bad status", []string{"--status", "maybe"}},
		{"negative limit", []string{"--limit", "-1"}},
		{"bad output", []string{"-o", "yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"history", "query"}, tt.args...)
			if _, err := executeCommand(t, "", args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestHistoryPrune(t *testing.T) {
	_, hist := useMemoryStores(t)
	now := time.Now()
	seedHistory(t, hist, now)
	old := &history.RequestRecord{ID: "old", RequestID: "req-old", StartedAt: now.AddDate(0, 0, -90), RecordedAt: now.AddDate(0, 0, -90)}
	if err := hist.Store(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand(t, "", "history", "prune")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 1 records") {
		t.Errorf("output = %q", out)
	}
	n, err := hist.Count(context.Background(), &history.Query{})
	if err != nil || n != 3 {
		t.Errorf("Count() = %d, %v; want 3", n, err)
	}
}

func TestParseTimeFlag(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    *time.Time
		wantErr bool
	}{
		{value: ""},
		{value: "2h", want: ptrTime(now.Add(-2 * time.Hour))},
		{value: "2025-05-31T00:00:00Z", want: ptrTime(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC))},
		{value: "-1h", wantErr: true},
		{value: "last week", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseTimeFlag("since", tt.value, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("got %v, want nil", got)
			case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
