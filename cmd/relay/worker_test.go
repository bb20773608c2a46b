package main

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/usage"
)

func wireLines(t *testing.T, msgs ...usage.Message) string {
	t.Helper()
	var b strings.Builder
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		b.Write(raw)
		b.WriteByte('\n')
	}
	return b.String()
}

func TestWorkerCommand(t *testing.T) {
	started := time.Unix(1000, 0).UTC()
	body := `{"model":"claude-sonnet-4-20250514","usage":{"input_tokens":12,"output_tokens":3}}`
	stdin := wireLines(t,
		usage.Message{Type: usage.TypeStart, RequestID: "r1", Start: &usage.StartInfo{
			Account: "work", Provider: "anthropic", Method: "POST", Path: "/v1/messages",
			StatusCode: 200, ContentType: "application/json", StartedAt: started,
		}},
		usage.Message{Type: usage.TypeChunk, RequestID: "r1", Data: []byte(body)},
		usage.Message{Type: usage.TypeEnd, RequestID: "r1", End: &usage.EndInfo{EndedAt: started.Add(time.Second)}},
		usage.ShutdownMessage(),
	)

	out, err := executeCommand(t, stdin, "worker", "--log-level", "error")
	if err != nil {
		t.Fatalf("worker: %v", err)
	}

	var summary usage.Summary
	var sawPayload bool
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		msg, ok, err := usage.DecodeMessage(scanner.Bytes())
		if err != nil || !ok {
			t.Fatalf("unexpected output line %q: %v", scanner.Text(), err)
		}
		switch msg.Type {
		case usage.TypeSummary:
			if err := json.Unmarshal(msg.Summary, &summary); err != nil {
				t.Fatal(err)
			}
		case usage.TypePayload:
			sawPayload = true
		}
	}

	if summary.RequestID != "r1" || summary.InputTokens != 12 || summary.OutputTokens != 3 {
		t.Errorf("summary = %+v", summary)
	}
	if !sawPayload {
		t.Error("no payload emitted")
	}
}

func TestWorkerSource(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.WorkerConfig
		wantMode string
		wantErr  bool
	}{
		{name: "inprocess", cfg: config.WorkerConfig{Mode: "inprocess", MaxCaptureBytes: 1024}, wantMode: "inprocess"},
		{name: "subprocess", cfg: config.WorkerConfig{Mode: "subprocess", MaxCaptureBytes: 1024}, wantMode: "subprocess"},
		{name: "unknown", cfg: config.WorkerConfig{Mode: "thread"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := workerSource(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && src.Mode() != tt.wantMode {
				t.Errorf("Mode() = %q, want %q", src.Mode(), tt.wantMode)
			}
		})
	}

	src, _ := workerSource(&config.WorkerConfig{Mode: "subprocess", MaxCaptureBytes: 2048})
	sp := src.(*usage.SubprocessSource)
	if strings.Join(sp.Args, " ") != "worker --max-capture 2048" {
		t.Errorf("Args = %v", sp.Args)
	}
}
