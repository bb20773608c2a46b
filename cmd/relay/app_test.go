package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/internal/upstream"
	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/history"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApp_EndToEnd(t *testing.T) {
	store, hist := useMemoryStores(t)
	ctx := context.Background()

	mock := upstream.NewMockServer()
	defer mock.Close()
	mock.SetCredentialResponse("sk-work", upstream.MockResponse{
		Body: upstream.MessagesResponse("hello", "claude-sonnet-4-20250514", 10, 5),
	})

	if err := store.Create(ctx, &accounts.Account{Name: "work", APIKey: "sk-work"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.NewDefaultConfig()
	cfg.Proxy.ListenAddress = "127.0.0.1:0"
	cfg.Provider.BaseURL = mock.URL()
	cfg.Worker.ShutdownDelay = time.Second

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.start(runCtx) }()

	waitFor(t, "listener", func() bool { return a.server.Addr() != nil })
	base := "http://" + a.server.Addr().String()

	resp, err := http.Post(base+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"claude-sonnet-4","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("proxy request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "hello") {
		t.Fatalf("proxy response = %d %s", resp.StatusCode, body)
	}
	if got := mock.Requests()[0].Credential; got != "sk-work" {
		t.Errorf("upstream credential = %q, want sk-work", got)
	}

	waitFor(t, "history record", func() bool {
		n, _ := hist.Count(ctx, &history.Query{})
		return n == 1
	})
	records, err := hist.Query(ctx, &history.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if r := records[0]; r.Account != "work" || r.InputTokens != 10 || r.OutputTokens != 5 || r.StatusCode != 200 {
		t.Errorf("record = %+v", r)
	}

	waitFor(t, "account usage", func() bool {
		acct, err := store.GetByName(ctx, "work")
		return err == nil && acct.InputTokens == 10 && acct.OutputTokens == 5
	})

	for _, path := range []string{"/health", "/ready", "/metrics", "/api/accounts", "/api/requests"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("start returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewApp_InvalidWorkerMode(t *testing.T) {
	useMemoryStores(t)

	cfg := config.NewDefaultConfig()
	cfg.Worker.Mode = "thread"
	if _, err := newApp(cfg); err == nil || !strings.Contains(err.Error(), "unsupported worker mode") {
		t.Errorf("newApp error = %v", err)
	}
}

func TestOpenHistoryStorage(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.HistoryConfig
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", cfg: config.HistoryConfig{Enabled: false, Backend: "sqlite"}, wantNil: true},
		{name: "memory", cfg: config.HistoryConfig{Enabled: true, Backend: "memory"}},
		{name: "sqlite", cfg: config.HistoryConfig{Enabled: true, Backend: "sqlite", Path: t.TempDir() + "/history.db"}},
		{name: "unknown", cfg: config.HistoryConfig{Enabled: true, Backend: "postgres"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openHistoryStorage(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (store == nil) != (tt.wantNil || tt.wantErr) {
				t.Fatalf("store = %v", store)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}
