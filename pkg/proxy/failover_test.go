package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/internal/upstream"
	"mercator-hq/relay/pkg/accounts"
)

func runOrchestrator(t *testing.T, up *fakeUpstream, candidates []*accounts.Account, body string) (*http.Response, error) {
	t.Helper()
	o := NewOrchestrator("anthropic", up, nil, accounts.ExpiryPolicy{}, nil)
	r := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	target, _ := url.Parse("https://api.anthropic.com/v1/messages")
	meta := CreateRequestMetadata(r, target)
	return o.Run(context.Background(), r, target, candidates, meta, NewBufferedBody([]byte(body)))
}

func TestOrchestrator_KthSuccess(t *testing.T) {
	for k := 1; k <= 4; k++ {
		t.Run(strconv.Itoa(k), func(t *testing.T) {
			candidates := apiKeyAccounts("a", "b", "c", "d")
			results := make([]fakeResult, k)
			results[k-1] = fakeResult{resp: taggedResponse("acct-" + candidates[k-1].Name)}
			up := &fakeUpstream{results: results}

			resp, err := runOrchestrator(t, up, candidates, `{"model":"m"}`)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := resp.Header.Get("X-Tag"); got != "acct-"+candidates[k-1].Name {
				t.Errorf("response from %q, want account %d", got, k)
			}
			if len(up.accounts) != k {
				t.Fatalf("calls = %d, want %d", len(up.accounts), k)
			}
			for i := 0; i < k; i++ {
				if up.accounts[i] != candidates[i].Name {
					t.Errorf("call %d used %q, want %q", i, up.accounts[i], candidates[i].Name)
				}
				if up.attempts[i] != i {
					t.Errorf("call %d attempt index = %d", i, up.attempts[i])
				}
			}
		})
	}
}

func TestOrchestrator_EveryAttemptReadsSameBytes(t *testing.T) {
	body := `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`
	up := &fakeUpstream{}

	_, err := runOrchestrator(t, up, apiKeyAccounts("a", "b", "c"), body)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if len(up.bodies) != 3 {
		t.Fatalf("attempts = %d, want 3", len(up.bodies))
	}
	for i, b := range up.bodies {
		if string(b) != body {
			t.Errorf("attempt %d read %q, want %q", i, b, body)
		}
	}
}

func TestOrchestrator_ErrorStopsFailover(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		err  error
	}{
		{"collaborator error", boom},
		{"context canceled", context.Canceled},
		{"deadline", context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{results: []fakeResult{{}, {err: tt.err}}}

			_, err := runOrchestrator(t, up, apiKeyAccounts("a", "b", "c"), "")
			if err != tt.err {
				t.Fatalf("Run() error = %v, want %v unchanged", err, tt.err)
			}
			if len(up.accounts) != 2 {
				t.Errorf("calls = %d, want 2", len(up.accounts))
			}
		})
	}
}

func TestOrchestrator_ExhaustionReportsCount(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			names := make([]string, n)
			for i := range names {
				names[i] = "acct" + strconv.Itoa(i)
			}
			up := &fakeUpstream{}

			_, err := runOrchestrator(t, up, apiKeyAccounts(names...), "")
			var unavailable *ServiceUnavailableError
			if !errors.As(err, &unavailable) {
				t.Fatalf("Run() error = %v, want *ServiceUnavailableError", err)
			}
			if unavailable.Provider != "anthropic" {
				t.Errorf("Provider = %q", unavailable.Provider)
			}
			if !containsWord(unavailable.Message, strconv.Itoa(n)) {
				t.Errorf("message %q does not report %d accounts", unavailable.Message, n)
			}
		})
	}
}

func TestOrchestrator_ClassifiesRejectionsFromThisRequest(t *testing.T) {
	f := newForwardFixture(t)
	f.server.SetResponse("/v1/oauth/token", upstream.ErrorResponse(http.StatusUnauthorized, "authentication_error", "refresh token revoked"))
	ctx := context.Background()

	for _, name := range []string{"work", "personal"} {
		f.account(t, &accounts.Account{
			Name:         name,
			RefreshToken: "rt-" + name,
			ExpiresAt:    f.now.Add(-time.Minute),
		})
	}
	candidates, err := f.store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range candidates {
		if !c.LastAuthFailure.IsZero() {
			t.Fatalf("account %s starts with an auth failure", c.Name)
		}
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	target, _ := url.Parse(f.server.URL() + "/v1/messages")
	meta := CreateRequestMetadata(r, target)
	body := NewBufferedBody([]byte(`{"model":"m"}`))

	tests := []struct {
		name        string
		lookup      AccountLookup
		wantExpired int
	}{
		{name: "stored state", lookup: f.store, wantExpired: 2},
		{name: "selected state only", lookup: nil, wantExpired: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator("anthropic", f.fwd, tt.lookup, accounts.ExpiryPolicy{}, nil)
			_, err := o.Run(ctx, r, target, candidates, meta, body)

			var unavailable *ServiceUnavailableError
			if !errors.As(err, &unavailable) {
				t.Fatalf("Run() error = %v, want *ServiceUnavailableError", err)
			}
			if len(unavailable.ExpiredAccounts) != tt.wantExpired {
				t.Fatalf("ExpiredAccounts = %v, want %d", unavailable.ExpiredAccounts, tt.wantExpired)
			}
			if got := strings.Count(err.Error(), "relay accounts reauth"); got != tt.wantExpired {
				t.Errorf("remediation lines = %d, want %d:\n%s", got, tt.wantExpired, err)
			}
		})
	}
}
