package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/providers/anthropic"
)

func newTestCoordinator(t *testing.T, sel AccountSelector, up UpstreamProxy, ic Interceptor, maxBody int64) *Coordinator {
	t.Helper()
	p, err := anthropic.NewProvider(config.ProviderConfig{BaseURL: "https://upstream.test"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	c, err := NewCoordinator(CoordinatorConfig{
		Provider:     p,
		Selector:     sel,
		Upstream:     up,
		Interceptor:  ic,
		MaxBodyBytes: maxBody,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return c
}

func TestNewCoordinator_RequiresCollaborators(t *testing.T) {
	if _, err := NewCoordinator(CoordinatorConfig{}); err == nil {
		t.Error("expected error without provider")
	}
}

func TestCoordinator_InvalidPath(t *testing.T) {
	sel := &fakeSelector{candidates: apiKeyAccounts("a")}
	up := &fakeUpstream{}
	c := newTestCoordinator(t, sel, up, nil, 0)

	r := httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader("{}"))
	_, err := c.Handle(context.Background(), r)

	var pathErr *providers.PathValidationError
	if !errors.As(err, &pathErr) {
		t.Fatalf("Handle() error = %v, want *PathValidationError", err)
	}
	if sel.calls != 0 || len(up.accounts) != 0 || up.unauthCalls != 0 {
		t.Error("invalid path must short-circuit before selection and forwarding")
	}
}

func TestCoordinator_EmptyCandidatesFallsBackOnce(t *testing.T) {
	body := `{"model":"claude-sonnet-4"}`
	sel := &fakeSelector{}
	up := &fakeUpstream{unauth: fakeResult{resp: taggedResponse("unauth")}}
	c := newTestCoordinator(t, sel, up, nil, 0)

	r := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	resp, err := c.Handle(context.Background(), r)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Header.Get("X-Tag") != "unauth" {
		t.Error("expected the unauthenticated response")
	}
	if up.unauthCalls != 1 {
		t.Errorf("unauthenticated calls = %d, want 1", up.unauthCalls)
	}
	if len(up.accounts) != 0 {
		t.Errorf("account attempts = %d, want 0", len(up.accounts))
	}
	if string(up.unauthBody) != body {
		t.Errorf("fallback read %q, want %q", up.unauthBody, body)
	}
}

func TestCoordinator_UnauthenticatedErrorPropagates(t *testing.T) {
	perr := &providers.ProviderError{Provider: "anthropic", Message: "down"}
	up := &fakeUpstream{unauth: fakeResult{err: perr}}
	c := newTestCoordinator(t, &fakeSelector{}, up, nil, 0)

	_, err := c.Handle(context.Background(), httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if err != perr {
		t.Errorf("Handle() error = %v, want the provider error unchanged", err)
	}
}

func TestCoordinator_InterceptedBodyUsedForEveryAttempt(t *testing.T) {
	original := `{"model":"claude-opus-4","system":"You are a code reviewer"}`
	rewritten := `{"model":"claude-haiku-4","system":"You are a code reviewer"}`

	sel := &fakeSelector{candidates: apiKeyAccounts("a", "b", "c")}
	up := &fakeUpstream{results: []fakeResult{{}, {}, {resp: taggedResponse("c")}}}
	ic := &fakeInterceptor{result: &InterceptResult{
		Body:          []byte(rewritten),
		Agent:         "reviewer",
		OriginalModel: "claude-opus-4",
		Model:         "claude-haiku-4",
	}}
	c := newTestCoordinator(t, sel, up, ic, 0)

	r := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(original))
	if _, err := c.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if sel.seenAgent != "reviewer" {
		t.Errorf("AgentUsed at selection = %q, want reviewer", sel.seenAgent)
	}
	if len(up.bodies) != 3 {
		t.Fatalf("attempts = %d, want 3", len(up.bodies))
	}
	for i, b := range up.bodies {
		if string(b) != rewritten {
			t.Errorf("attempt %d read %q, want the intercepted body", i, b)
		}
	}
}

func TestCoordinator_InterceptedBodyUsedForFallback(t *testing.T) {
	rewritten := `{"model":"claude-haiku-4"}`
	up := &fakeUpstream{unauth: fakeResult{resp: taggedResponse("unauth")}}
	ic := &fakeInterceptor{result: &InterceptResult{Body: []byte(rewritten), Model: "claude-haiku-4"}}
	c := newTestCoordinator(t, &fakeSelector{}, up, ic, 0)

	r := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"x"}`))
	if _, err := c.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if string(up.unauthBody) != rewritten {
		t.Errorf("fallback read %q", up.unauthBody)
	}
}

func TestCoordinator_CollaboratorErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")

	t.Run("interceptor", func(t *testing.T) {
		sel := &fakeSelector{candidates: apiKeyAccounts("a")}
		c := newTestCoordinator(t, sel, &fakeUpstream{}, &fakeInterceptor{err: boom}, 0)
		_, err := c.Handle(context.Background(), httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("{}")))
		if err != boom {
			t.Errorf("error = %v, want boom", err)
		}
		if sel.calls != 0 {
			t.Error("selection should not run after an interception error")
		}
	})

	t.Run("selector", func(t *testing.T) {
		up := &fakeUpstream{}
		c := newTestCoordinator(t, &fakeSelector{err: boom}, up, nil, 0)
		_, err := c.Handle(context.Background(), httptest.NewRequest(http.MethodPost, "/v1/messages", nil))
		if err != boom {
			t.Errorf("error = %v, want boom", err)
		}
		if up.unauthCalls != 0 || len(up.accounts) != 0 {
			t.Error("nothing should be forwarded after a selection error")
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		up := &fakeUpstream{results: []fakeResult{{err: context.Canceled}}}
		c := newTestCoordinator(t, &fakeSelector{candidates: apiKeyAccounts("a", "b")}, up, nil, 0)
		_, err := c.Handle(context.Background(), httptest.NewRequest(http.MethodPost, "/v1/messages", nil))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
		if len(up.accounts) != 1 {
			t.Errorf("attempts = %d, want 1", len(up.accounts))
		}
	})
}

func TestCoordinator_Exhaustion(t *testing.T) {
	c := newTestCoordinator(t, &fakeSelector{candidates: apiKeyAccounts("a", "b")}, &fakeUpstream{}, nil, 0)

	_, err := c.Handle(context.Background(), httptest.NewRequest(http.MethodPost, "/v1/messages", nil))
	var unavailable *ServiceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Handle() error = %v, want *ServiceUnavailableError", err)
	}
}

func TestCoordinator_BodyTooLarge(t *testing.T) {
	up := &fakeUpstream{}
	c := newTestCoordinator(t, &fakeSelector{}, up, nil, 8)

	r := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"too long"}`))
	_, err := c.Handle(context.Background(), r)

	var tooLarge *RequestTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("Handle() error = %v, want *RequestTooLargeError", err)
	}
	if up.unauthCalls != 0 {
		t.Error("oversized body must not be forwarded")
	}
}

func TestCoordinator_TracksClientVersion(t *testing.T) {
	resetClientVersion()
	defer resetClientVersion()

	c := newTestCoordinator(t, &fakeSelector{}, &fakeUpstream{unauth: fakeResult{resp: taggedResponse("x")}}, nil, 0)
	r := httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.Header.Set("User-Agent", "claude-cli/1.0.83 (external, cli)")

	_, _ = c.Handle(context.Background(), r)

	if got := ClientVersion(); got != "claude-cli/1.0.83" {
		t.Errorf("ClientVersion() = %q; tracking must happen before path validation", got)
	}
}

var _ AccountSelector = (*fakeSelector)(nil)
var _ UpstreamProxy = (*Forwarder)(nil)
var _ Interceptor = (*AgentInterceptor)(nil)
