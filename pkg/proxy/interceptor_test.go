package proxy

import (
	"context"
	"errors"
	"testing"

	"github.com/tidwall/gjson"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
)

var testRules = []config.AgentRule{
	{Name: "reviewer", Match: `(?i)code reviewer`, Model: "claude-haiku-4"},
	{Name: "planner", Match: `You plan tasks`},
}

func TestAgentInterceptor(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantAgent   string
		wantModel   string
		wantChanged bool
	}{
		{
			name:        "string system prompt rewrites model",
			body:        `{"model":"claude-opus-4","system":"You are a Code Reviewer.","max_tokens":10}`,
			wantAgent:   "reviewer",
			wantModel:   "claude-haiku-4",
			wantChanged: true,
		},
		{
			name:        "block system prompt",
			body:        `{"model":"claude-opus-4","system":[{"type":"text","text":"Intro"},{"type":"text","text":"You are a code reviewer"}]}`,
			wantAgent:   "reviewer",
			wantModel:   "claude-haiku-4",
			wantChanged: true,
		},
		{
			name:      "agent already on pinned model",
			body:      `{"model":"claude-haiku-4","system":"code reviewer"}`,
			wantAgent: "reviewer",
			wantModel: "claude-haiku-4",
		},
		{
			name:      "agent without pinned model",
			body:      `{"model":"claude-sonnet-4","system":"You plan tasks"}`,
			wantAgent: "planner",
			wantModel: "claude-sonnet-4",
		},
		{
			name:      "no matching rule",
			body:      `{"model":"claude-sonnet-4","system":"hello"}`,
			wantModel: "claude-sonnet-4",
		},
		{
			name: "not json",
			body: `model=claude`,
		},
		{
			name: "empty body",
			body: ``,
		},
		{
			name: "json array",
			body: `["code reviewer"]`,
		},
	}

	ic, err := NewAgentInterceptor(testRules, nil)
	if err != nil {
		t.Fatalf("NewAgentInterceptor() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ic.InterceptAndModifyRequest(context.Background(), NewBufferedBody([]byte(tt.body)))
			if err != nil {
				t.Fatalf("InterceptAndModifyRequest() error = %v", err)
			}
			if res.Agent != tt.wantAgent {
				t.Errorf("Agent = %q, want %q", res.Agent, tt.wantAgent)
			}
			if res.Model != tt.wantModel {
				t.Errorf("Model = %q, want %q", res.Model, tt.wantModel)
			}
			if res.ModelChanged() != tt.wantChanged {
				t.Errorf("ModelChanged() = %v, want %v", res.ModelChanged(), tt.wantChanged)
			}
			if tt.wantChanged {
				if got := gjson.GetBytes(res.Body, "model").String(); got != tt.wantModel {
					t.Errorf("rewritten model = %q", got)
				}
				if gjson.GetBytes(res.Body, "system").Raw != gjson.Get(tt.body, "system").Raw {
					t.Error("rewrite must preserve the rest of the body")
				}
			} else if res.Body != nil {
				t.Errorf("Body = %q, want nil when unchanged", res.Body)
			}
		})
	}
}

func TestAgentInterceptor_DoesNotModifyBuffer(t *testing.T) {
	ic, _ := NewAgentInterceptor(testRules, nil)
	original := `{"model":"claude-opus-4","system":"code reviewer"}`
	body := NewBufferedBody([]byte(original))

	if _, err := ic.InterceptAndModifyRequest(context.Background(), body); err != nil {
		t.Fatal(err)
	}
	if string(body.Bytes()) != original {
		t.Errorf("buffer modified: %q", body.Bytes())
	}
}

func TestAgentInterceptor_PreferenceOverridesRule(t *testing.T) {
	store := accounts.NewMemoryStore()
	if err := store.SetAgentModel(context.Background(), "planner", "claude-opus-4"); err != nil {
		t.Fatal(err)
	}
	ic, _ := NewAgentInterceptor(testRules, store)

	res, err := ic.InterceptAndModifyRequest(context.Background(),
		NewBufferedBody([]byte(`{"model":"claude-sonnet-4","system":"You plan tasks"}`)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Model != "claude-opus-4" || res.OriginalModel != "claude-sonnet-4" {
		t.Errorf("Model = %q from %q", res.Model, res.OriginalModel)
	}
}

type failingPrefs struct{}

func (failingPrefs) GetAgentModel(ctx context.Context, agent string) (string, bool, error) {
	return "", false, errors.New("db locked")
}

func TestAgentInterceptor_PreferenceError(t *testing.T) {
	ic, _ := NewAgentInterceptor(testRules, failingPrefs{})
	_, err := ic.InterceptAndModifyRequest(context.Background(),
		NewBufferedBody([]byte(`{"model":"m","system":"code reviewer"}`)))
	if err == nil {
		t.Error("expected preference lookup error")
	}
}

func TestAgentInterceptor_SetRules(t *testing.T) {
	ic, _ := NewAgentInterceptor(nil, nil)
	body := NewBufferedBody([]byte(`{"model":"m","system":"code reviewer"}`))

	res, _ := ic.InterceptAndModifyRequest(context.Background(), body)
	if res.Agent != "" {
		t.Fatalf("Agent = %q with no rules", res.Agent)
	}

	if err := ic.SetRules([]config.AgentRule{{Name: "bad", Match: "("}}); err == nil {
		t.Error("expected invalid pattern error")
	}
	if err := ic.SetRules(testRules); err != nil {
		t.Fatalf("SetRules() error = %v", err)
	}
	res, _ = ic.InterceptAndModifyRequest(context.Background(), body)
	if res.Agent != "reviewer" {
		t.Errorf("Agent = %q after SetRules", res.Agent)
	}
}
