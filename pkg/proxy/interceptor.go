package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"mercator-hq/relay/pkg/config"
)

// InterceptResult describes what interception did to a request.
type InterceptResult struct {
	// Body is the rewritten request body, or nil when the body is unchanged.
	Body []byte

	// Agent is the detected agent name, empty when no rule matched.
	Agent string

	// OriginalModel is the model the client requested.
	OriginalModel string

	// Model is the model forwarded upstream.
	Model string
}

// ModelChanged reports whether interception rewrote the model.
func (r *InterceptResult) ModelChanged() bool {
	return r != nil && r.Body != nil && r.Model != r.OriginalModel
}

// Interceptor inspects a buffered request before account selection and may
// replace its body.
type Interceptor interface {
	InterceptAndModifyRequest(ctx context.Context, body *BufferedBody) (*InterceptResult, error)
}

// AgentPreferences supplies per-agent model overrides.
// accounts.Store satisfies it.
type AgentPreferences interface {
	GetAgentModel(ctx context.Context, agent string) (string, bool, error)
}

type agentRule struct {
	name  string
	match *regexp.Regexp
	model string
}

// AgentInterceptor detects agents by matching rules against the system
// prompt and pins each agent to a model. A stored preference for the agent
// overrides the rule's model.
type AgentInterceptor struct {
	mu    sync.RWMutex
	rules []agentRule

	prefs  AgentPreferences
	logger *slog.Logger
}

// NewAgentInterceptor compiles rules. prefs may be nil.
func NewAgentInterceptor(rules []config.AgentRule, prefs AgentPreferences) (*AgentInterceptor, error) {
	i := &AgentInterceptor{
		prefs:  prefs,
		logger: slog.Default().With("component", "proxy.interceptor"),
	}
	if err := i.SetRules(rules); err != nil {
		return nil, err
	}
	return i, nil
}

// SetRules replaces the rule set. On error the current rules are kept.
func (i *AgentInterceptor) SetRules(rules []config.AgentRule) error {
	compiled := make([]agentRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return fmt.Errorf("agent %q: invalid match pattern: %w", r.Name, err)
		}
		compiled = append(compiled, agentRule{name: r.Name, match: re, model: r.Model})
	}

	i.mu.Lock()
	i.rules = compiled
	i.mu.Unlock()
	return nil
}

// WatchConfig re-reads agent rules after every configuration reload.
func (i *AgentInterceptor) WatchConfig() {
	config.OnReload(func(cfg *config.Config) {
		if err := i.SetRules(cfg.Agents); err != nil {
			i.logger.Error("failed to apply reloaded agent rules", "error", err)
			return
		}
		i.logger.Info("agent rules reloaded", "rules", len(cfg.Agents))
	})
}

// InterceptAndModifyRequest detects the agent that sent body and rewrites the
// requested model when the agent is pinned to a different one. Bodies that
// are not JSON objects pass through untouched.
func (i *AgentInterceptor) InterceptAndModifyRequest(ctx context.Context, body *BufferedBody) (*InterceptResult, error) {
	raw := body.Bytes()
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return &InterceptResult{}, nil
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return &InterceptResult{}, nil
	}

	model := parsed.Get("model").String()
	result := &InterceptResult{OriginalModel: model, Model: model}

	rule, ok := i.match(systemPrompt(parsed.Get("system")))
	if !ok {
		return result, nil
	}
	result.Agent = rule.name

	target := rule.model
	if i.prefs != nil {
		pref, found, err := i.prefs.GetAgentModel(ctx, rule.name)
		if err != nil {
			return nil, fmt.Errorf("failed to load model preference for agent %q: %w", rule.name, err)
		}
		if found {
			target = pref
		}
	}
	if target == "" || target == model {
		return result, nil
	}

	rewritten, err := sjson.SetBytes(append([]byte(nil), raw...), "model", target)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite model: %w", err)
	}
	result.Body = rewritten
	result.Model = target
	return result, nil
}

func (i *AgentInterceptor) match(system string) (agentRule, bool) {
	if system == "" {
		return agentRule{}, false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, r := range i.rules {
		if r.match.MatchString(system) {
			return r, true
		}
	}
	return agentRule{}, false
}

// systemPrompt flattens the system field, which is either a string or an
// array of text blocks.
func systemPrompt(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	var parts []string
	v.ForEach(func(_, block gjson.Result) bool {
		if t := block.Get("text"); t.Exists() {
			parts = append(parts, t.String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}
