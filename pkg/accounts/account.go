package accounts

import (
	"context"
	"time"
)

// Account is one upstream credential identity.
//
// An account authenticates either with a static API key or with an OAuth
// token pair. The presence of a refresh token makes the account OAuth-capable.
type Account struct {
	// ID is a stable UUID assigned on creation.
	ID string `json:"id"`

	// Name is the unique, human-chosen label used in logs and CLI commands.
	Name string `json:"name"`

	// Provider is the upstream provider name ("anthropic").
	Provider string `json:"provider"`

	APIKey       string `json:"-"`
	RefreshToken string `json:"-"`
	AccessToken  string `json:"-"`

	// ExpiresAt is the access token expiry. Zero when unknown or not OAuth.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// LastUsed is the time of the last request the account served
	// successfully.
	LastUsed time.Time `json:"last_used,omitempty"`

	// LastAuthFailure is the time the upstream or the token endpoint last
	// rejected the account's credentials.
	LastAuthFailure time.Time `json:"last_auth_failure,omitempty"`

	// RequestCount counts requests served in the current session window.
	RequestCount int64 `json:"request_count"`

	// TotalRequests counts every request the account has served.
	TotalRequests int64 `json:"total_requests"`

	// Priority orders accounts; lower values are tried first.
	Priority int `json:"priority"`

	// Paused accounts are never selected.
	Paused bool `json:"paused"`

	// RateLimitedUntil excludes the account from selection until it passes.
	RateLimitedUntil time.Time `json:"rate_limited_until,omitempty"`

	// SessionStart marks the beginning of the account's current session
	// window under the session selection strategy.
	SessionStart time.Time `json:"session_start,omitempty"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// IsOAuth reports whether the account holds a refresh token.
func (a *Account) IsOAuth() bool {
	return a.RefreshToken != ""
}

// IsRateLimited reports whether the account is in a rate-limit cooldown at
// now.
func (a *Account) IsRateLimited(now time.Time) bool {
	return !a.RateLimitedUntil.IsZero() && now.Before(a.RateLimitedUntil)
}

// AccessTokenValid reports whether the OAuth access token can be used at now.
// A small skew margin treats tokens about to expire as expired.
func (a *Account) AccessTokenValid(now time.Time) bool {
	if a.AccessToken == "" {
		return false
	}
	if a.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(30 * time.Second).Before(a.ExpiresAt)
}

// Clone returns a copy of a.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// UsageDelta is the usage of one request, added to an account's totals.
type UsageDelta struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Store persists accounts and per-agent model preferences.
//
// Implementations return copies; mutating a returned Account has no effect on
// the store.
type Store interface {
	// List returns all accounts ordered by priority, then creation time.
	List(ctx context.Context) ([]*Account, error)

	// Get returns the account with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Account, error)

	// GetByName returns the account with the given name or ErrNotFound.
	GetByName(ctx context.Context, name string) (*Account, error)

	// Create inserts a new account, assigning ID and CreatedAt when empty.
	// A duplicate name returns ErrDuplicateName.
	Create(ctx context.Context, account *Account) error

	// Delete removes the account with the given name.
	Delete(ctx context.Context, name string) error

	// SetPaused pauses or resumes the account with the given name.
	SetPaused(ctx context.Context, name string, paused bool) error

	// UpdateTokens stores a new token set and clears any recorded auth
	// failure. An empty refresh token keeps the current one.
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error

	// MarkRateLimited excludes the account from selection until until.
	MarkRateLimited(ctx context.Context, id string, until time.Time) error

	// MarkAuthFailure records a credential rejection at at.
	MarkAuthFailure(ctx context.Context, id string, at time.Time) error

	// RecordUsage records a successfully served request at at.
	RecordUsage(ctx context.Context, id string, at time.Time) error

	// StartSession begins a new session window for the account at at and
	// resets its session request count.
	StartSession(ctx context.Context, id string, at time.Time) error

	// AddUsageStats adds token and cost totals to the account.
	AddUsageStats(ctx context.Context, id string, delta UsageDelta) error

	// SetAgentModel stores the preferred model for an agent. An empty model
	// removes the preference.
	SetAgentModel(ctx context.Context, agent, model string) error

	// GetAgentModel returns the preferred model for an agent.
	GetAgentModel(ctx context.Context, agent string) (string, bool, error)

	// Close releases resources held by the store.
	Close() error
}
