package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory. It is used by tests and by the
// relay when no accounts database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	agents   map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		agents:   make(map[string]string),
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetByName(ctx context.Context, name string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.byName(name)
	if a == nil {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, account *Account) error {
	if err := validate(account); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byName(account.Name) != nil {
		return ErrDuplicateName
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.byName(name)
	if a == nil {
		return ErrNotFound
	}
	delete(s.accounts, a.ID)
	return nil
}

func (s *MemoryStore) SetPaused(ctx context.Context, name string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.byName(name)
	if a == nil {
		return ErrNotFound
	}
	a.Paused = paused
	return nil
}

func (s *MemoryStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.update(id, func(a *Account) {
		a.AccessToken = accessToken
		if refreshToken != "" {
			a.RefreshToken = refreshToken
		}
		a.ExpiresAt = expiresAt
		a.LastAuthFailure = time.Time{}
	})
}

func (s *MemoryStore) MarkRateLimited(ctx context.Context, id string, until time.Time) error {
	return s.update(id, func(a *Account) { a.RateLimitedUntil = until })
}

func (s *MemoryStore) MarkAuthFailure(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) { a.LastAuthFailure = at })
}

func (s *MemoryStore) RecordUsage(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) {
		a.LastUsed = at
		a.RequestCount++
		a.TotalRequests++
	})
}

func (s *MemoryStore) StartSession(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) {
		a.SessionStart = at
		a.RequestCount = 0
	})
}

func (s *MemoryStore) AddUsageStats(ctx context.Context, id string, delta UsageDelta) error {
	return s.update(id, func(a *Account) {
		a.InputTokens += delta.InputTokens
		a.OutputTokens += delta.OutputTokens
		a.CostUSD += delta.CostUSD
	})
}

func (s *MemoryStore) SetAgentModel(ctx context.Context, agent, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if model == "" {
		delete(s.agents, agent)
		return nil
	}
	s.agents[agent] = model
	return nil
}

func (s *MemoryStore) GetAgentModel(ctx context.Context, agent string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	model, ok := s.agents[agent]
	return model, ok, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) byName(name string) *Account {
	for _, a := range s.accounts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (s *MemoryStore) update(id string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	return nil
}
