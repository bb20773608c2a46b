package selection

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/proxy"
)

// Strategy names accepted in configuration.
const (
	StrategySession    = "session"
	StrategyRoundRobin = "round-robin"
	StrategyPriority   = "priority"
	StrategySticky     = "sticky"
)

// Strategy orders the eligible accounts for a request.
//
// Implementations must be thread-safe. available is already filtered and in
// priority order; the returned slice holds the same accounts, most preferred
// first. Order must not reorder available itself.
type Strategy interface {
	Name() string
	Order(ctx context.Context, meta *proxy.RequestMetadata, available []*accounts.Account) ([]*accounts.Account, error)
}

// moveToFront returns a copy of list with list[i] first and the others in
// their original order.
func moveToFront(list []*accounts.Account, i int) []*accounts.Account {
	out := make([]*accounts.Account, 0, len(list))
	out = append(out, list[i])
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

// SessionStrategy keeps routing to one account for a session window, so that
// an account's usage limits are consumed one window at a time. When the
// window lapses, or the session account becomes unavailable, the first
// available account starts a new session.
type SessionStrategy struct {
	store    accounts.Store
	duration time.Duration
	now      func() time.Time
}

// NewSessionStrategy creates a session strategy.
func NewSessionStrategy(store accounts.Store, duration time.Duration) *SessionStrategy {
	return &SessionStrategy{store: store, duration: duration, now: time.Now}
}

func (s *SessionStrategy) Name() string { return StrategySession }

func (s *SessionStrategy) Order(ctx context.Context, meta *proxy.RequestMetadata, available []*accounts.Account) ([]*accounts.Account, error) {
	if len(available) == 0 {
		return nil, nil
	}
	now := s.now()

	active := -1
	for i, a := range available {
		if a.SessionStart.IsZero() || now.Sub(a.SessionStart) >= s.duration {
			continue
		}
		if active < 0 || a.SessionStart.After(available[active].SessionStart) {
			active = i
		}
	}
	if active >= 0 {
		return moveToFront(available, active), nil
	}

	first := available[0]
	if err := s.store.StartSession(ctx, first.ID, now); err != nil {
		return nil, fmt.Errorf("failed to start session for account %q: %w", first.Name, err)
	}
	first.SessionStart = now
	first.RequestCount = 0
	return moveToFront(available, 0), nil
}

// RoundRobinStrategy rotates the first account across requests.
type RoundRobinStrategy struct {
	counter atomic.Uint64
}

// NewRoundRobinStrategy creates a round-robin strategy.
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

func (s *RoundRobinStrategy) Name() string { return StrategyRoundRobin }

func (s *RoundRobinStrategy) Order(ctx context.Context, meta *proxy.RequestMetadata, available []*accounts.Account) ([]*accounts.Account, error) {
	n := len(available)
	if n == 0 {
		return nil, nil
	}
	start := int((s.counter.Add(1) - 1) % uint64(n))

	out := make([]*accounts.Account, 0, n)
	out = append(out, available[start:]...)
	return append(out, available[:start]...), nil
}

// PriorityStrategy orders by priority, breaking ties by least recent use.
type PriorityStrategy struct{}

func (PriorityStrategy) Name() string { return StrategyPriority }

func (PriorityStrategy) Order(ctx context.Context, meta *proxy.RequestMetadata, available []*accounts.Account) ([]*accounts.Account, error) {
	out := append([]*accounts.Account(nil), available...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].LastUsed.Before(out[j].LastUsed)
	})
	return out, nil
}

// StickyStrategy pins each client session to the account that first served
// it. Unpinned sessions, and sessions whose account is no longer available,
// are ordered by the fallback strategy and pinned to its first choice.
type StickyStrategy struct {
	cache    *StickyCache
	fallback Strategy
}

// NewStickyStrategy creates a sticky strategy over fallback.
func NewStickyStrategy(cache *StickyCache, fallback Strategy) *StickyStrategy {
	return &StickyStrategy{cache: cache, fallback: fallback}
}

func (s *StickyStrategy) Name() string { return StrategySticky }

func (s *StickyStrategy) Order(ctx context.Context, meta *proxy.RequestMetadata, available []*accounts.Account) ([]*accounts.Account, error) {
	if len(available) == 0 {
		return nil, nil
	}

	key := ""
	if meta != nil {
		key = meta.SessionKey
	}
	if key != "" {
		if id, ok := s.cache.Get(key); ok {
			for i, a := range available {
				if a.ID == id {
					return moveToFront(available, i), nil
				}
			}
		}
	}

	ordered, err := s.fallback.Order(ctx, meta, available)
	if err != nil {
		return nil, err
	}
	if key != "" && len(ordered) > 0 {
		s.cache.Set(key, ordered[0].ID)
	}
	return ordered, nil
}
