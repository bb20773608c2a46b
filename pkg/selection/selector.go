package selection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/telemetry/logging"
)

// Selector chooses the candidate accounts for each request. It implements
// proxy.AccountSelector.
type Selector struct {
	store    accounts.Store
	strategy Strategy
	cache    *StickyCache
	now      func() time.Time
	logger   *slog.Logger
}

// NewSelector creates a selector for the configured strategy.
//
// Example usage:
//
//	sel, err := selection.NewSelector(store, cfg.Selection)
//	if err != nil {
//	    return err
//	}
//	defer sel.Close()
func NewSelector(store accounts.Store, cfg config.SelectionConfig) (*Selector, error) {
	s := &Selector{
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "selection"),
	}

	strategy, err := s.newStrategy(cfg)
	if err != nil {
		return nil, err
	}
	s.strategy = strategy
	return s, nil
}

func (s *Selector) newStrategy(cfg config.SelectionConfig) (Strategy, error) {
	switch cfg.Strategy {
	case StrategySession, "":
		duration := cfg.SessionDuration
		if duration <= 0 {
			duration = config.DefaultSessionDuration
		}
		return NewSessionStrategy(s.store, duration), nil
	case StrategyRoundRobin:
		return NewRoundRobinStrategy(), nil
	case StrategyPriority:
		return PriorityStrategy{}, nil
	case StrategySticky:
		s.cache = NewStickyCache(cfg.StickyTTL, cfg.StickyMaxEntries)
		return NewStickyStrategy(s.cache, NewRoundRobinStrategy()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, cfg.Strategy)
	}
}

// Strategy returns the active strategy.
func (s *Selector) Strategy() Strategy {
	return s.strategy
}

// SelectAccountsForRequest returns the accounts to try, most preferred first.
//
// Paused accounts are never returned. Rate-limited accounts are skipped while
// any other account is available; when every active account is rate limited
// they are returned in order of their reset time. An empty result means no
// account is configured or every account is paused.
func (s *Selector) SelectAccountsForRequest(ctx context.Context, meta *proxy.RequestMetadata) ([]*accounts.Account, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, &SelectionError{Strategy: s.strategy.Name(), Cause: err}
	}

	now := s.now()
	var available, limited []*accounts.Account
	for _, a := range all {
		switch {
		case a.Paused:
		case a.IsRateLimited(now):
			limited = append(limited, a)
		default:
			available = append(available, a)
		}
	}

	if len(available) == 0 {
		if len(limited) > 0 {
			sort.SliceStable(limited, func(i, j int) bool {
				return limited[i].RateLimitedUntil.Before(limited[j].RateLimitedUntil)
			})
			s.logger.WarnContext(ctx, "every account is rate limited",
				"accounts", len(limited),
				"next_reset", limited[0].RateLimitedUntil,
			)
		}
		return limited, nil
	}

	ordered, err := s.strategy.Order(ctx, meta, available)
	if err != nil {
		return nil, &SelectionError{Strategy: s.strategy.Name(), Cause: err}
	}

	if logging.DebugEnabled() {
		names := make([]string, len(ordered))
		for i, a := range ordered {
			names[i] = a.Name
		}
		s.logger.DebugContext(ctx, "accounts selected",
			"strategy", s.strategy.Name(),
			"order", names,
			"skipped_rate_limited", len(limited),
		)
	}
	return ordered, nil
}

// Close releases the sticky cache, if any.
func (s *Selector) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}
