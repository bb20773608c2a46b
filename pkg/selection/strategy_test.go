package selection

import (
	"context"
	"testing"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/proxy"
)

func names(list []*accounts.Account) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Name
	}
	return out
}

func equalNames(got []*accounts.Account, want ...string) bool {
	g := names(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func seed(t *testing.T, store accounts.Store, list ...*accounts.Account) []*accounts.Account {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, a := range list {
		if a.APIKey == "" && a.RefreshToken == "" {
			a.APIKey = "sk-" + a.Name
		}
		a.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Create(context.Background(), a); err != nil {
			t.Fatalf("Create(%s) error = %v", a.Name, err)
		}
	}
	all, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return all
}

func TestSessionStrategy(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("starts a session on the first account", func(t *testing.T) {
		store := accounts.NewMemoryStore()
		available := seed(t, store, &accounts.Account{Name: "a"}, &accounts.Account{Name: "b"})
		s := NewSessionStrategy(store, 5*time.Hour)
		s.now = func() time.Time { return now }

		got, err := s.Order(ctx, nil, available)
		if err != nil {
			t.Fatal(err)
		}
		if !equalNames(got, "a", "b") {
			t.Errorf("order = %v", names(got))
		}
		stored, _ := store.GetByName(ctx, "a")
		if !stored.SessionStart.Equal(now) {
			t.Errorf("SessionStart = %v, want %v", stored.SessionStart, now)
		}
	})

	t.Run("keeps the active session account first", func(t *testing.T) {
		store := accounts.NewMemoryStore()
		available := seed(t, store,
			&accounts.Account{Name: "a"},
			&accounts.Account{Name: "b", SessionStart: now.Add(-time.Hour)},
			&accounts.Account{Name: "c"},
		)
		s := NewSessionStrategy(store, 5*time.Hour)
		s.now = func() time.Time { return now }

		got, _ := s.Order(ctx, nil, available)
		if !equalNames(got, "b", "a", "c") {
			t.Errorf("order = %v", names(got))
		}
		stored, _ := store.GetByName(ctx, "a")
		if !stored.SessionStart.IsZero() {
			t.Error("no new session should start while one is active")
		}
	})

	t.Run("lapsed session starts over", func(t *testing.T) {
		store := accounts.NewMemoryStore()
		available := seed(t, store,
			&accounts.Account{Name: "a"},
			&accounts.Account{Name: "b", SessionStart: now.Add(-6 * time.Hour)},
		)
		s := NewSessionStrategy(store, 5*time.Hour)
		s.now = func() time.Time { return now }

		got, _ := s.Order(ctx, nil, available)
		if !equalNames(got, "a", "b") {
			t.Errorf("order = %v", names(got))
		}
	})

	t.Run("most recent of several active sessions", func(t *testing.T) {
		store := accounts.NewMemoryStore()
		available := seed(t, store,
			&accounts.Account{Name: "a", SessionStart: now.Add(-3 * time.Hour)},
			&accounts.Account{Name: "b", SessionStart: now.Add(-time.Hour)},
		)
		s := NewSessionStrategy(store, 5*time.Hour)
		s.now = func() time.Time { return now }

		got, _ := s.Order(ctx, nil, available)
		if !equalNames(got, "b", "a") {
			t.Errorf("order = %v", names(got))
		}
	})
}

func TestRoundRobinStrategy(t *testing.T) {
	available := []*accounts.Account{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	s := NewRoundRobinStrategy()

	want := [][]string{
		{"a", "b", "c"},
		{"b", "c", "a"},
		{"c", "a", "b"},
		{"a", "b", "c"},
	}
	for i, w := range want {
		got, err := s.Order(context.Background(), nil, available)
		if err != nil {
			t.Fatal(err)
		}
		if !equalNames(got, w...) {
			t.Errorf("request %d order = %v, want %v", i, names(got), w)
		}
	}
	if !equalNames(available, "a", "b", "c") {
		t.Error("input slice was reordered")
	}

	if got, _ := s.Order(context.Background(), nil, nil); len(got) != 0 {
		t.Errorf("empty input gave %v", names(got))
	}
}

func TestPriorityStrategy(t *testing.T) {
	now := time.Now()
	available := []*accounts.Account{
		{Name: "p1-recent", Priority: 1, LastUsed: now},
		{Name: "p0", Priority: 0, LastUsed: now},
		{Name: "p1-old", Priority: 1, LastUsed: now.Add(-time.Hour)},
		{Name: "p1-never", Priority: 1},
	}

	got, _ := PriorityStrategy{}.Order(context.Background(), nil, available)
	if !equalNames(got, "p0", "p1-never", "p1-old", "p1-recent") {
		t.Errorf("order = %v", names(got))
	}
}

func TestStickyStrategy(t *testing.T) {
	cache, _ := newTestCache(time.Hour, 10)
	defer cache.Close()
	s := NewStickyStrategy(cache, NewRoundRobinStrategy())

	available := []*accounts.Account{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}, {ID: "3", Name: "c"}}
	laptop := &proxy.RequestMetadata{SessionKey: "laptop"}
	desktop := &proxy.RequestMetadata{SessionKey: "desktop"}

	first, _ := s.Order(context.Background(), laptop, available)
	second, _ := s.Order(context.Background(), desktop, available)
	if first[0].Name == second[0].Name {
		t.Fatalf("new sessions should rotate: both got %s", first[0].Name)
	}

	for i := 0; i < 3; i++ {
		again, _ := s.Order(context.Background(), laptop, available)
		if again[0].Name != first[0].Name {
			t.Errorf("laptop moved from %s to %s", first[0].Name, again[0].Name)
		}
		if len(again) != 3 {
			t.Errorf("fallback accounts missing: %v", names(again))
		}
	}

	// The pinned account disappears; the session is re-pinned.
	var remaining []*accounts.Account
	for _, a := range available {
		if a.Name != first[0].Name {
			remaining = append(remaining, a)
		}
	}
	moved, _ := s.Order(context.Background(), laptop, remaining)
	if moved[0].Name == first[0].Name {
		t.Fatal("unavailable account returned")
	}
	if id, _ := cache.Get("laptop"); id != moved[0].ID {
		t.Errorf("cache pinned %q, want %q", id, moved[0].ID)
	}
}
