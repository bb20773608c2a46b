package usage

import (
	"encoding/json"
	"sync"
)

// Event is a worker output relayed onto the bus. Data is the message body
// exactly as the worker produced it.
type Event struct {
	Type string
	Data json.RawMessage
}

// Bus is a lossy publish/subscribe hub. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscription) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

var defaultBus = NewBus()

// DefaultBus returns the process-wide bus.
func DefaultBus() *Bus {
	return defaultBus
}

// Subscribe registers a subscriber for the given event types, or for all
// events when none are given. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscription{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every interested subscriber with buffer space and
// returns how many received it.
func (b *Bus) Publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}
