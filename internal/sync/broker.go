package sync

import (
	"context"
	"log/slog"
	gosync "sync"
)

// subscriberBuffer is the per-subscriber channel capacity. Events beyond it
// are dropped; the subscriber's polling loop covers the gap.
const subscriberBuffer = 32

// Broker is an in-process publish/subscribe hub keyed by user id.
type Broker struct {
	mu     gosync.RWMutex
	subs   map[string]map[*subscription]struct{}
	logger *slog.Logger
}

type subscription struct {
	ch   chan Event
	once gosync.Once
}

var _ Bus = (*Broker)(nil)

// NewBroker creates an empty Broker. A nil logger uses slog.Default.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[string]map[*subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a stream for userID.
func (b *Broker) Subscribe(userID string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[userID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[userID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Publish delivers e to every subscriber of e.UserID without blocking.
func (b *Broker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[e.UserID] {
		select {
		case sub.ch <- e:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"user_id", e.UserID, "kind", e.Kind)
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
