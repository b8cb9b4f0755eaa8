package events

import (
	"sync"

	"walletfeed/internal/domain"
)

type EventType string

const (
	// Reconciled set changed for an account (new confirmed/pending/local data).
	EventActivitiesChanged EventType = "activitiesChanged"
	// The (account, slug) scope was invalidated; slug "" means the whole account.
	EventCacheInvalidated EventType = "cacheInvalidated"
)

type Event struct {
	Type      EventType
	AccountID string
	Chain     string
	Slug      string
	// Activities carried by an activitiesChanged event, already reconciled.
	Activities []*domain.Activity
	// True for live-update batches, false for explicit loads.
	IsUpdate  bool
	LoadedAll *bool
}

type Handler func(Event)

// Bus is a typed in-process fan-out. Subscribers get back a handle and must
// release it to unregister; the bus never assumes subscriber lifetime.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

type Subscription struct {
	bus  *Bus
	id   int
	once sync.Once
}

func (b *Bus) Subscribe(h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = h
	return &Subscription{bus: b, id: id}
}

func (s *Subscription) Release() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

// Publish invokes every handler synchronously, in registration order is not
// guaranteed. Handlers are expected to hand off to their own queues quickly.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
