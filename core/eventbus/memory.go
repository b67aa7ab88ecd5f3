package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const subscriptionBuffer = 64

// dropWarnInterval bounds how often a stuck subscriber is reported.
const dropWarnInterval = 10 * time.Second

// MemoryBus is an in-process Bus used when no broker is configured and in tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Connect is a no-op for the in-process bus.
func (b *MemoryBus) Connect(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Publish delivers the event to every current subscriber of channel.
// A subscriber whose buffer is full misses the event.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload any) error {
	event, err := NewEvent(channel, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[channel] {
		sub.deliver(event)
	}
	return nil
}

// Subscribe registers a subscription on the given channels.
func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		bus:      b,
		channels: channels,
		events:   make(chan Event, subscriptionBuffer),
		dropWarn: rate.Sometimes{First: 1, Interval: dropWarnInterval},
	}
	for _, ch := range channels {
		if b.subs[ch] == nil {
			b.subs[ch] = make(map[*memorySubscription]struct{})
		}
		b.subs[ch][sub] = struct{}{}
	}
	return sub, nil
}

// Close ends every subscription and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscription
	seen := make(map[*memorySubscription]bool)
	for _, set := range b.subs {
		for sub := range set {
			if !seen[sub] {
				seen[sub] = true
				all = append(all, sub)
			}
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.closeChannel()
	}
	return nil
}

func (b *MemoryBus) unsubscribe(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range sub.channels {
		if set, ok := b.subs[ch]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, ch)
			}
		}
	}
}

type memorySubscription struct {
	bus      *MemoryBus
	channels []string
	events   chan Event
	dropWarn rate.Sometimes
	dropped  int

	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) Events() <-chan Event {
	return s.events
}

func (s *memorySubscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.dropped++
		s.dropWarn.Do(func() {
			logrus.Warnf("Event bus subscriber is full, dropping %s event (%d dropped so far)", event.Name, s.dropped)
		})
	}
}

func (s *memorySubscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *memorySubscription) Close() error {
	s.bus.unsubscribe(s)
	s.closeChannel()
	return nil
}
