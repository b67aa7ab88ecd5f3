package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/utils/config"
)

// RedisBus is a Bus backed by Redis pub/sub.
type RedisBus struct {
	opts *redis.Options

	mu        sync.Mutex
	client    *redis.Client
	connected bool
	closed    bool
}

// NewRedisBus creates a bus for the broker described by cfg. No connection
// is made until Connect or the first Publish.
func NewRedisBus(cfg config.RedisConfig) *RedisBus {
	return &RedisBus{
		opts: &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
	}
}

// Connect pings the broker. It is idempotent once a ping has succeeded.
func (b *RedisBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.connected {
		return nil
	}
	if b.client == nil {
		b.client = redis.NewClient(b.opts)
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	b.connected = true
	logrus.Infof("Connected to event broker at %s", b.opts.Addr)
	return nil
}

// Publish sends the payload wrapped in an envelope on channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}

	event, err := NewEvent(channel, payload)
	if err != nil {
		return err
	}
	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrNotConnected, channel, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for channels. The
// subscription is confirmed before it is returned, so events published
// afterwards are delivered.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if err := b.Connect(ctx); err != nil {
		return nil, err
	}

	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrNotConnected, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.relay()
	return sub, nil
}

// Close releases the broker connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.connected = false
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) relay() {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		event, err := DecodeMessage(msg.Channel, []byte(msg.Payload))
		if err != nil {
			logrus.Warnf("Dropping message on %s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
