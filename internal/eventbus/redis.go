package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"background-agents/internal/core"
)

// RedisBus implements Bus using Redis Pub/Sub with automatic reconnection.
type RedisBus struct {
	mu            sync.Mutex
	client        *redis.Client
	options       *redis.Options
	subscriptions map[string]*redis.PubSub
	logger        *log.Logger
}

// NewRedisBus creates a new Redis-backed bus using the given options.
func NewRedisBus(opts *redis.Options, logger *log.Logger) *RedisBus {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisBus{
		client:        redis.NewClient(opts),
		options:       opts,
		subscriptions: make(map[string]*redis.PubSub),
		logger:        logger,
	}
}

// ensureConnection pings the server and reconnects if necessary.
// Callers must hold b.mu.
func (b *RedisBus) ensureConnection(ctx context.Context) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.logger.Println("eventbus reconnecting to Redis", err)
		b.client = redis.NewClient(b.options)
	}
}

// Publish sends a message to a topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, msg core.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.ensureConnection(ctx)
	client := b.client
	b.mu.Unlock()
	return client.Publish(ctx, topic, data).Err()
}

// receive pumps decoded messages from pubsub until ctx ends or the
// subscription is closed.
func (b *RedisBus) receive(ctx context.Context, pubsub *redis.PubSub) (<-chan core.Message, error) {
	// Wait for the subscription confirmation so publishes issued right after
	// Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	ch := make(chan core.Message)
	go func() {
		defer close(ch)
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || err == redis.ErrClosed {
					return
				}
				b.logger.Println("eventbus receive error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			var m core.Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.Println("eventbus decode error", err)
				continue
			}
			select {
			case ch <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Subscribe listens for messages on a topic.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan core.Message, error) {
	b.mu.Lock()
	b.ensureConnection(ctx)
	ps := b.client.Subscribe(ctx, topic)
	b.subscriptions[topic] = ps
	b.mu.Unlock()
	return b.receive(ctx, ps)
}

// SubscribePattern listens for messages on every topic matching pattern.
func (b *RedisBus) SubscribePattern(ctx context.Context, pattern string) (<-chan core.Message, error) {
	b.mu.Lock()
	b.ensureConnection(ctx)
	ps := b.client.PSubscribe(ctx, pattern)
	b.subscriptions[pattern] = ps
	b.mu.Unlock()
	return b.receive(ctx, ps)
}

// Unsubscribe stops listening on a topic or pattern.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.subscriptions[topic]
	if !ok {
		return nil
	}
	delete(b.subscriptions, topic)
	return ps.Close()
}

// Close terminates all subscriptions and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ps := range b.subscriptions {
		_ = ps.Close()
	}
	b.subscriptions = make(map[string]*redis.PubSub)
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
