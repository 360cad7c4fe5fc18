package eventbus

import (
	"context"
	"errors"
	"log"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"background-agents/internal/core"
)

// ErrClosed is returned by LocalBus operations after Close.
var ErrClosed = errors.New("eventbus: closed")

const defaultLocalBuffer = 64

// localSub is one subscription on a LocalBus. Every subscription is bound
// to its own internal EventBus topic so it can be removed on its own.
type localSub struct {
	key     string
	topic   string
	match   func(string) bool
	ch      chan core.Message
	done    chan struct{}
	once    sync.Once
	handler func(core.Message)
}

// LocalBus is an in-process Bus backed by asaskevich/EventBus. Topic
// patterns follow core.Match, mirroring Redis PSUBSCRIBE.
type LocalBus struct {
	mu     sync.RWMutex
	bus    evbus.Bus
	subs   map[string][]*localSub
	buffer int
	closed bool
	logger *log.Logger
}

// NewLocalBus returns an in-process bus. buffer sizes each subscription's
// channel; values below 1 use a default.
func NewLocalBus(buffer int, logger *log.Logger) *LocalBus {
	if logger == nil {
		logger = log.Default()
	}
	if buffer < 1 {
		buffer = defaultLocalBuffer
	}
	return &LocalBus{
		bus:    evbus.New(),
		subs:   make(map[string][]*localSub),
		buffer: buffer,
		logger: logger,
	}
}

// Publish delivers msg to every subscription whose topic or pattern matches.
// Delivery blocks while a subscriber's buffer is full, until ctx ends.
func (b *LocalBus) Publish(ctx context.Context, topic string, msg core.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var targets []*localSub
	for _, list := range b.subs {
		for _, s := range list {
			if s.match(topic) {
				targets = append(targets, s)
			}
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.bus.Publish(s.topic, msg)
	}
	return nil
}

func (b *LocalBus) subscribe(ctx context.Context, key string, match func(string) bool) (<-chan core.Message, error) {
	s := &localSub{
		key:   key,
		topic: "local:" + uuid.NewString(),
		match: match,
		ch:    make(chan core.Message, b.buffer),
		done:  make(chan struct{}),
	}
	s.handler = func(msg core.Message) {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if err := b.bus.Subscribe(s.topic, s.handler); err != nil {
		return nil, err
	}
	b.subs[key] = append(b.subs[key], s)

	go func() {
		select {
		case <-ctx.Done():
			b.remove(s)
		case <-s.done:
		}
	}()
	return s.ch, nil
}

// remove detaches s and closes its channel. Safe to call more than once.
func (b *LocalBus) remove(s *localSub) {
	s.once.Do(func() {
		close(s.done)
		// Handlers run synchronously under EventBus's lock, so once
		// Unsubscribe returns nothing can still be sending on s.ch.
		if err := b.bus.Unsubscribe(s.topic, s.handler); err != nil {
			b.logger.Println("eventbus local unsubscribe", s.key, err)
		}
		close(s.ch)

		b.mu.Lock()
		list := b.subs[s.key]
		for i, other := range list {
			if other == s {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(b.subs, s.key)
		} else {
			b.subs[s.key] = list
		}
		b.mu.Unlock()
	})
}

// Subscribe listens for messages on a single topic.
func (b *LocalBus) Subscribe(ctx context.Context, topic string) (<-chan core.Message, error) {
	return b.subscribe(ctx, topic, func(t string) bool { return t == topic })
}

// SubscribePattern listens for messages on topics matching pattern.
func (b *LocalBus) SubscribePattern(ctx context.Context, pattern string) (<-chan core.Message, error) {
	return b.subscribe(ctx, pattern, func(t string) bool { return core.Match(pattern, t) })
}

// Unsubscribe removes every subscription registered under topic.
func (b *LocalBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.RLock()
	list := append([]*localSub(nil), b.subs[topic]...)
	b.mu.RUnlock()
	for _, s := range list {
		b.remove(s)
	}
	return nil
}

// Close removes all subscriptions. Further calls fail with ErrClosed.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*localSub
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.mu.Unlock()
	for _, s := range all {
		b.remove(s)
	}
	return nil
}

var _ Bus = (*LocalBus)(nil)
