package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Agent is the contract a background agent implements. The host calls
// Process on the agent's interval and ProcessMessage for every message that
// matches one of its subscriptions.
type Agent interface {
	AgentType() string
	SessionID() string
	// Interval is the cadence for Process. Zero disables periodic processing.
	Interval() time.Duration
	Subscriptions() []string
	Process(ctx context.Context) error
	ProcessMessage(ctx context.Context, msg Message) error
}

// Starter is implemented by agents that acquire resources before their first hook.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by agents that release resources after their last hook.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Publisher emits messages back onto the host's bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Base carries the bookkeeping shared by every agent. Embed it and call
// SubscribeTo from the constructor.
type Base struct {
	sessionID string
	agentType string
	interval  time.Duration

	mu   sync.RWMutex
	subs map[string]struct{}
}

// NewBase returns a Base for the given session and agent type.
func NewBase(sessionID, agentType string, interval time.Duration) *Base {
	if interval < 0 {
		interval = 0
	}
	return &Base{
		sessionID: sessionID,
		agentType: agentType,
		interval:  interval,
		subs:      make(map[string]struct{}),
	}
}

func (b *Base) AgentType() string       { return b.agentType }
func (b *Base) SessionID() string       { return b.sessionID }
func (b *Base) Interval() time.Duration { return b.interval }

// SubscribeTo adds a message type pattern, e.g. "user.action.*".
func (b *Base) SubscribeTo(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}
	b.mu.Lock()
	b.subs[pattern] = struct{}{}
	b.mu.Unlock()
}

// Subscriptions returns the subscribed patterns in sorted order.
func (b *Base) Subscriptions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subs))
	for p := range b.subs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Subscribed reports whether msgType matches any subscription.
func (b *Base) Subscribed(msgType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for p := range b.subs {
		if Match(p, msgType) {
			return true
		}
	}
	return false
}
