// Package host drives background agents: it owns the registry of agent
// factories, the per-agent schedule and the routing of bus messages to
// subscribed agents.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"background-agents/internal/blackboard"
	"background-agents/internal/core"
	"background-agents/internal/eventbus"
)

var (
	ErrUnknownType  = errors.New("host: unknown agent type")
	ErrDuplicate    = errors.New("host: already registered")
	ErrNotFound     = errors.New("host: agent not found")
	ErrTypeMismatch = errors.New("host: agent identity mismatch")
	ErrStopped      = errors.New("host: stopped")
	ErrSubscribe    = errors.New("host: bus subscription failed")
)

const (
	DefaultTopicPrefix        = "background."
	DefaultMailboxSize        = 64
	DefaultMaxConcurrentHooks = 8
)

// Deps is handed to every factory.
type Deps struct {
	Publisher core.Publisher
	Store     blackboard.Store
	Logger    *log.Logger
}

// Factory builds an agent instance for a session.
type Factory func(sessionID string, deps Deps) (core.Agent, error)

// SpawnOptions override what the agent declares about itself.
type SpawnOptions struct {
	// Interval replaces Agent.Interval when non-nil. Zero disables Process.
	Interval *time.Duration
	// Subscriptions are matched in addition to Agent.Subscriptions.
	Subscriptions []string
}

// Options configures a Host.
type Options struct {
	TopicPrefix        string
	MailboxSize        int
	MaxConcurrentHooks int
	// HookTimeout bounds each hook call's context. Zero means no deadline.
	HookTimeout time.Duration
	Store       blackboard.Store
}

func (o Options) withDefaults() Options {
	if o.TopicPrefix == "" {
		o.TopicPrefix = DefaultTopicPrefix
	}
	if o.MailboxSize < 1 {
		o.MailboxSize = DefaultMailboxSize
	}
	if o.MaxConcurrentHooks < 1 {
		o.MaxConcurrentHooks = DefaultMaxConcurrentHooks
	}
	if o.HookTimeout < 0 {
		o.HookTimeout = 0
	}
	return o
}

// Descriptor is a snapshot of one agent instance.
type Descriptor struct {
	SessionID     string        `json:"session_id"`
	AgentType     string        `json:"agent_type"`
	Interval      time.Duration `json:"interval"`
	Subscriptions []string      `json:"subscriptions"`
	State         core.State    `json:"state"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Ticks         int64         `json:"ticks"`
	Messages      int64         `json:"messages"`
	Failures      int64         `json:"failures"`
	Dropped       int64         `json:"dropped"`
}

// Host schedules Process calls and delivers messages to agents.
type Host struct {
	bus    eventbus.Bus
	opts   Options
	logger *log.Logger
	swg    sizedwaitgroup.SizedWaitGroup

	mu        sync.RWMutex
	factories map[string]Factory
	agents    map[string]*runner
	ctx       context.Context
	cancel    context.CancelFunc
	routeDone chan struct{}
	stopped   bool
}

// New returns a Host publishing and receiving on bus.
func New(bus eventbus.Bus, opts Options, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	opts = opts.withDefaults()
	return &Host{
		bus:       bus,
		opts:      opts,
		logger:    logger,
		swg:       sizedwaitgroup.New(opts.MaxConcurrentHooks),
		factories: make(map[string]Factory),
		agents:    make(map[string]*runner),
	}
}

func agentKey(sessionID, agentType string) string { return sessionID + "/" + agentType }

// Topic returns the bus topic a message type is published on.
func (h *Host) Topic(msgType string) string { return h.opts.TopicPrefix + msgType }

// Register makes agentType available to Spawn.
func (h *Host) Register(agentType string, f Factory) error {
	agentType = strings.TrimSpace(agentType)
	if agentType == "" {
		return fmt.Errorf("host: agent type is required")
	}
	if f == nil {
		return fmt.Errorf("host: nil factory for %s", agentType)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.factories[agentType]; ok {
		return fmt.Errorf("%w: factory %s", ErrDuplicate, agentType)
	}
	h.factories[agentType] = f
	return nil
}

// Types returns the registered agent types in sorted order.
func (h *Host) Types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.factories))
	for t := range h.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Spawn creates an agent of agentType for sessionID. When the host is
// running the agent starts immediately.
func (h *Host) Spawn(ctx context.Context, sessionID, agentType string, opts SpawnOptions) error {
	key := agentKey(sessionID, agentType)
	h.mu.RLock()
	f, ok := h.factories[agentType]
	_, exists := h.agents[key]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, agentType)
	}
	if exists {
		return fmt.Errorf("%w: agent %s", ErrDuplicate, key)
	}

	ag, err := f(sessionID, Deps{Publisher: h, Store: h.opts.Store, Logger: h.logger})
	if err != nil {
		return fmt.Errorf("host: create %s: %w", key, err)
	}
	if ag == nil {
		return fmt.Errorf("host: create %s: factory returned nil", key)
	}
	if ag.AgentType() != agentType || ag.SessionID() != sessionID {
		return fmt.Errorf("%w: want %s, factory built %s", ErrTypeMismatch, key, agentKey(ag.SessionID(), ag.AgentType()))
	}

	r, err := newRunner(ag, opts, h.opts.MailboxSize, h.logger)
	if err != nil {
		return fmt.Errorf("host: create %s: %w", key, err)
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrStopped
	}
	if _, exists := h.agents[key]; exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: agent %s", ErrDuplicate, key)
	}
	h.agents[key] = r
	hctx := h.ctx
	h.mu.Unlock()

	h.logger.Printf("host spawned %s (interval %s, subscriptions %v)", key, r.interval, r.subscriptions())
	if hctx != nil {
		return h.startRunner(hctx, r)
	}
	return nil
}

// Start subscribes to the bus and starts every spawned agent. If the bus
// subscription fails nothing is started and the error wraps ErrSubscribe.
// Agents whose Start hook fails are marked failed; their errors are joined
// and returned while the rest keep running.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrStopped
	}
	if h.ctx != nil {
		h.mu.Unlock()
		return fmt.Errorf("host: already started")
	}
	hctx, cancel := context.WithCancel(ctx)
	ch, err := h.bus.SubscribePattern(hctx, h.opts.TopicPrefix+"*")
	if err != nil {
		cancel()
		h.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	h.ctx, h.cancel = hctx, cancel
	h.routeDone = make(chan struct{})
	runners := h.snapshot()
	h.mu.Unlock()

	go h.route(ch)

	var errs []error
	for _, r := range runners {
		if err := h.startRunner(hctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every agent, waits for hooks in flight and detaches from the
// bus. A stopped host cannot be started again.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	cancel, routeDone := h.cancel, h.routeDone
	h.ctx, h.cancel = nil, nil
	runners := h.snapshot()
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		if err := h.bus.Unsubscribe(context.Background(), h.opts.TopicPrefix+"*"); err != nil {
			h.logger.Println("host unsubscribe error", err)
		}
	}
	var errs []error
	for _, r := range runners {
		if err := h.stopRunner(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	h.swg.Wait()
	if routeDone != nil {
		select {
		case <-routeDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	return errors.Join(errs...)
}

// Remove stops one agent and forgets it.
func (h *Host) Remove(ctx context.Context, sessionID, agentType string) error {
	key := agentKey(sessionID, agentType)
	h.mu.Lock()
	r, ok := h.agents[key]
	if ok {
		delete(h.agents, key)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	h.logger.Printf("host removing %s", key)
	return h.stopRunner(ctx, r)
}

// Publish sends msg on the bus topic for its type.
func (h *Host) Publish(ctx context.Context, msg core.Message) error {
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return err
	}
	return h.bus.Publish(ctx, h.Topic(msg.Type), msg)
}

// Dispatch queues msg for every running agent subscribed to its type and
// returns how many agents accepted it. Agents with a full mailbox drop it.
func (h *Host) Dispatch(msg core.Message) int {
	h.mu.RLock()
	runners := h.snapshot()
	h.mu.RUnlock()

	delivered := 0
	for _, r := range runners {
		if r.machine.State() != core.StateRunning || !r.matches(msg) {
			continue
		}
		if !r.enqueue(msg) {
			h.logger.Printf("host mailbox full for %s, dropped %s (%s)", r.key(), msg.Type, msg.ID)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Host) route(ch <-chan core.Message) {
	defer close(h.routeDone)
	for msg := range ch {
		if n := h.Dispatch(msg); n == 0 {
			h.logger.Printf("host no subscribers for %s (%s)", msg.Type, msg.ID)
		}
	}
}

// Agents returns a snapshot of every agent instance, ordered by session then type.
func (h *Host) Agents() []Descriptor {
	h.mu.RLock()
	runners := h.snapshot()
	h.mu.RUnlock()
	out := make([]Descriptor, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.describe())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].AgentType < out[j].AgentType
	})
	return out
}

// Agent returns the descriptor for one instance.
func (h *Host) Agent(sessionID, agentType string) (Descriptor, error) {
	key := agentKey(sessionID, agentType)
	h.mu.RLock()
	r, ok := h.agents[key]
	h.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return r.describe(), nil
}

// snapshot copies the runner set. Callers must hold h.mu.
func (h *Host) snapshot() []*runner {
	out := make([]*runner, 0, len(h.agents))
	for _, r := range h.agents {
		out = append(out, r)
	}
	return out
}

var _ core.Publisher = (*Host)(nil)
