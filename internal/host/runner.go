package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"background-agents/internal/core"
	"background-agents/internal/lifecycle"
)

// runner owns one agent instance. A single goroutine serves both the
// ticker and the mailbox, so an agent never sees overlapping hook calls.
type runner struct {
	agent    core.Agent
	interval time.Duration
	extra    []string
	mailbox  chan core.Message
	machine  *lifecycle.Machine

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	ticks    atomic.Int64
	messages atomic.Int64
	failures atomic.Int64
	dropped  atomic.Int64
}

func newRunner(ag core.Agent, opts SpawnOptions, mailboxSize int, logger *log.Logger) (*runner, error) {
	interval := ag.Interval()
	if opts.Interval != nil {
		interval = *opts.Interval
	}
	if interval < 0 {
		interval = 0
	}
	r := &runner{
		agent:    ag,
		interval: interval,
		extra:    append([]string(nil), opts.Subscriptions...),
		mailbox:  make(chan core.Message, mailboxSize),
		machine:  lifecycle.New(),
	}
	for _, st := range []core.State{core.StateRunning, core.StateStopped, core.StateFailed} {
		to := st
		r.machine.OnEnter(to, func(from core.State) {
			logger.Printf("host %s %s -> %s", r.key(), from, to)
		})
	}
	if err := r.machine.ValidateTransitions(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *runner) key() string { return agentKey(r.agent.SessionID(), r.agent.AgentType()) }

func (r *runner) subscriptions() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range append(r.agent.Subscriptions(), r.extra...) {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *runner) matches(msg core.Message) bool {
	if msg.SessionID != "" && msg.SessionID != r.agent.SessionID() {
		return false
	}
	for _, p := range r.agent.Subscriptions() {
		if core.Match(p, msg.Type) {
			return true
		}
	}
	for _, p := range r.extra {
		if core.Match(p, msg.Type) {
			return true
		}
	}
	return false
}

func (r *runner) enqueue(msg core.Message) bool {
	select {
	case r.mailbox <- msg:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *runner) describe() Descriptor {
	r.mu.Lock()
	started := r.startedAt
	r.mu.Unlock()
	return Descriptor{
		SessionID:     r.agent.SessionID(),
		AgentType:     r.agent.AgentType(),
		Interval:      r.interval,
		Subscriptions: r.subscriptions(),
		State:         r.machine.State(),
		StartedAt:     started,
		Ticks:         r.ticks.Load(),
		Messages:      r.messages.Load(),
		Failures:      r.failures.Load(),
		Dropped:       r.dropped.Load(),
	}
}

// startRunner runs the agent's Start hook and launches its loop.
func (h *Host) startRunner(parent context.Context, r *runner) error {
	if r.machine.State() != core.StateRegistered {
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	if s, ok := r.agent.(core.Starter); ok {
		if err := safeCall(ctx, s.Start); err != nil {
			cancel()
			_, _ = r.machine.Trigger(lifecycle.EventFail)
			h.logger.Printf("host start %s failed: %v", r.key(), err)
			return fmt.Errorf("host: start %s: %w", r.key(), err)
		}
	}
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.startedAt = time.Now().UTC()
	done := r.done
	r.mu.Unlock()

	if _, err := r.machine.Trigger(lifecycle.EventStart); err != nil {
		cancel()
		close(done)
		return err
	}
	go h.loop(ctx, r, done)
	return nil
}

// stopRunner cancels the loop, waits for it and runs the Stop hook.
func (h *Host) stopRunner(ctx context.Context, r *runner) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		if r.machine.State() == core.StateRegistered {
			_, _ = r.machine.Trigger(lifecycle.EventStop)
		}
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("host: stop %s: %w", r.key(), ctx.Err())
	}

	var err error
	if s, ok := r.agent.(core.Stopper); ok {
		if serr := safeCall(ctx, s.Stop); serr != nil {
			err = fmt.Errorf("host: stop %s: %w", r.key(), serr)
		}
	}
	if r.machine.State() == core.StateRunning {
		_, _ = r.machine.Trigger(lifecycle.EventStop)
	}
	return err
}

func (h *Host) loop(ctx context.Context, r *runner, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if r.interval > 0 {
		t := time.NewTicker(r.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.ticks.Add(1)
			h.invoke(ctx, r, "process", r.agent.Process)
		case msg := <-r.mailbox:
			r.messages.Add(1)
			h.invoke(ctx, r, "message "+msg.Type, func(c context.Context) error {
				return r.agent.ProcessMessage(c, msg)
			})
		}
	}
}

// invoke runs one hook inside the host's concurrency bound. Errors and
// panics are counted and logged; they never stop the agent.
func (h *Host) invoke(ctx context.Context, r *runner, hook string, fn func(context.Context) error) {
	if err := h.swg.AddWithContext(ctx); err != nil {
		return
	}
	defer h.swg.Done()

	hctx := ctx
	if h.opts.HookTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, h.opts.HookTimeout)
		defer cancel()
	}
	err := safeCall(hctx, fn)
	if err == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("exceeded hook timeout %s", h.opts.HookTimeout)
	}
	if err != nil {
		r.failures.Add(1)
		h.logger.Printf("host %s %s error: %v", r.key(), hook, err)
	}
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
