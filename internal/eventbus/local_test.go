package eventbus

import (
	"context"
	"testing"
	"time"

	"background-agents/internal/core"
)

func recv(t *testing.T, ch <-chan core.Message) core.Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return core.Message{}
}

func TestLocalPublishSubscribe(t *testing.T) {
	bus := NewLocalBus(4, nil)
	defer bus.Close()
	ctx := context.Background()

	exact, err := bus.Subscribe(ctx, "background.notification.create")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	pattern, err := bus.SubscribePattern(ctx, "background.*")
	if err != nil {
		t.Fatalf("subscribe pattern: %v", err)
	}

	msg := core.NewMessage("notification.create", map[string]interface{}{"user_id": "user123"})
	if err := bus.Publish(ctx, "background.notification.create", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := recv(t, exact); got.ID != msg.ID {
		t.Fatalf("exact: expected %s got %s", msg.ID, got.ID)
	}
	if got := recv(t, pattern); got.ID != msg.ID {
		t.Fatalf("pattern: expected %s got %s", msg.ID, got.ID)
	}

	other := core.NewMessage("user.session.start", nil)
	if err := bus.Publish(ctx, "background.user.session.start", other); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := recv(t, pattern); got.ID != other.ID {
		t.Fatalf("pattern: expected %s got %s", other.ID, got.ID)
	}
	select {
	case m := <-exact:
		t.Fatalf("exact subscription received unrelated message %s", m.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalUnsubscribe(t *testing.T) {
	bus := NewLocalBus(1, nil)
	defer bus.Close()
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "background.a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "background.a"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if err := bus.Publish(ctx, "background.a", core.NewMessage("a", nil)); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
}

func TestLocalContextCancelRemovesSubscription(t *testing.T) {
	bus := NewLocalBus(1, nil)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.SubscribePattern(ctx, "background.*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not removed on cancel")
	}
}

func TestLocalClose(t *testing.T) {
	bus := NewLocalBus(1, nil)
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "background.a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Close")
	}
	if err := bus.Publish(ctx, "background.a", core.NewMessage("a", nil)); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "background.a"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
