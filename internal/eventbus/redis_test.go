package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"background-agents/internal/core"
)

func TestPublishSubscribe(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	bus := NewRedisBus(&redis.Options{Addr: s.Addr()}, nil)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, "background.system.status.request")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	msg := core.NewMessage("system.status.request", nil)
	if err := bus.Publish(ctx, "background.system.status.request", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.ID != msg.ID || got.Type != msg.Type {
			t.Fatalf("expected %s/%s got %s/%s", msg.ID, msg.Type, got.ID, got.Type)
		}
		if got.Sender != core.DefaultSender {
			t.Fatalf("sender lost in transit: %q", got.Sender)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPatternSubscribe(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	bus := NewRedisBus(&redis.Options{Addr: s.Addr()}, nil)
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.SubscribePattern(ctx, "background.user.action.*")
	if err != nil {
		t.Fatalf("subscribe pattern: %v", err)
	}
	msg := core.NewMessage("user.action.login", map[string]interface{}{"user_id": "u1"})
	if err := bus.Publish(ctx, "background.user.action.login", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.String("user_id") != "u1" {
			t.Fatalf("payload lost: %+v", got.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pattern message")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	bus := NewRedisBus(&redis.Options{Addr: s.Addr()}, nil)
	defer bus.Close()
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "background.x")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "background.x"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
	if err := bus.Unsubscribe(ctx, "background.unknown"); err != nil {
		t.Fatalf("unsubscribe unknown topic: %v", err)
	}
}
