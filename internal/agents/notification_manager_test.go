package agents

import (
	"context"
	"testing"

	"background-agents/internal/blackboard"
	"background-agents/internal/core"
	"background-agents/internal/host"
)

func notify(t *testing.T, n *NotificationManager, msgType string, data map[string]interface{}) {
	t.Helper()
	if err := n.ProcessMessage(context.Background(), core.NewMessage(msgType, data)); err != nil {
		t.Fatalf("%s: %v", msgType, err)
	}
}

func inbox(t *testing.T, n *NotificationManager, userID string) []Notification {
	t.Helper()
	notes, err := n.Inbox(context.Background(), userID)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	return notes
}

func delivered(t *testing.T, msg core.Message) []Notification {
	t.Helper()
	notes, ok := msg.Data["notifications"].([]Notification)
	if !ok {
		t.Fatalf("notifications missing from %+v", msg)
	}
	return notes
}

func managers(t *testing.T) map[string]func(*recorder) *NotificationManager {
	return map[string]func(*recorder) *NotificationManager{
		"blackboard": func(rec *recorder) *NotificationManager {
			return NewNotificationManager("s1", host.Deps{Publisher: rec, Store: newStore(t)})
		},
		"memory": func(rec *recorder) *NotificationManager {
			return NewNotificationManager("s1", host.Deps{Publisher: rec})
		},
	}
}

func TestNotificationManagerDeclaration(t *testing.T) {
	n := NewNotificationManager("s1", host.Deps{})
	if n.Interval() != 0 {
		t.Fatalf("notification manager should be message-driven, got %s", n.Interval())
	}
	if !n.Subscribed("user.session.start") || !n.Subscribed("notification.clear") {
		t.Fatalf("unexpected subscriptions %v", n.Subscriptions())
	}
	if err := n.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	for name, build := range managers(t) {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			n := build(rec)

			notify(t, n, "notification.create", map[string]interface{}{
				"user_id": "user123",
				"message": "You have a new message from Alice",
			})
			notes := inbox(t, n, "user123")
			if len(notes) != 1 {
				t.Fatalf("expected 1 notification, got %d", len(notes))
			}
			if notes[0].ID != "notif_0" || notes[0].Title != "Notification" || notes[0].Type != "info" {
				t.Fatalf("defaults not applied: %+v", notes[0])
			}
			if len(rec.all()) != 0 {
				t.Fatal("inactive user should not get a delivery")
			}

			notify(t, n, "user.session.start", map[string]interface{}{"user_id": "user123"})
			if !n.Active("user123") {
				t.Fatal("user should be active")
			}
			deliver := rec.last(t)
			if deliver.Type != "notification.deliver" || len(delivered(t, deliver)) != 1 {
				t.Fatalf("expected pending delivery, got %+v", deliver)
			}

			notify(t, n, "notification.create", map[string]interface{}{
				"user_id": "user123", "id": "n2", "title": "Build finished",
			})
			if got := delivered(t, rec.last(t)); len(got) != 1 || got[0].ID != "n2" {
				t.Fatalf("expected real-time delivery of n2, got %+v", got)
			}

			notify(t, n, "notification.dismiss", map[string]interface{}{"user_id": "user123", "notification_id": "notif_0"})
			notify(t, n, "notification.list", map[string]interface{}{"user_id": "user123"})
			resp := rec.last(t)
			listed := delivered(t, resp)
			if resp.Type != "notification.list.response" || len(listed) != 1 || listed[0].ID != "n2" || !listed[0].Read {
				t.Fatalf("unexpected list response %+v", resp)
			}
			for _, note := range inbox(t, n, "user123") {
				if note.ID == "n2" && !note.Read {
					t.Fatal("listed notification should be marked read")
				}
				if note.ID == "notif_0" && (!note.Dismissed || note.Read) {
					t.Fatalf("dismissed notification state wrong: %+v", note)
				}
			}

			notify(t, n, "notification.list", map[string]interface{}{"user_id": "user123", "include_dismissed": true})
			if got := delivered(t, rec.last(t)); len(got) != 2 {
				t.Fatalf("include_dismissed should list both, got %d", len(got))
			}

			notify(t, n, "user.session.end", map[string]interface{}{"user_id": "user123"})
			if n.Active("user123") {
				t.Fatal("user should be inactive")
			}
			before := len(rec.all())
			notify(t, n, "user.session.start", map[string]interface{}{"user_id": "user123"})
			if len(rec.all()) != before {
				t.Fatal("no pending notifications means no delivery")
			}

			notify(t, n, "notification.clear", map[string]interface{}{"user_id": "user123"})
			if got := inbox(t, n, "user123"); len(got) != 0 {
				t.Fatalf("expected empty inbox after clear, got %d", len(got))
			}
		})
	}
}

func TestNotificationMalformedMessagesIgnored(t *testing.T) {
	rec := &recorder{}
	n := NewNotificationManager("s1", host.Deps{Publisher: rec})
	ctx := context.Background()
	for _, msg := range []core.Message{
		core.NewMessage("notification.create", nil),
		core.NewMessage("notification.create", map[string]interface{}{"title": "orphan"}),
		core.NewMessage("notification.dismiss", map[string]interface{}{"user_id": "u1"}),
		core.NewMessage("notification.list", map[string]interface{}{"user_id": 42}),
	} {
		if err := n.ProcessMessage(ctx, msg); err != nil {
			t.Fatalf("%s: malformed message should be ignored, got %v", msg.Type, err)
		}
	}
	if len(rec.all()) != 0 {
		t.Fatalf("malformed messages should not publish, got %d", len(rec.all()))
	}
}

func TestNotificationInboxKey(t *testing.T) {
	n := NewNotificationManager("s1", host.Deps{})
	if got := n.inboxKey("user123"); got != blackboard.Key(NotificationManagerType, "s1", "user", "user123") {
		t.Fatalf("unexpected key %q", got)
	}
}
