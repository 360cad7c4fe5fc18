package agents

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"background-agents/internal/blackboard"
	"background-agents/internal/core"
	"background-agents/internal/host"
)

const NotificationManagerType = "notification_manager"

// Notification is one entry in a user's inbox.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
	Dismissed bool      `json:"dismissed"`
}

// NotificationManager keeps per-user notifications and pushes them to
// users with an active session. It has no periodic work.
//
// Inboxes live on the blackboard when one is configured, otherwise in memory.
type NotificationManager struct {
	*core.Base
	pub    core.Publisher
	store  blackboard.Store
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[string]bool
	local  map[string][]Notification
}

// NewNotificationManager builds the manager for a session.
func NewNotificationManager(sessionID string, deps host.Deps) *NotificationManager {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	n := &NotificationManager{
		Base:   core.NewBase(sessionID, NotificationManagerType, 0),
		pub:    deps.Publisher,
		store:  deps.Store,
		logger: logger,
		now:    time.Now,
		active: make(map[string]bool),
		local:  make(map[string][]Notification),
	}
	n.SubscribeTo("notification.create")
	n.SubscribeTo("notification.dismiss")
	n.SubscribeTo("notification.list")
	n.SubscribeTo("notification.clear")
	n.SubscribeTo("user.session.*")
	return n
}

// Process is a no-op; the manager is message-driven.
func (n *NotificationManager) Process(ctx context.Context) error { return nil }

// ProcessMessage routes notification and session messages. Messages with
// missing fields are logged and ignored.
func (n *NotificationManager) ProcessMessage(ctx context.Context, msg core.Message) error {
	if msg.Data == nil {
		n.logger.Printf("%s[%s] %s missing data", NotificationManagerType, n.SessionID(), msg.Type)
		return nil
	}
	userID := msg.String("user_id")
	if userID == "" {
		n.logger.Printf("%s[%s] %s missing user_id", NotificationManagerType, n.SessionID(), msg.Type)
		return nil
	}
	switch msg.Type {
	case "notification.create":
		return n.create(ctx, userID, msg)
	case "notification.dismiss":
		return n.dismiss(ctx, userID, msg)
	case "notification.list":
		return n.list(ctx, userID, msg)
	case "notification.clear":
		return n.clear(ctx, userID)
	case "user.session.start":
		return n.sessionStart(ctx, userID, msg)
	case "user.session.end":
		n.setActive(userID, false)
		n.logger.Printf("%s[%s] user %s session ended", NotificationManagerType, n.SessionID(), userID)
	}
	return nil
}

// Inbox returns the notifications stored for userID.
func (n *NotificationManager) Inbox(ctx context.Context, userID string) ([]Notification, error) {
	return n.load(ctx, userID)
}

// Active reports whether userID has an open session.
func (n *NotificationManager) Active(userID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active[userID]
}

func (n *NotificationManager) setActive(userID string, active bool) {
	n.mu.Lock()
	n.active[userID] = active
	n.mu.Unlock()
}

func (n *NotificationManager) inboxKey(userID string) string {
	return blackboard.Key(NotificationManagerType, n.SessionID(), "user", userID)
}

func (n *NotificationManager) load(ctx context.Context, userID string) ([]Notification, error) {
	if n.store == nil {
		n.mu.Lock()
		defer n.mu.Unlock()
		return append([]Notification(nil), n.local[userID]...), nil
	}
	var notes []Notification
	if _, err := n.store.GetInto(ctx, n.inboxKey(userID), &notes); err != nil {
		return nil, fmt.Errorf("load inbox %s: %w", userID, err)
	}
	return notes, nil
}

func (n *NotificationManager) save(ctx context.Context, userID string, notes []Notification) error {
	if n.store == nil {
		n.mu.Lock()
		n.local[userID] = append([]Notification(nil), notes...)
		n.mu.Unlock()
		return nil
	}
	if _, err := n.store.Put(ctx, n.inboxKey(userID), notes, 0); err != nil {
		return fmt.Errorf("save inbox %s: %w", userID, err)
	}
	return nil
}

func (n *NotificationManager) create(ctx context.Context, userID string, msg core.Message) error {
	notes, err := n.load(ctx, userID)
	if err != nil {
		return err
	}
	note := Notification{
		ID:        msg.String("id"),
		Title:     msg.String("title"),
		Message:   msg.String("message"),
		Type:      msg.String("type"),
		CreatedAt: n.now().UTC(),
	}
	if note.ID == "" {
		note.ID = fmt.Sprintf("notif_%d", len(notes))
	}
	if note.Title == "" {
		note.Title = "Notification"
	}
	if note.Type == "" {
		note.Type = "info"
	}
	if ts, err := time.Parse(time.RFC3339, msg.String("created_at")); err == nil {
		note.CreatedAt = ts.UTC()
	}
	notes = append(notes, note)
	if err := n.save(ctx, userID, notes); err != nil {
		return err
	}
	n.logger.Printf("%s[%s] created notification for user %s: %s", NotificationManagerType, n.SessionID(), userID, note.Title)

	if n.Active(userID) {
		return n.deliver(ctx, userID, msg, []Notification{note})
	}
	return nil
}

func (n *NotificationManager) dismiss(ctx context.Context, userID string, msg core.Message) error {
	id := msg.String("notification_id")
	if id == "" {
		n.logger.Printf("%s[%s] dismiss missing notification_id", NotificationManagerType, n.SessionID())
		return nil
	}
	notes, err := n.load(ctx, userID)
	if err != nil {
		return err
	}
	for i := range notes {
		if notes[i].ID == id {
			notes[i].Dismissed = true
			n.logger.Printf("%s[%s] dismissed notification %s for user %s", NotificationManagerType, n.SessionID(), id, userID)
			return n.save(ctx, userID, notes)
		}
	}
	return nil
}

func (n *NotificationManager) list(ctx context.Context, userID string, msg core.Message) error {
	notes, err := n.load(ctx, userID)
	if err != nil {
		return err
	}
	includeDismissed := msg.Bool("include_dismissed")
	listed := make([]Notification, 0, len(notes))
	for i := range notes {
		if notes[i].Dismissed && !includeDismissed {
			continue
		}
		notes[i].Read = true
		listed = append(listed, notes[i])
	}
	if len(listed) > 0 {
		if err := n.save(ctx, userID, notes); err != nil {
			return err
		}
	}
	n.logger.Printf("%s[%s] listed %d notifications for user %s", NotificationManagerType, n.SessionID(), len(listed), userID)
	return reply(ctx, n.pub, NotificationManagerType, msg, "notification.list.response", map[string]interface{}{
		"user_id":       userID,
		"notifications": listed,
	})
}

func (n *NotificationManager) clear(ctx context.Context, userID string) error {
	if n.store == nil {
		n.mu.Lock()
		delete(n.local, userID)
		n.mu.Unlock()
		return nil
	}
	return n.store.Delete(ctx, n.inboxKey(userID))
}

func (n *NotificationManager) sessionStart(ctx context.Context, userID string, msg core.Message) error {
	n.setActive(userID, true)
	n.logger.Printf("%s[%s] user %s session started", NotificationManagerType, n.SessionID(), userID)

	notes, err := n.load(ctx, userID)
	if err != nil {
		return err
	}
	var pending []Notification
	for _, note := range notes {
		if !note.Read && !note.Dismissed {
			pending = append(pending, note)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	n.logger.Printf("%s[%s] user %s has %d pending notifications", NotificationManagerType, n.SessionID(), userID, len(pending))
	return n.deliver(ctx, userID, msg, pending)
}

func (n *NotificationManager) deliver(ctx context.Context, userID string, cause core.Message, notes []Notification) error {
	return reply(ctx, n.pub, NotificationManagerType, cause, "notification.deliver", map[string]interface{}{
		"user_id":       userID,
		"notifications": notes,
	})
}

var _ core.Agent = (*NotificationManager)(nil)
