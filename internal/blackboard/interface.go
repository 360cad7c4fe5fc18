package blackboard

import (
	"context"
	"strings"
	"time"

	"background-agents/internal/core"
)

// Store is the shared state agents read and write between hook calls.
type Store interface {
	Put(ctx context.Context, key string, value interface{}, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (interface{}, int64, error)
	// GetInto decodes the stored value into dst. A missing key returns version 0
	// and leaves dst untouched.
	GetInto(ctx context.Context, key string, dst interface{}) (int64, error)
	Txn(ctx context.Context, values map[string]interface{}, ttl time.Duration) error
	Watch(ctx context.Context, pattern string) (<-chan core.StateUpdate, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key joins non-empty parts with ":", e.g. Key("notify", "s1", "user123").
func Key(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}
