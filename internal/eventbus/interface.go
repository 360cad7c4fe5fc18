package eventbus

import (
	"context"

	"background-agents/internal/core"
)

// Bus defines publish/subscribe semantics for agent messages.
type Bus interface {
	Publish(ctx context.Context, topic string, msg core.Message) error
	Subscribe(ctx context.Context, topic string) (<-chan core.Message, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan core.Message, error)
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
