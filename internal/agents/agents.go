// Package agents holds the stock background agents shipped with the host.
package agents

import (
	"context"
	"fmt"

	"background-agents/internal/core"
	"background-agents/internal/host"
)

// Register makes every stock agent available on h.
func Register(h *host.Host) error {
	factories := map[string]host.Factory{
		SystemMonitorType: func(sessionID string, deps host.Deps) (core.Agent, error) {
			return NewSystemMonitor(sessionID, deps, SimulatedSampler), nil
		},
		NotificationManagerType: func(sessionID string, deps host.Deps) (core.Agent, error) {
			return NewNotificationManager(sessionID, deps), nil
		},
	}
	for t, f := range factories {
		if err := h.Register(t, f); err != nil {
			return fmt.Errorf("agents: %w", err)
		}
	}
	return nil
}

// reply publishes a response to req from agentType, scoped to the request's session.
func reply(ctx context.Context, pub core.Publisher, agentType string, req core.Message, msgType string, data map[string]interface{}) error {
	if pub == nil {
		return nil
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["request_id"] = req.ID
	data["to"] = req.Sender
	out := core.NewMessage(msgType, data)
	out.Sender = agentType
	out.SessionID = req.SessionID
	return pub.Publish(ctx, out)
}
