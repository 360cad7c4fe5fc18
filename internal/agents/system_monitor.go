package agents

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"background-agents/internal/blackboard"
	"background-agents/internal/core"
	"background-agents/internal/host"
)

const (
	SystemMonitorType     = "system_monitor"
	SystemMonitorInterval = 60 * time.Second

	degradedCPU = 80.0
)

// Stats is the system snapshot kept by SystemMonitor.
type Stats struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	// Uptime is in seconds.
	Uptime      float64 `json:"uptime"`
	ActiveUsers int     `json:"active_users"`
}

// Sampler returns CPU and memory usage percentages.
type Sampler func() (cpu, memory float64)

// SimulatedSampler produces plausible random readings.
func SimulatedSampler() (float64, float64) {
	return 5 + rand.Float64()*90, 20 + rand.Float64()*60
}

// SystemMonitor polls system metrics on an interval and answers status
// and resource requests. It also counts active users from login/logout
// actions.
type SystemMonitor struct {
	*core.Base
	pub    core.Publisher
	store  blackboard.Store
	logger *log.Logger
	sample Sampler
	now    func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
	stats     Stats
}

// NewSystemMonitor builds the monitor for a session.
func NewSystemMonitor(sessionID string, deps host.Deps, sample Sampler) *SystemMonitor {
	if sample == nil {
		sample = SimulatedSampler
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	m := &SystemMonitor{
		Base:   core.NewBase(sessionID, SystemMonitorType, SystemMonitorInterval),
		pub:    deps.Publisher,
		store:  deps.Store,
		logger: logger,
		sample: sample,
		now:    time.Now,
	}
	m.SubscribeTo("system.status.request")
	m.SubscribeTo("system.resource.request")
	m.SubscribeTo("user.action.*")
	m.lastCheck = m.now()
	return m
}

// Stats returns a copy of the latest snapshot.
func (m *SystemMonitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *SystemMonitor) statsKey() string {
	return blackboard.Key(SystemMonitorType, m.SessionID(), "stats")
}

func (m *SystemMonitor) statusKey() string {
	return blackboard.Key(SystemMonitorType, m.SessionID(), "status")
}

// Process samples metrics and records the snapshot and the derived health
// status on the blackboard.
func (m *SystemMonitor) Process(ctx context.Context) error {
	cpu, mem := m.sample()
	now := m.now()

	m.mu.Lock()
	m.stats.Uptime += now.Sub(m.lastCheck).Seconds()
	m.lastCheck = now
	m.stats.CPUUsage = cpu
	m.stats.MemoryUsage = mem
	snap := m.stats
	m.mu.Unlock()

	m.logger.Printf("%s[%s] processed: %+v", SystemMonitorType, m.SessionID(), snap)
	if m.store == nil {
		return nil
	}
	// stats and status move together.
	if err := m.store.Txn(ctx, map[string]interface{}{
		m.statsKey():  snap,
		m.statusKey(): healthOf(snap),
	}, 0); err != nil {
		return fmt.Errorf("store stats: %w", err)
	}
	return nil
}

func healthOf(s Stats) string {
	if s.CPUUsage >= degradedCPU {
		return "degraded"
	}
	return "healthy"
}

// ProcessMessage handles status, resource and user action messages.
func (m *SystemMonitor) ProcessMessage(ctx context.Context, msg core.Message) error {
	switch {
	case msg.Type == "system.status.request":
		return m.handleStatus(ctx, msg)
	case msg.Type == "system.resource.request":
		return m.handleResource(ctx, msg)
	case strings.HasPrefix(msg.Type, "user.action."):
		m.handleUserAction(msg)
	}
	return nil
}

func (m *SystemMonitor) handleStatus(ctx context.Context, msg core.Message) error {
	snap := m.Stats()
	status := healthOf(snap)
	m.logger.Printf("%s[%s] status request from %s: %s", SystemMonitorType, m.SessionID(), msg.Sender, status)
	return reply(ctx, m.pub, SystemMonitorType, msg, "system.status.response", map[string]interface{}{
		"status":  status,
		"metrics": snap,
	})
}

func (m *SystemMonitor) handleResource(ctx context.Context, msg core.Message) error {
	snap := m.Stats()
	resource := msg.String("resource_type")
	data := map[string]interface{}{"resource_type": resource}
	switch resource {
	case "cpu":
		data["value"], data["unit"] = snap.CPUUsage, "percent"
	case "memory":
		data["value"], data["unit"] = snap.MemoryUsage, "percent"
	case "uptime":
		data["value"], data["unit"] = snap.Uptime/3600, "hours"
	default:
		m.logger.Printf("%s[%s] unknown resource type requested: %q", SystemMonitorType, m.SessionID(), resource)
		data["error"] = fmt.Sprintf("unknown resource type %q", resource)
	}
	return reply(ctx, m.pub, SystemMonitorType, msg, "system.resource.response", data)
}

func (m *SystemMonitor) handleUserAction(msg core.Message) {
	action := strings.TrimPrefix(msg.Type, "user.action.")
	m.mu.Lock()
	defer m.mu.Unlock()
	switch action {
	case "login":
		m.stats.ActiveUsers++
	case "logout":
		if m.stats.ActiveUsers > 0 {
			m.stats.ActiveUsers--
		}
	}
	m.logger.Printf("%s[%s] user action %s (active users %d)", SystemMonitorType, m.SessionID(), action, m.stats.ActiveUsers)
}

var _ core.Agent = (*SystemMonitor)(nil)
