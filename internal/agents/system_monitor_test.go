package agents

import (
	"context"
	"testing"
	"time"

	"background-agents/internal/core"
	"background-agents/internal/host"
)

func fixedSampler(cpu, mem float64) Sampler {
	return func() (float64, float64) { return cpu, mem }
}

func TestSystemMonitorDeclaration(t *testing.T) {
	m := NewSystemMonitor("s1", host.Deps{}, nil)
	if m.AgentType() != SystemMonitorType || m.Interval() != SystemMonitorInterval {
		t.Fatalf("unexpected identity %s %s", m.AgentType(), m.Interval())
	}
	for _, typ := range []string{"system.status.request", "system.resource.request", "user.action.login"} {
		if !m.Subscribed(typ) {
			t.Errorf("expected subscription for %s", typ)
		}
	}
	if m.Subscribed("notification.create") {
		t.Error("unexpected subscription for notification.create")
	}
}

func TestSystemMonitorProcessStoresStats(t *testing.T) {
	store := newStore(t)
	m := NewSystemMonitor("s1", host.Deps{Store: store}, fixedSampler(42, 55))
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.lastCheck = t0
	m.now = func() time.Time { return t0.Add(30 * time.Second) }

	ctx := context.Background()
	if err := m.Process(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	var stored Stats
	ver, err := store.GetInto(ctx, m.statsKey(), &stored)
	if err != nil || ver != 1 {
		t.Fatalf("get stats: ver=%d err=%v", ver, err)
	}
	if stored.CPUUsage != 42 || stored.MemoryUsage != 55 || stored.Uptime != 30 {
		t.Fatalf("unexpected stats %+v", stored)
	}
	status, ver, err := store.Get(ctx, m.statusKey())
	if err != nil || ver != 1 || status != "healthy" {
		t.Fatalf("get status: %v ver=%d err=%v", status, ver, err)
	}
	if m.Stats() != stored {
		t.Fatalf("in-memory stats %+v differ from stored %+v", m.Stats(), stored)
	}
}

func TestSystemMonitorStatusTracksStats(t *testing.T) {
	store := newStore(t)
	cpu := 10.0
	m := NewSystemMonitor("s1", host.Deps{Store: store}, func() (float64, float64) { return cpu, 20 })
	ctx := context.Background()
	m.Process(ctx)
	cpu = 92
	if err := m.Process(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	var stats Stats
	statsVer, _ := store.GetInto(ctx, m.statsKey(), &stats)
	status, statusVer, _ := store.Get(ctx, m.statusKey())
	if stats.CPUUsage != 92 || status != "degraded" {
		t.Fatalf("unexpected stored state %+v %v", stats, status)
	}
	if statsVer != 2 || statusVer != 2 {
		t.Fatalf("stats and status should advance together, got %d/%d", statsVer, statusVer)
	}
}

func TestSystemMonitorStatus(t *testing.T) {
	for _, c := range []struct {
		cpu  float64
		want string
	}{{10, "healthy"}, {79.9, "healthy"}, {80, "degraded"}, {95, "degraded"}} {
		rec := &recorder{}
		m := NewSystemMonitor("s1", host.Deps{Publisher: rec}, fixedSampler(c.cpu, 30))
		ctx := context.Background()
		m.Process(ctx)
		req := core.NewMessage("system.status.request", nil)
		req.SessionID = "s1"
		if err := m.ProcessMessage(ctx, req); err != nil {
			t.Fatalf("process message: %v", err)
		}
		resp := rec.last(t)
		if resp.Type != "system.status.response" || resp.String("status") != c.want {
			t.Errorf("cpu %.1f: expected %s, got %+v", c.cpu, c.want, resp)
		}
		if resp.SessionID != "s1" {
			t.Errorf("response should stay in the request's session, got %q", resp.SessionID)
		}
		if _, ok := resp.Data["metrics"].(Stats); !ok {
			t.Errorf("metrics missing from response: %+v", resp.Data)
		}
	}
}

func TestSystemMonitorResource(t *testing.T) {
	rec := &recorder{}
	m := NewSystemMonitor("s1", host.Deps{Publisher: rec}, fixedSampler(12, 34))
	t0 := time.Now()
	m.lastCheck = t0
	m.now = func() time.Time { return t0.Add(2 * time.Hour) }
	ctx := context.Background()
	m.Process(ctx)

	ask := func(resource string) core.Message {
		req := core.NewMessage("system.resource.request", map[string]interface{}{"resource_type": resource})
		if err := m.ProcessMessage(ctx, req); err != nil {
			t.Fatalf("process message: %v", err)
		}
		return rec.last(t)
	}
	if v := ask("cpu").Data["value"]; v != 12.0 {
		t.Errorf("cpu: got %v", v)
	}
	if v := ask("memory").Data["value"]; v != 34.0 {
		t.Errorf("memory: got %v", v)
	}
	if v := ask("uptime").Data["value"]; v != 2.0 {
		t.Errorf("uptime hours: got %v", v)
	}
	if e := ask("disk").String("error"); e == "" {
		t.Error("expected error for unknown resource")
	}
}

func TestSystemMonitorUserActions(t *testing.T) {
	m := NewSystemMonitor("s1", host.Deps{}, fixedSampler(1, 1))
	ctx := context.Background()
	for _, action := range []string{"login", "login", "logout", "logout", "logout", "click"} {
		if err := m.ProcessMessage(ctx, core.NewMessage("user.action."+action, nil)); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	if got := m.Stats().ActiveUsers; got != 0 {
		t.Fatalf("active users should clamp at 0, got %d", got)
	}
	m.ProcessMessage(ctx, core.NewMessage("user.action.login", nil))
	if got := m.Stats().ActiveUsers; got != 1 {
		t.Fatalf("expected 1 active user, got %d", got)
	}
}
