package lifecycle

import (
	"errors"
	"testing"

	"background-agents/internal/core"
)

func TestDefaultTableIsValid(t *testing.T) {
	if err := New().ValidateTransitions(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRunStop(t *testing.T) {
	m := New()
	var entered []core.State
	m.OnEnter(core.StateRunning, func(from core.State) { entered = append(entered, core.StateRunning) })
	m.OnEnter(core.StateStopped, func(from core.State) {
		if from != core.StateRunning {
			t.Errorf("expected stop from running, got %s", from)
		}
		entered = append(entered, core.StateStopped)
	})

	if st, err := m.Trigger(EventStart); err != nil || st != core.StateRunning {
		t.Fatalf("start: %v %s", err, st)
	}
	if st, err := m.Trigger(EventStop); err != nil || st != core.StateStopped {
		t.Fatalf("stop: %v %s", err, st)
	}
	if len(entered) != 2 {
		t.Fatalf("expected 2 callbacks, got %v", entered)
	}
}

func TestInvalidTransition(t *testing.T) {
	m := New()
	if _, err := m.Trigger(EventStop); err != nil {
		t.Fatalf("stop from registered: %v", err)
	}
	st, err := m.Trigger(EventStart)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if st != core.StateStopped || m.State() != core.StateStopped {
		t.Fatalf("state changed on invalid transition: %s", st)
	}
}

func TestFail(t *testing.T) {
	m := New()
	m.Trigger(EventStart)
	if st, err := m.Trigger(EventFail); err != nil || st != core.StateFailed {
		t.Fatalf("fail: %v %s", err, st)
	}
	if _, err := m.Trigger(EventStop); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed state should be terminal, got %v", err)
	}
}

func TestUnreachableState(t *testing.T) {
	m := New()
	m.AddTransition(Transition{From: "limbo", Event: EventStart, To: core.StateRunning})
	if err := m.ValidateTransitions(); err == nil {
		t.Fatal("expected unreachable state error")
	}
}
