package status

import (
	"testing"

	"github.com/orrbarkat/whatsapp-mcp/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != NotStarted {
		t.Errorf("initial state = %s, want NOT_STARTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{NotStarted, Starting},
		{Starting, Running},
		{Starting, StartFailed},
		{Starting, Stopped},
		{Running, Stopped},
		{StartFailed, Starting},
		{Stopped, Starting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			// Walk to the "from" state.
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Running); err == nil {
		t.Error("Transition(NOT_STARTED -> RUNNING) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("bridge.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Starting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "bridge.status_changed" {
		t.Errorf("event kind = %q, want bridge.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != NotStarted || change.To != Starting {
		t.Errorf("change = %v -> %v, want NOT_STARTED -> STARTING", change.From, change.To)
	}
}

// TestStoppedStateIsRestartable verifies that a stopped bridge can be started
// again without resetting the machine.
func TestStoppedStateIsRestartable(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Stopped)

	steps := []State{Starting, Running, Stopped}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Stopped {
		t.Errorf("final state = %s, want STOPPED", m.Current())
	}
}

// TestStartFailureRetry verifies the retry loop after a failed start:
// STARTING -> START_FAILED -> STARTING -> RUNNING
func TestStartFailureRetry(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Starting, StartFailed, Starting, Running}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Running {
		t.Errorf("final state = %s, want RUNNING", m.Current())
	}
}

// TestRunningCannotFailStart verifies that START_FAILED is only reachable
// from STARTING.
func TestRunningCannotFailStart(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Running)

	if err := m.Transition(StartFailed); err == nil {
		t.Fatal("Transition(RUNNING -> START_FAILED) should fail")
	}
	if m.Current() != Running {
		t.Errorf("state = %s, want RUNNING (should not have changed)", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		NotStarted:  {},
		Starting:    {Starting},
		Running:     {Starting, Running},
		StartFailed: {Starting, StartFailed},
		Stopped:     {Starting, Running, Stopped},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
