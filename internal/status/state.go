package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/bus"
)

// State represents a bridge process lifecycle state.
type State string

const (
	NotStarted  State = "NOT_STARTED"
	Starting    State = "STARTING"
	Running     State = "RUNNING"
	StartFailed State = "START_FAILED"
	Stopped     State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	NotStarted:  {Starting},
	Starting:    {Running, StartFailed, Stopped},
	Running:     {Stopped},
	StartFailed: {Starting},
	Stopped:     {Starting},
}

// Machine tracks and enforces bridge lifecycle state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in NotStarted state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: NotStarted,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "bridge.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
