// Package dispatch fans call-UI actions and push-token changes out to a single
// active listener per stream. Registering a listener replaces the previous one;
// events raised while no listener is attached are dropped.
package dispatch

import (
	"sync"

	"voip-callkit/internal/calls"
)

type ActionListener func(calls.Event)

type TokenListener func(token string)

// State of one listener slot.
type State int

const (
	Unlistened State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "unlistened"
}

type Dispatcher struct {
	mu     sync.Mutex
	action ActionListener
	token  TokenListener
}

func New() *Dispatcher {
	return &Dispatcher{}
}

// SetActionListener installs l as the only action listener. nil detaches.
// Nothing is replayed to the new listener.
func (d *Dispatcher) SetActionListener(l ActionListener) {
	d.mu.Lock()
	d.action = l
	d.mu.Unlock()
}

// SetTokenListener installs l as the only token listener. nil detaches.
func (d *Dispatcher) SetTokenListener(l TokenListener) {
	d.mu.Lock()
	d.token = l
	d.mu.Unlock()
}

// Detach clears both slots.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	d.action = nil
	d.token = nil
	d.mu.Unlock()
}

func (d *Dispatcher) ActionState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.action != nil {
		return Listening
	}
	return Unlistened
}

func (d *Dispatcher) TokenState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.token != nil {
		return Listening
	}
	return Unlistened
}

// NotifyAction delivers ev synchronously to the current action listener.
// It reports whether a listener received it.
func (d *Dispatcher) NotifyAction(ev calls.Event) bool {
	d.mu.Lock()
	l := d.action
	d.mu.Unlock()
	if l == nil {
		return false
	}
	l(ev)
	return true
}

// NotifyToken delivers token synchronously to the current token listener.
func (d *Dispatcher) NotifyToken(token string) bool {
	d.mu.Lock()
	l := d.token
	d.mu.Unlock()
	if l == nil {
		return false
	}
	l(token)
	return true
}
