package authsession

import (
	"sync"

	"github.com/google/uuid"
)

// Event identifies a session lifecycle event.
type Event string

const (
	// EventLogin fires after a redirect completes and the session is
	// authenticated.
	EventLogin Event = "login"

	// EventLogout fires after a local logout clears the session.
	EventLogout Event = "logout"

	// EventTokensChanged fires whenever the stored token record is
	// replaced: after login, after every successful refresh cycle, and
	// after logout.
	EventTokensChanged Event = "tokensChanged"
)

type eventListener struct {
	id string
	fn func()
}

// emitter dispatches lifecycle events synchronously, in registration
// order. Listeners run outside the emitter lock, so a listener may
// subscribe or unsubscribe from within its callback. Listener panics are
// not recovered; a broken listener should fail loudly, not vanish.
type emitter struct {
	mu        sync.Mutex
	listeners map[Event][]eventListener
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[Event][]eventListener)}
}

// subscribe registers fn for event and returns an opaque handle for
// unsubscribing.
func (e *emitter) subscribe(event Event, fn func()) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.listeners[event] = append(e.listeners[event], eventListener{id: id, fn: fn})
	e.mu.Unlock()
	return id
}

// unsubscribe removes the listener registered under id. Unknown ids are
// ignored.
func (e *emitter) unsubscribe(event Event, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[event]
	for i, l := range current {
		if l.id == id {
			e.listeners[event] = append(current[:i:i], current[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(event Event) {
	e.mu.Lock()
	current := make([]eventListener, len(e.listeners[event]))
	copy(current, e.listeners[event])
	e.mu.Unlock()

	for _, l := range current {
		l.fn()
	}
}
