package storage

import (
	"time"

	"github.com/castellanosj/warelay/pkg/bridge"
)

// EventType identifies a storage mutation.
type EventType string

const (
	EventSessionSaved   EventType = "session_saved"
	EventSessionDeleted EventType = "session_deleted"
)

// Event describes one session mutation, fanned out to observers.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	Session   *bridge.Session `json:"session,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Observer receives storage events. Implementations must not block;
// fan-out happens on the writer's goroutine.
type Observer interface {
	OnStorageEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnStorageEvent calls f.
func (f ObserverFunc) OnStorageEvent(event Event) { f(event) }

// Watcher is the subscription surface stores expose alongside CRUD.
type Watcher interface {
	AddObserver(Observer)
}

func newEvent(eventType EventType, session *bridge.Session) Event {
	e := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
	if session != nil {
		e.SessionID = session.ID
		e.Session = session.Clone()
	}
	return e
}
