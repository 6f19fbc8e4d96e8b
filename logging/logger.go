// Package logging provides the structured event logger used throughout the
// engine. It mirrors the teacher's logger/logger.go shape: a small Level
// enum, an Event envelope, and a Logger interface decoupled from any single
// backend.
package logging

import "time"

// Level orders log severities from most to least verbose.
type Level uint8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// String returns the human-readable name of the level.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// Event is one structured log record. Component identifies the emitting
// subsystem (e.g. "interceptor", "registry"). SessionID and TabID are
// optional fields that NewEvent leaves empty; the engine's own components
// record the session and tab as "session"/"tab" entries in Values.
type Event struct {
	Type      string
	Component string
	SessionID string
	TabID     string
	At        time.Time
	Values    map[string]any
}

// NewEvent builds an Event stamped with the given component and type.
func NewEvent(component, typ string) *Event {
	return &Event{
		Type:      typ,
		Component: component,
		At:        time.Now(),
		Values:    map[string]any{},
	}
}

// With attaches a key/value pair and returns the event for chaining.
func (e *Event) With(key string, value any) *Event {
	e.Values[key] = value
	return e
}

// Logger is the sink every component logs through instead of calling
// fmt.Println/log.Print directly.
type Logger interface {
	Log(level Level, e *Event)
}

// Nop discards every event. Used where no logger is configured.
type Nop struct{}

func (Nop) Log(Level, *Event) {}
