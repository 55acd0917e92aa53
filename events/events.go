package events

// Event represents a structured state change emitted by the pool.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventType returns the canonical event name.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers,
// notification pipelines).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}
