package event

import "time"

// Event is a single structured log event. The relay treats it as an opaque
// payload: it is appended, serialized, and handed downstream, but its
// contents are never interpreted.
type Event struct {
	// Timestamp is when the event was produced.
	Timestamp time.Time

	// Level is the severity label (e.g. "info", "error"). Free-form.
	Level string

	// Template is the raw message-template payload. Rendering is the
	// downstream consumer's concern.
	Template string

	// Properties holds the template's named values, if any.
	Properties map[string]any
}
