package event

import (
	"encoding/json"
	"time"
)

// record is the wire form of an Event. It is used both for durable store
// entries and for batch payloads sent over HTTP.
type record struct {
	Timestamp  int64          `json:"ts"`
	Level      string         `json:"level,omitempty"`
	Template   string         `json:"msg"`
	Properties map[string]any `json:"props,omitempty"`
}

// toRecord converts an Event to its wire form.
func toRecord(e Event) record {
	return record{
		Timestamp:  e.Timestamp.UnixNano(),
		Level:      e.Level,
		Template:   e.Template,
		Properties: e.Properties,
	}
}

// toEvent reconstructs an Event from its wire form.
func (r record) toEvent() Event {
	return Event{
		Timestamp:  time.Unix(0, r.Timestamp).UTC(),
		Level:      r.Level,
		Template:   r.Template,
		Properties: r.Properties,
	}
}

// EncodeBatch serializes a sequence of events as a JSON array.
// An empty or nil batch encodes to "[]".
func EncodeBatch(events []Event) ([]byte, error) {
	records := make([]record, len(events))
	for i, e := range events {
		records[i] = toRecord(e)
	}
	return json.Marshal(records)
}

// DecodeBatch reverses EncodeBatch, reconstructing each event's raw
// message-template payload from its serialized form.
func DecodeBatch(data []byte) ([]Event, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	events := make([]Event, len(records))
	for i, r := range records {
		events[i] = r.toEvent()
	}
	return events, nil
}
