package stream

import "encoding/json"

// EventType tags the discriminated union carried by each stream frame.
type EventType string

const (
	EventChunk     EventType = "chunk"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventCustom    EventType = "custom_event"
)

// Event is one decoded frame from the streaming endpoint.
//
// Which fields are populated depends on Type: chunk carries Content,
// complete optionally carries the server's canonical Content, error carries
// Message, tool events carry ToolName, and custom events carry Data.
// Err is local-only: the reader uses it to deliver transport failures
// in-band, the way a chunk channel has no second return value.
type Event struct {
	Type     EventType      `json:"type"`
	Content  string         `json:"content,omitempty"`
	Message  string         `json:"message,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Data     map[string]any `json:"data,omitempty"`

	// HasContent distinguishes an absent content field from an empty one.
	// A complete event only overrides accumulated text when the field is
	// actually present on the wire.
	HasContent bool `json:"-"`

	Err error `json:"-"`
}

func (e *Event) UnmarshalJSON(b []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	_, a.HasContent = fields["content"]

	*e = Event(a)
	return nil
}

// Custom event payload keys, as emitted inside Data by the server.
const (
	CustomKeyEventID    = "event_id"
	CustomKeyEventType  = "event_type"
	CustomKeyToolName   = "tool_name"
	CustomKeyAgentLabel = "agent_label"
	CustomKeyNodeID     = "node_id"
	CustomKeyTimestamp  = "timestamp"
)

// EventID extracts the deduplication key from a custom event payload.
func (e Event) EventID() string {
	if id, ok := e.Data[CustomKeyEventID].(string); ok {
		return id
	}
	return ""
}

// CustomEventType extracts the application-defined kind (progress, status,
// file operation) from a custom event payload.
func (e Event) CustomEventType() string {
	if t, ok := e.Data[CustomKeyEventType].(string); ok {
		return t
	}
	return ""
}
