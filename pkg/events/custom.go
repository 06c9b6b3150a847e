package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/killallgit/parley/pkg/stream"
)

// CustomEventDispatcher keeps the latest custom event payload per event_id.
// Applying a second event with the same id overwrites the first, so
// redelivered progress/status/file signals collapse to their newest value.
// Like ToolTracker this is per-turn scratch state, reset wholesale at turn
// boundaries rather than drained incrementally.
type CustomEventDispatcher struct {
	mu     sync.Mutex
	latest map[string]map[string]any
}

func NewCustomEventDispatcher() *CustomEventDispatcher {
	return &CustomEventDispatcher{
		latest: make(map[string]map[string]any),
	}
}

// Apply records the event payload under its event_id, synthesizing a key
// from the event_type and arrival time when the server omitted one.
func (d *CustomEventDispatcher) Apply(ev stream.Event) {
	key := ev.EventID()
	if key == "" {
		key = synthesizeKey(ev.CustomEventType())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest[key] = ev.Data
}

// Get returns the latest payload recorded for an event id.
func (d *CustomEventDispatcher) Get(eventID string) (map[string]any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, ok := d.latest[eventID]
	return payload, ok
}

// Snapshot returns a copy of the keyed payload map.
func (d *CustomEventDispatcher) Snapshot() map[string]map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]map[string]any, len(d.latest))
	for key, payload := range d.latest {
		out[key] = payload
	}
	return out
}

// Len returns the number of distinct event ids seen this turn.
func (d *CustomEventDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.latest)
}

// Reset clears the map wholesale at a turn boundary.
func (d *CustomEventDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = make(map[string]map[string]any)
}

func synthesizeKey(eventType string) string {
	if eventType == "" {
		eventType = "event"
	}
	return fmt.Sprintf("%s-%d-%s", eventType, time.Now().UnixNano(), uuid.NewString()[:8])
}
