package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/parley/pkg/stream"
)

func customEvent(data map[string]any) stream.Event {
	return stream.Event{Type: stream.EventCustom, Data: data}
}

func TestCustomEventDispatcher(t *testing.T) {
	t.Run("should keep the latest payload per event_id", func(t *testing.T) {
		d := NewCustomEventDispatcher()

		d.Apply(customEvent(map[string]any{"event_id": "ev-1", "event_type": "progress", "step": 1}))
		d.Apply(customEvent(map[string]any{"event_id": "ev-1", "event_type": "progress", "step": 2}))

		assert.Equal(t, 1, d.Len())
		payload, ok := d.Get("ev-1")
		require.True(t, ok)
		assert.Equal(t, 2, payload["step"])
	})

	t.Run("should keep distinct ids separate", func(t *testing.T) {
		d := NewCustomEventDispatcher()

		d.Apply(customEvent(map[string]any{"event_id": "ev-1", "event_type": "progress"}))
		d.Apply(customEvent(map[string]any{"event_id": "ev-2", "event_type": "status"}))

		assert.Equal(t, 2, d.Len())
	})

	t.Run("should synthesize a key when event_id is absent", func(t *testing.T) {
		d := NewCustomEventDispatcher()

		d.Apply(customEvent(map[string]any{"event_type": "status"}))
		d.Apply(customEvent(map[string]any{"event_type": "status"}))

		// without an id there is nothing to deduplicate against
		assert.Equal(t, 2, d.Len())
	})

	t.Run("should expose a snapshot of the keyed map", func(t *testing.T) {
		d := NewCustomEventDispatcher()

		d.Apply(customEvent(map[string]any{"event_id": "ev-1", "event_type": "file_operation", "tool_name": "write_file"}))

		snapshot := d.Snapshot()
		require.Len(t, snapshot, 1)
		assert.Equal(t, "write_file", snapshot["ev-1"]["tool_name"])
	})

	t.Run("should clear wholesale on reset", func(t *testing.T) {
		d := NewCustomEventDispatcher()

		d.Apply(customEvent(map[string]any{"event_id": "ev-1", "event_type": "progress"}))
		d.Reset()

		assert.Equal(t, 0, d.Len())
		_, ok := d.Get("ev-1")
		assert.False(t, ok)
	})
}
