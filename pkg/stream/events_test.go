package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventUnmarshal(t *testing.T) {
	t.Run("should decode a chunk frame", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"type": "chunk", "content": "Hel"}`), &ev)
		require.NoError(t, err)

		assert.Equal(t, EventChunk, ev.Type)
		assert.Equal(t, "Hel", ev.Content)
		assert.True(t, ev.HasContent)
	})

	t.Run("should mark content absent on a bare complete frame", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"type": "complete"}`), &ev)
		require.NoError(t, err)

		assert.Equal(t, EventComplete, ev.Type)
		assert.False(t, ev.HasContent)
	})

	t.Run("should distinguish empty content from absent content", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"type": "complete", "content": ""}`), &ev)
		require.NoError(t, err)

		assert.Equal(t, "", ev.Content)
		assert.True(t, ev.HasContent)
	})

	t.Run("should decode tool events", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"type": "tool_start", "tool_name": "search", "data": {"input": "go"}}`), &ev)
		require.NoError(t, err)

		assert.Equal(t, EventToolStart, ev.Type)
		assert.Equal(t, "search", ev.ToolName)
		assert.Equal(t, "go", ev.Data["input"])
	})

	t.Run("should decode error frames", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"type": "error", "message": "boom"}`), &ev)
		require.NoError(t, err)

		assert.Equal(t, EventError, ev.Type)
		assert.Equal(t, "boom", ev.Message)
	})

	t.Run("should reject invalid JSON", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"type": "chunk", "content"`), &ev)
		assert.Error(t, err)
	})
}

func TestCustomEventAccessors(t *testing.T) {
	t.Run("should extract event_id and event_type from data", func(t *testing.T) {
		var ev Event
		err := json.Unmarshal([]byte(`{"type": "custom_event", "data": {"event_id": "ev-1", "event_type": "progress", "node_id": "n7"}}`), &ev)
		require.NoError(t, err)

		assert.Equal(t, "ev-1", ev.EventID())
		assert.Equal(t, "progress", ev.CustomEventType())
	})

	t.Run("should return empty strings when data is missing", func(t *testing.T) {
		ev := Event{Type: EventCustom}
		assert.Equal(t, "", ev.EventID())
		assert.Equal(t, "", ev.CustomEventType())
	})

	t.Run("should tolerate non-string ids", func(t *testing.T) {
		ev := Event{Type: EventCustom, Data: map[string]any{"event_id": 42}}
		assert.Equal(t, "", ev.EventID())
	})
}
