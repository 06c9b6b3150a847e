package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolTracker(t *testing.T) {
	t.Run("should track a start/end pair", func(t *testing.T) {
		tracker := NewToolTracker()

		tracker.Start("search")
		assert.Equal(t, []string{"search"}, tracker.Active())

		tracker.End("search")
		assert.Empty(t, tracker.Active())
	})

	t.Run("should treat a stray end as a no-op", func(t *testing.T) {
		tracker := NewToolTracker()

		tracker.End("search")
		assert.Empty(t, tracker.Active())
	})

	t.Run("should absorb duplicate starts", func(t *testing.T) {
		tracker := NewToolTracker()

		tracker.Start("search")
		tracker.Start("search")
		assert.Equal(t, []string{"search"}, tracker.Active())

		tracker.End("search")
		assert.Empty(t, tracker.Active())
	})

	t.Run("should ignore empty names", func(t *testing.T) {
		tracker := NewToolTracker()

		tracker.Start("")
		assert.Empty(t, tracker.Active())
	})

	t.Run("should sort the active snapshot", func(t *testing.T) {
		tracker := NewToolTracker()

		tracker.Start("write_file")
		tracker.Start("search")
		tracker.Start("bash")
		assert.Equal(t, []string{"bash", "search", "write_file"}, tracker.Active())
	})

	t.Run("should clear wholesale on reset", func(t *testing.T) {
		tracker := NewToolTracker()

		tracker.Start("search")
		tracker.Start("bash")
		tracker.Reset()
		assert.Empty(t, tracker.Active())
	})
}
