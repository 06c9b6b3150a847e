package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/parley/pkg/api"
	"github.com/killallgit/parley/pkg/chat"
)

type fakeHistory struct {
	responses map[string]api.HistoryResponse
	err       error
	calls     []string
}

func (f *fakeHistory) History(_ context.Context, sessionID string) (api.HistoryResponse, error) {
	f.calls = append(f.calls, sessionID)
	if f.err != nil {
		return api.HistoryResponse{}, f.err
	}
	return f.responses[sessionID], nil
}

func TestStoreLoadHistory(t *testing.T) {
	t.Run("should replace the whole list with server history", func(t *testing.T) {
		history := &fakeHistory{responses: map[string]api.HistoryResponse{
			"sess-1": {Messages: []chat.Message{
				{Role: chat.RoleUser, Content: "Hi"},
				{Role: chat.RoleAssistant, Content: "Hello"},
			}},
		}}
		store := NewStore(history)
		store.AddMessage(chat.NewUserMessage("stale local message"))

		require.NoError(t, store.LoadHistory(context.Background(), "sess-1"))

		messages := store.Messages()
		require.Len(t, messages, 2)
		assert.Equal(t, "Hi", messages[0].Content)
		assert.Equal(t, "Hello", messages[1].Content)
		assert.NoError(t, store.Err())
	})

	t.Run("should reset to empty with an error flag on failure", func(t *testing.T) {
		history := &fakeHistory{err: errors.New("connection refused")}
		store := NewStore(history)
		store.AddMessage(chat.NewUserMessage("previously visible"))

		err := store.LoadHistory(context.Background(), "sess-1")

		assert.Error(t, err)
		assert.Empty(t, store.Messages())
		assert.Error(t, store.Err())
		assert.False(t, store.Loading())
	})
}

func TestStoreMutations(t *testing.T) {
	t.Run("should append messages in insertion order", func(t *testing.T) {
		store := NewStore(&fakeHistory{})

		store.AddMessage(chat.NewUserMessage("first"))
		store.AddMessage(chat.NewAssistantMessage("second"))

		messages := store.Messages()
		require.Len(t, messages, 2)
		assert.Equal(t, "first", messages[0].Content)
		assert.Equal(t, "second", messages[1].Content)
	})

	t.Run("should update only the last message in place", func(t *testing.T) {
		store := NewStore(&fakeHistory{})
		store.AddMessage(chat.NewUserMessage("question"))
		store.AddMessage(chat.NewAssistantMessage("partial"))

		store.UpdateLastMessage("partial answer")

		messages := store.Messages()
		assert.Equal(t, "question", messages[0].Content)
		assert.Equal(t, "partial answer", messages[1].Content)
	})

	t.Run("should treat update on an empty list as a no-op", func(t *testing.T) {
		store := NewStore(&fakeHistory{})

		store.UpdateLastMessage("nothing to update")

		assert.Empty(t, store.Messages())
	})

	t.Run("should clear history and error state together", func(t *testing.T) {
		history := &fakeHistory{err: errors.New("boom")}
		store := NewStore(history)
		_ = store.LoadHistory(context.Background(), "sess-1")
		store.AddMessage(chat.NewUserMessage("hello"))

		store.ClearHistory()

		assert.Empty(t, store.Messages())
		assert.NoError(t, store.Err())
	})

	t.Run("should expose the last message", func(t *testing.T) {
		store := NewStore(&fakeHistory{})

		_, ok := store.LastMessage()
		assert.False(t, ok)

		store.AddMessage(chat.NewUserMessage("hello"))
		last, ok := store.LastMessage()
		assert.True(t, ok)
		assert.Equal(t, "hello", last.Content)
	})
}
