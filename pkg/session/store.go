package session

import (
	"context"
	"sync"

	"github.com/killallgit/parley/pkg/api"
	"github.com/killallgit/parley/pkg/chat"
	"github.com/killallgit/parley/pkg/logger"
)

// HistoryFetcher loads a session's message history from the backend.
type HistoryFetcher interface {
	History(ctx context.Context, sessionID string) (api.HistoryResponse, error)
}

// Store owns the ordered message list and loading/error state for the
// active conversation. It is a pure state container: it knows how to fetch
// history through the injected collaborator but has no other network
// awareness, and it is mutated only through its own operations.
type Store struct {
	mu       sync.RWMutex
	messages []chat.Message
	loading  bool
	loadErr  error
	history  HistoryFetcher
}

func NewStore(history HistoryFetcher) *Store {
	return &Store{
		messages: make([]chat.Message, 0),
		history:  history,
	}
}

// LoadHistory replaces the entire message list with the server's history
// for sessionID. On failure the list resets to empty and the error flag is
// set; stale or partial history is never left visible.
func (s *Store) LoadHistory(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	resp, err := s.history.History(ctx, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		logger.Error("failed to load history for session %s: %v", sessionID, err)
		s.messages = make([]chat.Message, 0)
		s.loadErr = err
		return err
	}

	messages := make([]chat.Message, len(resp.Messages))
	copy(messages, resp.Messages)
	s.messages = messages
	s.loadErr = nil
	return nil
}

// AddMessage appends; it never rejects.
func (s *Store) AddMessage(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// UpdateLastMessage replaces the content of the final entry in place.
// No-op on an empty list.
func (s *Store) UpdateLastMessage(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return
	}
	s.messages[len(s.messages)-1].Content = content
}

// ClearHistory empties the list and clears the error flag.
func (s *Store) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]chat.Message, 0)
	s.loadErr = nil
}

// Messages returns a snapshot of the list in insertion order.
func (s *Store) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastMessage returns the most recent entry, if any.
func (s *Store) LastMessage() (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return chat.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Loading reports whether a history fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the last history-load failure, nil after a successful load
// or ClearHistory.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}
