package events

import (
	"sort"
	"sync"
)

// ToolTracker maintains the set of currently-executing tool names, driven by
// tool_start/tool_end events. Membership is idempotent in both directions: a
// duplicate start is absorbed and a stray end is a no-op.
type ToolTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewToolTracker() *ToolTracker {
	return &ToolTracker{
		active: make(map[string]struct{}),
	}
}

// Start marks a tool as running.
func (t *ToolTracker) Start(name string) {
	if name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[name] = struct{}{}
}

// End marks a tool as finished. Ending a tool that never started is a no-op.
func (t *ToolTracker) End(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, name)
}

// Active returns a sorted snapshot of running tool names.
func (t *ToolTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.active))
	for name := range t.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears the set wholesale. Called at turn boundaries so markers from
// an aborted turn cannot leak into the next one.
func (t *ToolTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[string]struct{})
}
