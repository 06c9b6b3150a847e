package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/parley/pkg/api"
	"github.com/killallgit/parley/pkg/chat"
	"github.com/killallgit/parley/pkg/events"
	"github.com/killallgit/parley/pkg/logger"
	"github.com/killallgit/parley/pkg/stream"
)

// Streamer opens one event stream per send.
type Streamer interface {
	Send(ctx context.Context, req stream.Request) (<-chan stream.Event, error)
}

// MetricsFetcher refreshes session metrics after a completed turn.
type MetricsFetcher interface {
	Metrics(ctx context.Context, sessionID string) (api.MetricsResponse, error)
}

// Engine is the protocol state machine for one conversation. It enforces
// at most one in-flight stream, reconstructs the assistant message from
// chunk events in wire order, and routes side-channel events to the tool
// tracker and custom-event dispatcher.
//
// All message mutation for a turn happens on the turn's consume goroutine;
// Send, Cancel, and the read accessors may be called from any goroutine.
type Engine struct {
	mu          sync.Mutex
	streaming   bool
	generation  int
	cancel      context.CancelFunc
	done        chan struct{}
	lastError   string
	lastMetrics *api.MetricsResponse

	store    *Store
	tools    *events.ToolTracker
	custom   *events.CustomEventDispatcher
	streamer Streamer
	metrics  MetricsFetcher
	observer func(stream.Event)
}

func NewEngine(store *Store, tools *events.ToolTracker, custom *events.CustomEventDispatcher, streamer Streamer, metrics MetricsFetcher) *Engine {
	return &Engine{
		store:    store,
		tools:    tools,
		custom:   custom,
		streamer: streamer,
		metrics:  metrics,
	}
}

// SetObserver installs a display tap invoked, in wire order, for every
// event after its state effects have been applied. Events from a cancelled
// turn are never observed.
func (e *Engine) SetObserver(fn func(stream.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Send starts one turn: the local user message is appended before any
// network activity, then the stream is opened and consumed. A send with an
// empty session id, or while a turn is already streaming, is a silent
// no-op; this is the enforcement point for the single-stream invariant.
func (e *Engine) Send(sessionID, text string, hitl bool) {
	e.mu.Lock()
	if sessionID == "" || e.streaming {
		e.mu.Unlock()
		logger.Debug("send ignored: session=%q streaming=%v", sessionID, e.streaming)
		return
	}
	e.streaming = true
	e.generation++
	gen := e.generation
	e.lastError = ""
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	// scratch state from an aborted previous turn must not leak into this one
	e.tools.Reset()
	e.custom.Reset()

	e.store.AddMessage(chat.NewUserMessage(text))

	eventCh, err := e.streamer.Send(ctx, stream.Request{
		SessionID:  sessionID,
		Message:    text,
		EnableHITL: hitl,
	})
	if err != nil {
		logger.Error("failed to open stream for session %s: %v", sessionID, err)
		e.mu.Lock()
		// a Cancel that raced the open already released the turn and
		// closed done; only the owning turn may close it
		owns := e.generation == gen
		if owns {
			e.streaming = false
			e.cancel = nil
			e.done = nil
			e.lastError = fmt.Sprintf("failed to send message: %v", err)
		}
		e.mu.Unlock()
		cancel()
		if owns {
			close(done)
		}
		return
	}

	go e.consume(gen, sessionID, eventCh)
}

// Cancel aborts the in-flight turn. The abort is informational, not an
// error: no completion hook runs, and frames still buffered for the turn
// are discarded without mutating state.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if !e.streaming {
		e.mu.Unlock()
		return
	}
	e.streaming = false
	e.generation++ // invalidates undelivered frames
	cancel := e.cancel
	e.cancel = nil
	done := e.done
	e.done = nil
	e.mu.Unlock()

	cancel()
	logger.Info("stream cancelled")
	close(done)
}

// Wait blocks until the current turn ends. Returns immediately when idle.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// IsStreaming reports whether a turn is in flight.
func (e *Engine) IsStreaming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaming
}

// LastError returns the user-visible error from the most recent turn,
// empty when the turn succeeded. Cleared at the start of each send.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// LastMetrics returns the metrics snapshot refreshed after the most
// recently completed turn.
func (e *Engine) LastMetrics() (api.MetricsResponse, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastMetrics == nil {
		return api.MetricsResponse{}, false
	}
	return *e.lastMetrics, true
}

// consume drains one turn's event channel, applying events in wire order.
func (e *Engine) consume(gen int, sessionID string, eventCh <-chan stream.Event) {
	var acc strings.Builder
	created := false
	failed := false

	for ev := range eventCh {
		if e.stale(gen) {
			continue
		}
		if ev.Err != nil {
			if errors.Is(ev.Err, context.Canceled) {
				logger.Info("stream aborted: %v", ev.Err)
				continue
			}
			e.setError(fmt.Sprintf("stream failed: %v", ev.Err))
			failed = true
			continue
		}

		e.apply(ev, &acc, &created)

		if obs := e.currentObserver(); obs != nil && !e.stale(gen) {
			obs(ev)
		}
	}

	e.mu.Lock()
	if e.generation != gen {
		// turn was cancelled; Cancel already released the busy flag
		e.mu.Unlock()
		return
	}
	e.streaming = false
	e.cancel = nil
	done := e.done
	e.done = nil
	e.mu.Unlock()

	if !failed {
		e.finishTurn(sessionID)
	}
	close(done)
}

// apply dispatches one event. Exactly one assistant message is created per
// turn: the first chunk creates it, later chunks rewrite it in place. A
// complete frame replaces the accumulated text only when it carries content
// that is present, non-empty, and different; an empty or absent content
// field is deliberately ignored so a terse completion frame can never erase
// streamed text.
func (e *Engine) apply(ev stream.Event, acc *strings.Builder, created *bool) {
	switch ev.Type {
	case stream.EventChunk:
		acc.WriteString(ev.Content)
		if !*created {
			e.store.AddMessage(chat.NewAssistantMessage(acc.String()))
			*created = true
		} else {
			e.store.UpdateLastMessage(acc.String())
		}

	case stream.EventComplete:
		// the server's canonical text wins over accumulated fragments,
		// applied regardless of any earlier error event in the turn;
		// an absent or empty content field never overrides
		if !ev.HasContent || ev.Content == "" || ev.Content == acc.String() {
			return
		}
		if !*created {
			e.store.AddMessage(chat.NewAssistantMessage(ev.Content))
			*created = true
		} else {
			e.store.UpdateLastMessage(ev.Content)
		}
		acc.Reset()
		acc.WriteString(ev.Content)

	case stream.EventError:
		// server-signaled error; more frames may still arrive
		e.setError(ev.Message)

	case stream.EventToolStart:
		e.tools.Start(ev.ToolName)

	case stream.EventToolEnd:
		e.tools.End(ev.ToolName)

	case stream.EventCustom:
		e.custom.Apply(ev)

	default:
		logger.Debug("ignoring unknown event type %q", ev.Type)
	}
}

// finishTurn runs the completion effects: refresh metrics and reset the
// per-turn scratch trackers. Skipped after cancellation and after a
// transport failure.
func (e *Engine) finishTurn(sessionID string) {
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		resp, err := e.metrics.Metrics(ctx, sessionID)
		if err != nil {
			logger.Warn("metrics refresh failed for session %s: %v", sessionID, err)
		} else {
			e.mu.Lock()
			e.lastMetrics = &resp
			e.mu.Unlock()
		}
	}
	e.tools.Reset()
	e.custom.Reset()
}

func (e *Engine) setError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastError = msg
}

func (e *Engine) stale(gen int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation != gen
}

func (e *Engine) currentObserver() func(stream.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observer
}
