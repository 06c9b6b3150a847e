package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/killallgit/parley/pkg/chat"
	"github.com/killallgit/parley/pkg/kv"
	"github.com/killallgit/parley/pkg/logger"
)

// Fixed keys under which selection state is persisted across restarts.
const (
	KeyCurrentSession = "current_session_id"
	KeySelectedAgent  = "selected_agent_id"
	KeyHITLEnabled    = "hitl_enabled"
)

// Backend covers the collaborator calls the registry delegates to.
type Backend interface {
	StartSession(ctx context.Context, agentID int) (chat.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]chat.Session, error)
}

// Registry is the top-level orchestrator state: the known sessions, the
// selected session and agent, and the HITL flag. It is constructed once and
// passed by reference; there are no ambient singletons. Selection changes
// are announced to a single subscriber (wired to Store.LoadHistory) so that
// selection and history loading stay decoupled; anything that changes the
// selected id causes a reload.
type Registry struct {
	mu               sync.Mutex
	backend          Backend
	state            kv.Store
	sessions         []chat.Session
	currentSessionID string
	selectedAgentID  int
	hitlEnabled      bool
	onSelect         func(sessionID string)
}

func NewRegistry(backend Backend, state kv.Store) *Registry {
	return &Registry{
		backend:  backend,
		state:    state,
		sessions: make([]chat.Session, 0),
	}
}

// OnSelect registers the subscriber notified after every selection change.
// An empty sessionID means the selection was cleared.
func (r *Registry) OnSelect(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSelect = fn
}

// Restore rehydrates persisted selection state and fetches the fresh
// session list. When the persisted current session still exists, the
// selected agent is re-derived from that session's agent_id rather than
// trusted from storage, so agent selection survives a restart without
// going stale.
func (r *Registry) Restore(ctx context.Context) error {
	r.mu.Lock()
	if v, ok := r.state.Get(KeyHITLEnabled); ok {
		r.hitlEnabled = v == "true"
	}
	if v, ok := r.state.Get(KeySelectedAgent); ok {
		if id, err := strconv.Atoi(v); err == nil {
			r.selectedAgentID = id
		}
	}
	persisted, _ := r.state.Get(KeyCurrentSession)
	r.mu.Unlock()

	sessions, err := r.backend.Sessions(ctx)
	if err != nil {
		return err
	}

	var notify string
	r.mu.Lock()
	r.sessions = sessions
	r.currentSessionID = ""
	for _, sess := range sessions {
		if sess.SessionID == persisted {
			r.currentSessionID = persisted
			r.selectedAgentID = sess.AgentID
			r.persist(KeySelectedAgent, strconv.Itoa(sess.AgentID))
			notify = persisted
			break
		}
	}
	if r.currentSessionID == "" && persisted != "" {
		logger.Info("persisted session %s no longer exists, clearing selection", persisted)
		r.persist(KeyCurrentSession, "")
	}
	fn := r.onSelect
	r.mu.Unlock()

	if fn != nil && notify != "" {
		fn(notify)
	}
	return nil
}

// StartSession creates a server-side session, refreshes the session list,
// and selects the new session. Failure propagates to the caller: with no
// session id to recover into, this is the one operation whose error must
// reach the UI directly.
func (r *Registry) StartSession(ctx context.Context, agentID int) (chat.Session, error) {
	session, err := r.backend.StartSession(ctx, agentID)
	if err != nil {
		return chat.Session{}, err
	}

	sessions, err := r.backend.Sessions(ctx)
	if err != nil {
		logger.Warn("session list refresh failed after start: %v", err)
		sessions = nil
	}

	r.mu.Lock()
	if sessions != nil {
		r.sessions = sessions
	} else {
		r.sessions = append(r.sessions, session)
	}
	r.currentSessionID = session.SessionID
	r.selectedAgentID = agentID
	r.persist(KeyCurrentSession, session.SessionID)
	r.persist(KeySelectedAgent, strconv.Itoa(agentID))
	fn := r.onSelect
	r.mu.Unlock()

	if fn != nil {
		fn(session.SessionID)
	}
	return session, nil
}

// SwitchSession is a pure local selection change. The history reload
// happens through the selection subscriber, not as a direct step here.
func (r *Registry) SwitchSession(sessionID string) {
	r.mu.Lock()
	if sessionID == r.currentSessionID {
		r.mu.Unlock()
		return
	}
	r.currentSessionID = sessionID
	r.persist(KeyCurrentSession, sessionID)
	fn := r.onSelect
	r.mu.Unlock()

	if fn != nil {
		fn(sessionID)
	}
}

// EndSession ends the session server-side, removes it locally, and clears
// the selection if it pointed at the ended session.
func (r *Registry) EndSession(ctx context.Context, sessionID string) error {
	if err := r.backend.EndSession(ctx, sessionID); err != nil {
		return err
	}

	var notify bool
	r.mu.Lock()
	kept := r.sessions[:0]
	for _, sess := range r.sessions {
		if sess.SessionID != sessionID {
			kept = append(kept, sess)
		}
	}
	r.sessions = kept
	if r.currentSessionID == sessionID {
		r.currentSessionID = ""
		r.persist(KeyCurrentSession, "")
		notify = true
	}
	fn := r.onSelect
	r.mu.Unlock()

	if fn != nil && notify {
		fn("")
	}
	return nil
}

// RefreshSessions re-fetches the session list from the backend.
func (r *Registry) RefreshSessions(ctx context.Context) error {
	sessions, err := r.backend.Sessions(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions = sessions
	r.mu.Unlock()
	return nil
}

// ToggleHITL flips and persists the human-in-the-loop flag. The new value
// takes effect on the next send; an in-flight turn keeps the flag it was
// opened with.
func (r *Registry) ToggleHITL() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hitlEnabled = !r.hitlEnabled
	r.persist(KeyHITLEnabled, strconv.FormatBool(r.hitlEnabled))
	return r.hitlEnabled
}

// Sessions returns a snapshot of the known session list.
func (r *Registry) Sessions() []chat.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// CurrentSessionID returns the selected session id, empty when none.
func (r *Registry) CurrentSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSessionID
}

// SelectedAgentID returns the selected agent id.
func (r *Registry) SelectedAgentID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selectedAgentID
}

// SetSelectedAgent records and persists an agent selection.
func (r *Registry) SetSelectedAgent(agentID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selectedAgentID = agentID
	r.persist(KeySelectedAgent, strconv.Itoa(agentID))
}

// HITLEnabled returns the current human-in-the-loop flag.
func (r *Registry) HITLEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hitlEnabled
}

// persist writes a key, logging rather than failing on storage errors;
// selection state is a convenience, not a correctness requirement.
// Callers hold r.mu.
func (r *Registry) persist(key, value string) {
	var err error
	if value == "" {
		err = r.state.Remove(key)
	} else {
		err = r.state.Set(key, value)
	}
	if err != nil {
		logger.Warn("failed to persist %s: %v", key, err)
	}
}
