package agentctx

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/session"
)

// StateManager loads, mutates, and persists per-session State through the
// session state store. All mutations re-persist atomically.
type StateManager struct {
	store *session.StateStore
	log   *logger.Logger

	mu     sync.Mutex
	states map[string]*State
}

// NewStateManager creates a manager over the given state store.
func NewStateManager(store *session.StateStore, log *logger.Logger) *StateManager {
	if log == nil {
		log = logger.Default()
	}
	return &StateManager{
		store:  store,
		log:    log.WithFields(zap.String("component", "context_state")),
		states: make(map[string]*State),
	}
}

// Load returns the session's state, reading it from disk on first access.
func (m *StateManager) Load(sessionID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(sessionID)
}

func (m *StateManager) loadLocked(sessionID string) *State {
	if state, ok := m.states[sessionID]; ok {
		return state
	}

	state := NewState()
	raw, err := m.store.LoadState(sessionID)
	if err != nil {
		m.log.Warn("failed to load session state",
			zap.String("session_id", sessionID),
			zap.Error(err))
	} else if raw != nil {
		if err := json.Unmarshal(raw, state); err != nil {
			m.log.Warn("discarding unreadable session state",
				zap.String("session_id", sessionID),
				zap.Error(err))
			state = NewState()
		}
	}
	m.states[sessionID] = state
	return state
}

// AppendAction records one agent contribution and persists the state.
func (m *StateManager) AppendAction(sessionID string, entry ActionLogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.loadLocked(sessionID)
	state.AppendAction(entry)
	m.persistLocked(sessionID, state)
}

// AppendTodos harvests TODO descriptions into the bounded list.
func (m *StateManager) AppendTodos(sessionID, createdBy string, descriptions []string) {
	if len(descriptions) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.loadLocked(sessionID)
	for _, d := range descriptions {
		state.AppendTodo(NewTodoEntry(d, createdBy))
	}
	m.persistLocked(sessionID, state)
}

// SetAgentData merges values into the role's private slot and persists.
func (m *StateManager) SetAgentData(sessionID, role string, values map[string]any) {
	if len(values) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.loadLocked(sessionID)
	slot := state.DataFor(role)
	for k, v := range values {
		slot[k] = v
	}
	m.persistLocked(sessionID, state)
}

func (m *StateManager) persistLocked(sessionID string, state *State) {
	if err := m.store.PersistState(sessionID, state); err != nil {
		m.log.Error("failed to persist session state",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// PersistStepDetail writes one step's detail payload, returning its path.
func (m *StateManager) PersistStepDetail(sessionID string, stepID int, payload any) (string, error) {
	return m.store.PersistActionDetail(sessionID, stepID, payload)
}

// PersistSnapshot writes a full context snapshot for one step.
func (m *StateManager) PersistSnapshot(sessionID string, stepID int, snapshot *SessionContext) (string, error) {
	return m.store.PersistContextSnapshot(sessionID, stepID, snapshot)
}

// Clear drops the session's cached and persisted state.
func (m *StateManager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	if err := m.store.ClearState(sessionID); err != nil {
		m.log.Warn("failed to clear session state",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
