package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/devcrew/devcrew/internal/common/jsonfile"
)

// StateStore persists per-session context state (action log, TODOs,
// per-role data) plus step details and full context snapshots. It keeps
// an in-memory cache of the raw state and mirrors writes to disk
// atomically.
//
// Layout under the session base directory:
//
//	<id>_context.json
//	<id>_steps/step_<n>.json
//	<id>_context_snapshots/step_<n>.json
type StateStore struct {
	base  string
	mu    sync.Mutex
	cache map[string]json.RawMessage
}

// NewStateStore creates a state store rooted at the sessions directory
// of basePath.
func NewStateStore(basePath string) (*StateStore, error) {
	dir := filepath.Join(basePath, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &StateStore{base: dir, cache: make(map[string]json.RawMessage)}, nil
}

func (s *StateStore) statePath(sessionID string) string {
	return filepath.Join(s.base, sessionID+"_context.json")
}

func (s *StateStore) stepsDir(sessionID string) string {
	return filepath.Join(s.base, sessionID+"_steps")
}

func (s *StateStore) snapshotsDir(sessionID string) string {
	return filepath.Join(s.base, sessionID+"_context_snapshots")
}

// LoadState returns the raw persisted state, or nil when none exists.
func (s *StateStore) LoadState(sessionID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, ok := s.cache[sessionID]; ok {
		return raw, nil
	}
	data, err := os.ReadFile(s.statePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	raw := json.RawMessage(data)
	s.cache[sessionID] = raw
	return raw, nil
}

// PersistState writes the state atomically and refreshes the cache.
func (s *StateStore) PersistState(sessionID string, state any) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := jsonfile.WriteRaw(s.statePath(sessionID), data); err != nil {
		return err
	}
	s.cache[sessionID] = json.RawMessage(data)
	return nil
}

// PersistActionDetail writes one step's detail payload and returns its path.
func (s *StateStore) PersistActionDetail(sessionID string, stepID int, payload any) (string, error) {
	path := filepath.Join(s.stepsDir(sessionID), fmt.Sprintf("step_%d.json", stepID))
	if err := jsonfile.Write(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// PersistContextSnapshot writes a full context snapshot for one step and
// returns its path.
func (s *StateStore) PersistContextSnapshot(sessionID string, stepID int, snapshot any) (string, error) {
	path := filepath.Join(s.snapshotsDir(sessionID), fmt.Sprintf("step_%d.json", stepID))
	if err := jsonfile.Write(path, snapshot); err != nil {
		return "", err
	}
	return path, nil
}

// ClearState erases the cached and on-disk state for a session.
func (s *StateStore) ClearState(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, sessionID)
	if err := os.Remove(s.statePath(sessionID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
