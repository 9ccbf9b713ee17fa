package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devcrew/devcrew/internal/common/jsonfile"
)

// LLMInteraction records one prompt/response exchange with a provider.
type LLMInteraction struct {
	Agent         string    `json:"agent"`
	Kind          string    `json:"kind"` // plan, review, act, summarize
	Provider      string    `json:"provider"`
	Prompt        string    `json:"prompt"`
	RawResponse   string    `json:"raw_response"`
	FinalResponse string    `json:"final_response"`
	Timestamp     time.Time `json:"timestamp"`
}

// LLMLog is the append-only per-session record of LLM interactions,
// stored as <id>_llm.json next to the session files.
type LLMLog struct {
	base string
	mu   sync.Mutex
}

// NewLLMLog creates a log rooted at the sessions directory of basePath.
func NewLLMLog(basePath string) (*LLMLog, error) {
	dir := filepath.Join(basePath, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create llm log dir: %w", err)
	}
	return &LLMLog{base: dir}, nil
}

func (l *LLMLog) path(sessionID string) string {
	return filepath.Join(l.base, sessionID+"_llm.json")
}

// Append adds one interaction to the session's log.
func (l *LLMLog) Append(sessionID string, entry LLMInteraction) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []LLMInteraction
	if err := jsonfile.Read(l.path(sessionID), &entries); err != nil && !os.IsNotExist(err) {
		// Corrupt log: start over rather than losing new entries.
		entries = nil
	}
	entries = append(entries, entry)
	return jsonfile.Write(l.path(sessionID), entries)
}

// List returns all recorded interactions for a session.
func (l *LLMLog) List(sessionID string) ([]LLMInteraction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []LLMInteraction
	if err := jsonfile.Read(l.path(sessionID), &entries); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}
