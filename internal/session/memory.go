package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps sessions in process memory. Used by tests and
// by deployments that do not need persistence.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*Session)}
}

func (r *MemoryRepository) CreateSession(_ context.Context, ownerID string, req *CreateRequest) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := NewSession(ownerID, "")
	if req != nil {
		if req.ID != "" {
			s.ID = req.ID
			if req.Title == "" {
				s.Title = DefaultTitlePrefix + shortID(req.ID)
			}
		}
		if req.Title != "" {
			s.Title = req.Title
		}
	}
	if existing, ok := r.sessions[s.ID]; ok {
		cp := cloneSession(existing)
		return cp, nil
	}
	r.sessions[s.ID] = s
	return cloneSession(s), nil
}

func (r *MemoryRepository) GetSession(_ context.Context, id, ownerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || (ownerID != "" && s.OwnerID != ownerID) {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *MemoryRepository) ListSessions(_ context.Context, ownerID string) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, s := range r.sessions {
		if ownerID == "" || s.OwnerID == ownerID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListMessages(_ context.Context, id, ownerID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || (ownerID != "" && s.OwnerID != ownerID) {
		return nil, ErrNotFound
	}
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs, nil
}

func (r *MemoryRepository) AppendMessage(_ context.Context, msg *Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[msg.SessionID]
	if !ok {
		return nil, ErrNotFound
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	// Keep timestamps monotonic within the session
	if n := len(s.Messages); n > 0 && stored.Timestamp.Before(s.Messages[n-1].Timestamp) {
		stored.Timestamp = s.Messages[n-1].Timestamp
	}
	s.Messages = append(s.Messages, stored)

	if stored.Sender == SenderUser {
		if title, changed := renameFromFirstMessage(s.Title, stored.Content); changed {
			s.Title = title
		}
	}

	out := stored
	return &out, nil
}

func (r *MemoryRepository) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}
