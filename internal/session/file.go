package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/jsonfile"
	"github.com/devcrew/devcrew/internal/common/logger"
)

// FileRepository stores one JSON document per session under a base
// directory, plus an owner index. All writes are atomic and serialized
// by a single mutex; the store is sparse-I/O bound, not a hot path.
type FileRepository struct {
	base string
	mu   sync.Mutex
	log  *logger.Logger
}

type ownerIndex struct {
	Owners map[string][]string `json:"owners"`
}

// NewFileRepository creates the base directory if needed.
func NewFileRepository(basePath string, log *logger.Logger) (*FileRepository, error) {
	dir := filepath.Join(basePath, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileRepository{base: dir, log: log}, nil
}

func (r *FileRepository) sessionPath(id string) string {
	return filepath.Join(r.base, id+".json")
}

func (r *FileRepository) indexPath() string {
	return filepath.Join(r.base, "index.json")
}

func (r *FileRepository) loadIndex() ownerIndex {
	var idx ownerIndex
	if err := jsonfile.Read(r.indexPath(), &idx); err != nil {
		idx = ownerIndex{}
	}
	if idx.Owners == nil {
		idx.Owners = make(map[string][]string)
	}
	return idx
}

func (r *FileRepository) saveIndex(idx ownerIndex) error {
	return jsonfile.Write(r.indexPath(), idx)
}

func (r *FileRepository) loadSession(id string) (*Session, error) {
	var s Session
	if err := jsonfile.Read(r.sessionPath(id), &s); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *FileRepository) saveSession(s *Session) error {
	return jsonfile.Write(r.sessionPath(s.ID), s)
}

func (r *FileRepository) CreateSession(_ context.Context, ownerID string, req *CreateRequest) (*Session, error) {
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

	if existing, err := r.loadSession(s.ID); err == nil {
		return existing, nil
	}

	if err := r.saveSession(s); err != nil {
		return nil, err
	}

	idx := r.loadIndex()
	ids := idx.Owners[ownerID]
	found := false
	for _, id := range ids {
		if id == s.ID {
			found = true
			break
		}
	}
	if !found {
		idx.Owners[ownerID] = append(ids, s.ID)
	}
	if err := r.saveIndex(idx); err != nil {
		return nil, err
	}

	r.log.Debug("created session", zap.String("session_id", s.ID), zap.String("owner_id", ownerID))
	return s, nil
}

func (r *FileRepository) GetSession(_ context.Context, id, ownerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadSession(id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *FileRepository) ListSessions(_ context.Context, ownerID string) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.loadIndex()
	var out []*Session
	appendOwned := func(ids []string) {
		for _, id := range ids {
			s, err := r.loadSession(id)
			if err != nil {
				// Stale index entry; session file was removed out of band.
				continue
			}
			out = append(out, s)
		}
	}
	if ownerID != "" {
		appendOwned(idx.Owners[ownerID])
	} else {
		for _, ids := range idx.Owners {
			appendOwned(ids)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *FileRepository) ListMessages(ctx context.Context, id, ownerID string) ([]Message, error) {
	s, err := r.GetSession(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return s.Messages, nil
}

func (r *FileRepository) AppendMessage(_ context.Context, msg *Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadSession(msg.SessionID)
	if err != nil {
		return nil, err
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	if n := len(s.Messages); n > 0 && stored.Timestamp.Before(s.Messages[n-1].Timestamp) {
		stored.Timestamp = s.Messages[n-1].Timestamp
	}
	s.Messages = append(s.Messages, stored)

	if stored.Sender == SenderUser {
		if title, changed := renameFromFirstMessage(s.Title, stored.Content); changed {
			s.Title = title
		}
	}

	if err := r.saveSession(s); err != nil {
		return nil, err
	}
	out := stored
	return &out, nil
}

func (r *FileRepository) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadSession(id)
	if err != nil {
		return err
	}

	if err := os.Remove(r.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}

	idx := r.loadIndex()
	ids := idx.Owners[s.OwnerID]
	for i, sid := range ids {
		if sid == id {
			idx.Owners[s.OwnerID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return r.saveIndex(idx)
}
