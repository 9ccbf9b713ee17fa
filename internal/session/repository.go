package session

import (
	"context"
	"fmt"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/config"
	"github.com/devcrew/devcrew/internal/common/logger"
)

// CreateRequest carries optional client-supplied fields for session creation.
type CreateRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

// Repository is the session and message store.
// Implementations must keep messages append-only and timestamp-monotonic
// per session, and apply the default-title rename on the first user message.
type Repository interface {
	CreateSession(ctx context.Context, ownerID string, req *CreateRequest) (*Session, error)
	GetSession(ctx context.Context, id, ownerID string) (*Session, error)
	ListSessions(ctx context.Context, ownerID string) ([]*Session, error)
	ListMessages(ctx context.Context, id, ownerID string) ([]Message, error)
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	DeleteSession(ctx context.Context, id string) error
}

// ErrNotFound reports an unknown session id (or an owner mismatch).
var ErrNotFound = apperr.New(apperr.KindNotFound, "session not found")

// NewRepository builds the configured repository backend.
func NewRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) (Repository, func() error, error) {
	switch cfg.Session.StorageBackend {
	case "memory":
		return NewMemoryRepository(), func() error { return nil }, nil
	case "file":
		repo, err := NewFileRepository(cfg.Session.DataPath, log)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { return nil }, nil
	case "postgres":
		repo, err := NewPostgresRepository(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { repo.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session storage backend %q", cfg.Session.StorageBackend)
	}
}
