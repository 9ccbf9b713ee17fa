package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devcrew/devcrew/internal/common/config"
	"github.com/devcrew/devcrew/internal/common/logger"
)

// PostgresRepository stores sessions and messages in PostgreSQL.
// Selected with SESSION_STORAGE_BACKEND=postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_owner_idx ON sessions (owner_id);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	sender     TEXT NOT NULL,
	agent      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	metadata   JSONB,
	seq        BIGSERIAL,
	PRIMARY KEY (session_id, seq)
);
`

// NewPostgresRepository connects to the database and ensures the schema.
func NewPostgresRepository(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresRepository{pool: pool, log: log}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) CreateSession(ctx context.Context, ownerID string, req *CreateRequest) (*Session, error) {
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

	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, owner_id, title, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID, s.OwnerID, s.Title, s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return r.GetSession(ctx, s.ID, "")
}

func (r *PostgresRepository) GetSession(ctx context.Context, id, ownerID string) (*Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, created_at FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.OwnerID, &s.Title, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	if ownerID != "" && s.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	msgs, err := r.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Messages = msgs
	return &s, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, ownerID string) ([]*Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, owner_id, title, created_at FROM sessions
		 WHERE ($1 = '' OR owner_id = $1) ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Title, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Messages = []Message{}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListMessages(ctx context.Context, id, ownerID string) ([]Message, error) {
	if _, err := r.GetSession(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return r.listMessages(ctx, id)
}

func (r *PostgresRepository) listMessages(ctx context.Context, id string) ([]Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, sender, agent, content, ts, metadata
		 FROM messages WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var meta []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Agent, &m.Content, &m.Timestamp, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	var meta []byte
	if stored.Metadata != nil {
		meta, _ = json.Marshal(stored.Metadata)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var title string
	err = tx.QueryRow(ctx, `SELECT title FROM sessions WHERE id = $1 FOR UPDATE`, stored.SessionID).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, session_id, sender, agent, content, ts, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stored.ID, stored.SessionID, stored.Sender, stored.Agent, stored.Content, stored.Timestamp, meta); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if stored.Sender == SenderUser {
		if newTitle, changed := renameFromFirstMessage(title, stored.Content); changed {
			if _, err := tx.Exec(ctx, `UPDATE sessions SET title = $1 WHERE id = $2`, newTitle, stored.SessionID); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
