package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcrew/devcrew/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func repoImplementations(t *testing.T) map[string]Repository {
	fileRepo, err := NewFileRepository(t.TempDir(), newTestLogger(t))
	require.NoError(t, err)
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"file":   fileRepo,
	}
}

func TestRepositoryCreateGet(t *testing.T) {
	for name, repo := range repoImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := repo.CreateSession(ctx, "owner-1", nil)
			require.NoError(t, err)
			assert.NotEmpty(t, s.ID)
			assert.True(t, strings.HasPrefix(s.Title, DefaultTitlePrefix))

			got, err := repo.GetSession(ctx, s.ID, "owner-1")
			require.NoError(t, err)
			assert.Equal(t, s.ID, got.ID)

			_, err = repo.GetSession(ctx, s.ID, "other-owner")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = repo.GetSession(ctx, "missing", "owner-1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepositoryClientSuppliedID(t *testing.T) {
	for name, repo := range repoImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := repo.CreateSession(ctx, "owner-1", &CreateRequest{ID: "sess-42"})
			require.NoError(t, err)
			assert.Equal(t, "sess-42", s.ID)

			// Creating again with the same id returns the existing session
			again, err := repo.CreateSession(ctx, "owner-1", &CreateRequest{ID: "sess-42"})
			require.NoError(t, err)
			assert.Equal(t, s.ID, again.ID)

			list, err := repo.ListSessions(ctx, "owner-1")
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestRepositoryTitleRename(t *testing.T) {
	for name, repo := range repoImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := repo.CreateSession(ctx, "owner-1", nil)
			require.NoError(t, err)

			long := strings.Repeat("x", 80)
			_, err = repo.AppendMessage(ctx, &Message{
				SessionID: s.ID,
				Sender:    SenderUser,
				Content:   long,
			})
			require.NoError(t, err)

			got, err := repo.GetSession(ctx, s.ID, "owner-1")
			require.NoError(t, err)
			assert.Equal(t, strings.Repeat("x", 60), got.Title)

			// A second user message must not rename again
			_, err = repo.AppendMessage(ctx, &Message{
				SessionID: s.ID,
				Sender:    SenderUser,
				Content:   "second message",
			})
			require.NoError(t, err)

			got, err = repo.GetSession(ctx, s.ID, "owner-1")
			require.NoError(t, err)
			assert.Equal(t, strings.Repeat("x", 60), got.Title)
		})
	}
}

func TestRepositoryExplicitTitleNotRenamed(t *testing.T) {
	for name, repo := range repoImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := repo.CreateSession(ctx, "owner-1", &CreateRequest{Title: "My project"})
			require.NoError(t, err)

			_, err = repo.AppendMessage(ctx, &Message{SessionID: s.ID, Sender: SenderUser, Content: "hello"})
			require.NoError(t, err)

			got, err := repo.GetSession(ctx, s.ID, "owner-1")
			require.NoError(t, err)
			assert.Equal(t, "My project", got.Title)
		})
	}
}

func TestRepositoryMessagesAppendOnlyMonotonic(t *testing.T) {
	for name, repo := range repoImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := repo.CreateSession(ctx, "owner-1", nil)
			require.NoError(t, err)

			for i := 0; i < 5; i++ {
				_, err := repo.AppendMessage(ctx, &Message{
					SessionID: s.ID,
					Sender:    SenderAgent,
					Agent:     "engineer",
					Content:   "chunk",
				})
				require.NoError(t, err)
			}

			msgs, err := repo.ListMessages(ctx, s.ID, "owner-1")
			require.NoError(t, err)
			require.Len(t, msgs, 5)
			for i := 1; i < len(msgs); i++ {
				assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp),
					"timestamps must be monotonic")
			}
		})
	}
}

func TestRepositoryDelete(t *testing.T) {
	for name, repo := range repoImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s, err := repo.CreateSession(ctx, "owner-1", nil)
			require.NoError(t, err)

			require.NoError(t, repo.DeleteSession(ctx, s.ID))
			_, err = repo.GetSession(ctx, s.ID, "owner-1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, repo.DeleteSession(ctx, s.ID), ErrNotFound)

			list, err := repo.ListSessions(ctx, "owner-1")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestFileRepositoryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewFileRepository(dir, newTestLogger(t))
	require.NoError(t, err)

	s, err := repo.CreateSession(ctx, "owner-1", nil)
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, &Message{SessionID: s.ID, Sender: SenderUser, Content: "persist me"})
	require.NoError(t, err)

	reopened, err := NewFileRepository(dir, newTestLogger(t))
	require.NoError(t, err)

	got, err := reopened.GetSession(ctx, s.ID, "owner-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "persist me", got.Messages[0].Content)
	assert.Equal(t, "persist me", got.Title)
}
