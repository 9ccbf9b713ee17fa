package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/session"
)

// handleListSessions lists the caller's sessions.
// GET /api/sessions
func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.repo.ListSessions(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleCreateSession creates a session and ensures its sandbox.
// POST /api/sessions
func (s *Server) handleCreateSession(c *gin.Context) {
	var req session.CreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, s.log, apperr.Wrap(apperr.KindBadRequest, "invalid session payload", err))
			return
		}
	}

	ownerID := currentProfile(c).ID
	sess, err := s.repo.CreateSession(c.Request.Context(), ownerID, &req)
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	if _, err := s.sandboxes.EnsureSessionContainer(c.Request.Context(), sess.ID, ownerID); err != nil {
		s.log.Warn("sandbox ensure on session create failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	} else if s.watchers != nil {
		if err := s.watchers.Start(sess.ID); err != nil {
			s.log.Warn("workspace watcher start failed",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, sess)
}

// handleGetSession fetches one session with its messages.
// GET /api/sessions/:id
func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.repo.GetSession(c.Request.Context(), c.Param("id"), currentProfile(c).ID)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// handleDeleteSession destroys a session, its sandbox, its watcher, its
// context state, and its stream buffer.
// DELETE /api/sessions/:id
func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := s.repo.GetSession(ctx, id, currentProfile(c).ID); err != nil {
		respondError(c, s.log, err)
		return
	}

	if s.watchers != nil {
		s.watchers.Stop(id)
	}
	if err := s.sandboxes.DestroySessionContainer(ctx, id); err != nil {
		s.log.Warn("sandbox destroy on session delete failed",
			zap.String("session_id", id), zap.Error(err))
	}
	s.state.Clear(id)
	s.streams.DropSession(id)

	if err := s.repo.DeleteSession(ctx, id); err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
