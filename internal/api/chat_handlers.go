package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
)

type sendMessageRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
}

// handleSendMessage appends the user message and starts a turn in the
// background. The streaming response arrives over the WebSocket.
// POST /api/chat/messages
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.log, apperr.Wrap(apperr.KindBadRequest, "invalid message payload", err))
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Content) == "" {
		respondError(c, s.log, apperr.New(apperr.KindBadRequest, "session_id and content are required"))
		return
	}

	profile := currentProfile(c)
	ctx := c.Request.Context()
	if _, err := s.repo.GetSession(ctx, req.SessionID, profile.ID); err != nil {
		respondError(c, s.log, err)
		return
	}

	saved, err := s.repo.AppendMessage(ctx, &session.Message{
		ID:        req.MessageID,
		SessionID: req.SessionID,
		Sender:    session.SenderUser,
		Content:   req.Content,
	})
	if err != nil {
		respondError(c, s.log, err)
		return
	}

	go s.runTurn(req.SessionID, profile.ID, req.Content)

	c.JSON(http.StatusAccepted, gin.H{"message": saved})
}

// runTurn executes one orchestrated turn detached from the request.
func (s *Server) runTurn(sessionID, userID, content string) {
	log := s.log.WithSessionID(sessionID)
	sc := stream.NewContext(sessionID, userID, userID,
		s.streams.PublisherFor(sessionID), s.repo.AppendMessage, log)

	if err := s.workflow.RunTurn(context.Background(), sc, content); err != nil {
		log.Warn("turn aborted", zap.Error(err))
	}
}

// handleMessageHistory returns the session's persisted messages.
// GET /api/chat/messages/:sessionId
func (s *Server) handleMessageHistory(c *gin.Context) {
	messages, err := s.repo.ListMessages(c.Request.Context(), c.Param("sessionId"), currentProfile(c).ID)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	if messages == nil {
		messages = []session.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
