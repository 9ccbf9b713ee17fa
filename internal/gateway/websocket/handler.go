package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/auth"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades session stream connections.
type Handler struct {
	auth    *auth.Service
	repo    session.Repository
	streams *stream.Manager
	log     *logger.Logger
}

// NewHandler creates the WebSocket handler.
func NewHandler(authSvc *auth.Service, repo session.Repository, streams *stream.Manager, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		auth:    authSvc,
		repo:    repo,
		streams: streams,
		log:     log.WithFields(zap.String("component", "ws_gateway")),
	}
}

// Register mounts the stream route.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/api/ws/sessions/:sessionId", h.handleSession)
}

// handleSession authenticates, verifies ownership, subscribes, and
// upgrades. The subscription is created before the upgrade so the
// replay buffer is already queued when the first write happens.
func (h *Handler) handleSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			header = "Bearer " + token
		}
	}
	profile, err := h.auth.FromAuthorization(header)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID := c.Param("sessionId")
	if _, err := h.repo.GetSession(c.Request.Context(), sessionID, profile.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	sub := h.streams.Subscribe(sessionID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.streams.Unsubscribe(sub)
		h.log.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	h.log.Debug("stream client connected",
		zap.String("session_id", sessionID),
		zap.String("user_id", profile.ID))
	NewClient(sessionID, conn, sub, h.streams, h.log).Run()
}
