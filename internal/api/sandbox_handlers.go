package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
)

type sandboxRequest struct {
	SessionID string `json:"session_id"`
}

type execRequest struct {
	SessionID string            `json:"session_id"`
	Command   string            `json:"command"`
	Cwd       string            `json:"cwd"`
	Timeout   int               `json:"timeout"`
	Env       map[string]string `json:"env"`
}

// handleSandboxLaunch creates or reuses the session's sandbox.
// POST /api/sandbox/launch
func (s *Server) handleSandboxLaunch(c *gin.Context) {
	var req sandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		respondError(c, s.log, apperr.New(apperr.KindBadRequest, "session_id is required"))
		return
	}
	if !s.requireSession(c, req.SessionID) {
		return
	}

	inst, err := s.sandboxes.EnsureSessionContainer(c.Request.Context(), req.SessionID, currentProfile(c).ID)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	if s.watchers != nil {
		if err := s.watchers.Start(req.SessionID); err != nil {
			s.log.Warn("workspace watcher start failed",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, inst)
}

// handleSandboxDestroy destroys one sandbox.
// POST /api/sandbox/destroy
func (s *Server) handleSandboxDestroy(c *gin.Context) {
	var req sandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		respondError(c, s.log, apperr.New(apperr.KindBadRequest, "session_id is required"))
		return
	}
	if !s.requireSession(c, req.SessionID) {
		return
	}

	if s.watchers != nil {
		s.watchers.Stop(req.SessionID)
	}
	if err := s.sandboxes.DestroySessionContainer(c.Request.Context(), req.SessionID); err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"destroyed": req.SessionID})
}

// handleSandboxDestroyAll destroys every sandbox owned by the caller.
// POST /api/sandbox/destroy_all
func (s *Server) handleSandboxDestroyAll(c *gin.Context) {
	destroyed, err := s.sandboxes.DestroyAll(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	if s.watchers != nil {
		for _, id := range destroyed {
			s.watchers.Stop(id)
		}
	}
	if destroyed == nil {
		destroyed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"destroyed": destroyed})
}

// handleSandboxExec runs one command inside the sandbox.
// POST /api/sandbox/exec
func (s *Server) handleSandboxExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		respondError(c, s.log, apperr.New(apperr.KindBadRequest, "session_id is required"))
		return
	}
	if !s.requireSession(c, req.SessionID) {
		return
	}

	result, err := s.commands.RunCommand(c.Request.Context(),
		req.SessionID, currentProfile(c).ID, req.Command, req.Cwd, req.Env,
		time.Duration(req.Timeout)*time.Second)
	if err != nil {
		respondError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleSandboxPreview lists the bound preview URLs.
// GET /api/sandbox/preview/:sessionId
func (s *Server) handleSandboxPreview(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !s.requireSession(c, sessionID) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"previews": s.sandboxes.PreviewURLs(sessionID)})
}
