// Package api exposes the REST surface: auth, sessions, chat, workspace
// files, and sandbox control.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/auth"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/orchestrate"
	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
)

// Server bundles the handler dependencies.
type Server struct {
	auth      *auth.Service
	repo      session.Repository
	state     *agentctx.StateManager
	workflow  *orchestrate.Workflow
	streams   *stream.Manager
	sandboxes *sandbox.Manager
	files     *sandbox.FileService
	commands  *sandbox.CommandService
	watchers  *sandbox.WatcherHub
	log       *logger.Logger
}

// Deps lists everything the server needs. Watchers may be nil to
// disable workspace file events.
type Deps struct {
	Auth      *auth.Service
	Repo      session.Repository
	State     *agentctx.StateManager
	Workflow  *orchestrate.Workflow
	Streams   *stream.Manager
	Sandboxes *sandbox.Manager
	Files     *sandbox.FileService
	Commands  *sandbox.CommandService
	Watchers  *sandbox.WatcherHub
	Log       *logger.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		auth:      deps.Auth,
		repo:      deps.Repo,
		state:     deps.State,
		workflow:  deps.Workflow,
		streams:   deps.Streams,
		sandboxes: deps.Sandboxes,
		files:     deps.Files,
		commands:  deps.Commands,
		watchers:  deps.Watchers,
		log:       log.WithFields(zap.String("component", "api")),
	}
}

// RegisterRoutes mounts every REST route under /api.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/auth/login", s.handleLogin)
	api.GET("/auth/me", s.RequireAuth(), s.handleMe)

	authed := api.Group("", s.RequireAuth())
	{
		authed.GET("/sessions", s.handleListSessions)
		authed.POST("/sessions", s.handleCreateSession)
		authed.GET("/sessions/:id", s.handleGetSession)
		authed.DELETE("/sessions/:id", s.handleDeleteSession)

		authed.POST("/chat/messages", s.handleSendMessage)
		authed.GET("/chat/messages/:sessionId", s.handleMessageHistory)

		authed.GET("/files/:sessionId/tree", s.handleFileTree)
		authed.GET("/files/:sessionId", s.handleFileContent)

		authed.POST("/sandbox/launch", s.handleSandboxLaunch)
		authed.POST("/sandbox/destroy", s.handleSandboxDestroy)
		authed.POST("/sandbox/destroy_all", s.handleSandboxDestroyAll)
		authed.POST("/sandbox/exec", s.handleSandboxExec)
		authed.GET("/sandbox/preview/:sessionId", s.handleSandboxPreview)
	}
}
