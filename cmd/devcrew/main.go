// Package main runs the devcrew backend: REST API, session stream
// WebSocket, the orchestrator, and the sandbox manager in one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/agents"
	"github.com/devcrew/devcrew/internal/api"
	"github.com/devcrew/devcrew/internal/auth"
	"github.com/devcrew/devcrew/internal/common/config"
	"github.com/devcrew/devcrew/internal/common/httpmw"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/events"
	gateway "github.com/devcrew/devcrew/internal/gateway/websocket"
	"github.com/devcrew/devcrew/internal/llm"
	"github.com/devcrew/devcrew/internal/orchestrate"
	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
	"github.com/devcrew/devcrew/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting devcrew backend...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: in-memory by default, NATS when configured
	provided, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()
	eventBus := provided.Bus

	// Session persistence
	repo, closeRepo, err := session.NewRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize session repository", zap.Error(err))
	}
	defer closeRepo()

	stateStore, err := session.NewStateStore(cfg.Session.DataPath)
	if err != nil {
		log.Fatal("Failed to initialize state store", zap.Error(err))
	}
	llmLog, err := session.NewLLMLog(cfg.Session.DataPath)
	if err != nil {
		log.Fatal("Failed to initialize llm log", zap.Error(err))
	}

	// Container runtime: fall back to the engine-less runtime when no
	// Docker daemon is reachable so chat still works without sandboxes.
	var runtime sandbox.Runtime
	var dockerOpts []sandbox.DockerOption
	if cfg.Sandbox.DockerHost != "" {
		dockerOpts = append(dockerOpts, sandbox.WithDockerHost(cfg.Sandbox.DockerHost))
	}
	if cfg.Sandbox.APIVersion != "" {
		dockerOpts = append(dockerOpts, sandbox.WithAPIVersion(cfg.Sandbox.APIVersion))
	}
	docker, err := sandbox.NewDockerRuntime(ctx, log, dockerOpts...)
	if err != nil {
		log.Warn("Docker daemon not available - sandbox commands will be no-ops", zap.Error(err))
		runtime = sandbox.NopRuntime{}
	} else {
		runtime = docker
		log.Info("Connected to Docker daemon")
	}

	// Sandbox manager + workspace services
	manager, err := sandbox.NewManager(cfg.Sandbox, runtime, eventBus, log)
	if err != nil {
		log.Fatal("Failed to initialize sandbox manager", zap.Error(err))
	}
	if err := manager.Restore(ctx); err != nil {
		log.Warn("Sandbox restore failed", zap.Error(err))
	}
	reaper := sandbox.NewReaper(manager, cfg.Sandbox.GCIntervalDuration(), log)
	reaper.Start(ctx)
	defer reaper.Stop()

	files := sandbox.NewFileService(manager, log)
	commands := sandbox.NewCommandService(manager, log)

	// Stream fabric
	streams := stream.NewManager(eventBus, log)

	watchers := sandbox.NewWatcherHub(manager, func(sessionID, path, op string) {
		ev := &stream.Event{
			Type:      stream.EventFileChange,
			SessionID: sessionID,
			Sender:    string(session.SenderStatus),
			Content:   path,
			Metadata:  map[string]any{"op": op},
		}
		if err := streams.Publish(context.Background(), ev); err != nil {
			log.Warn("file change publish failed", zap.Error(err))
		}
	}, log)
	defer watchers.StopAll()

	// Tools
	executor := tools.NewExecutor(log)
	executor.Register(tools.NewFileWriteTool(files))
	executor.Register(tools.NewFileReadTool(files))
	executor.Register(tools.NewShellTool(commands))
	executor.Register(tools.NewWebSearchTool())

	// LLM routing + the crew
	llmSvc := llm.NewService(cfg.LLM, log)
	crew := agents.NewCrew(agents.Deps{LLM: llmSvc, Tools: executor, LLMLog: llmLog, Log: log})

	stateMgr := agentctx.NewStateManager(stateStore, log)
	builder := agentctx.NewBuilder(repo, stateMgr, files, log)
	workflow, err := orchestrate.NewWorkflow(builder, stateMgr, crew, log)
	if err != nil {
		log.Fatal("Failed to initialize orchestrator", zap.Error(err))
	}

	authSvc := auth.NewService(cfg.Auth)

	// HTTP router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.CORS())
	router.Use(httpmw.RequestLogger(log, "devcrew"))

	apiServer := api.NewServer(api.Deps{
		Auth:      authSvc,
		Repo:      repo,
		State:     stateMgr,
		Workflow:  workflow,
		Streams:   streams,
		Sandboxes: manager,
		Files:     files,
		Commands:  commands,
		Watchers:  watchers,
		Log:       log,
	})
	apiServer.RegisterRoutes(router)
	gateway.NewHandler(authSvc, repo, streams, log).Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "devcrew"})
	})

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	log.Info("API configured",
		zap.Int("port", port),
		zap.String("websocket", "/api/ws/sessions/:sessionId"),
		zap.String("http", "/api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("Shutting down devcrew...")
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server error", zap.Error(err))
	}
	log.Info("devcrew stopped")
}
