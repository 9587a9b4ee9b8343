package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/systempromptio/systemprompt-os/internal/agent/claudecli"
	"github.com/systempromptio/systemprompt-os/internal/agent/credentials"
	"github.com/systempromptio/systemprompt-os/internal/agent/hostproxy"
	"github.com/systempromptio/systemprompt-os/internal/agent/operations"
	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/agent/session"
	"github.com/systempromptio/systemprompt-os/internal/api"
	"github.com/systempromptio/systemprompt-os/internal/common/config"
	"github.com/systempromptio/systemprompt-os/internal/common/constants"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/common/sqlite"
	"github.com/systempromptio/systemprompt-os/internal/events"
	"github.com/systempromptio/systemprompt-os/internal/mcpserver"
	"github.com/systempromptio/systemprompt-os/internal/module"
	"github.com/systempromptio/systemprompt-os/internal/module/loader"
	"github.com/systempromptio/systemprompt-os/internal/module/manager"
	"github.com/systempromptio/systemprompt-os/internal/module/registry"
	moduleservice "github.com/systempromptio/systemprompt-os/internal/module/service"
	"github.com/systempromptio/systemprompt-os/internal/streaming"
	taskstore "github.com/systempromptio/systemprompt-os/internal/task/store"
	"github.com/systempromptio/systemprompt-os/internal/tools"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
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

	log.Info("Starting systemprompt-os...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event bus: NATS when configured, in-memory otherwise
	eventBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 5. Storage: SQLite when a database path is configured, in-memory
	// otherwise
	var db *sql.DB
	var taskStore taskstore.Store
	if cfg.Database.Path != "" {
		db, err = sqlite.Open(cfg.Database.Path)
		if err != nil {
			log.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()

		taskStore, err = taskstore.NewSQLiteStore(db)
		if err != nil {
			log.Fatal("Failed to initialize task store", zap.Error(err))
		}
		log.Info("Using SQLite storage", zap.String("path", cfg.Database.Path))
	} else {
		taskStore = taskstore.NewMemoryStore()
		log.Info("Using in-memory storage")
	}
	taskStore = taskstore.NewEventedStore(taskStore, eventBus, log)
	defer taskStore.Close()

	// 6. Module subsystem
	reg := registry.NewRegistry()
	ldr := loader.NewLoader(reg, eventBus, log)

	storeProvider := func() (manager.Store, error) {
		if db == nil {
			return manager.NewMemoryStore(), nil
		}
		return manager.NewSQLiteStore(db)
	}

	svc := moduleservice.NewService(reg, ldr, storeProvider, cfg.Modules.Dir, log)

	descriptors := []loader.Descriptor{
		{
			Name:      svc.Name(),
			AutoStart: cfg.Modules.AutoStart,
			Factory:   func() (module.Module, error) { return svc, nil },
		},
	}
	if err := ldr.LoadModules(ctx, descriptors); err != nil {
		log.Fatal("Failed to load core modules", zap.Error(err))
	}

	exports, ok := svc.Exports().(*moduleservice.Exports)
	if !ok {
		log.Fatal("modules service returned unexpected exports type")
	}

	if err := exports.RegisterCoreModule(ctx, svc.Name(), svc.Version(), "internal/module/service", svc.Dependencies()); err != nil {
		log.Warn("Failed to register core module record", zap.Error(err))
	}
	if result, err := exports.ValidateCoreModules(ctx); err != nil {
		log.Fatal("Core module validation failed", zap.Error(err))
	} else if result != nil {
		for _, w := range result.Warnings {
			log.Warn("Module validation warning", zap.String("warning", w))
		}
	}

	// 7. Agent orchestration
	sessions := session.NewManager(eventBus, log,
		cfg.Agent.SessionIdleTimeoutDuration(), constants.SessionSweepInterval)
	if err := sessions.Start(ctx); err != nil {
		log.Fatal("Failed to start session manager", zap.Error(err))
	}

	proxy := hostproxy.NewClient(hostproxy.Config{
		Host:        cfg.HostProxy.Host,
		Port:        cfg.HostProxy.Port,
		Timeout:     cfg.HostProxy.TimeoutDuration(),
		SandboxRoot: cfg.HostProxy.SandboxRoot,
		HostRoot:    cfg.HostProxy.HostRoot,
	}, log)

	var agentClient query.AgentClient
	switch cfg.Agent.ExecutionMode {
	case config.ExecutionModeHostProxy:
		agentClient = hostproxy.NewAgent(proxy, cfg.Agent.ClaudePath, log)
		log.Info("Agent execution via host proxy", zap.String("addr", cfg.HostProxy.Address()))
	default:
		agentClient = claudecli.NewClient(cfg.Agent.ClaudePath, credentials.NewResolver(""), log)
	}
	executor := query.NewExecutor(agentClient, eventBus, log, cfg.Agent.QueryTimeoutDuration())

	ops := operations.New(sessions, executor, taskStore, log)

	workingDir, _ := os.Getwd()
	toolHandler := tools.NewHandler(ops, sessions, executor, proxy, taskStore, workingDir, log)

	// 8. Streaming hub
	hub := streaming.NewHub(eventBus, log)
	if err := hub.Start(ctx); err != nil {
		log.Fatal("Failed to start streaming hub", zap.Error(err))
	}

	// 9. HTTP server
	handler := api.NewHandler(toolHandler, taskStore, sessions, exports, reg, log)
	router := api.SetupRouter(handler, hub, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 10. Embedded MCP server
	var mcpSrv *mcpserver.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcpserver.New(mcpserver.Config{Port: cfg.MCP.Port}, toolHandler, log)
		if err := mcpSrv.Start(ctx); err != nil {
			log.Fatal("Failed to start MCP server", zap.Error(err))
		}
	}

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down systemprompt-os...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()

	var g errgroup.Group
	g.Go(func() error { return server.Shutdown(shutdownCtx) })
	if mcpSrv != nil {
		g.Go(func() error { return mcpSrv.Stop(shutdownCtx) })
	}
	if err := g.Wait(); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	hub.Stop()

	if err := sessions.Stop(); err != nil {
		log.Error("Session manager stop error", zap.Error(err))
	}

	ldr.StopModules(shutdownCtx)

	log.Info("Shutdown complete")
}
