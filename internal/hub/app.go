// Package hub wires the platform together: configuration, storage, the
// lifecycle services and the HTTP and MCP servers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcphub-dev/mcphub/internal/api"
	v0 "github.com/mcphub-dev/mcphub/internal/api/handlers/v0"
	"github.com/mcphub-dev/mcphub/internal/api/router"
	"github.com/mcphub-dev/mcphub/internal/build"
	"github.com/mcphub-dev/mcphub/internal/config"
	"github.com/mcphub-dev/mcphub/internal/database"
	"github.com/mcphub-dev/mcphub/internal/events"
	"github.com/mcphub-dev/mcphub/internal/generation"
	"github.com/mcphub-dev/mcphub/internal/health"
	"github.com/mcphub-dev/mcphub/internal/logger"
	"github.com/mcphub-dev/mcphub/internal/mcp/hubserver"
	"github.com/mcphub-dev/mcphub/internal/orchestrator"
	"github.com/mcphub-dev/mcphub/internal/registration"
	"github.com/mcphub-dev/mcphub/internal/telemetry"
	"github.com/mcphub-dev/mcphub/internal/validation"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/internal/version"
)

// App runs the hub until ctx is cancelled or a termination signal arrives.
func App(ctx context.Context) error {
	cfg := config.NewConfig()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	log := logger.New(cfg.LogLevel)

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential vault: %w", err)
	}

	// Storage selection: DATABASE_URL="memory" keeps everything in-process,
	// anything else is treated as a Postgres connection string.
	var store database.Store
	if cfg.DatabaseURL == "memory" {
		log.Info("using in-memory store")
		store = database.NewMemoryStore()
	} else {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := database.NewPostgresStore(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		store = pg
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("failed to close store")
		}
	}()

	bus := events.NewBus(events.DefaultBufferSize)
	defer bus.Close()

	regService := registration.NewService(store, v, bus, log)

	pipeline := validation.NewPipeline(store, v, bus, log, cfg.ValidationTimeout)
	regService.SetValidator(pipeline)

	sweeper := validation.NewSweeper(store, pipeline, log, cfg.SweepInterval, cfg.ValidationStuckAge)

	engine := generation.NewEngine(log, cfg.ContainerPort)

	var builder build.Builder
	if cfg.DisableBuild {
		log.Warn("container builds disabled, deployments will use unbuilt image references")
		builder = &build.NoopBuilder{Repo: cfg.ImageRepo}
	} else {
		builder = build.NewDockerBuilder(cfg.BuildDir, cfg.ImageRepo, log)
	}

	runtime := orchestrator.NewComposeRuntime(cfg.RuntimeDir, log)
	orch := orchestrator.New(store, runtime, builder, engine, v, bus, log,
		cfg.ContainerPort, cfg.ReadinessTimeout)

	monitor := health.NewMonitor(store, orch, bus, log, health.Options{
		Interval:           cfg.HealthCheckInterval,
		ProbeTimeout:       cfg.HealthProbeTimeout,
		UnhealthyThreshold: cfg.UnhealthyThreshold,
		AutoRestart:        cfg.HealthAutoRestart,
	})

	shutdownTelemetry, metrics, err := telemetry.InitMetrics(cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.WithError(err).Error("failed to shutdown telemetry")
		}
	}()

	log.WithField("version", version.Version).
		WithField("commit", version.GitCommit).
		Info("starting mcphub")

	versionInfo := &v0.VersionBody{
		Version:   version.Version,
		GitCommit: version.GitCommit,
		BuildDate: version.BuildDate,
	}

	server := api.NewServer(cfg.ServerAddress, &router.Services{
		Registrations: regService,
		Orchestrator:  orch,
		Bus:           bus,
	}, metrics, versionInfo, log)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go sweeper.Run(runCtx)
	go monitor.Run(runCtx)

	var mcpHTTPServer *http.Server
	if cfg.MCPPort > 0 {
		hubMCP := hubserver.NewServer(regService, orch)
		handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
			return hubMCP
		}, &mcp.StreamableHTTPOptions{})

		addr := ":" + strconv.Itoa(cfg.MCPPort)
		mcpHTTPServer = &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.WithField("address", addr).Info("MCP server starting")
			if err := mcpHTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("failed to start MCP server")
				os.Exit(1)
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	cancelRun()

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()

	if err := server.Shutdown(sctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if mcpHTTPServer != nil {
		if err := mcpHTTPServer.Shutdown(sctx); err != nil {
			log.WithError(err).Error("MCP server forced to shutdown")
		}
	}

	// Let in-flight validation and deployment goroutines finish their
	// current stage before the store goes away.
	pipeline.Wait()
	orch.Wait()

	log.Info("server exiting")
	return nil
}
