package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/config"
	"github.com/ekaya-inc/ekaya-layers/pkg/database"
	"github.com/ekaya-inc/ekaya-layers/pkg/handlers"
	"github.com/ekaya-inc/ekaya-layers/pkg/logging"
	"github.com/ekaya-inc/ekaya-layers/pkg/mcp"
	"github.com/ekaya-inc/ekaya-layers/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-layers/pkg/metrics"
	"github.com/ekaya-inc/ekaya-layers/pkg/middleware"
	"github.com/ekaya-inc/ekaya-layers/pkg/retry"
	"github.com/ekaya-inc/ekaya-layers/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("default_level", cfg.Layers.DefaultLevel),
		zap.Float64("max_plan_cost", cfg.Layers.MaxPlanCost),
		zap.Int("max_page_size", cfg.Layers.MaxPageSize),
		zap.Duration("statement_timeout", cfg.Layers.StatementTimeout),
		zap.Bool("mcp_enabled", cfg.MCPEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	postgisVersion, err := db.PostGISVersion(ctx)
	if err != nil {
		logger.Fatal("PostGIS check failed", zap.Error(err))
	}
	logger.Info("Connected to PostGIS", zap.String("postgis_version", postgisVersion))

	policy, err := cfg.Layers.ValidatorPolicy()
	if err != nil {
		logger.Fatal("Failed to load validator policy", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	layerMetrics := metrics.NewLayerMetrics(registry)

	validator := services.NewSecurityValidator(policy, layerMetrics, logger)
	layerService := services.NewLayerQueryService(
		services.LayerQueryConfig{
			DefaultLevel: cfg.Layers.Level(),
			MaxPageSize:  cfg.Layers.MaxPageSize,
		},
		database.NewLayerSessions(db, cfg.Layers.StatementTimeout, cfg.Layers.AcquireRetries, logger),
		validator,
		services.NewSchemaIntrospector(validator, logger),
		services.NewSpatialMetadataComputer(layerMetrics, logger),
		services.NewSafeExecutor(cfg.Layers.MaxPageSize, logger),
		layerMetrics,
		logger,
	)

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewLayerQueriesHandler(layerService, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if cfg.MCPEnabled {
		auditor := mcp.NewToolAuditor(layerMetrics, logger)
		mcpServer := mcp.NewServer("ekaya-layers", cfg.Version, logger, server.WithHooks(auditor.Hooks()))
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, db)
		tools.RegisterLayerQueryTools(mcpServer.MCP(), &tools.LayerToolDeps{
			Service: layerService,
			Logger:  logger.Named("mcp-tools"),
		})
		mux.Handle("/mcp", middleware.MCPRequestLogger(logger.Named("mcp"))(mcpServer.NewStreamableHTTPServer()))
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger.Named("http"))(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-layers", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// connectDatabase opens the pool, retrying while the database is still
// starting up.
func connectDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = 5
	retryCfg.MaxDelay = 10 * time.Second

	return retry.DoIfRetryable(ctx, retryCfg, func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
			MinConnections: cfg.Database.MinConnections,
		})
	})
}
