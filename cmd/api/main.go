package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/agent"
	"github.com/doccomply/backend/internal/api/handlers"
	"github.com/doccomply/backend/internal/cache/redis"
	"github.com/doccomply/backend/internal/metrics"
	"github.com/doccomply/backend/internal/middleware/auth"
	"github.com/doccomply/backend/internal/middleware/ratelimit"
	"github.com/doccomply/backend/internal/pipeline"
	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/internal/storage/sqlite"
	"github.com/doccomply/backend/internal/updates"
	"github.com/doccomply/backend/pkg/config"
	appLogger "github.com/doccomply/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Compliance Review API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	if cfg.SQLite.SeedRules {
		devScope := models.TenantScope{OrgID: cfg.Auth.DevOrg, WorkspaceID: cfg.Auth.DevWorkspace}
		if err := sqliteClient.SeedDefaultRules(devScope); err != nil {
			appLogger.Warn("Failed to seed default rules", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	broadcaster := updates.New()

	orchestrator := pipeline.New(sqliteClient, broadcaster)
	if redisClient != nil {
		orchestrator.WithRuleCache(redisClient, time.Duration(cfg.Pipeline.RuleCacheTTLSec)*time.Second)
		orchestrator.WithReportCache(redisClient)
	}
	if cfg.Agent.Enabled && cfg.Agent.APIKey != "" {
		agentClient := agent.NewClient(
			cfg.Agent.APIKey,
			cfg.Agent.Model,
			cfg.Agent.Temperature,
			cfg.Agent.MaxTokens,
			cfg.Agent.TimeoutSec,
		)
		orchestrator.WithAgent(agentClient)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Actor",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	authMiddleware := auth.Middleware(auth.Config{
		Tokens:       cfg.Auth.Tokens,
		DevToken:     cfg.Auth.DevToken,
		DevOrg:       cfg.Auth.DevOrg,
		DevWorkspace: cfg.Auth.DevWorkspace,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Pipeline.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	uploadHandler := handlers.NewUploadHandler(sqliteClient, orchestrator)
	runHandler := handlers.NewRunHandler(sqliteClient, orchestrator)
	ruleHandler := handlers.NewRuleHandler(sqliteClient, redisClient)
	reportHandler := handlers.NewReportHandler(sqliteClient, redisClient, time.Duration(cfg.Pipeline.ReportCacheTTLSec)*time.Second)
	wsHandler := handlers.NewWebSocketHandler(sqliteClient, broadcaster)

	api := app.Group("/api/v1", authMiddleware, limiter.Middleware())

	api.Post("/upload", uploadHandler.Upload)

	api.Post("/compliance/run/:rawID", runHandler.StartRun)
	api.Post("/compliance/retry/:rawID", runHandler.Retry)
	api.Get("/compliance/runs", runHandler.ListRuns)
	api.Get("/compliance/runs/raw/:rawID", runHandler.ListRunsByDocument)
	api.Get("/compliance/runs/:id", runHandler.GetRun)
	api.Get("/compliance/runs/:id/steps", runHandler.ListRunSteps)

	api.Post("/rules", ruleHandler.CreateRule)
	api.Get("/rules", ruleHandler.ListRules)
	api.Get("/rules/:id", ruleHandler.GetRule)
	api.Put("/rules/:id", ruleHandler.UpdateRule)
	api.Delete("/rules/:id", ruleHandler.DeactivateRule)
	api.Get("/rules/:id/versions", ruleHandler.ListRuleVersions)
	api.Get("/rules/:id/audit", ruleHandler.ListRuleAudit)

	api.Get("/reports/:id.json", reportHandler.GetReportJSON)
	api.Get("/reports/:id.pdf", reportHandler.GetReportPDF)
	api.Get("/reports/:id/violations.csv", reportHandler.GetViolationsCSV)

	ws := app.Group("/ws", authMiddleware)
	ws.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/runs/:id", websocket.New(wsHandler.HandleRun))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
