package main

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"careloop/worker-compliance/verification-engine/internal/alerts"
	"careloop/worker-compliance/verification-engine/internal/config"
	"careloop/worker-compliance/verification-engine/internal/directory"
	"careloop/worker-compliance/verification-engine/internal/evidence"
	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/internal/verification"
	"careloop/worker-compliance/verification-engine/internal/webhook"
	"careloop/worker-compliance/verification-engine/pkg/logging"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	repo, err := verification.NewRepository(db)
	if err != nil {
		logger.Fatal("failed to migrate verification store", zap.Error(err))
	}

	dir, err := directory.New(db)
	if err != nil {
		logger.Fatal("failed to migrate worker directory projection", zap.Error(err))
	}

	registry := buildRegistry(cfg.Providers)

	var resolver verification.EvidenceResolver
	if cfg.Evidence.Bucket != "" {
		store, err := evidence.NewStore(context.Background(), cfg.Evidence)
		if err != nil {
			logger.Fatal("failed to initialize evidence store", zap.Error(err))
		}
		resolver = store
	}

	orchestrator := verification.NewOrchestrator(repo, registry, dir, resolver, logger, cfg.Alerts.ExpiryWarningWindow)
	alertService := alerts.NewService(repo, orchestrator, logger, cfg.Alerts.ExpiryWarningWindow, cfg.Alerts.SweepBatchSize)
	orchestrator.SetTransitionObserver(alertService)

	r := gin.New()
	r.Use(gin.Recovery())

	root := r.Group("/")
	verification.NewHandler(orchestrator, dir, logger).RegisterRoutes(root)
	webhook.NewHandler(registry, orchestrator, logger).RegisterRoutes(root)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("verification engine listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildRegistry(cfg config.ProvidersConfig) *provider.Registry {
	return provider.NewRegistry(
		provider.NewPoliceCheckAdapter(cfg.PoliceCheck, cfg.HTTPTimeout),
		provider.NewWWCCAdapter(cfg.WWCC, cfg.HTTPTimeout),
		provider.NewNDISScreeningAdapter(cfg.NDISScreening, cfg.HTTPTimeout),
		provider.NewFirstAidAdapter(cfg.FirstAid, cfg.HTTPTimeout),
		provider.NewABNAdapter(cfg.ABN, cfg.HTTPTimeout),
	)
}
