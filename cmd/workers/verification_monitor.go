package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"careloop/worker-compliance/verification-engine/internal/alerts"
	"careloop/worker-compliance/verification-engine/internal/config"
	"careloop/worker-compliance/verification-engine/internal/directory"
	"careloop/worker-compliance/verification-engine/internal/monitor"
	"careloop/worker-compliance/verification-engine/internal/notify"
	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/internal/verification"
	"careloop/worker-compliance/verification-engine/pkg/logging"
)

// The monitor binary is the external scheduler: it owns the cron cadences
// and invokes the sweep driver, which never schedules itself.
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

	registry := provider.NewRegistry(
		provider.NewPoliceCheckAdapter(cfg.Providers.PoliceCheck, cfg.Providers.HTTPTimeout),
		provider.NewWWCCAdapter(cfg.Providers.WWCC, cfg.Providers.HTTPTimeout),
		provider.NewNDISScreeningAdapter(cfg.Providers.NDISScreening, cfg.Providers.HTTPTimeout),
		provider.NewFirstAidAdapter(cfg.Providers.FirstAid, cfg.Providers.HTTPTimeout),
		provider.NewABNAdapter(cfg.Providers.ABN, cfg.Providers.HTTPTimeout),
	)

	orchestrator := verification.NewOrchestrator(repo, registry, dir, nil, logger, cfg.Alerts.ExpiryWarningWindow)
	alertService := alerts.NewService(repo, orchestrator, logger, cfg.Alerts.ExpiryWarningWindow, cfg.Alerts.SweepBatchSize)
	orchestrator.SetTransitionObserver(alertService)

	mon := monitor.New(repo, orchestrator, alertService, logger, cfg.Monitor.PollBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New()

	mustSchedule(c, logger, cfg.Monitor.SweepSchedule, "reconciliation", func() {
		if err := mon.RunAllTasks(ctx); err != nil {
			logger.Error("reconciliation run failed", zap.Error(err))
		}
	})
	mustSchedule(c, logger, cfg.Monitor.ExpirySchedule, "expiry sweep", func() {
		if err := mon.RunExpirySweep(ctx); err != nil {
			logger.Error("expiry sweep failed", zap.Error(err))
		}
	})
	mustSchedule(c, logger, cfg.Monitor.RecheckSchedule, "expired recheck", func() {
		if err := mon.RecheckExpiredVerifications(ctx); err != nil {
			logger.Error("expired recheck failed", zap.Error(err))
		}
	})

	if publisher := buildPublisher(ctx, cfg.Notify, logger); publisher != nil {
		delivery := notify.NewDeliveryWorker(repo, publisher, logger, cfg.Alerts.SweepBatchSize)

		mustSchedule(c, logger, cfg.Monitor.DeliverySchedule, "alert delivery", func() {
			if err := delivery.RunOnce(ctx); err != nil {
				logger.Error("alert delivery run failed", zap.Error(err))
			}
		})
	}

	c.Start()
	logger.Info("verification monitor started",
		zap.String("sweep_schedule", cfg.Monitor.SweepSchedule),
		zap.String("expiry_schedule", cfg.Monitor.ExpirySchedule),
		zap.String("recheck_schedule", cfg.Monitor.RecheckSchedule))

	<-ctx.Done()
	logger.Info("verification monitor shutting down")
	<-c.Stop().Done()
}

// buildPublisher picks the alert delivery transport: the SNS topic when one
// is configured, otherwise direct email to the compliance inbox. Nil means
// delivery is disabled.
func buildPublisher(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) notify.Publisher {
	if cfg.SNSTopicARN == "" && (cfg.EmailFrom == "" || cfg.ComplianceEmail == "") {
		logger.Warn("alert delivery disabled: no SNS topic or compliance inbox configured")
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load aws config", zap.Error(err))
	}
	if cfg.SNSTopicARN != "" {
		return notify.NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.SNSTopicARN)
	}
	return notify.NewEmailPublisher(sesv2.NewFromConfig(awsCfg), cfg.EmailFrom, cfg.ComplianceEmail)
}

func mustSchedule(c *cron.Cron, logger *zap.Logger, spec, name string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		logger.Fatal("invalid cron spec",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err))
	}
}
