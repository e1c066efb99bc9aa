package monitor

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/internal/verification"
)

// Repository is the monitor-side view of the record store.
type Repository interface {
	ListRecordsByStatus(ctx context.Context, status provider.Status, limit int) ([]verification.VerificationRecord, error)
	ListExpiredForRecheck(ctx context.Context, limit int) ([]verification.VerificationRecord, error)
}

// Orchestrator is the slice of orchestrator behaviour the sweeps drive.
type Orchestrator interface {
	CheckVerificationStatus(ctx context.Context, verificationID uuid.UUID) (*verification.VerificationRecord, error)
	RecheckVerification(ctx context.Context, verificationID uuid.UUID) (*verification.VerificationRecord, error)
}

// Sweeper runs the alert service's time-based sweeps.
type Sweeper interface {
	CheckExpiringVerifications(ctx context.Context) error
	CheckExpiredVerifications(ctx context.Context) error
}

// Monitor is the scheduler-invoked driver for batch reconciliation. It
// never schedules itself; an external cron binary calls into it.
type Monitor struct {
	repo         Repository
	orchestrator Orchestrator
	sweeper      Sweeper
	logger       *zap.Logger
	batchSize    int
}

func New(repo Repository, orchestrator Orchestrator, sweeper Sweeper, logger *zap.Logger, batchSize int) *Monitor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Monitor{
		repo:         repo,
		orchestrator: orchestrator,
		sweeper:      sweeper,
		logger:       logger,
		batchSize:    batchSize,
	}
}

// RunAllTasks runs the expiring-soon sweep and the in-progress poll
// reconciliation concurrently. A failure in one task does not stop the
// other.
func (m *Monitor) RunAllTasks(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.sweeper.CheckExpiringVerifications(ctx); err != nil {
			m.logger.Error("expiring-soon sweep failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		if err := m.UpdateInProgressVerifications(ctx); err != nil {
			m.logger.Error("in-progress reconciliation failed", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// RunExpirySweep drives VERIFIED -> EXPIRED detection.
func (m *Monitor) RunExpirySweep(ctx context.Context) error {
	return m.sweeper.CheckExpiredVerifications(ctx)
}

// UpdateInProgressVerifications re-polls every IN_PROGRESS record. Records
// are processed sequentially per provider to respect rate limits, with
// different providers polled concurrently. One record's failure is logged
// and skipped, never aborting the sweep.
func (m *Monitor) UpdateInProgressVerifications(ctx context.Context) error {
	records, err := m.repo.ListRecordsByStatus(ctx, provider.StatusInProgress, m.batchSize)
	if err != nil {
		return err
	}
	m.pollPerProvider(ctx, records, "poll", func(ctx context.Context, id uuid.UUID) error {
		_, err := m.orchestrator.CheckVerificationStatus(ctx, id)
		return err
	})
	return nil
}

// RecheckExpiredVerifications bulk re-polls EXPIRED records that still hold
// a provider correlation id. Runs on a weekly cadence from the scheduler.
func (m *Monitor) RecheckExpiredVerifications(ctx context.Context) error {
	records, err := m.repo.ListExpiredForRecheck(ctx, m.batchSize)
	if err != nil {
		return err
	}
	m.pollPerProvider(ctx, records, "recheck", func(ctx context.Context, id uuid.UUID) error {
		_, err := m.orchestrator.RecheckVerification(ctx, id)
		return err
	})
	return nil
}

func (m *Monitor) pollPerProvider(ctx context.Context, records []verification.VerificationRecord, op string, fn func(context.Context, uuid.UUID) error) {
	byProvider := make(map[string][]verification.VerificationRecord)
	for _, rec := range records {
		byProvider[rec.Provider] = append(byProvider[rec.Provider], rec)
	}

	g, ctx := errgroup.WithContext(ctx)
	for providerName, recs := range byProvider {
		g.Go(func() error {
			for _, rec := range recs {
				if err := fn(ctx, rec.ID); err != nil {
					m.logger.Warn("sweep skipped record",
						zap.String("op", op),
						zap.String("provider", providerName),
						zap.String("record_id", rec.ID.String()),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
