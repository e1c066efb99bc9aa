package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/internal/verification"
)

// Repository is the alert-side view of the record store.
type Repository interface {
	ListVerifiedExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]verification.VerificationRecord, error)
	ListVerifiedExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]verification.VerificationRecord, error)
	HasAlertSince(ctx context.Context, recordID uuid.UUID, alertType verification.AlertType, since time.Time) (bool, error)
	CreateAlert(ctx context.Context, alert *verification.VerificationAlert) error
}

// Applier drives status transitions back through the orchestrator so the
// expiry sweep uses the same single transition path as every other channel.
type Applier interface {
	ExpireRecord(ctx context.Context, rec *verification.VerificationRecord) (bool, error)
	UpdateWorkerStatus(ctx context.Context, workerID uuid.UUID) (verification.WorkerStatus, error)
}

// Service derives append-only alerts from verification transitions and runs
// the time-based expiry sweeps.
type Service struct {
	repo          Repository
	applier       Applier
	logger        *zap.Logger
	warningWindow time.Duration
	batchSize     int
}

func NewService(repo Repository, applier Applier, logger *zap.Logger, warningWindow time.Duration, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Service{
		repo:          repo,
		applier:       applier,
		logger:        logger,
		warningWindow: warningWindow,
		batchSize:     batchSize,
	}
}

// OnTransition records one alert for a meaningful transition. Called by the
// orchestrator only after a transition was actually applied, so duplicate
// deliveries never produce duplicate alerts.
func (s *Service) OnTransition(ctx context.Context, rec *verification.VerificationRecord, previous, next provider.Status) {
	var alertType verification.AlertType
	var message string

	switch next {
	case provider.StatusExpired:
		alertType = verification.AlertVerificationExpired
		message = fmt.Sprintf("%s verification expired", rec.Type)
	case provider.StatusFailed:
		alertType = verification.AlertVerificationFailed
		message = fmt.Sprintf("%s verification failed", rec.Type)
	case provider.StatusSuspended, provider.StatusVerified:
		alertType = verification.AlertStatusChanged
		message = fmt.Sprintf("%s verification moved from %s to %s", rec.Type, previous, next)
	default:
		// PENDING/IN_PROGRESS hops are routine, not alertable.
		return
	}

	if err := s.createAlert(ctx, rec, alertType, message, map[string]any{
		"previous": previous,
		"next":     next,
	}); err != nil {
		s.logger.Error("failed to create transition alert",
			zap.String("record_id", rec.ID.String()),
			zap.String("alert_type", string(alertType)),
			zap.Error(err))
	}
}

// CheckExpiringVerifications finds VERIFIED records whose expiry falls
// inside the warning window and raises at most one EXPIRING_SOON alert per
// record per window, no matter how often the sweep runs.
func (s *Service) CheckExpiringVerifications(ctx context.Context) error {
	now := time.Now()
	records, err := s.repo.ListVerifiedExpiringBetween(ctx, now, now.Add(s.warningWindow), s.batchSize)
	if err != nil {
		return fmt.Errorf("list expiring verifications: %w", err)
	}

	for i := range records {
		rec := &records[i]
		windowStart := rec.ExpiresAt.Add(-s.warningWindow)
		already, err := s.repo.HasAlertSince(ctx, rec.ID, verification.AlertExpiringSoon, windowStart)
		if err != nil {
			s.logger.Error("expiring sweep: dedupe check failed",
				zap.String("record_id", rec.ID.String()), zap.Error(err))
			continue
		}
		if already {
			continue
		}

		message := fmt.Sprintf("%s verification expires on %s", rec.Type, rec.ExpiresAt.Format("2006-01-02"))
		if err := s.createAlert(ctx, rec, verification.AlertExpiringSoon, message, map[string]any{
			"expires_at": rec.ExpiresAt,
		}); err != nil {
			s.logger.Error("expiring sweep: alert creation failed",
				zap.String("record_id", rec.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// CheckExpiredVerifications finds VERIFIED records past their expiry and
// drives the VERIFIED -> EXPIRED transition through the orchestrator. The
// conditional transition makes the expiry alert exactly-once even when the
// sweep runs twice: only the winning run observes an applied transition.
func (s *Service) CheckExpiredVerifications(ctx context.Context) error {
	records, err := s.repo.ListVerifiedExpiredBefore(ctx, time.Now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("list expired verifications: %w", err)
	}

	for i := range records {
		rec := &records[i]
		applied, err := s.applier.ExpireRecord(ctx, rec)
		if err != nil {
			s.logger.Error("expiry sweep: transition failed",
				zap.String("record_id", rec.ID.String()), zap.Error(err))
			continue
		}
		if !applied {
			continue
		}
		if _, err := s.applier.UpdateWorkerStatus(ctx, rec.WorkerID); err != nil {
			s.logger.Warn("expiry sweep: worker status recompute failed",
				zap.String("worker_id", rec.WorkerID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) createAlert(ctx context.Context, rec *verification.VerificationRecord, alertType verification.AlertType, message string, details map[string]any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	alert := &verification.VerificationAlert{
		ID:                   uuid.New(),
		VerificationRecordID: rec.ID,
		WorkerID:             rec.WorkerID,
		Type:                 alertType,
		Message:              message,
		Details:              datatypes.JSON(raw),
	}
	if err := s.repo.CreateAlert(ctx, alert); err != nil {
		return err
	}
	s.logger.Info("verification alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("record_id", rec.ID.String()),
		zap.String("worker_id", rec.WorkerID.String()),
		zap.String("alert_type", string(alertType)))
	return nil
}
