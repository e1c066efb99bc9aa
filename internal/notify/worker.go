package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"careloop/worker-compliance/verification-engine/internal/verification"
)

// AlertSource is the store view the delivery worker drains.
type AlertSource interface {
	ListUndeliveredAlerts(ctx context.Context, limit int) ([]verification.VerificationAlert, error)
	MarkAlertNotified(ctx context.Context, alertID uuid.UUID, at time.Time) error
}

// DeliveryWorker hands undelivered alerts to the transport. A failed
// publish leaves the row untouched so the next pass retries it.
type DeliveryWorker struct {
	source    AlertSource
	publisher Publisher
	logger    *zap.Logger
	batchSize int
}

func NewDeliveryWorker(source AlertSource, publisher Publisher, logger *zap.Logger, batchSize int) *DeliveryWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &DeliveryWorker{
		source:    source,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
	}
}

func (w *DeliveryWorker) RunOnce(ctx context.Context) error {
	alerts, err := w.source.ListUndeliveredAlerts(ctx, w.batchSize)
	if err != nil {
		return err
	}

	for i := range alerts {
		alert := &alerts[i]
		if err := w.publisher.Publish(ctx, alert); err != nil {
			w.logger.Warn("alert delivery failed, will retry",
				zap.String("alert_id", alert.ID.String()),
				zap.String("alert_type", string(alert.Type)),
				zap.Error(err))
			continue
		}
		if err := w.source.MarkAlertNotified(ctx, alert.ID, time.Now()); err != nil {
			w.logger.Error("failed to mark alert delivered",
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}
