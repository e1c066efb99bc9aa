package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"careloop/worker-compliance/verification-engine/internal/provider"
)

type Repository interface {
	CreateRecord(ctx context.Context, rec *VerificationRecord) error
	GetRecordByID(ctx context.Context, id uuid.UUID) (*VerificationRecord, error)
	GetActiveRecordForPair(ctx context.Context, workerID uuid.UUID, vtype provider.VerificationType) (*VerificationRecord, error)
	GetLatestRecordForPair(ctx context.Context, workerID uuid.UUID, vtype provider.VerificationType) (*VerificationRecord, error)
	GetRecordByProviderRequestID(ctx context.Context, requestID string, vtype provider.VerificationType) (*VerificationRecord, error)
	ListRecordsByWorker(ctx context.Context, workerID uuid.UUID) ([]VerificationRecord, error)
	ListRecordsByStatus(ctx context.Context, status provider.Status, limit int) ([]VerificationRecord, error)
	ListExpiredForRecheck(ctx context.Context, limit int) ([]VerificationRecord, error)
	ListVerifiedExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]VerificationRecord, error)
	ListVerifiedExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]VerificationRecord, error)

	// TransitionStatus performs the conditional read-modify-write at the
	// heart of the state machine: the row is updated only while its
	// persisted status still equals `from`. Returns false when a
	// concurrent update won the race.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to provider.Status, updates map[string]any) (bool, error)

	SaveProviderResponse(ctx context.Context, id uuid.UUID, payload datatypes.JSON) error
	ReplaceMetadata(ctx context.Context, id uuid.UUID, metadata datatypes.JSON) error

	CreateAlert(ctx context.Context, alert *VerificationAlert) error
	ListAlertsByWorker(ctx context.Context, workerID uuid.UUID) ([]VerificationAlert, error)
	HasAlertSince(ctx context.Context, recordID uuid.UUID, alertType AlertType, since time.Time) (bool, error)
	ListUndeliveredAlerts(ctx context.Context, limit int) ([]VerificationAlert, error)
	MarkAlertNotified(ctx context.Context, alertID uuid.UUID, at time.Time) error
}

type postgresRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) (Repository, error) {
	if err := db.AutoMigrate(
		&VerificationRecord{},
		&VerificationDocument{},
		&VerificationAlert{},
	); err != nil {
		return nil, err
	}
	return &postgresRepository{db: db}, nil
}

func (r *postgresRepository) CreateRecord(ctx context.Context, rec *VerificationRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *postgresRepository) GetRecordByID(ctx context.Context, id uuid.UUID) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := r.db.WithContext(ctx).Preload("Documents").First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *postgresRepository) GetActiveRecordForPair(ctx context.Context, workerID uuid.UUID, vtype provider.VerificationType) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := r.db.WithContext(ctx).
		Where("worker_id = ? AND type = ? AND status IN ?", workerID, vtype, activeStatuses).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *postgresRepository) GetLatestRecordForPair(ctx context.Context, workerID uuid.UUID, vtype provider.VerificationType) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := r.db.WithContext(ctx).
		Where("worker_id = ? AND type = ?", workerID, vtype).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *postgresRepository) GetRecordByProviderRequestID(ctx context.Context, requestID string, vtype provider.VerificationType) (*VerificationRecord, error) {
	var rec VerificationRecord
	err := r.db.WithContext(ctx).
		Where("provider_request_id = ? AND type = ?", requestID, vtype).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *postgresRepository) ListRecordsByWorker(ctx context.Context, workerID uuid.UUID) ([]VerificationRecord, error) {
	var recs []VerificationRecord
	err := r.db.WithContext(ctx).
		Preload("Documents").
		Where("worker_id = ?", workerID).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}

func (r *postgresRepository) ListRecordsByStatus(ctx context.Context, status provider.Status, limit int) ([]VerificationRecord, error) {
	var recs []VerificationRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *postgresRepository) ListExpiredForRecheck(ctx context.Context, limit int) ([]VerificationRecord, error) {
	var recs []VerificationRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND provider_request_id <> ''", provider.StatusExpired).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *postgresRepository) ListVerifiedExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]VerificationRecord, error) {
	var recs []VerificationRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?",
			provider.StatusVerified, from, to).
		Order("expires_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *postgresRepository) ListVerifiedExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]VerificationRecord, error) {
	var recs []VerificationRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			provider.StatusVerified, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *postgresRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to provider.Status, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to

	res := r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *postgresRepository) SaveProviderResponse(ctx context.Context, id uuid.UUID, payload datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Where("id = ?", id).
		Update("provider_response", payload).Error
}

// ReplaceMetadata swaps the whole metadata value. Field-level merges are
// deliberately unsupported: concurrent partial merges produce records no
// caller ever wrote.
func (r *postgresRepository) ReplaceMetadata(ctx context.Context, id uuid.UUID, metadata datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Where("id = ?", id).
		Update("metadata", metadata).Error
}

func (r *postgresRepository) CreateAlert(ctx context.Context, alert *VerificationAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *postgresRepository) ListAlertsByWorker(ctx context.Context, workerID uuid.UUID) ([]VerificationAlert, error) {
	var alerts []VerificationAlert
	err := r.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Order("created_at DESC").
		Find(&alerts).Error
	return alerts, err
}

func (r *postgresRepository) HasAlertSince(ctx context.Context, recordID uuid.UUID, alertType AlertType, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&VerificationAlert{}).
		Where("verification_record_id = ? AND type = ? AND created_at >= ?", recordID, alertType, since).
		Count(&count).Error
	return count > 0, err
}

func (r *postgresRepository) ListUndeliveredAlerts(ctx context.Context, limit int) ([]VerificationAlert, error) {
	var alerts []VerificationAlert
	err := r.db.WithContext(ctx).
		Where("notified_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

func (r *postgresRepository) MarkAlertNotified(ctx context.Context, alertID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&VerificationAlert{}).
		Where("id = ?", alertID).
		Update("notified_at", at).Error
}
