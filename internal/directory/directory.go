package directory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"careloop/worker-compliance/verification-engine/internal/provider"
)

// WorkerProfile mirrors the slice of the worker directory this service
// reads. The directory itself is owned by another service; this table is a
// synchronized projection.
type WorkerProfile struct {
	ID             uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID        uuid.UUID      `json:"owner_id" gorm:"not null;index"`
	FullName       string         `json:"full_name"`
	RequiredChecks datatypes.JSON `json:"required_checks,omitempty" gorm:"type:jsonb"`
}

// defaultRequiredTypes apply when a profile does not pin its own set.
var defaultRequiredTypes = []provider.VerificationType{
	provider.TypePoliceCheck,
	provider.TypeWWCC,
	provider.TypeNDISScreening,
}

// Directory answers worker existence, ownership, and required-check
// questions from the projected profile table.
type Directory struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Directory, error) {
	if err := db.AutoMigrate(&WorkerProfile{}); err != nil {
		return nil, err
	}
	return &Directory{db: db}, nil
}

func (d *Directory) WorkerExists(ctx context.Context, workerID uuid.UUID) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&WorkerProfile{}).Where("id = ?", workerID).Count(&count).Error
	return count > 0, err
}

func (d *Directory) IsOwner(ctx context.Context, callerID, workerID uuid.UUID) (bool, error) {
	var profile WorkerProfile
	err := d.db.WithContext(ctx).First(&profile, "id = ?", workerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// Workers acting on their own behalf are owners too.
	return profile.OwnerID == callerID || profile.ID == callerID, nil
}

func (d *Directory) RequiredTypes(ctx context.Context, workerID uuid.UUID) ([]provider.VerificationType, error) {
	var profile WorkerProfile
	err := d.db.WithContext(ctx).First(&profile, "id = ?", workerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultRequiredTypes, nil
	}
	if err != nil {
		return nil, err
	}
	if len(profile.RequiredChecks) == 0 {
		return defaultRequiredTypes, nil
	}

	var types []provider.VerificationType
	if err := json.Unmarshal(profile.RequiredChecks, &types); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return defaultRequiredTypes, nil
	}
	return types, nil
}
