package verification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/pkg/statemachine"
)

// WorkerStatus is derived by reducing over a worker's verification records.
// It is computed on demand and never stored authoritatively.
type WorkerStatus string

const (
	WorkerOnboardingInProgress WorkerStatus = "ONBOARDING_IN_PROGRESS"
	WorkerVerified             WorkerStatus = "VERIFIED"
	WorkerRejected             WorkerStatus = "REJECTED"
	WorkerSuspended            WorkerStatus = "SUSPENDED"
)

// AlertType classifies verification alerts.
type AlertType string

const (
	AlertVerificationExpired AlertType = "VERIFICATION_EXPIRED"
	AlertVerificationFailed  AlertType = "VERIFICATION_FAILED"
	AlertStatusChanged       AlertType = "STATUS_CHANGED"
	AlertExpiringSoon        AlertType = "EXPIRING_SOON"
)

// VerificationRecord tracks one credential check for one worker. There is
// at most one active record per (worker, type) pair; superseded records are
// kept forever for audit and never hard-deleted.
type VerificationRecord struct {
	ID                uuid.UUID                 `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	WorkerID          uuid.UUID                 `json:"worker_id" gorm:"not null;index:idx_worker_type"`
	Type              provider.VerificationType `json:"type" gorm:"not null;index:idx_worker_type"`
	Provider          string                    `json:"provider" gorm:"not null"`
	Status            provider.Status           `json:"status" gorm:"not null;index"`
	ProviderRequestID string                    `json:"provider_request_id" gorm:"index"`
	SubmittedData     datatypes.JSON            `json:"submitted_data,omitempty" gorm:"type:jsonb"`
	ProviderResponse  datatypes.JSON            `json:"provider_response,omitempty" gorm:"type:jsonb"`
	VerifiedAt        *time.Time                `json:"verified_at,omitempty"`
	ExpiresAt         *time.Time                `json:"expires_at,omitempty" gorm:"index"`
	ErrorMessage      string                    `json:"error_message,omitempty"`
	Metadata          datatypes.JSON            `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time                 `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time                 `json:"updated_at" gorm:"autoUpdateTime"`

	Documents []VerificationDocument `json:"documents,omitempty" gorm:"foreignKey:VerificationRecordID"`
}

// VerificationDocument is an evidence attachment owned by exactly one
// record. Rows are immutable once created; the file itself lives in the
// external document store and only the reference is held here.
type VerificationDocument struct {
	ID                   uuid.UUID `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VerificationRecordID uuid.UUID `json:"verification_record_id" gorm:"not null;index"`
	Name                 string    `json:"name" gorm:"not null"`
	StorageKey           string    `json:"storage_key" gorm:"not null"`
	ContentType          string    `json:"content_type"`
	CreatedAt            time.Time `json:"created_at" gorm:"autoCreateTime"`

	// URL is a short-lived presigned link resolved on the read path.
	URL string `json:"url,omitempty" gorm:"-"`
}

// VerificationAlert is an append-only log entry produced on meaningful
// transitions. NotifiedAt records delivery by the external transport; the
// row itself is never mutated beyond that.
type VerificationAlert struct {
	ID                   uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VerificationRecordID uuid.UUID      `json:"verification_record_id" gorm:"not null;index"`
	WorkerID             uuid.UUID      `json:"worker_id" gorm:"not null;index"`
	Type                 AlertType      `json:"type" gorm:"not null;index"`
	Message              string         `json:"message"`
	Details              datatypes.JSON `json:"details,omitempty" gorm:"type:jsonb"`
	NotifiedAt           *time.Time     `json:"notified_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

// DocumentInput references an evidence file already held by the external
// document store.
type DocumentInput struct {
	Name        string `json:"name" binding:"required"`
	StorageKey  string `json:"storage_key" binding:"required"`
	ContentType string `json:"content_type"`
}

// TypeStatus summarizes the latest record for one verification type in the
// worker status breakdown.
type TypeStatus struct {
	Type      provider.VerificationType `json:"type"`
	Status    provider.Status           `json:"status"`
	Required  bool                      `json:"required"`
	ExpiresAt *time.Time                `json:"expires_at,omitempty"`
}

// WorkerVerifications is the full read-path view for one worker.
type WorkerVerifications struct {
	WorkerID uuid.UUID            `json:"worker_id"`
	Status   WorkerStatus         `json:"status"`
	Records  []VerificationRecord `json:"records"`
	Alerts   []VerificationAlert  `json:"alerts"`
}

// activeStatuses block re-initiation for the same (worker, type) pair.
// A fresh record may only supersede a terminal-negative outcome.
var activeStatuses = []provider.Status{
	provider.StatusPending,
	provider.StatusInProgress,
	provider.StatusVerified,
}

// nonTerminalStatuses are the states the poll path still reconciles.
var nonTerminalStatuses = []provider.Status{
	provider.StatusPending,
	provider.StatusInProgress,
}

// NewStateMachine builds the verification status machine. EXPIRED and
// SUSPENDED are reachable only from VERIFIED; EXPIRED can re-enter
// IN_PROGRESS through an explicit recheck. Updates reporting an earlier
// stage than the persisted status are stale no-ops.
func NewStateMachine() *statemachine.Machine {
	return statemachine.New(
		map[string][]string{
			string(provider.StatusPending):    {string(provider.StatusInProgress), string(provider.StatusFailed)},
			string(provider.StatusInProgress): {string(provider.StatusVerified), string(provider.StatusFailed)},
			string(provider.StatusVerified):   {string(provider.StatusExpired), string(provider.StatusSuspended)},
			string(provider.StatusExpired):    {string(provider.StatusInProgress)},
			string(provider.StatusFailed):     {},
			string(provider.StatusSuspended):  {},
		},
		map[string]int{
			string(provider.StatusPending):    1,
			string(provider.StatusInProgress): 2,
			string(provider.StatusVerified):   3,
			string(provider.StatusFailed):     3,
			string(provider.StatusExpired):    4,
			string(provider.StatusSuspended):  4,
		},
	)
}
