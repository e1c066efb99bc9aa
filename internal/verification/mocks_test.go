package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"

	"careloop/worker-compliance/verification-engine/internal/provider"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreateRecord(ctx context.Context, rec *VerificationRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockRepository) GetRecordByID(ctx context.Context, id uuid.UUID) (*VerificationRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*VerificationRecord)
	return rec, args.Error(1)
}

func (m *mockRepository) GetActiveRecordForPair(ctx context.Context, workerID uuid.UUID, vtype provider.VerificationType) (*VerificationRecord, error) {
	args := m.Called(ctx, workerID, vtype)
	rec, _ := args.Get(0).(*VerificationRecord)
	return rec, args.Error(1)
}

func (m *mockRepository) GetLatestRecordForPair(ctx context.Context, workerID uuid.UUID, vtype provider.VerificationType) (*VerificationRecord, error) {
	args := m.Called(ctx, workerID, vtype)
	rec, _ := args.Get(0).(*VerificationRecord)
	return rec, args.Error(1)
}

func (m *mockRepository) GetRecordByProviderRequestID(ctx context.Context, requestID string, vtype provider.VerificationType) (*VerificationRecord, error) {
	args := m.Called(ctx, requestID, vtype)
	rec, _ := args.Get(0).(*VerificationRecord)
	return rec, args.Error(1)
}

func (m *mockRepository) ListRecordsByWorker(ctx context.Context, workerID uuid.UUID) ([]VerificationRecord, error) {
	args := m.Called(ctx, workerID)
	recs, _ := args.Get(0).([]VerificationRecord)
	return recs, args.Error(1)
}

func (m *mockRepository) ListRecordsByStatus(ctx context.Context, status provider.Status, limit int) ([]VerificationRecord, error) {
	args := m.Called(ctx, status, limit)
	recs, _ := args.Get(0).([]VerificationRecord)
	return recs, args.Error(1)
}

func (m *mockRepository) ListExpiredForRecheck(ctx context.Context, limit int) ([]VerificationRecord, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]VerificationRecord)
	return recs, args.Error(1)
}

func (m *mockRepository) ListVerifiedExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]VerificationRecord, error) {
	args := m.Called(ctx, from, to, limit)
	recs, _ := args.Get(0).([]VerificationRecord)
	return recs, args.Error(1)
}

func (m *mockRepository) ListVerifiedExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]VerificationRecord, error) {
	args := m.Called(ctx, cutoff, limit)
	recs, _ := args.Get(0).([]VerificationRecord)
	return recs, args.Error(1)
}

func (m *mockRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to provider.Status, updates map[string]any) (bool, error) {
	args := m.Called(ctx, id, from, to, updates)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) SaveProviderResponse(ctx context.Context, id uuid.UUID, payload datatypes.JSON) error {
	return m.Called(ctx, id, payload).Error(0)
}

func (m *mockRepository) ReplaceMetadata(ctx context.Context, id uuid.UUID, metadata datatypes.JSON) error {
	return m.Called(ctx, id, metadata).Error(0)
}

func (m *mockRepository) CreateAlert(ctx context.Context, alert *VerificationAlert) error {
	return m.Called(ctx, alert).Error(0)
}

func (m *mockRepository) ListAlertsByWorker(ctx context.Context, workerID uuid.UUID) ([]VerificationAlert, error) {
	args := m.Called(ctx, workerID)
	alerts, _ := args.Get(0).([]VerificationAlert)
	return alerts, args.Error(1)
}

func (m *mockRepository) HasAlertSince(ctx context.Context, recordID uuid.UUID, alertType AlertType, since time.Time) (bool, error) {
	args := m.Called(ctx, recordID, alertType, since)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) ListUndeliveredAlerts(ctx context.Context, limit int) ([]VerificationAlert, error) {
	args := m.Called(ctx, limit)
	alerts, _ := args.Get(0).([]VerificationAlert)
	return alerts, args.Error(1)
}

func (m *mockRepository) MarkAlertNotified(ctx context.Context, alertID uuid.UUID, at time.Time) error {
	return m.Called(ctx, alertID, at).Error(0)
}

// fakeAdapter is a canned provider used to isolate the orchestrator from
// real HTTP.
type fakeAdapter struct {
	vtype         provider.VerificationType
	name          string
	initiateRes   *provider.Result
	initiateErr   error
	statusRes     *provider.Result
	statusErr     error
	initiateCalls int
	statusCalls   int
}

func (f *fakeAdapter) Type() provider.VerificationType { return f.vtype }
func (f *fakeAdapter) ProviderName() string            { return f.name }
func (f *fakeAdapter) SignatureHeader() string         { return "X-Test-Signature" }

func (f *fakeAdapter) Initiate(ctx context.Context, req provider.InitiateRequest) (*provider.Result, error) {
	f.initiateCalls++
	return f.initiateRes, f.initiateErr
}

func (f *fakeAdapter) CheckStatus(ctx context.Context, providerRequestID string) (*provider.Result, error) {
	f.statusCalls++
	return f.statusRes, f.statusErr
}

func (f *fakeAdapter) ParseWebhook(payload []byte, signature string) (*provider.Result, error) {
	return f.statusRes, f.statusErr
}

// fakeDirectory is an in-memory worker directory.
type fakeDirectory struct {
	exists   bool
	owner    uuid.UUID
	required []provider.VerificationType
}

func (f *fakeDirectory) WorkerExists(ctx context.Context, workerID uuid.UUID) (bool, error) {
	return f.exists, nil
}

func (f *fakeDirectory) IsOwner(ctx context.Context, callerID, workerID uuid.UUID) (bool, error) {
	return callerID == f.owner || callerID == workerID, nil
}

func (f *fakeDirectory) RequiredTypes(ctx context.Context, workerID uuid.UUID) ([]provider.VerificationType, error) {
	return f.required, nil
}

// fakeObserver records transition notifications.
type fakeObserver struct {
	calls []observedTransition
}

type observedTransition struct {
	recordID uuid.UUID
	previous provider.Status
	next     provider.Status
}

func (f *fakeObserver) OnTransition(ctx context.Context, rec *VerificationRecord, previous, next provider.Status) {
	f.calls = append(f.calls, observedTransition{recordID: rec.ID, previous: previous, next: next})
}
