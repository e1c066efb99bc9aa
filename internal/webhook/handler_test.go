package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"careloop/worker-compliance/verification-engine/internal/config"
	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/internal/verification"
)

const webhookSecret = "registry-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) FindByProviderRequest(ctx context.Context, requestID string, vtype provider.VerificationType) (*verification.VerificationRecord, error) {
	args := m.Called(ctx, requestID, vtype)
	rec, _ := args.Get(0).(*verification.VerificationRecord)
	return rec, args.Error(1)
}

func (m *mockOrchestrator) ApplyStatusUpdate(ctx context.Context, rec *verification.VerificationRecord, res *provider.Result) (*verification.VerificationRecord, error) {
	args := m.Called(ctx, rec, res)
	updated, _ := args.Get(0).(*verification.VerificationRecord)
	return updated, args.Error(1)
}

func (m *mockOrchestrator) UpdateWorkerStatus(ctx context.Context, workerID uuid.UUID) (verification.WorkerStatus, error) {
	args := m.Called(ctx, workerID)
	status, _ := args.Get(0).(verification.WorkerStatus)
	return status, args.Error(1)
}

func newWebhookRouter(orch Orchestrator) *gin.Engine {
	registry := provider.NewRegistry(
		provider.NewWWCCAdapter(config.ProviderEndpoint{WebhookSecret: webhookSecret}, 0),
	)
	r := gin.New()
	NewHandler(registry, orch, zap.NewNop()).RegisterRoutes(r.Group("/"))
	return r
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(r *gin.Engine, providerName string, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+providerName, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Registry-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveHappyPath(t *testing.T) {
	workerID := uuid.New()
	rec := &verification.VerificationRecord{
		ID:                uuid.New(),
		WorkerID:          workerID,
		Type:              provider.TypeWWCC,
		Status:            provider.StatusInProgress,
		ProviderRequestID: "app-7",
	}
	orch := new(mockOrchestrator)
	r := newWebhookRouter(orch)

	payload := []byte(`{"application_id":"app-7","outcome":"cleared","card_expiry":"2030-06-30"}`)

	orch.On("FindByProviderRequest", mock.Anything, "app-7", provider.TypeWWCC).Return(rec, nil)
	orch.On("ApplyStatusUpdate", mock.Anything, rec, mock.MatchedBy(func(res *provider.Result) bool {
		return res.Status == provider.StatusVerified && res.ProviderRequestID == "app-7" && res.ExpiresAt != nil
	})).Return(rec, nil)
	orch.On("UpdateWorkerStatus", mock.Anything, workerID).Return(verification.WorkerVerified, nil)

	w := postWebhook(r, "wwcc-registry", payload, sign(payload, webhookSecret))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	orch.AssertExpectations(t)
}

func TestReceiveInvalidSignature(t *testing.T) {
	orch := new(mockOrchestrator)
	r := newWebhookRouter(orch)

	payload := []byte(`{"application_id":"app-7","outcome":"cleared"}`)

	w := postWebhook(r, "wwcc-registry", payload, sign(payload, "wrong-secret"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	orch.AssertNotCalled(t, "FindByProviderRequest", mock.Anything, mock.Anything, mock.Anything)
	orch.AssertNotCalled(t, "ApplyStatusUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiveMissingSignature(t *testing.T) {
	orch := new(mockOrchestrator)
	r := newWebhookRouter(orch)

	payload := []byte(`{"application_id":"app-7","outcome":"cleared"}`)

	w := postWebhook(r, "wwcc-registry", payload, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	orch.AssertNotCalled(t, "FindByProviderRequest", mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiveMalformedPayload(t *testing.T) {
	orch := new(mockOrchestrator)
	r := newWebhookRouter(orch)

	payload := []byte(`{"outcome":"cleared"}`)

	w := postWebhook(r, "wwcc-registry", payload, sign(payload, webhookSecret))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	orch.AssertNotCalled(t, "FindByProviderRequest", mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiveUnknownProvider(t *testing.T) {
	orch := new(mockOrchestrator)
	r := newWebhookRouter(orch)

	w := postWebhook(r, "no-such-provider", []byte(`{}`), "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReceiveUnknownCorrelationID(t *testing.T) {
	orch := new(mockOrchestrator)
	r := newWebhookRouter(orch)

	payload := []byte(`{"application_id":"app-99","outcome":"cleared"}`)

	orch.On("FindByProviderRequest", mock.Anything, "app-99", provider.TypeWWCC).Return(nil, nil)

	// Unknown correlation ids are acknowledged so the provider stops
	// retrying, but no state changes.
	w := postWebhook(r, "wwcc-registry", payload, sign(payload, webhookSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
	orch.AssertNotCalled(t, "ApplyStatusUpdate", mock.Anything, mock.Anything, mock.Anything)
	orch.AssertNotCalled(t, "UpdateWorkerStatus", mock.Anything, mock.Anything)
}

func TestReceiveLookupFaultStillAcknowledged(t *testing.T) {
	orch := new(mockOrchestrator)
	r := newWebhookRouter(orch)

	payload := []byte(`{"application_id":"app-7","outcome":"cleared"}`)

	orch.On("FindByProviderRequest", mock.Anything, "app-7", provider.TypeWWCC).
		Return(nil, errors.New("db timeout"))

	w := postWebhook(r, "wwcc-registry", payload, sign(payload, webhookSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())
}
