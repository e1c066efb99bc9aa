package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/internal/verification"
)

const maxPayloadBytes = 1 << 20

// Orchestrator is the slice of orchestrator behaviour webhook ingestion
// maps push events onto.
type Orchestrator interface {
	FindByProviderRequest(ctx context.Context, requestID string, vtype provider.VerificationType) (*verification.VerificationRecord, error)
	ApplyStatusUpdate(ctx context.Context, rec *verification.VerificationRecord, res *provider.Result) (*verification.VerificationRecord, error)
	UpdateWorkerStatus(ctx context.Context, workerID uuid.UUID) (verification.WorkerStatus, error)
}

// Handler ingests provider push callbacks. Once signature and payload shape
// validate, it always answers 200: providers retry on anything else, and a
// retry storm cannot fix a downstream fault.
type Handler struct {
	registry     *provider.Registry
	orchestrator Orchestrator
	logger       *zap.Logger
}

func NewHandler(registry *provider.Registry, orchestrator Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, orchestrator: orchestrator, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/:provider", h.Receive)
}

func (h *Handler) Receive(c *gin.Context) {
	adapter, err := h.registry.ByName(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	res, err := adapter.ParseWebhook(payload, c.GetHeader(adapter.SignatureHeader()))
	if err != nil {
		if errors.Is(err, provider.ErrInvalidSignature) {
			h.logger.Warn("webhook signature rejected",
				zap.String("provider", adapter.ProviderName()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	ctx := c.Request.Context()
	rec, err := h.orchestrator.FindByProviderRequest(ctx, res.ProviderRequestID, adapter.Type())
	if err != nil {
		// Recoverable lookup fault: acknowledge so the provider does not
		// retry forever, and leave a trail for manual follow-up.
		h.logger.Error("webhook record lookup failed",
			zap.String("provider", adapter.ProviderName()),
			zap.String("provider_request_id", res.ProviderRequestID),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
		return
	}
	if rec == nil {
		h.logger.Warn("webhook references unknown provider request id",
			zap.String("provider", adapter.ProviderName()),
			zap.String("provider_request_id", res.ProviderRequestID))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if _, err := h.orchestrator.ApplyStatusUpdate(ctx, rec, res); err != nil {
		h.logger.Error("webhook status update failed",
			zap.String("record_id", rec.ID.String()),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
		return
	}

	if _, err := h.orchestrator.UpdateWorkerStatus(ctx, rec.WorkerID); err != nil {
		h.logger.Error("webhook worker status recompute failed",
			zap.String("worker_id", rec.WorkerID.String()),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
