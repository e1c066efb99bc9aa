package verification

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"careloop/worker-compliance/verification-engine/internal/provider"
)

// callerHeader carries the authenticated caller identity injected by the
// upstream authorization layer (an external collaborator).
const callerHeader = "X-Caller-ID"

type Handler struct {
	orchestrator *Orchestrator
	directory    WorkerDirectory
	logger       *zap.Logger
}

func NewHandler(orchestrator *Orchestrator, directory WorkerDirectory, logger *zap.Logger) *Handler {
	return &Handler{orchestrator: orchestrator, directory: directory, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	workers := rg.Group("/workers/:id")
	{
		workers.GET("/status", h.GetWorkerStatus)
		workers.GET("/verifications", h.ListVerifications)
		workers.POST("/verifications/:type", h.Initiate)
		workers.GET("/verifications/:type", h.Poll)
		workers.POST("/verifications/:type/recheck", h.Recheck)
	}
}

type initiateRequest struct {
	Data      map[string]any  `json:"data"`
	Documents []DocumentInput `json:"documents"`
}

func (h *Handler) Initiate(c *gin.Context) {
	workerID, vtype, ok := h.pathParams(c)
	if !ok {
		return
	}
	if !h.authorizeCaller(c, workerID) {
		return
	}

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	rec, created, err := h.orchestrator.InitiateVerification(c.Request.Context(), workerID, vtype, req.Data, req.Documents)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if created {
		c.JSON(http.StatusCreated, rec)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Poll(c *gin.Context) {
	workerID, vtype, ok := h.pathParams(c)
	if !ok {
		return
	}

	rec, err := h.orchestrator.repo.GetLatestRecordForPair(c.Request.Context(), workerID, vtype)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rec == nil {
		h.respondError(c, &NotFoundError{Resource: "verification record", ID: string(vtype)})
		return
	}

	refreshed, err := h.orchestrator.CheckVerificationStatus(c.Request.Context(), rec.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refreshed)
}

func (h *Handler) Recheck(c *gin.Context) {
	workerID, vtype, ok := h.pathParams(c)
	if !ok {
		return
	}
	if !h.authorizeCaller(c, workerID) {
		return
	}

	rec, err := h.orchestrator.repo.GetLatestRecordForPair(c.Request.Context(), workerID, vtype)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rec == nil {
		h.respondError(c, &NotFoundError{Resource: "verification record", ID: string(vtype)})
		return
	}

	refreshed, err := h.orchestrator.RecheckVerification(c.Request.Context(), rec.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refreshed)
}

func (h *Handler) ListVerifications(c *gin.Context) {
	workerID, ok := h.workerParam(c)
	if !ok {
		return
	}

	view, err := h.orchestrator.GetWorkerVerifications(c.Request.Context(), workerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) GetWorkerStatus(c *gin.Context) {
	workerID, ok := h.workerParam(c)
	if !ok {
		return
	}

	exists, err := h.directory.WorkerExists(c.Request.Context(), workerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !exists {
		h.respondError(c, &NotFoundError{Resource: "worker", ID: workerID.String()})
		return
	}

	status, breakdown, err := h.orchestrator.WorkerStatusBreakdown(c.Request.Context(), workerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"worker_id": workerID, "status": status, "verifications": breakdown})
}

func (h *Handler) workerParam(c *gin.Context) (uuid.UUID, bool) {
	workerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker id"})
		return uuid.Nil, false
	}
	return workerID, true
}

func (h *Handler) pathParams(c *gin.Context) (uuid.UUID, provider.VerificationType, bool) {
	workerID, ok := h.workerParam(c)
	if !ok {
		return uuid.Nil, "", false
	}
	vtype := provider.VerificationType(c.Param("type"))
	return workerID, vtype, true
}

func (h *Handler) authorizeCaller(c *gin.Context, workerID uuid.UUID) bool {
	callerID, err := uuid.Parse(c.GetHeader(callerHeader))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing caller identity"})
		return false
	}
	owner, err := h.directory.IsOwner(c.Request.Context(), callerID, workerID)
	if err != nil {
		h.respondError(c, err)
		return false
	}
	if !owner {
		c.JSON(http.StatusForbidden, gin.H{"error": "caller does not own this worker"})
		return false
	}
	return true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		validationErr  *ValidationError
		authErr        *AuthorizationError
		notFoundErr    *NotFoundError
		unavailableErr *ProviderUnavailableError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Msg})
	case errors.As(err, &authErr):
		c.JSON(http.StatusForbidden, gin.H{"error": authErr.Msg})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &unavailableErr):
		h.logger.Error("provider unavailable", zap.String("provider", unavailableErr.Provider), zap.Error(unavailableErr.Err))
		c.JSON(http.StatusBadGateway, gin.H{"error": unavailableErr.Error()})
	default:
		h.logger.Error("unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
