package verification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"careloop/worker-compliance/verification-engine/internal/provider"
	"careloop/worker-compliance/verification-engine/pkg/statemachine"
)

// WorkerDirectory is the narrow view of the external worker service the
// engine needs: existence, ownership, and which checks a worker must hold.
type WorkerDirectory interface {
	WorkerExists(ctx context.Context, workerID uuid.UUID) (bool, error)
	IsOwner(ctx context.Context, callerID, workerID uuid.UUID) (bool, error)
	RequiredTypes(ctx context.Context, workerID uuid.UUID) ([]provider.VerificationType, error)
}

// EvidenceResolver turns stored evidence references into fetchable URLs.
// Document storage itself is an external collaborator.
type EvidenceResolver interface {
	ResolveURL(ctx context.Context, storageKey string) (string, error)
}

// TransitionObserver is notified after every applied status transition.
// The alert service implements it.
type TransitionObserver interface {
	OnTransition(ctx context.Context, rec *VerificationRecord, previous, next provider.Status)
}

// Orchestrator coordinates provider adapters and the record store, and owns
// the status state machine. Both the webhook push path and the poll path
// funnel through ApplyStatusUpdate so a single code path enforces ordering.
type Orchestrator struct {
	repo          Repository
	registry      *provider.Registry
	directory     WorkerDirectory
	evidence      EvidenceResolver
	machine       *statemachine.Machine
	observer      TransitionObserver
	logger        *zap.Logger
	expiryWarning time.Duration
}

func NewOrchestrator(repo Repository, registry *provider.Registry, directory WorkerDirectory, evidence EvidenceResolver, logger *zap.Logger, expiryWarning time.Duration) *Orchestrator {
	return &Orchestrator{
		repo:          repo,
		registry:      registry,
		directory:     directory,
		evidence:      evidence,
		machine:       NewStateMachine(),
		logger:        logger,
		expiryWarning: expiryWarning,
	}
}

// SetTransitionObserver wires the alert service in after construction; the
// alert service in turn drives expiry transitions back through the
// orchestrator.
func (o *Orchestrator) SetTransitionObserver(obs TransitionObserver) {
	o.observer = obs
}

// InitiateVerification submits a new check unless an active record already
// exists for the (worker, type) pair, in which case the existing record is
// returned unchanged. On provider failure no record is created: local state
// must never claim a submission the provider did not accept.
func (o *Orchestrator) InitiateVerification(ctx context.Context, workerID uuid.UUID, vtype provider.VerificationType, data map[string]any, documents []DocumentInput) (*VerificationRecord, bool, error) {
	exists, err := o.directory.WorkerExists(ctx, workerID)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, &NotFoundError{Resource: "worker", ID: workerID.String()}
	}

	adapter, err := o.registry.Get(vtype)
	if err != nil {
		return nil, false, NewValidationError("unsupported verification type %q", vtype)
	}

	if existing, err := o.repo.GetActiveRecordForPair(ctx, workerID, vtype); err != nil {
		return nil, false, err
	} else if existing != nil {
		o.logger.Info("initiate replayed against active record",
			zap.String("worker_id", workerID.String()),
			zap.String("type", string(vtype)),
			zap.String("record_id", existing.ID.String()),
			zap.String("status", string(existing.Status)))
		return existing, false, nil
	}

	docKeys := make([]string, 0, len(documents))
	for _, d := range documents {
		docKeys = append(docKeys, d.StorageKey)
	}

	res, err := adapter.Initiate(ctx, provider.InitiateRequest{
		WorkerID:     workerID,
		Data:         data,
		DocumentKeys: docKeys,
	})
	if err != nil {
		return nil, false, &ProviderUnavailableError{Provider: adapter.ProviderName(), Err: err}
	}

	submitted, err := json.Marshal(data)
	if err != nil {
		return nil, false, NewValidationError("applicant data is not serializable: %v", err)
	}

	rec := &VerificationRecord{
		ID:                uuid.New(),
		WorkerID:          workerID,
		Type:              vtype,
		Provider:          adapter.ProviderName(),
		Status:            res.Status,
		ProviderRequestID: res.ProviderRequestID,
		SubmittedData:     datatypes.JSON(submitted),
		ProviderResponse:  datatypes.JSON(res.Raw),
		ExpiresAt:         res.ExpiresAt,
	}
	if res.Status == provider.StatusVerified {
		now := time.Now()
		rec.VerifiedAt = &now
	}
	for _, d := range documents {
		rec.Documents = append(rec.Documents, VerificationDocument{
			ID:                   uuid.New(),
			VerificationRecordID: rec.ID,
			Name:                 d.Name,
			StorageKey:           d.StorageKey,
			ContentType:          d.ContentType,
		})
	}

	if err := o.repo.CreateRecord(ctx, rec); err != nil {
		return nil, false, err
	}

	o.logger.Info("verification initiated",
		zap.String("worker_id", workerID.String()),
		zap.String("type", string(vtype)),
		zap.String("record_id", rec.ID.String()),
		zap.String("provider", rec.Provider),
		zap.String("provider_request_id", rec.ProviderRequestID),
		zap.String("status", string(rec.Status)))

	return rec, true, nil
}

// CheckVerificationStatus is the pull path. Settled records that are not
// near expiry are returned from the store without touching the provider.
func (o *Orchestrator) CheckVerificationStatus(ctx context.Context, verificationID uuid.UUID) (*VerificationRecord, error) {
	rec, err := o.repo.GetRecordByID(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Resource: "verification record", ID: verificationID.String()}
	}

	if !o.shouldPoll(rec) {
		return rec, nil
	}

	adapter, err := o.registry.Get(rec.Type)
	if err != nil {
		return nil, NewValidationError("no adapter registered for type %q", rec.Type)
	}

	res, err := adapter.CheckStatus(ctx, rec.ProviderRequestID)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: adapter.ProviderName(), Err: err}
	}

	rec, err = o.ApplyStatusUpdate(ctx, rec, res)
	if err != nil {
		return nil, err
	}
	if _, err := o.UpdateWorkerStatus(ctx, rec.WorkerID); err != nil {
		o.logger.Warn("worker status recompute failed after poll",
			zap.String("worker_id", rec.WorkerID.String()), zap.Error(err))
	}
	return rec, nil
}

// shouldPoll decides whether the pull path needs a live provider call.
func (o *Orchestrator) shouldPoll(rec *VerificationRecord) bool {
	switch rec.Status {
	case provider.StatusPending, provider.StatusInProgress:
		return true
	case provider.StatusVerified:
		// Re-poll once inside the expiry warning window.
		return rec.ExpiresAt != nil && time.Until(*rec.ExpiresAt) <= o.expiryWarning
	default:
		// FAILED, SUSPENDED and EXPIRED only move through explicit
		// re-initiation or recheck.
		return false
	}
}

// ApplyStatusUpdate is the single place verification status changes. Every
// call, including no-ops, is logged with before/after status and persists
// the raw provider payload for audit. Stale or duplicate updates never roll
// state backward.
func (o *Orchestrator) ApplyStatusUpdate(ctx context.Context, rec *VerificationRecord, res *provider.Result) (*VerificationRecord, error) {
	rec, _, err := o.applyStatusUpdate(ctx, rec, res)
	return rec, err
}

// applyStatusUpdate additionally reports whether this call won the
// conditional transition; no-ops, stale updates, and lost races all report
// false.
func (o *Orchestrator) applyStatusUpdate(ctx context.Context, rec *VerificationRecord, res *provider.Result) (*VerificationRecord, bool, error) {
	current := rec.Status
	next := res.Status

	if len(res.Raw) > 0 {
		if err := o.repo.SaveProviderResponse(ctx, rec.ID, datatypes.JSON(res.Raw)); err != nil {
			return nil, false, err
		}
		rec.ProviderResponse = datatypes.JSON(res.Raw)
	}

	if next == current {
		o.logger.Debug("status update is a no-op",
			zap.String("record_id", rec.ID.String()),
			zap.String("before", string(current)),
			zap.String("after", string(next)))
		return rec, false, nil
	}

	if !o.machine.CanTransition(string(current), string(next)) {
		o.logger.Debug("ignoring stale status update",
			zap.String("record_id", rec.ID.String()),
			zap.String("before", string(current)),
			zap.String("after", string(next)),
			zap.Bool("stale", o.machine.IsStale(string(current), string(next))))
		return rec, false, nil
	}

	updates := map[string]any{}
	now := time.Now()
	switch next {
	case provider.StatusVerified:
		updates["verified_at"] = now
		rec.VerifiedAt = &now
		if res.ExpiresAt != nil {
			updates["expires_at"] = *res.ExpiresAt
			rec.ExpiresAt = res.ExpiresAt
		}
		updates["error_message"] = ""
		rec.ErrorMessage = ""
	case provider.StatusFailed:
		updates["error_message"] = res.Message
		rec.ErrorMessage = res.Message
	case provider.StatusInProgress:
		updates["error_message"] = ""
		rec.ErrorMessage = ""
	}

	applied, err := o.repo.TransitionStatus(ctx, rec.ID, current, next, updates)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		// A concurrent webhook or sweep won the conditional update;
		// this delivery is now stale by definition.
		o.logger.Debug("transition lost conditional update, treating as stale",
			zap.String("record_id", rec.ID.String()),
			zap.String("before", string(current)),
			zap.String("after", string(next)))
		latest, err := o.repo.GetRecordByID(ctx, rec.ID)
		if err != nil || latest == nil {
			return rec, false, err
		}
		return latest, false, nil
	}

	rec.Status = next
	o.logger.Info("verification status transitioned",
		zap.String("record_id", rec.ID.String()),
		zap.String("worker_id", rec.WorkerID.String()),
		zap.String("type", string(rec.Type)),
		zap.String("before", string(current)),
		zap.String("after", string(next)))

	if o.observer != nil {
		o.observer.OnTransition(ctx, rec, current, next)
	}
	return rec, true, nil
}

// ExpireRecord drives the sweep-detected VERIFIED -> EXPIRED transition.
// Returns whether this call applied the transition; only the winner of the
// conditional update reports true, which keeps expiry alerts exactly-once.
func (o *Orchestrator) ExpireRecord(ctx context.Context, rec *VerificationRecord) (bool, error) {
	_, applied, err := o.applyStatusUpdate(ctx, rec, &provider.Result{
		ProviderRequestID: rec.ProviderRequestID,
		Status:            provider.StatusExpired,
	})
	return applied, err
}

// RecheckVerification re-polls an EXPIRED record against its existing
// provider correlation id. Original applicant data is never resubmitted; a
// FAILED credential requires a fresh initiation instead.
func (o *Orchestrator) RecheckVerification(ctx context.Context, verificationID uuid.UUID) (*VerificationRecord, error) {
	rec, err := o.repo.GetRecordByID(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Resource: "verification record", ID: verificationID.String()}
	}
	if rec.Status != provider.StatusExpired {
		return nil, NewValidationError("recheck only applies to expired verifications, record is %s", rec.Status)
	}
	if rec.ProviderRequestID == "" {
		return nil, NewValidationError("record has no provider request id to recheck")
	}

	adapter, err := o.registry.Get(rec.Type)
	if err != nil {
		return nil, NewValidationError("no adapter registered for type %q", rec.Type)
	}

	res, err := adapter.CheckStatus(ctx, rec.ProviderRequestID)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: adapter.ProviderName(), Err: err}
	}

	// The recheck itself re-enters IN_PROGRESS; a renewed outcome then
	// lands through the normal machine edges.
	rec, err = o.ApplyStatusUpdate(ctx, rec, &provider.Result{
		ProviderRequestID: rec.ProviderRequestID,
		Status:            provider.StatusInProgress,
	})
	if err != nil {
		return nil, err
	}
	rec, err = o.ApplyStatusUpdate(ctx, rec, res)
	if err != nil {
		return nil, err
	}
	if _, err := o.UpdateWorkerStatus(ctx, rec.WorkerID); err != nil {
		o.logger.Warn("worker status recompute failed after recheck",
			zap.String("worker_id", rec.WorkerID.String()), zap.Error(err))
	}
	return rec, nil
}

// FindByProviderRequest resolves a webhook correlation id to its record.
// Providers only know their own ids, never worker ids.
func (o *Orchestrator) FindByProviderRequest(ctx context.Context, requestID string, vtype provider.VerificationType) (*VerificationRecord, error) {
	return o.repo.GetRecordByProviderRequestID(ctx, requestID, vtype)
}

// GetWorkerVerifications returns every record, evidence document, and alert
// for a worker, with evidence references resolved to fetchable URLs.
func (o *Orchestrator) GetWorkerVerifications(ctx context.Context, workerID uuid.UUID) (*WorkerVerifications, error) {
	exists, err := o.directory.WorkerExists(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &NotFoundError{Resource: "worker", ID: workerID.String()}
	}

	records, err := o.repo.ListRecordsByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if o.evidence != nil {
		for i := range records {
			for j := range records[i].Documents {
				doc := &records[i].Documents[j]
				url, err := o.evidence.ResolveURL(ctx, doc.StorageKey)
				if err != nil {
					o.logger.Warn("evidence url resolution failed",
						zap.String("storage_key", doc.StorageKey), zap.Error(err))
					continue
				}
				doc.URL = url
			}
		}
	}

	alerts, err := o.repo.ListAlertsByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}

	status, err := o.UpdateWorkerStatus(ctx, workerID)
	if err != nil {
		return nil, err
	}

	return &WorkerVerifications{
		WorkerID: workerID,
		Status:   status,
		Records:  records,
		Alerts:   alerts,
	}, nil
}

// UpdateWorkerStatus recomputes the derived worker status by reducing over
// the latest record per required verification type. Pure and idempotent;
// safe to call redundantly.
func (o *Orchestrator) UpdateWorkerStatus(ctx context.Context, workerID uuid.UUID) (WorkerStatus, error) {
	status, _, err := o.workerStatusView(ctx, workerID)
	return status, err
}

// WorkerStatusBreakdown returns the derived worker status together with the
// latest per-type record summaries backing it.
func (o *Orchestrator) WorkerStatusBreakdown(ctx context.Context, workerID uuid.UUID) (WorkerStatus, []TypeStatus, error) {
	return o.workerStatusView(ctx, workerID)
}

func (o *Orchestrator) workerStatusView(ctx context.Context, workerID uuid.UUID) (WorkerStatus, []TypeStatus, error) {
	required, err := o.directory.RequiredTypes(ctx, workerID)
	if err != nil {
		return "", nil, err
	}

	records, err := o.repo.ListRecordsByWorker(ctx, workerID)
	if err != nil {
		return "", nil, err
	}

	// Records come back newest-first; keep the latest per type.
	latest := make(map[provider.VerificationType]*VerificationRecord, len(required))
	for i := range records {
		rec := &records[i]
		if _, seen := latest[rec.Type]; !seen {
			latest[rec.Type] = rec
		}
	}

	requiredSet := make(map[provider.VerificationType]bool, len(required))
	for _, t := range required {
		requiredSet[t] = true
	}
	breakdown := make([]TypeStatus, 0, len(latest))
	for _, t := range provider.AllTypes() {
		rec, ok := latest[t]
		if !ok {
			continue
		}
		breakdown = append(breakdown, TypeStatus{
			Type:      t,
			Status:    rec.Status,
			Required:  requiredSet[t],
			ExpiresAt: rec.ExpiresAt,
		})
	}

	now := time.Now()
	status := WorkerVerified
	for _, t := range required {
		rec, ok := latest[t]
		if !ok {
			// A missing check never downgrades a suspension.
			if status == WorkerVerified {
				status = WorkerOnboardingInProgress
			}
			continue
		}
		switch rec.Status {
		case provider.StatusFailed:
			return o.logWorkerStatus(workerID, WorkerRejected), breakdown, nil
		case provider.StatusSuspended:
			status = WorkerSuspended
		case provider.StatusVerified:
			if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
				// Past expiry but not yet swept.
				if status == WorkerVerified {
					status = WorkerOnboardingInProgress
				}
			}
		default:
			if status == WorkerVerified {
				status = WorkerOnboardingInProgress
			}
		}
	}

	return o.logWorkerStatus(workerID, status), breakdown, nil
}

func (o *Orchestrator) logWorkerStatus(workerID uuid.UUID, status WorkerStatus) WorkerStatus {
	o.logger.Debug("worker status computed",
		zap.String("worker_id", workerID.String()),
		zap.String("status", string(status)))
	return status
}

// ReplaceRecordMetadata swaps the record's opaque metadata value in whole.
func (o *Orchestrator) ReplaceRecordMetadata(ctx context.Context, verificationID uuid.UUID, metadata map[string]any) error {
	rec, err := o.repo.GetRecordByID(ctx, verificationID)
	if err != nil {
		return err
	}
	if rec == nil {
		return &NotFoundError{Resource: "verification record", ID: verificationID.String()}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return NewValidationError("metadata is not serializable: %v", err)
	}
	return o.repo.ReplaceMetadata(ctx, verificationID, datatypes.JSON(raw))
}
