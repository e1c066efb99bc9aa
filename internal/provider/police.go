package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"careloop/worker-compliance/verification-engine/internal/config"
)

// policeCheckAdapter integrates with the national police check broker.
// The broker is asynchronous: a submission is acknowledged immediately and
// the outcome arrives later by webhook or polling.
type policeCheckAdapter struct {
	client *restClient
	secret string
}

func NewPoliceCheckAdapter(ep config.ProviderEndpoint, timeout time.Duration) Adapter {
	return &policeCheckAdapter{
		client: newRESTClient(ep.BaseURL, ep.APIKey, timeout),
		secret: ep.WebhookSecret,
	}
}

func (a *policeCheckAdapter) Type() VerificationType { return TypePoliceCheck }
func (a *policeCheckAdapter) ProviderName() string   { return "acic-npc" }
func (a *policeCheckAdapter) SignatureHeader() string {
	return "X-NPC-Signature"
}

type npcSubmission struct {
	ApplicantRef string         `json:"applicant_ref"`
	Details      map[string]any `json:"details"`
	Documents    []string       `json:"document_refs"`
}

type npcCheck struct {
	CheckID    string `json:"check_id"`
	State      string `json:"state"`
	ValidUntil string `json:"valid_until,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
}

func (a *policeCheckAdapter) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	var check npcCheck
	raw, err := a.client.postJSON(ctx, "/v2/checks", npcSubmission{
		ApplicantRef: req.WorkerID.String(),
		Details:      req.Data,
		Documents:    req.DocumentKeys,
	}, &check)
	if err != nil {
		return nil, err
	}
	return a.toResult(&check, raw)
}

func (a *policeCheckAdapter) CheckStatus(ctx context.Context, providerRequestID string) (*Result, error) {
	var check npcCheck
	raw, err := a.client.getJSON(ctx, "/v2/checks/"+providerRequestID, &check)
	if err != nil {
		return nil, err
	}
	return a.toResult(&check, raw)
}

func (a *policeCheckAdapter) ParseWebhook(payload []byte, signature string) (*Result, error) {
	if !verifySignature(payload, signature, a.secret) {
		return nil, ErrInvalidSignature
	}
	var check npcCheck
	if err := json.Unmarshal(payload, &check); err != nil || check.CheckID == "" {
		return nil, ErrMalformedPayload
	}
	return a.toResult(&check, payload)
}

// toResult maps the broker's state vocabulary onto the canonical set.
// "complete_disclosable" means the check surfaced disclosable court
// outcomes; compliance treats that as a failed clearance pending manual
// review, never an automatic pass.
func (a *policeCheckAdapter) toResult(check *npcCheck, raw json.RawMessage) (*Result, error) {
	res := &Result{
		ProviderRequestID: check.CheckID,
		Raw:               raw,
		Message:           check.Outcome,
	}

	switch check.State {
	case "submitted":
		res.Status = StatusPending
	case "processing", "identity_confirmed":
		res.Status = StatusInProgress
	case "complete_clear":
		res.Status = StatusVerified
	case "complete_disclosable", "rejected":
		res.Status = StatusFailed
	case "expired":
		res.Status = StatusExpired
	default:
		return nil, fmt.Errorf("%w: unmapped state %q", ErrMalformedPayload, check.State)
	}

	if check.ValidUntil != "" {
		if t, err := time.Parse(time.RFC3339, check.ValidUntil); err == nil {
			res.ExpiresAt = &t
		}
	}
	return res, nil
}
