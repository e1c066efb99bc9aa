package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"careloop/worker-compliance/verification-engine/internal/config"
)

// ndisScreeningAdapter integrates with the disability worker screening
// database.
type ndisScreeningAdapter struct {
	client *restClient
	secret string
}

func NewNDISScreeningAdapter(ep config.ProviderEndpoint, timeout time.Duration) Adapter {
	return &ndisScreeningAdapter{
		client: newRESTClient(ep.BaseURL, ep.APIKey, timeout),
		secret: ep.WebhookSecret,
	}
}

func (a *ndisScreeningAdapter) Type() VerificationType  { return TypeNDISScreening }
func (a *ndisScreeningAdapter) ProviderName() string    { return "ndis-screening" }
func (a *ndisScreeningAdapter) SignatureHeader() string { return "X-Screening-Signature" }

type ndisClearance struct {
	ScreeningID   string `json:"screening_id"`
	Decision      string `json:"decision"`
	ClearanceEnds string `json:"clearance_ends,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func (a *ndisScreeningAdapter) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	var cl ndisClearance
	raw, err := a.client.postJSON(ctx, "/screenings", map[string]any{
		"worker_ref":    req.WorkerID.String(),
		"applicant":     req.Data,
		"document_refs": req.DocumentKeys,
	}, &cl)
	if err != nil {
		return nil, err
	}
	return a.toResult(&cl, raw)
}

func (a *ndisScreeningAdapter) CheckStatus(ctx context.Context, providerRequestID string) (*Result, error) {
	var cl ndisClearance
	raw, err := a.client.getJSON(ctx, "/screenings/"+providerRequestID, &cl)
	if err != nil {
		return nil, err
	}
	return a.toResult(&cl, raw)
}

func (a *ndisScreeningAdapter) ParseWebhook(payload []byte, signature string) (*Result, error) {
	if !verifySignature(payload, signature, a.secret) {
		return nil, ErrInvalidSignature
	}
	var cl ndisClearance
	if err := json.Unmarshal(payload, &cl); err != nil || cl.ScreeningID == "" {
		return nil, ErrMalformedPayload
	}
	return a.toResult(&cl, payload)
}

func (a *ndisScreeningAdapter) toResult(cl *ndisClearance, raw json.RawMessage) (*Result, error) {
	res := &Result{
		ProviderRequestID: cl.ScreeningID,
		Raw:               raw,
		Message:           cl.Notes,
	}

	switch cl.Decision {
	case "lodged":
		res.Status = StatusPending
	case "under_review":
		res.Status = StatusInProgress
	case "clearance_granted":
		res.Status = StatusVerified
	case "clearance_refused", "exclusion":
		res.Status = StatusFailed
	case "clearance_suspended":
		res.Status = StatusSuspended
	case "clearance_lapsed":
		res.Status = StatusExpired
	default:
		return nil, fmt.Errorf("%w: unmapped decision %q", ErrMalformedPayload, cl.Decision)
	}

	if cl.ClearanceEnds != "" {
		if t, err := time.Parse(time.RFC3339, cl.ClearanceEnds); err == nil {
			res.ExpiresAt = &t
		}
	}
	return res, nil
}
