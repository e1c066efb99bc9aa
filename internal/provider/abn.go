package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"careloop/worker-compliance/verification-engine/internal/config"
)

// abnAdapter verifies a worker's business-number identity against the
// business register. Lookups resolve synchronously; the register still
// pushes webhooks when a registration is later cancelled, which is why the
// adapter participates in the same webhook channel as the slow checks.
type abnAdapter struct {
	client *restClient
	secret string
}

func NewABNAdapter(ep config.ProviderEndpoint, timeout time.Duration) Adapter {
	return &abnAdapter{
		client: newRESTClient(ep.BaseURL, ep.APIKey, timeout),
		secret: ep.WebhookSecret,
	}
}

func (a *abnAdapter) Type() VerificationType  { return TypeABN }
func (a *abnAdapter) ProviderName() string    { return "abr-lookup" }
func (a *abnAdapter) SignatureHeader() string { return "X-ABR-Signature" }

type abnRecord struct {
	LookupID     string `json:"lookup_id"`
	EntityStatus string `json:"entity_status"`
	ReviewDate   string `json:"review_date,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func (a *abnAdapter) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	var rec abnRecord
	raw, err := a.client.postJSON(ctx, "/lookups", map[string]any{
		"holder_ref": req.WorkerID.String(),
		"identity":   req.Data,
	}, &rec)
	if err != nil {
		return nil, err
	}
	return a.toResult(&rec, raw)
}

func (a *abnAdapter) CheckStatus(ctx context.Context, providerRequestID string) (*Result, error) {
	var rec abnRecord
	raw, err := a.client.getJSON(ctx, "/lookups/"+providerRequestID, &rec)
	if err != nil {
		return nil, err
	}
	return a.toResult(&rec, raw)
}

func (a *abnAdapter) ParseWebhook(payload []byte, signature string) (*Result, error) {
	if !verifySignature(payload, signature, a.secret) {
		return nil, ErrInvalidSignature
	}
	var rec abnRecord
	if err := json.Unmarshal(payload, &rec); err != nil || rec.LookupID == "" {
		return nil, ErrMalformedPayload
	}
	return a.toResult(&rec, payload)
}

func (a *abnAdapter) toResult(rec *abnRecord, raw json.RawMessage) (*Result, error) {
	res := &Result{
		ProviderRequestID: rec.LookupID,
		Raw:               raw,
		Message:           rec.Detail,
	}

	switch rec.EntityStatus {
	case "matching":
		res.Status = StatusInProgress
	case "active":
		res.Status = StatusVerified
	case "cancelled", "no_match":
		res.Status = StatusFailed
	case "review_due":
		res.Status = StatusExpired
	default:
		return nil, fmt.Errorf("%w: unmapped entity status %q", ErrMalformedPayload, rec.EntityStatus)
	}

	if rec.ReviewDate != "" {
		if t, err := time.Parse("2006-01-02", rec.ReviewDate); err == nil {
			res.ExpiresAt = &t
		}
	}
	return res, nil
}
