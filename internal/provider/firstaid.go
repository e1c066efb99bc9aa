package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"careloop/worker-compliance/verification-engine/internal/config"
)

// firstAidAdapter validates first-aid certificates against the training
// registry. Validation is near-synchronous but still reported through the
// same asynchronous channels as the slower checks.
type firstAidAdapter struct {
	client *restClient
	secret string
}

func NewFirstAidAdapter(ep config.ProviderEndpoint, timeout time.Duration) Adapter {
	return &firstAidAdapter{
		client: newRESTClient(ep.BaseURL, ep.APIKey, timeout),
		secret: ep.WebhookSecret,
	}
}

func (a *firstAidAdapter) Type() VerificationType  { return TypeFirstAid }
func (a *firstAidAdapter) ProviderName() string    { return "firstaid-certs" }
func (a *firstAidAdapter) SignatureHeader() string { return "X-Certs-Signature" }

type certValidation struct {
	ValidationID string `json:"validation_id"`
	Result       string `json:"result"`
	ExpiresOn    string `json:"expires_on,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func (a *firstAidAdapter) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	var v certValidation
	raw, err := a.client.postJSON(ctx, "/validations", map[string]any{
		"holder_ref":    req.WorkerID.String(),
		"certificate":   req.Data,
		"document_refs": req.DocumentKeys,
	}, &v)
	if err != nil {
		return nil, err
	}
	return a.toResult(&v, raw)
}

func (a *firstAidAdapter) CheckStatus(ctx context.Context, providerRequestID string) (*Result, error) {
	var v certValidation
	raw, err := a.client.getJSON(ctx, "/validations/"+providerRequestID, &v)
	if err != nil {
		return nil, err
	}
	return a.toResult(&v, raw)
}

func (a *firstAidAdapter) ParseWebhook(payload []byte, signature string) (*Result, error) {
	if !verifySignature(payload, signature, a.secret) {
		return nil, ErrInvalidSignature
	}
	var v certValidation
	if err := json.Unmarshal(payload, &v); err != nil || v.ValidationID == "" {
		return nil, ErrMalformedPayload
	}
	return a.toResult(&v, payload)
}

func (a *firstAidAdapter) toResult(v *certValidation, raw json.RawMessage) (*Result, error) {
	res := &Result{
		ProviderRequestID: v.ValidationID,
		Raw:               raw,
		Message:           v.Detail,
	}

	switch v.Result {
	case "queued":
		res.Status = StatusPending
	case "pending_review":
		res.Status = StatusInProgress
	case "valid":
		res.Status = StatusVerified
	case "invalid", "not_found":
		res.Status = StatusFailed
	case "lapsed":
		res.Status = StatusExpired
	default:
		return nil, fmt.Errorf("%w: unmapped result %q", ErrMalformedPayload, v.Result)
	}

	if v.ExpiresOn != "" {
		if t, err := time.Parse("2006-01-02", v.ExpiresOn); err == nil {
			res.ExpiresAt = &t
		}
	}
	return res, nil
}
