package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"careloop/worker-compliance/verification-engine/internal/config"
)

// wwccAdapter talks to the state working-with-children check registry.
// The registry can revoke a clearance at any time (interim bars, card
// cancellations), which maps to SUSPENDED.
type wwccAdapter struct {
	client *restClient
	secret string
}

func NewWWCCAdapter(ep config.ProviderEndpoint, timeout time.Duration) Adapter {
	return &wwccAdapter{
		client: newRESTClient(ep.BaseURL, ep.APIKey, timeout),
		secret: ep.WebhookSecret,
	}
}

func (a *wwccAdapter) Type() VerificationType  { return TypeWWCC }
func (a *wwccAdapter) ProviderName() string    { return "wwcc-registry" }
func (a *wwccAdapter) SignatureHeader() string { return "X-Registry-Signature" }

type wwccApplication struct {
	ApplicationID string `json:"application_id"`
	Outcome       string `json:"outcome"`
	CardExpiry    string `json:"card_expiry,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (a *wwccAdapter) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	var app wwccApplication
	raw, err := a.client.postJSON(ctx, "/applications", map[string]any{
		"external_ref":  req.WorkerID.String(),
		"applicant":     req.Data,
		"document_refs": req.DocumentKeys,
	}, &app)
	if err != nil {
		return nil, err
	}
	return a.toResult(&app, raw)
}

func (a *wwccAdapter) CheckStatus(ctx context.Context, providerRequestID string) (*Result, error) {
	var app wwccApplication
	raw, err := a.client.getJSON(ctx, "/applications/"+providerRequestID, &app)
	if err != nil {
		return nil, err
	}
	return a.toResult(&app, raw)
}

func (a *wwccAdapter) ParseWebhook(payload []byte, signature string) (*Result, error) {
	if !verifySignature(payload, signature, a.secret) {
		return nil, ErrInvalidSignature
	}
	var app wwccApplication
	if err := json.Unmarshal(payload, &app); err != nil || app.ApplicationID == "" {
		return nil, ErrMalformedPayload
	}
	return a.toResult(&app, payload)
}

func (a *wwccAdapter) toResult(app *wwccApplication, raw json.RawMessage) (*Result, error) {
	res := &Result{
		ProviderRequestID: app.ApplicationID,
		Raw:               raw,
		Message:           app.Reason,
	}

	switch app.Outcome {
	case "application_received":
		res.Status = StatusPending
	case "in_assessment":
		res.Status = StatusInProgress
	case "cleared":
		res.Status = StatusVerified
	case "barred":
		res.Status = StatusFailed
	case "interim_bar", "card_cancelled":
		res.Status = StatusSuspended
	case "card_expired":
		res.Status = StatusExpired
	default:
		return nil, fmt.Errorf("%w: unmapped outcome %q", ErrMalformedPayload, app.Outcome)
	}

	if app.CardExpiry != "" {
		if t, err := time.Parse("2006-01-02", app.CardExpiry); err == nil {
			res.ExpiresAt = &t
		}
	}
	return res, nil
}
