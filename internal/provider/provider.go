package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the canonical, provider-agnostic verification state. Each
// adapter owns the mapping from its provider's own vocabulary onto this set.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusVerified   Status = "VERIFIED"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
	StatusSuspended  Status = "SUSPENDED"
)

// VerificationType identifies the kind of credential check being performed.
type VerificationType string

const (
	TypePoliceCheck   VerificationType = "POLICE_CHECK"
	TypeWWCC          VerificationType = "WWCC"
	TypeNDISScreening VerificationType = "NDIS_WORKER_SCREENING"
	TypeFirstAid      VerificationType = "FIRST_AID"
	TypeABN           VerificationType = "ABN_VERIFICATION"
)

// AllTypes lists every verification type the engine knows about.
func AllTypes() []VerificationType {
	return []VerificationType{
		TypePoliceCheck,
		TypeWWCC,
		TypeNDISScreening,
		TypeFirstAid,
		TypeABN,
	}
}

var (
	ErrUnknownType      = errors.New("unknown verification type")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// InitiateRequest carries the applicant data submitted to a provider.
type InitiateRequest struct {
	WorkerID     uuid.UUID
	Data         map[string]any
	DocumentKeys []string
}

// Result is a provider response normalized into the canonical vocabulary.
// Raw preserves the untranslated payload for audit.
type Result struct {
	ProviderRequestID string
	Status            Status
	ExpiresAt         *time.Time
	Message           string
	Raw               json.RawMessage
}

// Adapter translates between one external screening provider's protocol and
// the canonical vocabulary. Implementations are stateless and safe for
// concurrent use.
type Adapter interface {
	// Type returns the verification type this adapter handles.
	Type() VerificationType

	// ProviderName returns the external provider identifier
	// (e.g. "acic-npc"), used to route webhook callbacks.
	ProviderName() string

	// SignatureHeader returns the HTTP header the provider signs its
	// webhook payloads under.
	SignatureHeader() string

	// Initiate submits a new check and returns the provider's correlation
	// id plus the canonical status of the fresh submission.
	Initiate(ctx context.Context, req InitiateRequest) (*Result, error)

	// CheckStatus polls the provider for the current state of a
	// previously submitted check.
	CheckStatus(ctx context.Context, providerRequestID string) (*Result, error)

	// ParseWebhook authenticates and maps a push payload. Returns
	// ErrInvalidSignature on HMAC mismatch without inspecting the body.
	ParseWebhook(payload []byte, signature string) (*Result, error)
}

// Registry holds all configured adapters and allows lookup by verification
// type or provider name. It is built once at startup and read-only after.
type Registry struct {
	byType map[VerificationType]Adapter
	byName map[string]Adapter
}

// NewRegistry registers the given adapters. Types and provider names must
// be unique.
func NewRegistry(list ...Adapter) *Registry {
	byType := make(map[VerificationType]Adapter, len(list))
	byName := make(map[string]Adapter, len(list))
	for _, a := range list {
		byType[a.Type()] = a
		byName[a.ProviderName()] = a
	}
	return &Registry{byType: byType, byName: byName}
}

// Get returns the adapter for a verification type.
func (r *Registry) Get(t VerificationType) (Adapter, error) {
	a, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return a, nil
}

// ByName returns the adapter for an external provider name.
func (r *Registry) ByName(name string) (Adapter, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.byType))
	for _, a := range r.byType {
		out = append(out, a)
	}
	return out
}
