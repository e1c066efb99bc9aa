package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careloop/worker-compliance/verification-engine/internal/config"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(
		NewPoliceCheckAdapter(config.ProviderEndpoint{}, 0),
		NewWWCCAdapter(config.ProviderEndpoint{}, 0),
	)

	byType, err := registry.Get(TypePoliceCheck)
	require.NoError(t, err)
	assert.Equal(t, "acic-npc", byType.ProviderName())

	byName, err := registry.ByName("wwcc-registry")
	require.NoError(t, err)
	assert.Equal(t, TypeWWCC, byName.Type())

	_, err = registry.Get(TypeFirstAid)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = registry.ByName("no-such-provider")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.Len(t, registry.All(), 2)
}

func TestParseWebhookSignature(t *testing.T) {
	adapter := NewPoliceCheckAdapter(config.ProviderEndpoint{WebhookSecret: "topsecret"}, 0)
	payload := []byte(`{"check_id":"npc-123","state":"complete_clear","valid_until":"2027-03-01T00:00:00Z"}`)

	res, err := adapter.ParseWebhook(payload, sign(payload, "topsecret"))
	require.NoError(t, err)
	assert.Equal(t, "npc-123", res.ProviderRequestID)
	assert.Equal(t, StatusVerified, res.Status)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, 2027, res.ExpiresAt.Year())
	assert.JSONEq(t, string(payload), string(res.Raw))

	_, err = adapter.ParseWebhook(payload, sign(payload, "wrongsecret"))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = adapter.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Tampering after signing must also be rejected.
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = 'X'
	_, err = adapter.ParseWebhook(tampered, sign(payload, "topsecret"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseWebhookMalformedPayload(t *testing.T) {
	adapter := NewWWCCAdapter(config.ProviderEndpoint{WebhookSecret: "s"}, 0)

	cases := []string{
		`not json at all`,
		`{"outcome":"cleared"}`,                          // missing correlation id
		`{"application_id":"a-1","outcome":"exploded"}`,  // unmapped vocabulary
	}
	for _, body := range cases {
		payload := []byte(body)
		_, err := adapter.ParseWebhook(payload, sign(payload, "s"))
		assert.ErrorIs(t, err, ErrMalformedPayload, body)
	}
}

func TestPoliceCheckVocabularyMapping(t *testing.T) {
	adapter := NewPoliceCheckAdapter(config.ProviderEndpoint{WebhookSecret: "s"}, 0)

	cases := map[string]Status{
		"submitted":            StatusPending,
		"processing":           StatusInProgress,
		"identity_confirmed":   StatusInProgress,
		"complete_clear":       StatusVerified,
		"complete_disclosable": StatusFailed,
		"rejected":             StatusFailed,
		"expired":              StatusExpired,
	}
	for state, want := range cases {
		payload := []byte(`{"check_id":"npc-1","state":"` + state + `"}`)
		res, err := adapter.ParseWebhook(payload, sign(payload, "s"))
		require.NoError(t, err, state)
		assert.Equal(t, want, res.Status, state)
	}
}

func TestWWCCVocabularyMapping(t *testing.T) {
	adapter := NewWWCCAdapter(config.ProviderEndpoint{WebhookSecret: "s"}, 0)

	cases := map[string]Status{
		"application_received": StatusPending,
		"in_assessment":        StatusInProgress,
		"cleared":              StatusVerified,
		"barred":               StatusFailed,
		"interim_bar":          StatusSuspended,
		"card_cancelled":       StatusSuspended,
		"card_expired":         StatusExpired,
	}
	for outcome, want := range cases {
		payload := []byte(`{"application_id":"app-1","outcome":"` + outcome + `"}`)
		res, err := adapter.ParseWebhook(payload, sign(payload, "s"))
		require.NoError(t, err, outcome)
		assert.Equal(t, want, res.Status, outcome)
	}
}

func TestInitiateAgainstProvider(t *testing.T) {
	var gotAuth string
	var gotBody npcSubmission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"check_id":"npc-42","state":"submitted"}`))
	}))
	defer srv.Close()

	adapter := NewPoliceCheckAdapter(config.ProviderEndpoint{
		BaseURL: srv.URL,
		APIKey:  "key-1",
	}, 2*time.Second)

	workerID := uuid.New()
	res, err := adapter.Initiate(context.Background(), InitiateRequest{
		WorkerID:     workerID,
		Data:         map[string]any{"given_name": "Ada"},
		DocumentKeys: []string{"evidence/passport.pdf"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer key-1", gotAuth)
	assert.Equal(t, workerID.String(), gotBody.ApplicantRef)
	assert.Equal(t, []string{"evidence/passport.pdf"}, gotBody.Documents)
	assert.Equal(t, "npc-42", res.ProviderRequestID)
	assert.Equal(t, StatusPending, res.Status)
}

func TestCheckStatusProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewPoliceCheckAdapter(config.ProviderEndpoint{BaseURL: srv.URL}, 2*time.Second)

	_, err := adapter.CheckStatus(context.Background(), "npc-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
