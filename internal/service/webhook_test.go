package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"univapay-integration-demo/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec-test"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func chargeEvent(eventID, chargeID, status string, updatedOn time.Time) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":     eventID,
		"event":  "charge.updated",
		"object": "event",
		"data": map[string]any{
			"id":         chargeID,
			"status":     status,
			"updated_on": updatedOn,
		},
	})
	return body
}

func newWebhookService(env *testEnv) WebhookService {
	return NewWebhookService(webhookSecret, env.webhookEventRepo, env.mergeService, zap.NewNop())
}

func TestWebhookIngestInvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	svc := newWebhookService(env)

	body := chargeEvent("evt-1", "chg-1", model.StatusSuccessful, t0)

	_, err := svc.Ingest(context.Background(), "deadbeef", body)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = svc.Ingest(context.Background(), "", body)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Nothing recorded for unverifiable requests.
	var count int64
	require.NoError(t, env.db.Model(&model.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWebhookIngestAppliesStatus(t *testing.T) {
	env := newTestEnv(t)
	svc := newWebhookService(env)
	pp := env.seedChargePayment(t, "chg-1", model.StatusPending, t0)

	body := chargeEvent("evt-1", "chg-1", model.StatusSuccessful, t0.Add(time.Minute))
	result, err := svc.Ingest(context.Background(), signBody(body), body)
	require.NoError(t, err)
	assert.Equal(t, IngestApplied, result.Outcome)
	assert.Equal(t, MergeApplied, result.Merge.Outcome)

	assert.Equal(t, model.StatusSuccessful, env.providerPayment(t, "chg-1").Status)
	assert.Equal(t, model.PaymentStateFinalized, env.payment(t, pp.PaymentID).State)

	var event model.WebhookEvent
	require.NoError(t, env.db.Where("event_id = ?", "evt-1").First(&event).Error)
	assert.Equal(t, model.EventApplied, event.ProcessingStatus)
	assert.Equal(t, "chg-1", event.ProviderID)
}

func TestWebhookIngestDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	svc := newWebhookService(env)
	env.seedChargePayment(t, "chg-1", model.StatusPending, t0)

	body := chargeEvent("evt-1", "chg-1", model.StatusSuccessful, t0.Add(time.Minute))

	first, err := svc.Ingest(context.Background(), signBody(body), body)
	require.NoError(t, err)
	require.Equal(t, IngestApplied, first.Outcome)
	appliedAt := env.providerPayment(t, "chg-1").ProviderUpdatedAt

	second, err := svc.Ingest(context.Background(), signBody(body), body)
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, second.Outcome)
	assert.Nil(t, second.Merge)

	// One transition, not two.
	pp := env.providerPayment(t, "chg-1")
	assert.Equal(t, model.StatusSuccessful, pp.Status)
	assert.True(t, pp.ProviderUpdatedAt.Equal(appliedAt))

	var count int64
	require.NoError(t, env.db.Model(&model.WebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestWebhookIngestStaleUpdateStillApplied(t *testing.T) {
	env := newTestEnv(t)
	svc := newWebhookService(env)
	env.seedChargePayment(t, "chg-1", model.StatusSuccessful, t0.Add(time.Minute))

	// Late-arriving older observation: merged away, but the event itself is
	// processed and audited.
	body := chargeEvent("evt-2", "chg-1", model.StatusPending, t0)
	result, err := svc.Ingest(context.Background(), signBody(body), body)
	require.NoError(t, err)
	assert.Equal(t, IngestApplied, result.Outcome)
	assert.Equal(t, MergeIgnoredStale, result.Merge.Outcome)

	assert.Equal(t, model.StatusSuccessful, env.providerPayment(t, "chg-1").Status)
}

func TestWebhookIngestMalformed(t *testing.T) {
	env := newTestEnv(t)
	svc := newWebhookService(env)

	body := []byte(`{"not json`)
	_, err := svc.Ingest(context.Background(), signBody(body), body)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	// Authentic but missing an event id.
	body = []byte(`{"event":"charge.updated","data":{"id":"chg-1","status":"successful"}}`)
	_, err = svc.Ingest(context.Background(), signBody(body), body)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestWebhookIngestUnknownProviderID(t *testing.T) {
	env := newTestEnv(t)
	svc := newWebhookService(env)

	body := chargeEvent("evt-1", "chg-unknown", model.StatusSuccessful, t0)
	result, err := svc.Ingest(context.Background(), signBody(body), body)
	require.NoError(t, err)
	assert.Equal(t, IngestRejected, result.Outcome)

	var event model.WebhookEvent
	require.NoError(t, env.db.Where("event_id = ?", "evt-1").First(&event).Error)
	assert.Equal(t, model.EventRejected, event.ProcessingStatus)
}

func TestWebhookIngestMissingStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	svc := newWebhookService(env)
	env.seedChargePayment(t, "chg-1", model.StatusPending, t0)

	body := []byte(`{"id":"evt-3","event":"charge.updated","data":{"id":"chg-1"}}`)
	result, err := svc.Ingest(context.Background(), signBody(body), body)
	require.NoError(t, err)
	assert.Equal(t, IngestRejected, result.Outcome)

	assert.Equal(t, model.StatusPending, env.providerPayment(t, "chg-1").Status)
}
