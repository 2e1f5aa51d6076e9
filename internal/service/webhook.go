package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"univapay-integration-demo/internal/model"
	"univapay-integration-demo/internal/repository"

	"go.uber.org/zap"
)

var (
	// ErrSignatureInvalid is returned before any state is read, and carries
	// nothing about whether the referenced provider id exists.
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

type IngestOutcome string

const (
	IngestApplied   IngestOutcome = "applied"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestRejected  IngestOutcome = "rejected"
)

type IngestResult struct {
	EventID string
	Outcome IngestOutcome
	Merge   *MergeResult
}

type WebhookService interface {
	Ingest(ctx context.Context, signature string, body []byte) (*IngestResult, error)
}

type webhookServiceImpl struct {
	webhookSecret    []byte
	webhookEventRepo repository.WebhookEventRepository
	mergeService     MergeService
	logger           *zap.Logger
}

func NewWebhookService(
	webhookSecret string,
	webhookEventRepo repository.WebhookEventRepository,
	mergeService MergeService,
	logger *zap.Logger,
) WebhookService {
	return &webhookServiceImpl{
		webhookSecret:    []byte(webhookSecret),
		webhookEventRepo: webhookEventRepo,
		mergeService:     mergeService,
		logger:           logger,
	}
}

// webhookEvent is the provider's push payload: an event envelope wrapping the
// charge or subscription resource it refers to.
type webhookEvent struct {
	ID     string `json:"id"`    // provider-assigned event id
	Event  string `json:"event"` // e.g. charge.updated, subscription.suspended
	Object string `json:"object"`
	Data   struct {
		ID             string    `json:"id"`
		ChargeID       string    `json:"charge_id"`
		SubscriptionID string    `json:"subscription_id"`
		Status         string    `json:"status"`
		UpdatedOn      time.Time `json:"updated_on"`
	} `json:"data"`
}

// providerID extracts the charge/subscription id, tolerating the shapes the
// provider has been observed to send.
func (e *webhookEvent) providerID() string {
	switch {
	case e.Data.ID != "":
		return e.Data.ID
	case e.Data.ChargeID != "":
		return e.Data.ChargeID
	case e.Data.SubscriptionID != "":
		return e.Data.SubscriptionID
	}
	return ""
}

func (s *webhookServiceImpl) Ingest(ctx context.Context, signature string, body []byte) (*IngestResult, error) {
	if err := s.verifySignature(signature, body); err != nil {
		return nil, err
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, ErrMalformedEvent
	}
	if event.ID == "" {
		return nil, ErrMalformedEvent
	}

	// Providers resend on timeout; a replayed event id that was already
	// processed is acked without touching the payment again. A row still in
	// "received" means a previous attempt died mid-processing, and the
	// redelivery is its retry.
	existing, err := s.webhookEventRepo.FindByID(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ProcessingStatus != model.EventReceived {
		s.logger.Info("duplicate webhook delivery",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Event),
		)
		return &IngestResult{EventID: event.ID, Outcome: IngestDuplicate}, nil
	}

	providerID := event.providerID()
	if existing == nil {
		if err := s.webhookEventRepo.CreateReceived(ctx, &model.WebhookEvent{
			EventID:    event.ID,
			EventType:  event.Event,
			ProviderID: providerID,
			Payload:    string(body),
		}); err != nil {
			return nil, err
		}
	}

	if providerID == "" || event.Data.Status == "" {
		s.logger.Warn("webhook event missing provider id or status",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Event),
		)
		return s.reject(ctx, event.ID)
	}

	updatedAt := event.Data.UpdatedOn
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	mergeResult, err := s.mergeService.Apply(ctx, providerID, &StatusUpdate{
		Status:     strings.ToLower(event.Data.Status),
		UpdatedAt:  updatedAt,
		RawPayload: string(body),
	})
	if errors.Is(err, ErrUnknownProviderID) {
		s.logger.Warn("webhook for unknown provider id",
			zap.String("event_id", event.ID),
			zap.String("provider_id", providerID),
		)
		return s.reject(ctx, event.ID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.webhookEventRepo.SetProcessingStatus(ctx, event.ID, model.EventApplied); err != nil {
		return nil, err
	}
	return &IngestResult{EventID: event.ID, Outcome: IngestApplied, Merge: mergeResult}, nil
}

func (s *webhookServiceImpl) reject(ctx context.Context, eventID string) (*IngestResult, error) {
	if err := s.webhookEventRepo.SetProcessingStatus(ctx, eventID, model.EventRejected); err != nil {
		return nil, err
	}
	// Rejected-but-authentic events are acked so the provider stops
	// redelivering a payload we can never process.
	return &IngestResult{EventID: eventID, Outcome: IngestRejected}, nil
}

// verifySignature checks an HMAC-SHA256 over the raw body. The comparison is
// constant-time and runs before anything is read from storage.
func (s *webhookServiceImpl) verifySignature(signature string, body []byte) error {
	if len(s.webhookSecret) == 0 || signature == "" {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrSignatureInvalid
	}
	return nil
}
