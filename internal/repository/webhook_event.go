package repository

import (
	"context"
	"errors"
	"time"

	"univapay-integration-demo/internal/model"

	"gorm.io/gorm"
)

type WebhookEventRepository interface {
	// FindByID returns (nil, nil) when no event with that id was recorded.
	FindByID(ctx context.Context, eventID string) (*model.WebhookEvent, error)
	CreateReceived(ctx context.Context, event *model.WebhookEvent) error
	// SetProcessingStatus moves an event out of "received"; events are
	// immutable after that, so only received rows are updated.
	SetProcessingStatus(ctx context.Context, eventID, status string) error
}

type webhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepositoryImpl{db: db}
}

func (r *webhookEventRepositoryImpl) FindByID(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepositoryImpl) CreateReceived(ctx context.Context, event *model.WebhookEvent) error {
	event.ProcessingStatus = model.EventReceived
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *webhookEventRepositoryImpl) SetProcessingStatus(ctx context.Context, eventID, status string) error {
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_id = ? AND processing_status = ?", eventID, model.EventReceived).
		Update("processing_status", status).Error
}
