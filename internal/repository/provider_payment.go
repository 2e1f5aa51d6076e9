package repository

import (
	"context"
	"time"

	"univapay-integration-demo/internal/model"

	"gorm.io/gorm"
)

type ProviderPaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, pp *model.ProviderPayment) error
	FindByProviderID(ctx context.Context, providerID string) (*model.ProviderPayment, error)
	// ListReconcilable returns rows still worth polling: non-terminal status
	// and not yet flagged for manual review.
	ListReconcilable(ctx context.Context) ([]*model.ProviderPayment, error)
	// ApplyStatus writes the new status/timestamp conditionally on the row
	// still carrying prevUpdatedAt, so two racing writers serialize instead
	// of interleaving. Returns false when the guard rejected the write.
	ApplyStatus(ctx context.Context, tx *gorm.DB, id uint, status string, updatedAt time.Time, rawPayload string, prevUpdatedAt time.Time) (bool, error)
	// MarkStalePoll bumps the no-progress counter and flags the row for
	// manual review once it reaches threshold. Returns whether it flagged.
	MarkStalePoll(ctx context.Context, id uint, threshold int) (bool, error)
}

type providerPaymentRepositoryImpl struct {
	db *gorm.DB
}

func NewProviderPaymentRepository(db *gorm.DB) ProviderPaymentRepository {
	return &providerPaymentRepositoryImpl{db: db}
}

func (r *providerPaymentRepositoryImpl) Create(ctx context.Context, tx *gorm.DB, pp *model.ProviderPayment) error {
	return tx.WithContext(ctx).Create(pp).Error
}

func (r *providerPaymentRepositoryImpl) FindByProviderID(ctx context.Context, providerID string) (*model.ProviderPayment, error) {
	var pp model.ProviderPayment
	err := r.db.WithContext(ctx).
		Where("charge_id = ? OR subscription_id = ?", providerID, providerID).
		First(&pp).Error
	if err != nil {
		return nil, err
	}
	return &pp, nil
}

func (r *providerPaymentRepositoryImpl) ListReconcilable(ctx context.Context) ([]*model.ProviderPayment, error) {
	nonTerminal := []string{
		model.StatusPending,
		model.StatusAwaiting,
		model.StatusAuthorized,
		model.StatusUnverified,
		model.StatusCurrent,
		model.StatusSuspended,
		model.StatusUnpaid,
	}

	var rows []*model.ProviderPayment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND needs_review = ?", nonTerminal, false).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *providerPaymentRepositoryImpl) ApplyStatus(ctx context.Context, tx *gorm.DB, id uint, status string, updatedAt time.Time, rawPayload string, prevUpdatedAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":              status,
		"provider_updated_at": updatedAt,
		"stale_polls":         0,
		"updated_at":          time.Now(),
	}
	if rawPayload != "" {
		updates["raw_payload"] = rawPayload
	}

	res := tx.WithContext(ctx).Model(&model.ProviderPayment{}).
		Where("id = ? AND provider_updated_at = ?", id, prevUpdatedAt).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *providerPaymentRepositoryImpl) MarkStalePoll(ctx context.Context, id uint, threshold int) (bool, error) {
	var flagged bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ProviderPayment{}).
			Where("id = ?", id).
			Update("stale_polls", gorm.Expr("stale_polls + 1")).Error; err != nil {
			return err
		}

		res := tx.Model(&model.ProviderPayment{}).
			Where("id = ? AND stale_polls >= ? AND needs_review = ?", id, threshold, false).
			Update("needs_review", true)
		if res.Error != nil {
			return res.Error
		}
		flagged = res.RowsAffected > 0
		return nil
	})
	return flagged, err
}
