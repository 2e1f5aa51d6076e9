package repository

import (
	"context"

	"univapay-integration-demo/internal/model"

	"gorm.io/gorm"
)

// PaymentWithProvider is the read shape for the payments list: a local
// payment joined with its provider mapping, if one exists yet.
type PaymentWithProvider struct {
	Payment  *model.Payment
	Provider *model.ProviderPayment
}

type PaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error
	FindByID(ctx context.Context, id string) (*model.Payment, error)
	MarkAwaitingProvider(ctx context.Context, tx *gorm.DB, id string) error
	MarkFinalized(ctx context.Context, tx *gorm.DB, id string) error
	ListWithProvider(ctx context.Context, username string) ([]*PaymentWithProvider, error)
}

type paymentRepositoryImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepositoryImpl{db: db}
}

func (r *paymentRepositoryImpl) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepositoryImpl) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepositoryImpl) MarkAwaitingProvider(ctx context.Context, tx *gorm.DB, id string) error {
	return r.setState(ctx, tx, id, model.PaymentStateCreated, model.PaymentStateAwaitingProvider)
}

func (r *paymentRepositoryImpl) MarkFinalized(ctx context.Context, tx *gorm.DB, id string) error {
	return r.setState(ctx, tx, id, model.PaymentStateAwaitingProvider, model.PaymentStateFinalized)
}

func (r *paymentRepositoryImpl) setState(ctx context.Context, tx *gorm.DB, id, from, to string) error {
	res := tx.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND state = ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Already in the target state (or beyond); state flips are idempotent.
		var count int64
		if err := tx.WithContext(ctx).Model(&model.Payment{}).
			Where("id = ? AND state = ?", id, to).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

func (r *paymentRepositoryImpl) ListWithProvider(ctx context.Context, username string) ([]*PaymentWithProvider, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}

	ids := make([]string, len(payments))
	for i, p := range payments {
		ids[i] = p.ID
	}

	var providers []*model.ProviderPayment
	err = r.db.WithContext(ctx).
		Where("payment_id IN ?", ids).
		Find(&providers).Error
	if err != nil {
		return nil, err
	}

	byPayment := make(map[string]*model.ProviderPayment, len(providers))
	for _, pp := range providers {
		byPayment[pp.PaymentID] = pp
	}

	result := make([]*PaymentWithProvider, len(payments))
	for i, p := range payments {
		result[i] = &PaymentWithProvider{
			Payment:  p,
			Provider: byPayment[p.ID],
		}
	}
	return result, nil
}
