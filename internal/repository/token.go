package repository

import (
	"context"
	"errors"
	"time"

	"univapay-integration-demo/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTokenNotFound     = errors.New("transaction token not found")
	ErrTokenConsumed     = errors.New("transaction token already consumed")
	ErrTokenExpired      = errors.New("transaction token expired")
	ErrTokenKindMismatch = errors.New("transaction token kind mismatch")
)

type TokenRepository interface {
	// Consume registers the token on first sight and marks it consumed.
	// The mark is a single conditional update, so exactly one of any number
	// of concurrent callers wins; the rest get ErrTokenConsumed.
	Consume(ctx context.Context, tokenID, expectedKind string) (*model.TransactionToken, error)
}

type tokenRepositoryImpl struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewTokenRepository(db *gorm.DB, ttl time.Duration) TokenRepository {
	return &tokenRepositoryImpl{db: db, ttl: ttl}
}

func (r *tokenRepositoryImpl) Consume(ctx context.Context, tokenID, expectedKind string) (*model.TransactionToken, error) {
	if tokenID == "" {
		return nil, ErrTokenNotFound
	}

	var token model.TransactionToken
	err := r.db.WithContext(ctx).
		Where(model.TransactionToken{ID: tokenID}).
		Attrs(model.TransactionToken{Kind: expectedKind, CreatedAt: time.Now()}).
		FirstOrCreate(&token).Error
	if err != nil {
		// Lost a concurrent first-presentation race; the row exists now.
		if ferr := r.db.WithContext(ctx).Where("id = ?", tokenID).First(&token).Error; ferr != nil {
			return nil, err
		}
	}

	if token.Kind != expectedKind {
		return nil, ErrTokenKindMismatch
	}
	// Expired tokens are rejected locally, without a provider round trip.
	if r.ttl > 0 && time.Since(token.CreatedAt) > r.ttl {
		return nil, ErrTokenExpired
	}

	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.TransactionToken{}).
		Where("id = ? AND consumed_at IS NULL", tokenID).
		Update("consumed_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrTokenConsumed
	}

	token.ConsumedAt = &now
	return &token, nil
}
