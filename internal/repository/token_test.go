package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"univapay-integration-demo/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.TransactionToken{}))
	return db
}

func TestConsumeSingleUse(t *testing.T) {
	repo := NewTokenRepository(newTestDB(t), 5*time.Minute)

	token, err := repo.Consume(context.Background(), "tok-1", model.TokenKindOneTime)
	require.NoError(t, err)
	require.NotNil(t, token.ConsumedAt)

	_, err = repo.Consume(context.Background(), "tok-1", model.TokenKindOneTime)
	assert.ErrorIs(t, err, ErrTokenConsumed)
}

func TestConsumeKindMismatch(t *testing.T) {
	repo := NewTokenRepository(newTestDB(t), 5*time.Minute)

	_, err := repo.Consume(context.Background(), "tok-1", model.TokenKindSubscription)
	require.NoError(t, err)

	_, err = repo.Consume(context.Background(), "tok-1", model.TokenKindOneTime)
	assert.ErrorIs(t, err, ErrTokenKindMismatch)
}

func TestConsumeExpired(t *testing.T) {
	db := newTestDB(t)
	repo := NewTokenRepository(db, 5*time.Minute)

	require.NoError(t, db.Create(&model.TransactionToken{
		ID:        "tok-old",
		Kind:      model.TokenKindOneTime,
		CreatedAt: time.Now().Add(-10 * time.Minute),
	}).Error)

	_, err := repo.Consume(context.Background(), "tok-old", model.TokenKindOneTime)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// Expiry is decided locally and leaves the token unconsumed.
	var token model.TransactionToken
	require.NoError(t, db.Where("id = ?", "tok-old").First(&token).Error)
	assert.Nil(t, token.ConsumedAt)
}

func TestConsumeEmptyID(t *testing.T) {
	repo := NewTokenRepository(newTestDB(t), 5*time.Minute)

	_, err := repo.Consume(context.Background(), "", model.TokenKindOneTime)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConsumeConcurrent(t *testing.T) {
	db := newTestDB(t)
	repo := NewTokenRepository(db, 5*time.Minute)

	// Register up front so every goroutine races on the mark alone, like a
	// double-submitted checkout form.
	require.NoError(t, db.Create(&model.TransactionToken{
		ID:        "tok-race",
		Kind:      model.TokenKindOneTime,
		CreatedAt: time.Now(),
	}).Error)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Consume(context.Background(), "tok-race", model.TokenKindOneTime)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrTokenConsumed)
		}
	}
	assert.Equal(t, 1, succeeded)
}
