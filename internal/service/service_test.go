package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"univapay-integration-demo/internal/client"
	"univapay-integration-demo/internal/model"
	"univapay-integration-demo/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.TransactionToken{},
		&model.Payment{},
		&model.ProviderPayment{},
		&model.WebhookEvent{},
	))
	return db
}

type testEnv struct {
	db                  *gorm.DB
	tokenRepo           repository.TokenRepository
	paymentRepo         repository.PaymentRepository
	providerPaymentRepo repository.ProviderPaymentRepository
	webhookEventRepo    repository.WebhookEventRepository
	mergeService        MergeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	paymentRepo := repository.NewPaymentRepository(db)
	providerPaymentRepo := repository.NewProviderPaymentRepository(db)

	return &testEnv{
		db:                  db,
		tokenRepo:           repository.NewTokenRepository(db, 5*time.Minute),
		paymentRepo:         paymentRepo,
		providerPaymentRepo: providerPaymentRepo,
		webhookEventRepo:    repository.NewWebhookEventRepository(db),
		mergeService:        NewMergeService(db, providerPaymentRepo, paymentRepo, zap.NewNop()),
	}
}

// seedChargePayment stores a payment awaiting its provider, mapped to chargeID.
func (e *testEnv) seedChargePayment(t *testing.T, chargeID, status string, updatedAt time.Time) *model.ProviderPayment {
	t.Helper()
	return e.seed(t, chargeID, "", status, updatedAt)
}

func (e *testEnv) seedSubscriptionPayment(t *testing.T, subscriptionID, status string, updatedAt time.Time) *model.ProviderPayment {
	t.Helper()
	return e.seed(t, "", subscriptionID, status, updatedAt)
}

func (e *testEnv) seed(t *testing.T, chargeID, subscriptionID, status string, updatedAt time.Time) *model.ProviderPayment {
	t.Helper()

	kind := model.PaymentKindProduct
	if subscriptionID != "" {
		kind = model.PaymentKindSubscription
	}
	payment := &model.Payment{
		ID:        "pay-" + chargeID + subscriptionID,
		Username:  "Nayeem",
		Kind:      kind,
		AmountJPY: 10000,
		Currency:  "JPY",
		State:     model.PaymentStateAwaitingProvider,
	}
	require.NoError(t, e.db.Create(payment).Error)

	pp := &model.ProviderPayment{
		Provider:          model.ProviderUnivapay,
		PaymentID:         payment.ID,
		ChargeID:          chargeID,
		SubscriptionID:    subscriptionID,
		Status:            status,
		Currency:          "JPY",
		ProviderUpdatedAt: updatedAt,
	}
	require.NoError(t, e.db.Create(pp).Error)
	return pp
}

func (e *testEnv) providerPayment(t *testing.T, providerID string) *model.ProviderPayment {
	t.Helper()
	pp, err := e.providerPaymentRepo.FindByProviderID(context.Background(), providerID)
	require.NoError(t, err)
	return pp
}

func (e *testEnv) payment(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := e.paymentRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

// fakeUnivapay is an in-memory stand-in for the provider API.
type fakeUnivapay struct {
	mu sync.Mutex

	chargeCalls       int
	subscriptionCalls int
	idempotencyKeys   []string

	createErr    error
	createStatus string

	resources map[string]*client.PaymentResource
	fetchErr  map[string]error
}

func newFakeUnivapay() *fakeUnivapay {
	return &fakeUnivapay{
		createStatus: model.StatusPending,
		resources:    map[string]*client.PaymentResource{},
		fetchErr:     map[string]error{},
	}
}

func (f *fakeUnivapay) CreateCharge(ctx context.Context, params *client.ChargeParams) (*client.PaymentResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.chargeCalls++
	f.idempotencyKeys = append(f.idempotencyKeys, params.IdempotencyKey)
	if f.createErr != nil {
		return nil, f.createErr
	}

	raw, _ := json.Marshal(map[string]string{"id": "chg-" + params.TransactionTokenID, "status": f.createStatus})
	return &client.PaymentResource{
		ID:        "chg-" + params.TransactionTokenID,
		Status:    f.createStatus,
		CreatedOn: time.Now(),
		Raw:       raw,
	}, nil
}

func (f *fakeUnivapay) CreateSubscription(ctx context.Context, params *client.SubscriptionParams) (*client.PaymentResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscriptionCalls++
	f.idempotencyKeys = append(f.idempotencyKeys, params.IdempotencyKey)
	if f.createErr != nil {
		return nil, f.createErr
	}

	return &client.PaymentResource{
		ID:        "sub-" + params.TransactionTokenID,
		Status:    model.StatusUnverified,
		CreatedOn: time.Now(),
	}, nil
}

func (f *fakeUnivapay) GetCharge(ctx context.Context, chargeID string) (*client.PaymentResource, error) {
	return f.fetch(chargeID)
}

func (f *fakeUnivapay) GetSubscription(ctx context.Context, subscriptionID string) (*client.PaymentResource, error) {
	return f.fetch(subscriptionID)
}

func (f *fakeUnivapay) CancelSubscription(ctx context.Context, subscriptionID string) (*client.PaymentResource, error) {
	return f.fetch(subscriptionID)
}

func (f *fakeUnivapay) fetch(id string) (*client.PaymentResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.fetchErr[id]; ok {
		return nil, err
	}
	if res, ok := f.resources[id]; ok {
		return res, nil
	}
	return nil, &client.APIError{Status: 404, Body: "not found"}
}

func (f *fakeUnivapay) setResource(id, status string, updatedOn time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[id] = &client.PaymentResource{ID: id, Status: status, UpdatedOn: updatedOn}
}
