package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"univapay-integration-demo/internal/client"
	"univapay-integration-demo/internal/dto"
	"univapay-integration-demo/internal/model"
	"univapay-integration-demo/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount = errors.New("amount must be a positive integer (JPY)")
	ErrMissingItem   = errors.New("item_name is required")
	ErrInvalidPlan   = errors.New("invalid plan, use 'monthly' or '6months'")
	// ErrSubscriptionNotFound also covers subscriptions owned by someone
	// else, so the endpoint leaks nothing about other users' payments.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrInitiationFailed covers a provider call that failed after the token
	// was consumed: the token cannot be replayed, so the attempt is over and
	// the user needs a fresh token.
	ErrInitiationFailed = errors.New("payment initiation failed")
)

type subscriptionPlan struct {
	AmountJPY int64
	Period    string
}

var subscriptionPlans = map[string]subscriptionPlan{
	"monthly": {AmountJPY: 10000, Period: "monthly"},
	"6months": {AmountJPY: 58000, Period: "semiannually"},
}

// CheckoutService turns a widget transaction token into exactly one
// provider-side charge or subscription.
type CheckoutService interface {
	CreateCharge(ctx context.Context, username string, req *dto.ChargeRequest) (*dto.CheckoutResponse, error)
	CreateSubscription(ctx context.Context, username string, req *dto.SubscribeRequest) (*dto.CheckoutResponse, error)
	CancelSubscription(ctx context.Context, username, subscriptionID string) error
	ListPayments(ctx context.Context, username string) (*dto.PaymentListResponse, error)
}

type checkoutServiceImpl struct {
	db                  *gorm.DB
	univapayClient      client.UnivapayClient
	tokenRepo           repository.TokenRepository
	paymentRepo         repository.PaymentRepository
	providerPaymentRepo repository.ProviderPaymentRepository
	mergeService        MergeService
	logger              *zap.Logger
}

func NewCheckoutService(
	db *gorm.DB,
	univapayClient client.UnivapayClient,
	tokenRepo repository.TokenRepository,
	paymentRepo repository.PaymentRepository,
	providerPaymentRepo repository.ProviderPaymentRepository,
	mergeService MergeService,
	logger *zap.Logger,
) CheckoutService {
	return &checkoutServiceImpl{
		db:                  db,
		univapayClient:      univapayClient,
		tokenRepo:           tokenRepo,
		paymentRepo:         paymentRepo,
		providerPaymentRepo: providerPaymentRepo,
		mergeService:        mergeService,
		logger:              logger,
	}
}

func (s *checkoutServiceImpl) CreateCharge(ctx context.Context, username string, req *dto.ChargeRequest) (*dto.CheckoutResponse, error) {
	if req.ItemName == "" {
		return nil, ErrMissingItem
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// Single-use check-and-mark; failure here aborts before any money moves.
	token, err := s.tokenRepo.Consume(ctx, req.TransactionTokenID, model.TokenKindOneTime)
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		ID:        uuid.NewString(),
		Username:  username,
		Kind:      model.PaymentKindProduct,
		ItemName:  req.ItemName,
		AmountJPY: req.Amount,
		Currency:  "JPY",
		State:     model.PaymentStateCreated,
	}
	if err := s.paymentRepo.Create(ctx, s.db, payment); err != nil {
		return nil, fmt.Errorf("store payment: %w", err)
	}

	resource, err := s.univapayClient.CreateCharge(ctx, &client.ChargeParams{
		TransactionTokenID: token.ID,
		Amount:             req.Amount,
		Currency:           "JPY",
		Capture:            true,
		Metadata:           map[string]any{"user": username, "item_name": req.ItemName},
		ThreeDSMode:        req.ThreeDSMode,
		RedirectEndpoint:   req.RedirectEndpoint,
		// The token id keys the provider call: a retry after a lost response
		// resolves to the same charge instead of charging twice.
		IdempotencyKey: token.ID,
	})
	if err != nil {
		s.logger.Error("charge initiation failed after token consumption",
			zap.String("payment_id", payment.ID),
			zap.String("token_id", token.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}

	return s.recordProviderPayment(ctx, payment, resource, false)
}

func (s *checkoutServiceImpl) CreateSubscription(ctx context.Context, username string, req *dto.SubscribeRequest) (*dto.CheckoutResponse, error) {
	plan, ok := subscriptionPlans[req.Plan]
	if !ok {
		return nil, ErrInvalidPlan
	}

	token, err := s.tokenRepo.Consume(ctx, req.TransactionTokenID, model.TokenKindSubscription)
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		ID:        uuid.NewString(),
		Username:  username,
		Kind:      model.PaymentKindSubscription,
		Plan:      req.Plan,
		AmountJPY: plan.AmountJPY,
		Currency:  "JPY",
		State:     model.PaymentStateCreated,
	}
	if err := s.paymentRepo.Create(ctx, s.db, payment); err != nil {
		return nil, fmt.Errorf("store payment: %w", err)
	}

	resource, err := s.univapayClient.CreateSubscription(ctx, &client.SubscriptionParams{
		TransactionTokenID: token.ID,
		Amount:             plan.AmountJPY,
		Currency:           "JPY",
		Period:             plan.Period,
		Metadata:           map[string]any{"user": username, "plan": req.Plan},
		ThreeDSMode:        req.ThreeDSMode,
		RedirectEndpoint:   req.RedirectEndpoint,
		IdempotencyKey:     token.ID,
	})
	if err != nil {
		s.logger.Error("subscription initiation failed after token consumption",
			zap.String("payment_id", payment.ID),
			zap.String("token_id", token.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrInitiationFailed, err)
	}

	return s.recordProviderPayment(ctx, payment, resource, true)
}

func (s *checkoutServiceImpl) recordProviderPayment(ctx context.Context, payment *model.Payment, resource *client.PaymentResource, subscription bool) (*dto.CheckoutResponse, error) {
	status := resource.Status
	if status == "" {
		status = model.StatusPending
	}
	now := time.Now()
	createdAt := resource.CreatedOn
	if createdAt.IsZero() {
		createdAt = now
	}

	pp := &model.ProviderPayment{
		Provider:          model.ProviderUnivapay,
		PaymentID:         payment.ID,
		Status:            status,
		Currency:          payment.Currency,
		RawPayload:        string(resource.Raw),
		ProviderCreatedAt: createdAt,
		ProviderUpdatedAt: resource.StatusTimestamp(),
	}
	if pp.ProviderUpdatedAt.IsZero() {
		pp.ProviderUpdatedAt = now
	}
	if subscription {
		pp.SubscriptionID = resource.ID
	} else {
		pp.ChargeID = resource.ID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.providerPaymentRepo.Create(ctx, tx, pp); err != nil {
			return fmt.Errorf("store provider payment: %w", err)
		}
		return s.paymentRepo.MarkAwaitingProvider(ctx, tx, payment.ID)
	})
	if err != nil {
		// The provider has moved money we now have no durable record of;
		// this must never go unnoticed.
		s.logger.Error("PERSISTENCE FAILURE AFTER PROVIDER CALL, manual reconciliation required",
			zap.String("payment_id", payment.ID),
			zap.String("provider_id", resource.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record provider payment %s: %w", resource.ID, err)
	}
	payment.State = model.PaymentStateAwaitingProvider

	resp := &dto.CheckoutResponse{
		Payment:  paymentView(payment),
		Provider: providerView(pp),
	}
	if resource.Redirect != nil && resource.Redirect.Endpoint != "" {
		resp.Redirect = &dto.RedirectView{
			Endpoint:   resource.Redirect.Endpoint,
			RedirectID: resource.Redirect.RedirectID,
		}
	}
	return resp, nil
}

// CancelSubscription asks the provider to stop a recurring agreement. The
// provider's response flows through the same merge policy as any other
// status observation, so a racing webhook cannot be lost.
func (s *checkoutServiceImpl) CancelSubscription(ctx context.Context, username, subscriptionID string) error {
	pp, err := s.providerPaymentRepo.FindByProviderID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		return fmt.Errorf("load subscription %s: %w", subscriptionID, err)
	}
	if !pp.IsSubscription() {
		return ErrSubscriptionNotFound
	}

	payment, err := s.paymentRepo.FindByID(ctx, pp.PaymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", pp.PaymentID, err)
	}
	if payment.Username != username {
		return ErrSubscriptionNotFound
	}

	resource, err := s.univapayClient.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}

	status := resource.Status
	if status == "" {
		status = model.StatusCanceled
	}
	updatedAt := resource.StatusTimestamp()
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err = s.mergeService.Apply(ctx, subscriptionID, &StatusUpdate{
		Status:     status,
		UpdatedAt:  updatedAt,
		RawPayload: string(resource.Raw),
	})
	return err
}

func (s *checkoutServiceImpl) ListPayments(ctx context.Context, username string) (*dto.PaymentListResponse, error) {
	rows, err := s.paymentRepo.ListWithProvider(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	items := make([]*dto.PaymentListItem, len(rows))
	for i, row := range rows {
		item := &dto.PaymentListItem{PaymentView: paymentView(row.Payment)}
		if row.Provider != nil {
			pv := providerView(row.Provider)
			item.Provider = &pv
		}
		items[i] = item
	}
	return &dto.PaymentListResponse{Payments: items}, nil
}

func paymentView(p *model.Payment) dto.PaymentView {
	return dto.PaymentView{
		ID:        p.ID,
		Username:  p.Username,
		Kind:      p.Kind,
		ItemName:  p.ItemName,
		Plan:      p.Plan,
		AmountJPY: p.AmountJPY,
		Currency:  p.Currency,
		State:     p.State,
		CreatedAt: p.CreatedAt,
	}
}

func providerView(pp *model.ProviderPayment) dto.ProviderView {
	updatedAt := pp.ProviderUpdatedAt
	return dto.ProviderView{
		Provider:       pp.Provider,
		ChargeID:       pp.ChargeID,
		SubscriptionID: pp.SubscriptionID,
		Status:         pp.Status,
		NeedsReview:    pp.NeedsReview,
		UpdatedAt:      &updatedAt,
	}
}
