package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"univapay-integration-demo/internal/model"
	"univapay-integration-demo/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnknownProviderID means no local mapping exists for the charge or
// subscription an update refers to.
var ErrUnknownProviderID = errors.New("no provider payment for provider id")

type MergeOutcome string

const (
	MergeApplied      MergeOutcome = "applied"
	MergeIgnoredStale MergeOutcome = "ignored_stale"
)

// StatusUpdate is a provider status observation, from either a webhook or a
// poll. The two sources feed the same Apply and are interchangeable.
type StatusUpdate struct {
	Status     string
	UpdatedAt  time.Time
	RawPayload string
}

type MergeResult struct {
	Outcome MergeOutcome
	// StatusChanged is false for timestamp-only advances; the poller uses it
	// to decide whether a payment is making progress.
	StatusChanged bool
}

// MergeService is the single write path for provider status. It decides
// whether an observation may overwrite the stored one, so webhook delivery
// and polling can race in any order without losing updates or regressing a
// terminal status.
type MergeService interface {
	Apply(ctx context.Context, providerID string, update *StatusUpdate) (*MergeResult, error)
}

type mergeServiceImpl struct {
	db                  *gorm.DB
	providerPaymentRepo repository.ProviderPaymentRepository
	paymentRepo         repository.PaymentRepository
	logger              *zap.Logger

	locks sync.Map // provider id -> *sync.Mutex
}

func NewMergeService(
	db *gorm.DB,
	providerPaymentRepo repository.ProviderPaymentRepository,
	paymentRepo repository.PaymentRepository,
	logger *zap.Logger,
) MergeService {
	return &mergeServiceImpl{
		db:                  db,
		providerPaymentRepo: providerPaymentRepo,
		paymentRepo:         paymentRepo,
		logger:              logger,
	}
}

func (s *mergeServiceImpl) lock(providerID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(providerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *mergeServiceImpl) Apply(ctx context.Context, providerID string, update *StatusUpdate) (*MergeResult, error) {
	if update.Status == "" {
		return nil, fmt.Errorf("status update for %s carries no status", providerID)
	}

	// Contention is scoped per provider id; unrelated payments never wait on
	// each other. The conditional update in ApplyStatus is a second guard.
	mu := s.lock(providerID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.providerPaymentRepo.FindByProviderID(ctx, providerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownProviderID
		}
		return nil, fmt.Errorf("load provider payment %s: %w", providerID, err)
	}

	if !shouldApply(current, update) {
		return &MergeResult{Outcome: MergeIgnoredStale}, nil
	}

	statusChanged := current.Status != update.Status
	terminal := model.IsTerminalStatus(update.Status, current.IsSubscription())

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.providerPaymentRepo.ApplyStatus(
			ctx, tx, current.ID,
			update.Status, update.UpdatedAt, update.RawPayload,
			current.ProviderUpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("apply status: %w", err)
		}
		if !applied {
			// Lost the conditional write despite the lock; treat as stale.
			return errConditionalWriteLost
		}

		if terminal {
			if err := s.paymentRepo.MarkFinalized(ctx, tx, current.PaymentID); err != nil {
				return fmt.Errorf("finalize payment %s: %w", current.PaymentID, err)
			}
		}
		return nil
	})
	if errors.Is(err, errConditionalWriteLost) {
		return &MergeResult{Outcome: MergeIgnoredStale}, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("provider status applied",
		zap.String("provider_id", providerID),
		zap.String("from", current.Status),
		zap.String("to", update.Status),
		zap.Time("provider_updated_at", update.UpdatedAt),
	)

	return &MergeResult{Outcome: MergeApplied, StatusChanged: statusChanged}, nil
}

var errConditionalWriteLost = errors.New("conditional status write lost")

// shouldApply is the merge rule: a strictly newer timestamp wins; on an equal
// timestamp a terminal status beats a non-terminal one; a terminal status
// never regresses. Equal timestamps with two non-terminal statuses keep the
// stored value.
func shouldApply(current *model.ProviderPayment, update *StatusUpdate) bool {
	subscription := current.IsSubscription()
	if model.IsTerminalStatus(current.Status, subscription) {
		return false
	}
	if update.UpdatedAt.After(current.ProviderUpdatedAt) {
		return true
	}
	if update.UpdatedAt.Equal(current.ProviderUpdatedAt) &&
		model.IsTerminalStatus(update.Status, subscription) {
		return true
	}
	return false
}
