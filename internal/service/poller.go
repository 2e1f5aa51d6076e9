package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"univapay-integration-demo/internal/client"
	"univapay-integration-demo/internal/config"
	"univapay-integration-demo/internal/model"
	"univapay-integration-demo/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Poller re-fetches provider status for every payment still in a non-terminal
// state. It is the fallback for lost webhook deliveries and the only progress
// path for deployments whose webhook endpoint is unreachable.
type Poller struct {
	cfg                 config.Poll
	fetchTimeout        time.Duration
	univapayClient      client.UnivapayClient
	providerPaymentRepo repository.ProviderPaymentRepository
	mergeService        MergeService
	limiter             *rate.Limiter
	logger              *zap.Logger
}

func NewPoller(
	cfg config.Poll,
	fetchTimeout time.Duration,
	univapayClient client.UnivapayClient,
	providerPaymentRepo repository.ProviderPaymentRepository,
	mergeService MergeService,
	logger *zap.Logger,
) *Poller {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	cfg.Concurrency = concurrency

	return &Poller{
		cfg:                 cfg,
		fetchTimeout:        fetchTimeout,
		univapayClient:      univapayClient,
		providerPaymentRepo: providerPaymentRepo,
		mergeService:        mergeService,
		limiter:             rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency),
		logger:              logger,
	}
}

// Run blocks until ctx is canceled. Sweeps never overlap: a new tick waits
// for the previous sweep's in-flight fetches to finish.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("reconciliation poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("concurrency", p.cfg.Concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep reconciles every pollable payment once. One payment's fetch error
// never aborts the rest; failed fetches simply retry on the next tick.
func (p *Poller) Sweep(ctx context.Context) {
	rows, err := p.providerPaymentRepo.ListReconcilable(ctx)
	if err != nil {
		p.logger.Error("list reconcilable payments", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	jobs := make(chan *model.ProviderPayment)
	var wg sync.WaitGroup

	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				p.reconcileOne(ctx, row)
			}
		}()
	}

	for _, row := range rows {
		select {
		case <-ctx.Done():
			// Stop handing out work; in-flight fetches drain below.
			close(jobs)
			wg.Wait()
			return
		case jobs <- row:
		}
	}
	close(jobs)
	wg.Wait()
}

func (p *Poller) reconcileOne(ctx context.Context, row *model.ProviderPayment) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	var (
		resource *client.PaymentResource
		err      error
	)
	if row.IsSubscription() {
		resource, err = p.univapayClient.GetSubscription(fetchCtx, row.SubscriptionID)
	} else {
		resource, err = p.univapayClient.GetCharge(fetchCtx, row.ChargeID)
	}
	if err != nil {
		// Transient by assumption; the row stays reconcilable and is
		// retried on the next tick.
		p.logger.Warn("provider status fetch failed",
			zap.String("provider_id", row.ProviderID()),
			zap.Error(err),
		)
		return
	}
	if resource.Status == "" {
		p.logger.Warn("provider returned no status",
			zap.String("provider_id", row.ProviderID()),
		)
		return
	}

	result, err := p.mergeService.Apply(ctx, row.ProviderID(), &StatusUpdate{
		Status:     strings.ToLower(resource.Status),
		UpdatedAt:  resource.StatusTimestamp(),
		RawPayload: string(resource.Raw),
	})
	if err != nil {
		p.logger.Error("merge poll result",
			zap.String("provider_id", row.ProviderID()),
			zap.Error(err),
		)
		return
	}

	if result.Outcome == MergeApplied && result.StatusChanged {
		return
	}

	// Successful fetch, no progress: count toward the stale bound so a
	// payment stuck in a non-terminal state eventually surfaces for review.
	flagged, err := p.providerPaymentRepo.MarkStalePoll(ctx, row.ID, p.cfg.StaleAfter)
	if err != nil {
		p.logger.Error("mark stale poll",
			zap.String("provider_id", row.ProviderID()),
			zap.Error(err),
		)
		return
	}
	if flagged {
		p.logger.Warn("payment flagged for manual review after stale polls",
			zap.String("provider_id", row.ProviderID()),
			zap.String("status", row.Status),
			zap.Int("stale_polls", p.cfg.StaleAfter),
		)
	}
}
