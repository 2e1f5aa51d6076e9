package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"univapay-integration-demo/internal/config"
)

// APIError carries the provider's HTTP status and parsed body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("univapay api error %d: %s", e.Status, e.Body)
}

type ChargeParams struct {
	TransactionTokenID string
	Amount             int64
	Currency           string
	Capture            bool
	Metadata           map[string]any
	ThreeDSMode        string // normal, require, force, skip
	RedirectEndpoint   string
	// IdempotencyKey makes a retried create resolve to the same provider-side
	// charge instead of a duplicate. Callers must always set it.
	IdempotencyKey string
}

type SubscriptionParams struct {
	TransactionTokenID string
	Amount             int64
	Currency           string
	Period             string // monthly, semiannually, ...
	ZoneID             string
	Metadata           map[string]any
	ThreeDSMode        string
	RedirectEndpoint   string
	IdempotencyKey     string
}

type Redirect struct {
	Endpoint   string `json:"endpoint"`
	RedirectID string `json:"redirect_id"`
}

// PaymentResource is the subset of a provider charge/subscription the engine
// reads; Raw keeps the full body for audit.
type PaymentResource struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	Currency  string    `json:"currency"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
	Redirect  *Redirect `json:"redirect"`

	Raw json.RawMessage `json:"-"`
}

// StatusTimestamp is the provider timestamp the merge policy orders by.
func (r *PaymentResource) StatusTimestamp() time.Time {
	if !r.UpdatedOn.IsZero() {
		return r.UpdatedOn
	}
	return r.CreatedOn
}

type UnivapayClient interface {
	CreateCharge(ctx context.Context, params *ChargeParams) (*PaymentResource, error)
	CreateSubscription(ctx context.Context, params *SubscriptionParams) (*PaymentResource, error)
	GetCharge(ctx context.Context, chargeID string) (*PaymentResource, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*PaymentResource, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*PaymentResource, error)
}

type univapayClientImpl struct {
	httpClient *http.Client
	baseURL    string
	appToken   string
	appSecret  string
	storeID    string
	retries    int
}

func NewUnivapayClient(cfg *config.Univapay) UnivapayClient {
	return &univapayClientImpl{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		baseURL:   cfg.BaseURL,
		appToken:  cfg.AppToken,
		appSecret: cfg.AppSecret,
		storeID:   cfg.StoreID,
		retries:   cfg.HTTPRetries,
	}
}

// Authorization: Bearer {secret}.{app token}; some endpoints accept the bare
// token when the secret is absent.
func (c *univapayClientImpl) authHeader() string {
	if c.appSecret != "" {
		return "Bearer " + c.appSecret + "." + c.appToken
	}
	return "Bearer " + c.appToken
}

func (c *univapayClientImpl) request(ctx context.Context, method, path string, body any, idempotencyKey string) (*PaymentResource, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request payload: %w", err)
		}
		payload = b
	}

	attempt := 0
	for {
		attempt++

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("http new request: %w", err)
		}
		req.Header.Set("Authorization", c.authHeader())
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt <= c.retries {
				if werr := sleepCtx(ctx, time.Duration(attempt)*400*time.Millisecond); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, fmt.Errorf("univapay %s %s: %w", method, path, err)
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read univapay response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resource := &PaymentResource{Raw: raw}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, resource); err != nil {
					return nil, fmt.Errorf("decode univapay response: %w", err)
				}
			}
			return resource, nil
		}

		if retryableStatus(resp.StatusCode) && attempt <= c.retries {
			delay := time.Duration(attempt) * 500 * time.Millisecond
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.ParseFloat(ra, 64); perr == nil {
					if d := time.Duration(secs * float64(time.Second)); d > delay {
						delay = d
					}
				}
			}
			if werr := sleepCtx(ctx, delay); werr != nil {
				return nil, werr
			}
			continue
		}

		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *univapayClientImpl) CreateCharge(ctx context.Context, params *ChargeParams) (*PaymentResource, error) {
	body := map[string]any{
		"transaction_token_id": params.TransactionTokenID,
		"amount":               params.Amount,
		"currency":             params.Currency,
		"capture":              params.Capture,
	}
	if params.Metadata != nil {
		body["metadata"] = params.Metadata
	}
	if params.RedirectEndpoint != "" {
		body["redirect"] = map[string]string{"endpoint": params.RedirectEndpoint}
	}
	if params.ThreeDSMode != "" {
		body["three_ds"] = map[string]string{"mode": params.ThreeDSMode}
	}

	return c.request(ctx, http.MethodPost, "/charges", body, params.IdempotencyKey)
}

func (c *univapayClientImpl) CreateSubscription(ctx context.Context, params *SubscriptionParams) (*PaymentResource, error) {
	zoneID := params.ZoneID
	if zoneID == "" {
		zoneID = "Asia/Tokyo"
	}
	body := map[string]any{
		"transaction_token_id": params.TransactionTokenID,
		"amount":               params.Amount,
		"currency":             params.Currency,
		"period":               params.Period,
		"schedule_settings":    map[string]string{"zone_id": zoneID},
	}
	if params.Metadata != nil {
		body["metadata"] = params.Metadata
	}
	if params.RedirectEndpoint != "" {
		body["redirect"] = map[string]string{"endpoint": params.RedirectEndpoint}
	}
	if params.ThreeDSMode != "" {
		body["three_ds"] = map[string]string{"mode": params.ThreeDSMode}
	}

	return c.request(ctx, http.MethodPost, "/subscriptions", body, params.IdempotencyKey)
}

func (c *univapayClientImpl) GetCharge(ctx context.Context, chargeID string) (*PaymentResource, error) {
	if c.storeID != "" {
		return c.request(ctx, http.MethodGet, fmt.Sprintf("/stores/%s/charges/%s", c.storeID, chargeID), nil, "")
	}
	return c.request(ctx, http.MethodGet, "/charges/"+chargeID, nil, "")
}

func (c *univapayClientImpl) GetSubscription(ctx context.Context, subscriptionID string) (*PaymentResource, error) {
	if c.storeID != "" {
		return c.request(ctx, http.MethodGet, fmt.Sprintf("/stores/%s/subscriptions/%s", c.storeID, subscriptionID), nil, "")
	}
	return c.request(ctx, http.MethodGet, "/subscriptions/"+subscriptionID, nil, "")
}

func (c *univapayClientImpl) CancelSubscription(ctx context.Context, subscriptionID string) (*PaymentResource, error) {
	return c.request(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/cancel", nil, "")
}
