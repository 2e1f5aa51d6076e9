package dto

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

type UserInfo struct {
	Username string `json:"username"`
}

type ChargeRequest struct {
	TransactionTokenID string `json:"transaction_token_id"`
	ItemName           string `json:"item_name"`
	Amount             int64  `json:"amount"` // whole yen
	ThreeDSMode        string `json:"three_ds_mode,omitempty"`
	RedirectEndpoint   string `json:"redirect_endpoint,omitempty"`
}

type SubscribeRequest struct {
	TransactionTokenID string `json:"transaction_token_id"`
	Plan               string `json:"plan"` // monthly, 6months
	ThreeDSMode        string `json:"three_ds_mode,omitempty"`
	RedirectEndpoint   string `json:"redirect_endpoint,omitempty"`
}

type CheckoutResponse struct {
	Payment  PaymentView  `json:"payment"`
	Provider ProviderView `json:"provider"`
	// Redirect is the provider's step-up authentication instruction. It is
	// informational only; final status always arrives via webhook or polling.
	Redirect *RedirectView `json:"redirect,omitempty"`
}

type PaymentView struct {
	ID        string    `json:"id"`
	Username  string    `json:"user"`
	Kind      string    `json:"kind"`
	ItemName  string    `json:"item_name,omitempty"`
	Plan      string    `json:"plan,omitempty"`
	AmountJPY int64     `json:"amount_jpy"`
	Currency  string    `json:"currency"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

type ProviderView struct {
	Provider       string     `json:"provider"`
	ChargeID       string     `json:"charge_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Status         string     `json:"status"`
	NeedsReview    bool       `json:"needs_review,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

type RedirectView struct {
	Endpoint   string `json:"endpoint"`
	RedirectID string `json:"redirect_id,omitempty"`
}

type PaymentListItem struct {
	PaymentView
	Provider *ProviderView `json:"provider"`
}

type PaymentListResponse struct {
	Payments []*PaymentListItem `json:"payments"`
}
