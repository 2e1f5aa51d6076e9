package model

import "time"

const ProviderUnivapay = "univapay"

// Transaction token kinds, as reported by the widget.
const (
	TokenKindOneTime      = "one_time"
	TokenKindSubscription = "subscription"
)

const (
	PaymentKindProduct      = "product"
	PaymentKindSubscription = "subscription"
)

// Local payment lifecycle.
const (
	PaymentStateCreated          = "created"
	PaymentStateAwaitingProvider = "awaiting_provider"
	PaymentStateFinalized        = "finalized"
)

// Provider-side statuses for charges and subscriptions.
const (
	StatusPending    = "pending"
	StatusAwaiting   = "awaiting"
	StatusAuthorized = "authorized"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusError      = "error"
	StatusCanceled   = "canceled"
	StatusCurrent    = "current"
	StatusSuspended  = "suspended"
	StatusUnpaid     = "unpaid"
	StatusUnverified = "unverified"
)

// Webhook event processing outcomes.
const (
	EventReceived  = "received"
	EventApplied   = "applied"
	EventDuplicate = "duplicate"
	EventRejected  = "rejected"
)

var chargeTerminal = map[string]bool{
	StatusSuccessful: true,
	StatusFailed:     true,
	StatusError:      true,
	StatusCanceled:   true,
}

// IsTerminalStatus reports whether no further transition is expected. A
// one-time charge freezes at successful/failed/error/canceled; a subscription
// keeps moving through current/suspended/unpaid until it is canceled.
func IsTerminalStatus(status string, subscription bool) bool {
	if subscription {
		return status == StatusCanceled
	}
	return chargeTerminal[status]
}

type TransactionToken struct {
	ID   string `gorm:"primaryKey;size:64;not null"` // widget token id
	Kind string `gorm:"size:32;not null"`            // one_time, subscription
	// CreatedAt marks first presentation to the engine; expiry is measured
	// from here since the widget's own issue time is not visible server-side.
	CreatedAt  time.Time
	ConsumedAt *time.Time `gorm:"index"`
}

type Payment struct {
	ID        string `gorm:"primaryKey;size:36;not null"`
	Username  string `gorm:"size:64;index;not null"`
	Kind      string `gorm:"size:32;not null"` // product, subscription
	ItemName  string `gorm:"size:255"`
	Plan      string `gorm:"size:32"` // monthly, 6months
	AmountJPY int64  `gorm:"not null"`
	Currency  string `gorm:"size:8;not null"`
	State     string `gorm:"size:32;index;not null"` // created, awaiting_provider, finalized
	CreatedAt time.Time
}

type ProviderPayment struct {
	ID        uint   `gorm:"primaryKey"`
	Provider  string `gorm:"size:32;not null"`
	PaymentID string `gorm:"size:36;uniqueIndex;not null"`
	// Exactly one of ChargeID / SubscriptionID is set; immutable once set.
	ChargeID          string `gorm:"size:64;index"`
	SubscriptionID    string `gorm:"size:64;index"`
	Status            string `gorm:"size:32;index;not null"`
	Currency          string `gorm:"size:8"`
	RawPayload        string `gorm:"type:text"`
	ProviderCreatedAt time.Time
	ProviderUpdatedAt time.Time `gorm:"index"`
	StalePolls        int       `gorm:"not null;default:0"`
	NeedsReview       bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsSubscription reports which provider lifecycle this row follows.
func (p *ProviderPayment) IsSubscription() bool {
	return p.SubscriptionID != ""
}

// ProviderID returns the provider-assigned id this row is keyed by.
func (p *ProviderPayment) ProviderID() string {
	if p.SubscriptionID != "" {
		return p.SubscriptionID
	}
	return p.ChargeID
}

type WebhookEvent struct {
	EventID          string `gorm:"primaryKey;size:128;not null"` // provider event id
	EventType        string `gorm:"size:64;index"`
	ProviderID       string `gorm:"size:64;index"` // charge or subscription id
	Payload          string `gorm:"type:text"`
	ProcessingStatus string `gorm:"size:32;index;not null"`
	ReceivedAt       time.Time
}
