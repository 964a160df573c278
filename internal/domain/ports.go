package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnershipDirectory supplies current holdings for an asset.
type OwnershipDirectory interface {
	GetCurrentOwnership(ctx context.Context, assetID string) ([]Position, error)
}

// Valuation is the oracle's latest appraisal of an asset.
type Valuation struct {
	AssetID  string          `json:"asset_id"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"as_of"`
}

// ValuationOracle supplies appraised asset values.
type ValuationOracle interface {
	GetLatestValue(ctx context.Context, assetID string) (Valuation, error)
}

// TransferRequest asks the ledger to move Amount base units to Recipient.
// RequestID is stable across retries of the same record.
type TransferRequest struct {
	RequestID uuid.UUID
	AssetID   string
	Recipient string
	Amount    int64
	Currency  string
}

// TransferResult is the ledger's acknowledgement of a completed transfer.
type TransferResult struct {
	Success        bool
	TransactionRef string
}

// LedgerClient executes approved transfers. Implementations return an error
// wrapping ErrLedgerUnavailable when the ledger cannot be reached at all.
type LedgerClient interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

// NotificationType distinguishes entitlement and payment notices.
type NotificationType string

const (
	NotifyEntitlement NotificationType = "entitlement"
	NotifyPayment     NotificationType = "payment"
	NotifyUnlock      NotificationType = "unlock"
)

// Notification is an outbound message about a record; dispatch is the caller's job.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	AssetID   string           `json:"asset_id"`
	RunID     string           `json:"run_id,omitempty"`
	Recipient string           `json:"recipient"`
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency,omitempty"`
	Status    string           `json:"status"`
	Reference string           `json:"reference,omitempty"`
	At        time.Time        `json:"at"`
}

// Notifier delivers notifications to external collaborators.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
