package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunStatus is the aggregate status of a distribution run.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunProcessing  RunStatus = "processing"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted" // some records still pending; resumable
)

// RecordStatus is the per-recipient status. distributed and failed are terminal.
type RecordStatus string

const (
	RecordPending     RecordStatus = "pending"
	RecordDistributed RecordStatus = "distributed"
	RecordFailed      RecordStatus = "failed"
)

// FailureKind records why a record failed. A timed-out transfer has an unknown
// ledger outcome; a rejected one is known not to have moved funds.
type FailureKind string

const (
	FailureRejected FailureKind = "rejected"
	FailureTimeout  FailureKind = "timeout"
)

func (s RecordStatus) Terminal() bool {
	return s == RecordDistributed || s == RecordFailed
}

// Eligibility filters holders before entitlements are computed.
type Eligibility struct {
	MinHolding       *decimal.Decimal `json:"min_holding,omitempty"`        // percentage
	MinHoldingPeriod *time.Duration   `json:"min_holding_period,omitempty"` // measured from acquisition date
}

// TaxRates maps jurisdiction codes to withholding rates in [0,1]; Default applies otherwise.
type TaxRates struct {
	Default        decimal.Decimal            `json:"default"`
	ByJurisdiction map[string]decimal.Decimal `json:"by_jurisdiction,omitempty"`
}

// RateFor returns the withholding rate for a jurisdiction.
func (t TaxRates) RateFor(jurisdiction string) decimal.Decimal {
	if r, ok := t.ByJurisdiction[jurisdiction]; ok {
		return r
	}
	return t.Default
}

// Validate rejects rates outside [0,1].
func (t TaxRates) Validate() error {
	one := decimal.NewFromInt(1)
	check := func(code string, r decimal.Decimal) error {
		if r.IsNegative() || r.GreaterThan(one) {
			return wrap(ErrInvalidTaxRate, code+"="+r.String())
		}
		return nil
	}
	if err := check("default", t.Default); err != nil {
		return err
	}
	for code, r := range t.ByJurisdiction {
		if err := check(code, r); err != nil {
			return err
		}
	}
	return nil
}

// DistributionRun is one payout of a distributable amount over a fixed snapshot.
type DistributionRun struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AssetID             string               `gorm:"column:asset_id;not null;index" json:"asset_id"`
	ParentRunID         *uuid.UUID           `gorm:"column:parent_run_id;type:uuid" json:"parent_run_id,omitempty"`
	DistributableAmount int64                `gorm:"column:distributable_amount;not null" json:"distributable_amount"`
	Currency            string               `gorm:"column:currency;not null" json:"currency"`
	Status              RunStatus            `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Snapshot            datatypes.JSON       `gorm:"column:snapshot;type:json" json:"snapshot"`
	Eligibility         datatypes.JSON       `gorm:"column:eligibility;type:json" json:"eligibility"`
	TaxRates            datatypes.JSON       `gorm:"column:tax_rates;type:json" json:"tax_rates"`
	Records             []DistributionRecord `gorm:"foreignKey:RunID;references:ID" json:"records"`
	CompletedAt         *time.Time           `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time            `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt           time.Time            `gorm:"column:updatedAt" json:"updatedAt"`
}

func (DistributionRun) TableName() string {
	return "DistributionRuns"
}

func (r *DistributionRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Settle derives the run status from its records.
func (r *DistributionRun) Settle(now time.Time) {
	for _, rec := range r.Records {
		if !rec.Status.Terminal() {
			r.Status = RunInterrupted
			r.CompletedAt = nil
			return
		}
	}
	r.Status = RunCompleted
	r.CompletedAt = &now
}

// Counts returns the number of records per status.
func (r *DistributionRun) Counts() map[RecordStatus]int {
	out := map[RecordStatus]int{RecordPending: 0, RecordDistributed: 0, RecordFailed: 0}
	for _, rec := range r.Records {
		out[rec.Status]++
	}
	return out
}

// DistributionRecord is one recipient's entitlement inside a run.
// RequestID is the ledger idempotency key. It defaults to ID. A retry in a
// child run keeps it only when the original attempt timed out.
type DistributionRecord struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RunID               uuid.UUID       `gorm:"column:run_id;type:uuid;not null;index" json:"run_id"`
	RequestID           uuid.UUID       `gorm:"column:request_id;type:uuid;not null;index" json:"request_id"`
	RecipientAddress    string          `gorm:"column:recipient_address;not null" json:"recipient_address"`
	OwnershipPercentage decimal.Decimal `gorm:"column:ownership_percentage;type:decimal(18,10)" json:"ownership_percentage"`
	Jurisdiction        string          `gorm:"column:jurisdiction" json:"jurisdiction,omitempty"`
	EntitledAmount      int64           `gorm:"column:entitled_amount;not null" json:"entitled_amount"`
	TaxRate             decimal.Decimal `gorm:"column:tax_rate;type:decimal(10,6)" json:"tax_rate"`
	TaxWithheld         int64           `gorm:"column:tax_withheld;not null" json:"tax_withheld"`
	NetAmount           int64           `gorm:"column:net_amount;not null" json:"net_amount"`
	Status              RecordStatus    `gorm:"column:status;type:varchar(20);not null" json:"status"`
	TransactionRef      string          `gorm:"column:transaction_ref" json:"transaction_ref,omitempty"`
	FailureReason       string          `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	FailureKind         FailureKind     `gorm:"column:failure_kind;type:varchar(20)" json:"failure_kind,omitempty"`
	Attempts            int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	AttemptedAt         *time.Time      `gorm:"column:attempted_at" json:"attempted_at,omitempty"`
}

func (DistributionRecord) TableName() string {
	return "DistributionRecords"
}

func (r *DistributionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RequestID == uuid.Nil {
		r.RequestID = r.ID
	}
	return nil
}
