package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FractionalizationMethod selects how the base supply is derived from the asset value.
type FractionalizationMethod string

const (
	MethodFixedPrice     FractionalizationMethod = "fixed_price"
	MethodDynamicPricing FractionalizationMethod = "dynamic_pricing"
	MethodTargetSupply   FractionalizationMethod = "target_supply"
)

func (m FractionalizationMethod) Valid() bool {
	switch m {
	case MethodFixedPrice, MethodDynamicPricing, MethodTargetSupply:
		return true
	}
	return false
}

// AdjustmentType is the kind of a supply ledger entry.
type AdjustmentType string

const (
	AdjustmentMint    AdjustmentType = "mint"
	AdjustmentBurn    AdjustmentType = "burn"
	AdjustmentReserve AdjustmentType = "reserve"
	AdjustmentUnlock  AdjustmentType = "unlock"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentMint, AdjustmentBurn, AdjustmentReserve, AdjustmentUnlock:
		return true
	}
	return false
}

// TokenSupply is the per-asset supply aggregate. Counters change only through
// SupplyAdjustment rows appended in the same transaction.
type TokenSupply struct {
	AssetID           string                  `gorm:"column:asset_id;primaryKey" json:"asset_id"`
	TotalSupply       int64                   `gorm:"column:total_supply;not null" json:"total_supply"`
	CirculatingSupply int64                   `gorm:"column:circulating_supply;not null" json:"circulating_supply"`
	ReservedSupply    int64                   `gorm:"column:reserved_supply;not null" json:"reserved_supply"`
	BurnedSupply      int64                   `gorm:"column:burned_supply;not null" json:"burned_supply"`
	MaxSupply         int64                   `gorm:"column:max_supply;not null;default:0" json:"max_supply"` // 0 = unbounded
	AssetValue        decimal.Decimal         `gorm:"column:asset_value;type:decimal(30,8)" json:"asset_value"`
	Currency          string                  `gorm:"column:currency" json:"currency"`
	Method            FractionalizationMethod `gorm:"column:method;type:varchar(32)" json:"method"`
	TokenPrice        decimal.Decimal         `gorm:"column:token_price;type:decimal(30,8)" json:"token_price"`
	Params            datatypes.JSON          `gorm:"column:params;type:json" json:"params"`
	Adjustments       []SupplyAdjustment      `gorm:"foreignKey:AssetID;references:AssetID" json:"adjustments,omitempty"`
	CreatedAt         time.Time               `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt         time.Time               `gorm:"column:updatedAt" json:"updatedAt"`
}

func (TokenSupply) TableName() string {
	return "TokenSupplies"
}

// Unallocated is the allocated-but-locked pool not yet circulating, reserved or burned.
func (s *TokenSupply) Unallocated() int64 {
	return s.TotalSupply - s.CirculatingSupply - s.ReservedSupply - s.BurnedSupply
}

// Conserved reports whether circulating + reserved + burned <= total and no counter is negative.
func (s *TokenSupply) Conserved() bool {
	if s.TotalSupply < 0 || s.CirculatingSupply < 0 || s.ReservedSupply < 0 || s.BurnedSupply < 0 {
		return false
	}
	return s.CirculatingSupply+s.ReservedSupply+s.BurnedSupply <= s.TotalSupply
}

// SupplyAdjustment is an immutable ledger entry. Rows are inserted, never updated.
type SupplyAdjustment struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AssetID     string         `gorm:"column:asset_id;not null;uniqueIndex:idx_adjustment_seq" json:"asset_id"`
	Seq         int64          `gorm:"column:seq;not null;uniqueIndex:idx_adjustment_seq" json:"seq"`
	Type        AdjustmentType `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Amount      int64          `gorm:"column:amount;not null" json:"amount"`
	FromReserve bool           `gorm:"column:from_reserve;not null;default:false" json:"from_reserve"`
	Reason      string         `gorm:"column:reason" json:"reason"`
	// Counters after the adjustment was applied.
	TotalAfter       int64     `gorm:"column:total_after;not null" json:"total_after"`
	CirculatingAfter int64     `gorm:"column:circulating_after;not null" json:"circulating_after"`
	ReservedAfter    int64     `gorm:"column:reserved_after;not null" json:"reserved_after"`
	BurnedAfter      int64     `gorm:"column:burned_after;not null" json:"burned_after"`
	Timestamp        time.Time `gorm:"column:timestamp;not null" json:"timestamp"`
}

func (SupplyAdjustment) TableName() string {
	return "SupplyAdjustments"
}

func (a *SupplyAdjustment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate keeps ledger rows immutable.
func (a *SupplyAdjustment) BeforeUpdate(tx *gorm.DB) error {
	return ErrSupplyInvariantViolation
}
