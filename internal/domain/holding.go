package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Holding is a row of the Ownership Directory: one owner's current share of an asset.
// The engine only reads this table; the directory service owns writes.
type Holding struct {
	HoldingID           uuid.UUID       `gorm:"column:holding_id;type:uuid;primaryKey" json:"holding_id"`
	AssetID             string          `gorm:"column:asset_id;not null;index" json:"asset_id"`
	OwnerAddress        string          `gorm:"column:owner_address;not null" json:"owner_address"`
	OwnershipPercentage decimal.Decimal `gorm:"column:ownership_percentage;type:decimal(18,10);not null" json:"ownership_percentage"`
	Jurisdiction        string          `gorm:"column:jurisdiction;type:varchar(8)" json:"jurisdiction"`
	AcquisitionDate     time.Time       `gorm:"column:acquisition_date;not null" json:"acquisition_date"`
	CreatedAt           time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt           time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Holding) TableName() string {
	return "Holdings"
}

// BeforeCreate: never insert zero UUID for primary key; generate random when not set.
func (h *Holding) BeforeCreate(tx *gorm.DB) error {
	if h.HoldingID == uuid.Nil {
		h.HoldingID = uuid.New()
	}
	return nil
}

// Position is one entry of an ownership snapshot as supplied by the directory.
type Position struct {
	OwnerAddress        string          `json:"owner_address"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	Jurisdiction        string          `json:"jurisdiction,omitempty"`
	AcquisitionDate     time.Time       `json:"acquisition_date"`
}

// SnapshotEpsilon is the tolerance for the sum-to-100 check.
var SnapshotEpsilon = decimal.RequireFromString("0.000001")

var hundred = decimal.NewFromInt(100)

// OwnershipSnapshot is an immutable point-in-time view of an asset's owners.
type OwnershipSnapshot struct {
	AssetID   string     `json:"asset_id"`
	TakenAt   time.Time  `json:"taken_at"`
	Positions []Position `json:"positions"`
}

// NewOwnershipSnapshot copies positions so later changes by the caller do not leak in.
func NewOwnershipSnapshot(assetID string, takenAt time.Time, positions []Position) OwnershipSnapshot {
	cp := make([]Position, len(positions))
	copy(cp, positions)
	return OwnershipSnapshot{AssetID: assetID, TakenAt: takenAt, Positions: cp}
}

// Total is the sum of ownership percentages.
func (s OwnershipSnapshot) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range s.Positions {
		sum = sum.Add(p.OwnershipPercentage)
	}
	return sum
}

// Validate checks every percentage is in [0,100], addresses are set, and the sum is 100 within SnapshotEpsilon.
func (s OwnershipSnapshot) Validate() error {
	if len(s.Positions) == 0 {
		return ErrEmptySnapshot
	}
	seen := make(map[string]struct{}, len(s.Positions))
	for _, p := range s.Positions {
		if p.OwnerAddress == "" {
			return wrap(ErrInvalidSnapshot, "owner address is required")
		}
		if _, dup := seen[p.OwnerAddress]; dup {
			return wrap(ErrInvalidSnapshot, "duplicate owner "+p.OwnerAddress)
		}
		seen[p.OwnerAddress] = struct{}{}
		if p.OwnershipPercentage.IsNegative() || p.OwnershipPercentage.GreaterThan(hundred) {
			return wrap(ErrInvalidSnapshot, "percentage out of range for "+p.OwnerAddress)
		}
	}
	if s.Total().Sub(hundred).Abs().GreaterThan(SnapshotEpsilon) {
		return wrap(ErrInvalidSnapshot, "percentages sum to "+s.Total().String())
	}
	return nil
}
