package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LockupStatus only moves forward: locked -> unlocking -> unlocked.
type LockupStatus string

const (
	LockupLocked    LockupStatus = "locked"
	LockupUnlocking LockupStatus = "unlocking"
	LockupUnlocked  LockupStatus = "unlocked"
)

var lockupRank = map[LockupStatus]int{
	LockupLocked:    0,
	LockupUnlocking: 1,
	LockupUnlocked:  2,
}

// CanTransition reports whether moving from s to next keeps the status monotonic.
func (s LockupStatus) CanTransition(next LockupStatus) bool {
	from, ok1 := lockupRank[s]
	to, ok2 := lockupRank[next]
	return ok1 && ok2 && to >= from
}

// ConditionKind names the external authority that satisfies a condition.
type ConditionKind string

const (
	ConditionTime        ConditionKind = "time"
	ConditionGovernance  ConditionKind = "governance_vote"
	ConditionPerformance ConditionKind = "performance_metric"
)

func (k ConditionKind) Valid() bool {
	switch k {
	case ConditionTime, ConditionGovernance, ConditionPerformance:
		return true
	}
	return false
}

// LockupPeriod holds an amount unavailable for transfer until time and conditions allow.
type LockupPeriod struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AssetID          string            `gorm:"column:asset_id;not null;index" json:"asset_id"`
	Holder           string            `gorm:"column:holder;not null;index" json:"holder"`
	Amount           int64             `gorm:"column:amount;not null" json:"amount"`
	LockStartDate    time.Time         `gorm:"column:lock_start_date;not null" json:"lock_start_date"`
	LockEndDate      time.Time         `gorm:"column:lock_end_date;not null" json:"lock_end_date"`
	Status           LockupStatus      `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	UnlockedAt       *time.Time        `gorm:"column:unlocked_at" json:"unlocked_at,omitempty"`
	UnlockConditions []UnlockCondition `gorm:"foreignKey:LockupID;references:ID" json:"unlock_conditions"`
	CreatedAt        time.Time         `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt        time.Time         `gorm:"column:updatedAt" json:"updatedAt"`
}

func (LockupPeriod) TableName() string {
	return "LockupPeriods"
}

func (l *LockupPeriod) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// ConditionsMet is true when every condition is satisfied (vacuously true with none).
func (l *LockupPeriod) ConditionsMet() bool {
	for _, c := range l.UnlockConditions {
		if !c.Satisfied || c.Revoked {
			return false
		}
	}
	return true
}

// UnlockCondition is marked satisfied by an external authority.
type UnlockCondition struct {
	ID          uuid.UUID     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	LockupID    uuid.UUID     `gorm:"column:lockup_id;type:uuid;not null;index" json:"lockup_id"`
	Kind        ConditionKind `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	Description string        `gorm:"column:description" json:"description"`
	Satisfied   bool          `gorm:"column:satisfied;not null;default:false" json:"satisfied"`
	Revoked     bool          `gorm:"column:revoked;not null;default:false" json:"revoked"`
	Authority   string        `gorm:"column:authority" json:"authority,omitempty"`
	DecidedAt   *time.Time    `gorm:"column:decided_at" json:"decided_at,omitempty"`
}

func (UnlockCondition) TableName() string {
	return "UnlockConditions"
}

func (c *UnlockCondition) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// UnlockEntry reports a lockup that CheckUnlocks moved to unlocked.
type UnlockEntry struct {
	LockupID   uuid.UUID `json:"lockup_id"`
	AssetID    string    `json:"asset_id"`
	Holder     string    `json:"holder"`
	Amount     int64     `json:"amount"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
