package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VestingStatus is the lifecycle state of a vesting schedule.
type VestingStatus string

const (
	VestingNotStarted VestingStatus = "not_started"
	VestingActive     VestingStatus = "active"
	VestingCompleted  VestingStatus = "completed"
	VestingPaused     VestingStatus = "paused"
	VestingCancelled  VestingStatus = "cancelled"
)

// Frozen reports whether releases are blocked by an administrative transition.
func (s VestingStatus) Frozen() bool {
	return s == VestingPaused || s == VestingCancelled
}

// VestingSchedule is a beneficiary's token grant with its release entries.
type VestingSchedule struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AssetID       string         `gorm:"column:asset_id;not null;index" json:"asset_id"`
	Beneficiary   string         `gorm:"column:beneficiary;not null;index" json:"beneficiary"`
	TotalAmount   int64          `gorm:"column:total_amount;not null" json:"total_amount"`
	StartDate     time.Time      `gorm:"column:start_date;not null" json:"start_date"`
	EndDate       time.Time      `gorm:"column:end_date;not null" json:"end_date"`
	CliffDate     *time.Time     `gorm:"column:cliff_date" json:"cliff_date"`
	ClaimedAmount int64          `gorm:"column:claimed_amount;not null;default:0" json:"claimed_amount"`
	Status        VestingStatus  `gorm:"column:status;type:varchar(20);not null" json:"status"`
	PausedFrom    VestingStatus  `gorm:"column:paused_from;type:varchar(20)" json:"-"`
	Entries       []ReleaseEntry `gorm:"foreignKey:ScheduleID;references:ID" json:"release_schedule"`
	CreatedAt     time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
}

func (VestingSchedule) TableName() string {
	return "VestingSchedules"
}

func (v *VestingSchedule) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Remaining is the amount not yet claimed.
func (v *VestingSchedule) Remaining() int64 {
	return v.TotalAmount - v.ClaimedAmount
}

// ReleaseEntry is one dated tranche of a vesting schedule.
type ReleaseEntry struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ScheduleID uuid.UUID  `gorm:"column:schedule_id;type:uuid;not null;index" json:"schedule_id"`
	Seq        int        `gorm:"column:seq;not null" json:"seq"`
	Date       time.Time  `gorm:"column:date;not null" json:"date"`
	Amount     int64      `gorm:"column:amount;not null" json:"amount"`
	Released   bool       `gorm:"column:released;not null;default:false" json:"released"`
	ReleasedAt *time.Time `gorm:"column:released_at" json:"released_at,omitempty"`
}

func (ReleaseEntry) TableName() string {
	return "ReleaseEntries"
}

func (e *ReleaseEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
