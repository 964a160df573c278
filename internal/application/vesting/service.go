package vesting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/infrastructure/assetlock"
	"fractions-backend/internal/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Service struct {
	DB     *gorm.DB
	Locker assetlock.Locker
	Clock  clock.Clock
}

type CreateScheduleInput struct {
	AssetID     string
	Beneficiary string
	TotalAmount int64
	StartDate   time.Time
	EndDate     time.Time
	CliffDate   *time.Time
}

// ClaimResult reports what a claim released.
type ClaimResult struct {
	AmountClaimed int64                   `json:"amount_claimed"`
	Schedule      *domain.VestingSchedule `json:"schedule"`
}

func (s *Service) clk() clock.Clock {
	if s.Clock == nil {
		return clock.New()
	}
	return s.Clock
}

func (s *Service) locker() assetlock.Locker {
	if s.Locker == nil {
		return assetlock.Noop{}
	}
	return s.Locker
}

func (s *Service) CreateSchedule(ctx context.Context, in CreateScheduleInput) (*domain.VestingSchedule, error) {
	if strings.TrimSpace(in.AssetID) == "" {
		return nil, domain.ErrInvalidAssetID
	}
	if strings.TrimSpace(in.Beneficiary) == "" {
		return nil, domain.Wrap(domain.ErrInvalidSchedule, "beneficiary is required")
	}
	entries, err := GenerateSchedule(in.TotalAmount, in.StartDate, in.EndDate, in.CliffDate)
	if err != nil {
		return nil, err
	}
	schedule := &domain.VestingSchedule{
		AssetID:     in.AssetID,
		Beneficiary: in.Beneficiary,
		TotalAmount: in.TotalAmount,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CliffDate:   in.CliffDate,
		Entries:     entries,
	}
	schedule.Status = liveStatus(schedule, s.clk().Now())
	if err := s.DB.WithContext(ctx).Create(schedule).Error; err != nil {
		return nil, fmt.Errorf("create vesting schedule: %w", err)
	}
	log.Info().
		Str("asset_id", in.AssetID).
		Str("schedule_id", schedule.ID.String()).
		Str("beneficiary", in.Beneficiary).
		Int64("total_amount", in.TotalAmount).
		Int("entries", len(entries)).
		Msg("Vesting schedule created")
	return schedule, nil
}

func loadSchedule(tx *gorm.DB, id uuid.UUID) (*domain.VestingSchedule, error) {
	var v domain.VestingSchedule
	err := tx.Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Where("id = ?", id).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Wrap(domain.ErrScheduleNotFound, "schedule %s", id)
		}
		return nil, err
	}
	return &v, nil
}

// GetSchedule returns a schedule with its status brought up to date for now.
func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*domain.VestingSchedule, error) {
	v, err := loadSchedule(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if !v.Status.Frozen() {
		v.Status = liveStatus(v, s.clk().Now())
	}
	return v, nil
}

// ListSchedules returns an asset's schedules, optionally for one beneficiary.
func (s *Service) ListSchedules(ctx context.Context, assetID, beneficiary string) ([]domain.VestingSchedule, error) {
	q := s.DB.WithContext(ctx).Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).Where("asset_id = ?", assetID)
	if beneficiary != "" {
		q = q.Where("beneficiary = ?", beneficiary)
	}
	var out []domain.VestingSchedule
	if err := q.Order(`"createdAt" ASC`).Find(&out).Error; err != nil {
		return nil, err
	}
	now := s.clk().Now()
	for i := range out {
		if !out[i].Status.Frozen() {
			out[i].Status = liveStatus(&out[i], now)
		}
	}
	return out, nil
}

// withSchedule runs fn inside a transaction holding the schedule's asset lock.
func (s *Service) withSchedule(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, v *domain.VestingSchedule) error) (*domain.VestingSchedule, error) {
	head, err := loadSchedule(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	release, err := s.locker().Lock(ctx, head.AssetID)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *domain.VestingSchedule
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := loadSchedule(tx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Claim releases every matured entry. Nothing matured means ErrNothingClaimable,
// so repeating a claim never releases twice.
func (s *Service) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*ClaimResult, error) {
	var claimed int64
	v, err := s.withSchedule(ctx, id, func(tx *gorm.DB, v *domain.VestingSchedule) error {
		if v.Status.Frozen() {
			return domain.Wrap(domain.ErrScheduleFrozen, "schedule %s is %s", v.ID, v.Status)
		}
		amount := Claimable(v.Entries, now)
		if amount == 0 {
			return domain.ErrNothingClaimable
		}
		if v.ClaimedAmount+amount > v.TotalAmount {
			return domain.Wrap(domain.ErrVestingOverClaim, "claimed %d + %d > total %d", v.ClaimedAmount, amount, v.TotalAmount)
		}

		ids := make([]uuid.UUID, 0, len(v.Entries))
		for i := range v.Entries {
			e := &v.Entries[i]
			if !e.Released && !e.Date.After(now) {
				ids = append(ids, e.ID)
				e.Released = true
				at := now
				e.ReleasedAt = &at
			}
		}
		res := tx.Model(&domain.ReleaseEntry{}).
			Where("id IN ? AND released = ?", ids, false).
			Updates(map[string]interface{}{"released": true, "released_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return domain.Wrap(domain.ErrVestingOverClaim, "release entries changed concurrently")
		}

		v.ClaimedAmount += amount
		v.Status = liveStatus(v, now)
		claimed = amount
		return tx.Model(&domain.VestingSchedule{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
			"claimed_amount": v.ClaimedAmount,
			"status":         v.Status,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("asset_id", v.AssetID).
		Str("schedule_id", v.ID.String()).
		Int64("amount_claimed", claimed).
		Int64("claimed_total", v.ClaimedAmount).
		Msg("Vesting claimed")
	return &ClaimResult{AmountClaimed: claimed, Schedule: v}, nil
}

// Pause freezes releases until Resume.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*domain.VestingSchedule, error) {
	return s.transition(ctx, id, "pause", func(v *domain.VestingSchedule, now time.Time) error {
		live := liveStatus(v, now)
		if v.Status.Frozen() || live == domain.VestingCompleted {
			return domain.Wrap(domain.ErrInvalidTransition, "cannot pause a %s schedule", v.Status)
		}
		v.PausedFrom = live
		v.Status = domain.VestingPaused
		return nil
	})
}

// Resume returns a paused schedule to its live status.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*domain.VestingSchedule, error) {
	return s.transition(ctx, id, "resume", func(v *domain.VestingSchedule, now time.Time) error {
		if v.Status != domain.VestingPaused {
			return domain.Wrap(domain.ErrInvalidTransition, "cannot resume a %s schedule", v.Status)
		}
		v.PausedFrom = ""
		v.Status = liveStatus(v, now)
		return nil
	})
}

// Cancel is terminal. Past claims stand.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.VestingSchedule, error) {
	return s.transition(ctx, id, "cancel", func(v *domain.VestingSchedule, now time.Time) error {
		if v.Status == domain.VestingCancelled || v.ClaimedAmount >= v.TotalAmount {
			return domain.Wrap(domain.ErrInvalidTransition, "cannot cancel a %s schedule", liveStatus(v, now))
		}
		v.PausedFrom = ""
		v.Status = domain.VestingCancelled
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, action string, fn func(v *domain.VestingSchedule, now time.Time) error) (*domain.VestingSchedule, error) {
	now := s.clk().Now()
	v, err := s.withSchedule(ctx, id, func(tx *gorm.DB, v *domain.VestingSchedule) error {
		if err := fn(v, now); err != nil {
			return err
		}
		return tx.Model(&domain.VestingSchedule{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
			"status":      v.Status,
			"paused_from": v.PausedFrom,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("asset_id", v.AssetID).Str("schedule_id", v.ID.String()).Str("action", action).Str("status", string(v.Status)).Msg("Vesting schedule transitioned")
	return v, nil
}
