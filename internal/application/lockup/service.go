package lockup

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
	DB       *gorm.DB
	Locker   assetlock.Locker
	Clock    clock.Clock
	Notifier domain.Notifier
}

type ConditionInput struct {
	Kind        domain.ConditionKind `json:"kind"`
	Description string               `json:"description"`
}

type CreateLockupInput struct {
	AssetID       string
	Holder        string
	Amount        int64
	LockStartDate time.Time
	LockEndDate   time.Time
	Conditions    []ConditionInput
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

func (s *Service) CreateLockup(ctx context.Context, in CreateLockupInput) (*domain.LockupPeriod, error) {
	if strings.TrimSpace(in.AssetID) == "" {
		return nil, domain.ErrInvalidAssetID
	}
	if strings.TrimSpace(in.Holder) == "" {
		return nil, domain.Wrap(domain.ErrInvalidLockup, "holder is required")
	}
	if in.Amount <= 0 {
		return nil, domain.ErrNonPositiveAmount
	}
	if in.LockStartDate.IsZero() || in.LockEndDate.Before(in.LockStartDate) {
		return nil, domain.Wrap(domain.ErrInvalidLockup, "lock end date must not precede start date")
	}
	period := &domain.LockupPeriod{
		AssetID:       in.AssetID,
		Holder:        in.Holder,
		Amount:        in.Amount,
		LockStartDate: in.LockStartDate,
		LockEndDate:   in.LockEndDate,
		Status:        domain.LockupLocked,
	}
	for _, c := range in.Conditions {
		if !c.Kind.Valid() {
			return nil, domain.Wrap(domain.ErrInvalidLockup, "unknown condition kind %q", c.Kind)
		}
		period.UnlockConditions = append(period.UnlockConditions, domain.UnlockCondition{Kind: c.Kind, Description: c.Description})
	}

	release, err := s.locker().Lock(ctx, in.AssetID)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := s.DB.WithContext(ctx).Create(period).Error; err != nil {
		return nil, fmt.Errorf("create lockup: %w", err)
	}
	log.Info().
		Str("asset_id", in.AssetID).
		Str("lockup_id", period.ID.String()).
		Str("holder", in.Holder).
		Int64("amount", in.Amount).
		Int("conditions", len(period.UnlockConditions)).
		Msg("Lockup created")
	return period, nil
}

func loadLockup(tx *gorm.DB, id uuid.UUID) (*domain.LockupPeriod, error) {
	var l domain.LockupPeriod
	if err := tx.Preload("UnlockConditions").Where("id = ?", id).First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Wrap(domain.ErrLockupNotFound, "lockup %s", id)
		}
		return nil, err
	}
	return &l, nil
}

func (s *Service) GetLockup(ctx context.Context, id uuid.UUID) (*domain.LockupPeriod, error) {
	return loadLockup(s.DB.WithContext(ctx), id)
}

// ListLockups returns an asset's lockups, optionally filtered by holder and status.
func (s *Service) ListLockups(ctx context.Context, assetID, holder string, status domain.LockupStatus) ([]domain.LockupPeriod, error) {
	q := s.DB.WithContext(ctx).Preload("UnlockConditions").Where("asset_id = ?", assetID)
	if holder != "" {
		q = q.Where("holder = ?", holder)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.LockupPeriod
	if err := q.Order("lock_end_date ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SatisfyCondition records an authority's approval. The first approval moves
// a locked period to unlocking.
func (s *Service) SatisfyCondition(ctx context.Context, lockupID, conditionID uuid.UUID, authority string) (*domain.LockupPeriod, error) {
	return s.decide(ctx, lockupID, conditionID, authority, true)
}

// RevokeCondition blocks a condition permanently; the period can then never unlock.
func (s *Service) RevokeCondition(ctx context.Context, lockupID, conditionID uuid.UUID, authority string) (*domain.LockupPeriod, error) {
	return s.decide(ctx, lockupID, conditionID, authority, false)
}

func (s *Service) decide(ctx context.Context, lockupID, conditionID uuid.UUID, authority string, satisfy bool) (*domain.LockupPeriod, error) {
	head, err := loadLockup(s.DB.WithContext(ctx), lockupID)
	if err != nil {
		return nil, err
	}
	release, err := s.locker().Lock(ctx, head.AssetID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clk().Now()
	var out *domain.LockupPeriod
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := loadLockup(tx, lockupID)
		if err != nil {
			return err
		}
		if l.Status == domain.LockupUnlocked {
			return domain.ErrLockupAlreadyFinal
		}
		var cond *domain.UnlockCondition
		for i := range l.UnlockConditions {
			if l.UnlockConditions[i].ID == conditionID {
				cond = &l.UnlockConditions[i]
			}
		}
		if cond == nil {
			return domain.Wrap(domain.ErrConditionNotFound, "condition %s", conditionID)
		}
		if cond.Revoked {
			return domain.ErrConditionRevoked
		}
		if satisfy {
			cond.Satisfied = true
		} else {
			cond.Satisfied = false
			cond.Revoked = true
		}
		cond.Authority = authority
		cond.DecidedAt = &now
		if err := tx.Model(&domain.UnlockCondition{}).Where("id = ?", cond.ID).Updates(map[string]interface{}{
			"satisfied":  cond.Satisfied,
			"revoked":    cond.Revoked,
			"authority":  cond.Authority,
			"decided_at": now,
		}).Error; err != nil {
			return err
		}
		if satisfy && l.Status == domain.LockupLocked {
			l.Status = domain.LockupUnlocking
			if err := tx.Model(&domain.LockupPeriod{}).Where("id = ?", l.ID).Update("status", l.Status).Error; err != nil {
				return err
			}
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("asset_id", out.AssetID).
		Str("lockup_id", out.ID.String()).
		Str("condition_id", conditionID.String()).
		Bool("satisfied", satisfy).
		Str("authority", authority).
		Msg("Unlock condition decided")
	return out, nil
}

// CheckUnlocks moves every due period whose conditions all hold to unlocked.
// Periods that are not due stay as they are, so repeated calls are harmless.
func (s *Service) CheckUnlocks(ctx context.Context, now time.Time) ([]domain.UnlockEntry, error) {
	var due []domain.LockupPeriod
	err := s.DB.WithContext(ctx).Preload("UnlockConditions").
		Where("status IN ? AND lock_end_date <= ?", []domain.LockupStatus{domain.LockupLocked, domain.LockupUnlocking}, now).
		Order("lock_end_date ASC").
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	var unlocked []domain.UnlockEntry
	for i := range due {
		if !due[i].ConditionsMet() {
			continue
		}
		entry, ok, err := s.unlock(ctx, due[i].ID, due[i].AssetID, now)
		if err != nil {
			return unlocked, err
		}
		if ok {
			unlocked = append(unlocked, entry)
		}
	}
	if len(unlocked) > 0 {
		log.Info().Int("unlocked", len(unlocked)).Msg("Lockups released")
	}
	return unlocked, nil
}

func (s *Service) unlock(ctx context.Context, id uuid.UUID, assetID string, now time.Time) (domain.UnlockEntry, bool, error) {
	release, err := s.locker().Lock(ctx, assetID)
	if err != nil {
		return domain.UnlockEntry{}, false, err
	}
	defer release()

	var entry domain.UnlockEntry
	var ok bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := loadLockup(tx, id)
		if err != nil {
			return err
		}
		if !l.Status.CanTransition(domain.LockupUnlocked) || l.Status == domain.LockupUnlocked {
			return nil
		}
		if now.Before(l.LockEndDate) || !l.ConditionsMet() {
			return nil
		}
		if err := tx.Model(&domain.LockupPeriod{}).Where("id = ?", l.ID).Updates(map[string]interface{}{
			"status":      domain.LockupUnlocked,
			"unlocked_at": now,
		}).Error; err != nil {
			return err
		}
		entry = domain.UnlockEntry{LockupID: l.ID, AssetID: l.AssetID, Holder: l.Holder, Amount: l.Amount, UnlockedAt: now}
		ok = true
		return nil
	})
	if err != nil || !ok {
		return entry, ok, err
	}
	log.Info().
		Str("asset_id", entry.AssetID).
		Str("lockup_id", entry.LockupID.String()).
		Str("holder", entry.Holder).
		Int64("amount", entry.Amount).
		Msg("Lockup unlocked")
	if s.Notifier != nil {
		n := domain.Notification{
			ID:        "unlock-" + entry.LockupID.String(),
			Type:      domain.NotifyUnlock,
			AssetID:   entry.AssetID,
			Recipient: entry.Holder,
			Amount:    entry.Amount,
			Status:    string(domain.LockupUnlocked),
			At:        now,
		}
		if err := s.Notifier.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Str("lockup_id", entry.LockupID.String()).Msg("Unlock notification failed")
		}
	}
	return entry, true, nil
}
