package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/infrastructure/assetlock"
	"fractions-backend/internal/pkg/clock"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultWorkers         = 8
	DefaultTransferTimeout = 30 * time.Second
)

type Service struct {
	DB        *gorm.DB
	Directory domain.OwnershipDirectory
	Ledger    domain.LedgerClient
	Notifier  domain.Notifier
	Locker    assetlock.Locker
	Clock     clock.Clock

	Workers         int
	TransferTimeout time.Duration
}

type ExecuteInput struct {
	AssetID     string
	Amount      int64
	Currency    string
	Eligibility domain.Eligibility
	TaxRates    domain.TaxRates
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

func (s *Service) workers() int {
	if s.Workers <= 0 {
		return DefaultWorkers
	}
	return s.Workers
}

func (s *Service) timeout() time.Duration {
	if s.TransferTimeout <= 0 {
		return DefaultTransferTimeout
	}
	return s.TransferTimeout
}

// Execute snapshots ownership, persists a run with pending records and pays
// them out. A returned run that is interrupted can be resumed. When the
// ledger is unreachable or ctx ends mid-run, both the run and an error are
// returned.
func (s *Service) Execute(ctx context.Context, in ExecuteInput) (*domain.DistributionRun, error) {
	if strings.TrimSpace(in.AssetID) == "" {
		return nil, domain.ErrInvalidAssetID
	}
	if strings.TrimSpace(in.Currency) == "" {
		return nil, domain.Wrap(domain.ErrInvalidDistribution, "currency is required")
	}
	release, err := s.locker().Lock(ctx, in.AssetID)
	if err != nil {
		return nil, err
	}
	defer release()

	positions, err := s.Directory.GetCurrentOwnership(ctx, in.AssetID)
	if err != nil {
		return nil, err
	}
	snap := domain.NewOwnershipSnapshot(in.AssetID, s.clk().Now(), positions)
	records, err := Plan(snap, in.Amount, in.Eligibility, in.TaxRates)
	if err != nil {
		return nil, err
	}

	run := &domain.DistributionRun{
		AssetID:             in.AssetID,
		DistributableAmount: in.Amount,
		Currency:            in.Currency,
		Status:              domain.RunProcessing,
		Records:             records,
	}
	if run.Snapshot, err = jsonColumn(snap); err != nil {
		return nil, err
	}
	if run.Eligibility, err = jsonColumn(in.Eligibility); err != nil {
		return nil, err
	}
	if run.TaxRates, err = jsonColumn(in.TaxRates); err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create distribution run: %w", err)
	}
	log.Info().
		Str("asset_id", run.AssetID).
		Str("run_id", run.ID.String()).
		Int64("amount", run.DistributableAmount).
		Int("recipients", len(run.Records)).
		Msg("Distribution run created")

	s.dispatch(ctx, entitlementNotices(run, s.clk().Now()))
	return s.pay(ctx, run)
}

// Resume re-attempts the pending records of a run with their original request ids.
func (s *Service) Resume(ctx context.Context, runID uuid.UUID) (*domain.DistributionRun, error) {
	head, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	release, err := s.locker().Lock(ctx, head.AssetID)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Counts()[domain.RecordPending] == 0 {
		return nil, domain.Wrap(domain.ErrRunNotResumable, "run %s has no pending records", runID)
	}
	if err := s.DB.WithContext(ctx).Model(&domain.DistributionRun{}).Where("id = ?", run.ID).Update("status", domain.RunProcessing).Error; err != nil {
		return nil, err
	}
	run.Status = domain.RunProcessing
	log.Info().Str("asset_id", run.AssetID).Str("run_id", run.ID.String()).Int("pending", run.Counts()[domain.RecordPending]).Msg("Distribution run resumed")
	return s.pay(ctx, run)
}

// RetryFailed starts a child run holding the failed records of runID. The
// originals stay failed. Rejected records get a new ledger request id so the
// ledger does not replay its stored rejection; timed-out records keep theirs
// since the first attempt may have landed. A run can be retried once.
func (s *Service) RetryFailed(ctx context.Context, runID uuid.UUID) (*domain.DistributionRun, error) {
	head, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	release, err := s.locker().Lock(ctx, head.AssetID)
	if err != nil {
		return nil, err
	}
	defer release()

	parent, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var retried int64
	if err := s.DB.WithContext(ctx).Model(&domain.DistributionRun{}).Where("parent_run_id = ?", parent.ID).Count(&retried).Error; err != nil {
		return nil, err
	}
	if retried > 0 {
		return nil, domain.Wrap(domain.ErrRunNotResumable, "run %s has already been retried", runID)
	}
	child := &domain.DistributionRun{
		AssetID:     parent.AssetID,
		ParentRunID: &parent.ID,
		Currency:    parent.Currency,
		Status:      domain.RunProcessing,
		Snapshot:    parent.Snapshot,
		Eligibility: parent.Eligibility,
		TaxRates:    parent.TaxRates,
	}
	for _, r := range parent.Records {
		if r.Status != domain.RecordFailed {
			continue
		}
		child.DistributableAmount += r.EntitledAmount
		requestID := uuid.Nil
		if r.FailureKind == domain.FailureTimeout {
			requestID = r.RequestID
		}
		child.Records = append(child.Records, domain.DistributionRecord{
			RequestID:           requestID,
			RecipientAddress:    r.RecipientAddress,
			OwnershipPercentage: r.OwnershipPercentage,
			Jurisdiction:        r.Jurisdiction,
			EntitledAmount:      r.EntitledAmount,
			TaxRate:             r.TaxRate,
			TaxWithheld:         r.TaxWithheld,
			NetAmount:           r.NetAmount,
			Status:              domain.RecordPending,
		})
	}
	if len(child.Records) == 0 {
		return nil, domain.Wrap(domain.ErrRunNotResumable, "run %s has no failed records", runID)
	}
	if err := s.DB.WithContext(ctx).Create(child).Error; err != nil {
		return nil, fmt.Errorf("create retry run: %w", err)
	}
	log.Info().
		Str("asset_id", child.AssetID).
		Str("run_id", child.ID.String()).
		Str("parent_run_id", parent.ID.String()).
		Int("recipients", len(child.Records)).
		Msg("Retrying failed distribution records")
	return s.pay(ctx, child)
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*domain.DistributionRun, error) {
	var run domain.DistributionRun
	err := s.DB.WithContext(ctx).Preload("Records", func(db *gorm.DB) *gorm.DB {
		return db.Order("recipient_address ASC")
	}).Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Wrap(domain.ErrRunNotFound, "run %s", id)
		}
		return nil, err
	}
	return &run, nil
}

func (s *Service) ListRuns(ctx context.Context, assetID string) ([]domain.DistributionRun, error) {
	var runs []domain.DistributionRun
	err := s.DB.WithContext(ctx).Preload("Records", func(db *gorm.DB) *gorm.DB {
		return db.Order("recipient_address ASC")
	}).Where("asset_id = ?", assetID).Order(`"createdAt" DESC`).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// outcome is what one transfer task decided for its record.
type outcome struct {
	attempted bool
	status    domain.RecordStatus
	ref       string
	reason    string
	kind      domain.FailureKind
	at        time.Time
}

// pay transfers every pending record of run over a bounded pool, then
// persists the outcomes and settles the run in one transaction.
func (s *Service) pay(ctx context.Context, run *domain.DistributionRun) (*domain.DistributionRun, error) {
	pending := make([]int, 0, len(run.Records))
	for i := range run.Records {
		if run.Records[i].Status == domain.RecordPending {
			pending = append(pending, i)
		}
	}

	outcomes := make([]outcome, len(pending))
	var halted atomic.Bool
	var haltErr atomic.Value

	pool := pond.NewPool(s.workers(), pond.WithQueueSize(len(pending)))
	group := pool.NewGroup()
	for slot, idx := range pending {
		slot := slot
		rec := run.Records[idx]
		group.Submit(func() {
			if halted.Load() || ctx.Err() != nil {
				return
			}
			outcomes[slot] = s.transfer(ctx, run, rec, &halted, &haltErr)
		})
	}
	_ = group.Wait()
	pool.StopAndWait()

	now := s.clk().Now()
	persistCtx := context.WithoutCancel(ctx)
	var notices []domain.Notification
	err := s.DB.WithContext(persistCtx).Transaction(func(tx *gorm.DB) error {
		for slot, idx := range pending {
			o := outcomes[slot]
			if !o.attempted {
				continue
			}
			rec := &run.Records[idx]
			rec.Attempts++
			at := o.at
			rec.AttemptedAt = &at
			rec.Status = o.status
			rec.TransactionRef = o.ref
			rec.FailureReason = o.reason
			rec.FailureKind = o.kind
			if err := tx.Model(&domain.DistributionRecord{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
				"status":          rec.Status,
				"transaction_ref": rec.TransactionRef,
				"failure_reason":  rec.FailureReason,
				"failure_kind":    rec.FailureKind,
				"attempts":        rec.Attempts,
				"attempted_at":    at,
			}).Error; err != nil {
				return err
			}
			if rec.Status.Terminal() {
				notices = append(notices, paymentNotice(run, rec, now))
			}
		}
		run.Settle(now)
		return tx.Model(&domain.DistributionRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
			"status":       run.Status,
			"completed_at": run.CompletedAt,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("persist distribution outcomes: %w", err)
	}

	counts := run.Counts()
	log.Info().
		Str("asset_id", run.AssetID).
		Str("run_id", run.ID.String()).
		Str("status", string(run.Status)).
		Int("distributed", counts[domain.RecordDistributed]).
		Int("failed", counts[domain.RecordFailed]).
		Int("pending", counts[domain.RecordPending]).
		Msg("Distribution run settled")

	s.dispatch(persistCtx, notices)

	if halted.Load() {
		if e, ok := haltErr.Load().(error); ok {
			return run, e
		}
		return run, domain.ErrLedgerUnavailable
	}
	if err := ctx.Err(); err != nil && run.Status == domain.RunInterrupted {
		return run, err
	}
	return run, nil
}

// transfer runs one ledger call under its own timeout. Ledger outages leave
// the record pending and halt the run.
func (s *Service) transfer(ctx context.Context, run *domain.DistributionRun, rec domain.DistributionRecord, halted *atomic.Bool, haltErr *atomic.Value) outcome {
	if rec.NetAmount == 0 {
		return outcome{attempted: true, status: domain.RecordDistributed, at: s.clk().Now()}
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
	defer cancel()

	res, err := s.Ledger.Transfer(tctx, domain.TransferRequest{
		RequestID: rec.RequestID,
		AssetID:   run.AssetID,
		Recipient: rec.RecipientAddress,
		Amount:    rec.NetAmount,
		Currency:  run.Currency,
	})
	o := outcome{attempted: true, at: s.clk().Now()}
	switch {
	case err == nil && res.Success:
		o.status = domain.RecordDistributed
		o.ref = res.TransactionRef
	case errors.Is(err, domain.ErrLedgerUnavailable):
		if halted.CompareAndSwap(false, true) {
			haltErr.Store(err)
		}
		o.status = domain.RecordPending
		o.reason = err.Error()
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || tctx.Err() != nil):
		o.status = domain.RecordFailed
		o.reason = "transfer timed out"
		o.kind = domain.FailureTimeout
	case err != nil:
		o.status = domain.RecordFailed
		o.reason = err.Error()
		o.kind = domain.FailureRejected
	default:
		o.status = domain.RecordFailed
		o.reason = "transfer rejected by ledger"
		o.kind = domain.FailureRejected
	}

	ev := log.Info()
	if o.status != domain.RecordDistributed {
		ev = log.Warn()
	}
	ev.Str("asset_id", run.AssetID).
		Str("run_id", run.ID.String()).
		Str("recipient", rec.RecipientAddress).
		Int64("net_amount", rec.NetAmount).
		Str("status", string(o.status)).
		Str("reason", o.reason).
		Msg("Transfer attempted")
	return o
}

func (s *Service) dispatch(ctx context.Context, notices []domain.Notification) {
	if s.Notifier == nil {
		return
	}
	for _, n := range notices {
		if err := s.Notifier.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Str("notification_id", n.ID).Msg("Notification failed")
		}
	}
}

func entitlementNotices(run *domain.DistributionRun, now time.Time) []domain.Notification {
	out := make([]domain.Notification, 0, len(run.Records))
	for _, r := range run.Records {
		out = append(out, domain.Notification{
			ID:        "entitlement-" + r.ID.String(),
			Type:      domain.NotifyEntitlement,
			AssetID:   run.AssetID,
			RunID:     run.ID.String(),
			Recipient: r.RecipientAddress,
			Amount:    r.NetAmount,
			Currency:  run.Currency,
			Status:    string(r.Status),
			At:        now,
		})
	}
	return out
}

func paymentNotice(run *domain.DistributionRun, r *domain.DistributionRecord, now time.Time) domain.Notification {
	return domain.Notification{
		ID:        fmt.Sprintf("payment-%s-%d", r.ID, r.Attempts),
		Type:      domain.NotifyPayment,
		AssetID:   run.AssetID,
		RunID:     run.ID.String(),
		Recipient: r.RecipientAddress,
		Amount:    r.NetAmount,
		Currency:  run.Currency,
		Status:    string(r.Status),
		Reference: r.TransactionRef,
		At:        now,
	}
}

func jsonColumn(v interface{}) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
