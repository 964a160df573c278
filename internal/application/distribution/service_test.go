package distribution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/infrastructure/assetlock"
	"fractions-backend/internal/infrastructure/database"
	"fractions-backend/internal/infrastructure/notify"
	"fractions-backend/internal/pkg/clock"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeDirectory struct {
	positions []domain.Position
}

func (f fakeDirectory) GetCurrentOwnership(context.Context, string) ([]domain.Position, error) {
	return f.positions, nil
}

type fakeLedger struct {
	mu    sync.Mutex
	calls []domain.TransferRequest
	fn    func(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error)
}

func (f *fakeLedger) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return domain.TransferResult{Success: true, TransactionRef: "tx-" + req.RequestID.String()}, nil
}

func (f *fakeLedger) setFn(fn func(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeLedger) Calls() []domain.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TransferRequest(nil), f.calls...)
}

func setupDistributionTest(t *testing.T) (*Service, *fakeLedger, *notify.Recorder) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	ledger := &fakeLedger{}
	rec := &notify.Recorder{}
	return &Service{
		DB: db,
		Directory: fakeDirectory{positions: []domain.Position{
			pos("0xa", "50", "US", 400),
			pos("0xb", "30", "US", 400),
			pos("0xc", "20", "US", 400),
		}},
		Ledger:          ledger,
		Notifier:        rec,
		Locker:          assetlock.NewMemory(),
		Clock:           clock.Fixed{T: takenAt},
		Workers:         4,
		TransferTimeout: time.Second,
	}, ledger, rec
}

func input() ExecuteInput {
	return ExecuteInput{AssetID: "villa-7", Amount: 10000, Currency: "USD", TaxRates: flatRate("0.15")}
}

func byAddress(run *domain.DistributionRun) map[string]domain.DistributionRecord {
	out := make(map[string]domain.DistributionRecord, len(run.Records))
	for _, r := range run.Records {
		out[r.RecipientAddress] = r
	}
	return out
}

func TestExecute_PaysEveryRecipient(t *testing.T) {
	s, ledger, rec := setupDistributionTest(t)
	run, err := s.Execute(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)
	var entitled, netPaid int64
	for _, r := range stored.Records {
		assert.Equal(t, domain.RecordDistributed, r.Status)
		assert.Equal(t, "tx-"+r.RequestID.String(), r.TransactionRef)
		assert.Equal(t, 1, r.Attempts)
		entitled += r.EntitledAmount
		netPaid += r.NetAmount
	}
	assert.Equal(t, int64(10000), entitled)
	assert.Equal(t, int64(8500), netPaid)

	calls := ledger.Calls()
	require.Len(t, calls, 3)
	var sent int64
	for _, c := range calls {
		assert.Equal(t, "USD", c.Currency)
		sent += c.Amount
	}
	assert.Equal(t, int64(8500), sent)

	var entitlements, payments int
	for _, n := range rec.Sent() {
		switch n.Type {
		case domain.NotifyEntitlement:
			entitlements++
		case domain.NotifyPayment:
			payments++
		}
	}
	assert.Equal(t, 3, entitlements)
	assert.Equal(t, 3, payments)
}

func TestExecute_FailureIsIsolatedAndRetryable(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	ledger.setFn(func(_ context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
		if req.Recipient == "0xb" {
			return domain.TransferResult{}, fmt.Errorf("%w: account closed", domain.ErrTransferFailed)
		}
		return domain.TransferResult{Success: true, TransactionRef: "ok"}, nil
	})

	run, err := s.Execute(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	recs := byAddress(run)
	assert.Equal(t, domain.RecordDistributed, recs["0xa"].Status)
	assert.Equal(t, domain.RecordFailed, recs["0xb"].Status)
	assert.Contains(t, recs["0xb"].FailureReason, "account closed")
	assert.Equal(t, domain.RecordDistributed, recs["0xc"].Status)

	_, err = s.Resume(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrRunNotResumable)

	ledger.setFn(nil)
	child, err := s.RetryFailed(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, child.ParentRunID)
	assert.Equal(t, run.ID, *child.ParentRunID)
	require.Len(t, child.Records, 1)
	assert.Equal(t, domain.FailureRejected, recs["0xb"].FailureKind)
	assert.NotEqual(t, recs["0xb"].RequestID, child.Records[0].RequestID, "a rejected transfer is retried under a new ledger key")
	assert.NotEqual(t, uuid.Nil, child.Records[0].RequestID)
	assert.NotEqual(t, recs["0xb"].ID, child.Records[0].ID)
	assert.Equal(t, int64(3000), child.DistributableAmount)
	assert.Equal(t, domain.RunCompleted, child.Status)

	parent, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordFailed, byAddress(parent)["0xb"].Status)

	_, err = s.RetryFailed(context.Background(), child.ID)
	assert.ErrorIs(t, err, domain.ErrRunNotResumable)

	// The parent still has a failed record but already has a child run.
	_, err = s.RetryFailed(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrRunNotResumable)

	runs, err := s.ListRuns(context.Background(), "villa-7")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestExecute_LedgerUnavailableLeavesPendingThenResume(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	ledger.setFn(func(context.Context, domain.TransferRequest) (domain.TransferResult, error) {
		return domain.TransferResult{}, fmt.Errorf("%w: connection refused", domain.ErrLedgerUnavailable)
	})

	run, err := s.Execute(context.Background(), input())
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunInterrupted, run.Status)
	for _, r := range run.Records {
		assert.Equal(t, domain.RecordPending, r.Status)
	}

	ledger.setFn(nil)
	before := len(ledger.Calls())
	resumed, err := s.Resume(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, resumed.Status)

	calls := ledger.Calls()[before:]
	require.Len(t, calls, 3)
	ids := map[uuid.UUID]bool{}
	for _, r := range resumed.Records {
		ids[r.RequestID] = true
		assert.Equal(t, domain.RecordDistributed, r.Status)
	}
	for _, c := range calls {
		assert.True(t, ids[c.RequestID], "resume must reuse request ids")
	}

	_, err = s.Resume(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrRunNotResumable)
	assert.Len(t, ledger.Calls(), before+3)
}

func TestExecute_TimeoutMarksFailed(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	s.TransferTimeout = 50 * time.Millisecond
	ledger.setFn(func(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
		if req.Recipient == "0xc" {
			<-ctx.Done()
			return domain.TransferResult{}, ctx.Err()
		}
		return domain.TransferResult{Success: true, TransactionRef: "ok"}, nil
	})

	run, err := s.Execute(context.Background(), input())
	require.NoError(t, err)
	recs := byAddress(run)
	assert.Equal(t, domain.RecordFailed, recs["0xc"].Status)
	assert.Equal(t, "transfer timed out", recs["0xc"].FailureReason)
	assert.Equal(t, domain.RecordDistributed, recs["0xa"].Status)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestRetryFailed_TimedOutRecordKeepsRequestID(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	s.TransferTimeout = 50 * time.Millisecond
	ledger.setFn(func(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
		if req.Recipient == "0xc" {
			<-ctx.Done()
			return domain.TransferResult{}, ctx.Err()
		}
		return domain.TransferResult{Success: true, TransactionRef: "ok"}, nil
	})
	run, err := s.Execute(context.Background(), input())
	require.NoError(t, err)
	original := byAddress(run)["0xc"]
	require.Equal(t, domain.FailureTimeout, original.FailureKind)

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureTimeout, byAddress(stored)["0xc"].FailureKind)

	ledger.setFn(nil)
	before := len(ledger.Calls())
	child, err := s.RetryFailed(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, child.Records, 1)
	assert.Equal(t, original.RequestID, child.Records[0].RequestID)
	assert.Equal(t, domain.RunCompleted, child.Status)

	calls := ledger.Calls()[before:]
	require.Len(t, calls, 1)
	assert.Equal(t, original.RequestID, calls[0].RequestID)
}

func TestRetryFailed_MixedFailuresOnlyOnce(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	s.TransferTimeout = 50 * time.Millisecond
	ledger.setFn(func(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
		switch req.Recipient {
		case "0xb":
			return domain.TransferResult{}, fmt.Errorf("%w: insufficient funds", domain.ErrTransferFailed)
		case "0xc":
			<-ctx.Done()
			return domain.TransferResult{}, ctx.Err()
		}
		return domain.TransferResult{Success: true, TransactionRef: "ok"}, nil
	})
	run, err := s.Execute(context.Background(), input())
	require.NoError(t, err)
	parent := byAddress(run)

	ledger.setFn(nil)
	child, err := s.RetryFailed(context.Background(), run.ID)
	require.NoError(t, err)
	kids := byAddress(child)
	require.Len(t, kids, 2)
	assert.NotEqual(t, parent["0xb"].RequestID, kids["0xb"].RequestID)
	assert.Equal(t, parent["0xc"].RequestID, kids["0xc"].RequestID)
	assert.Equal(t, int64(5000), child.DistributableAmount)

	_, err = s.RetryFailed(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrRunNotResumable)
	runs, err := s.ListRuns(context.Background(), "villa-7")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestExecute_RejectedResultMarksFailed(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	ledger.setFn(func(context.Context, domain.TransferRequest) (domain.TransferResult, error) {
		return domain.TransferResult{Success: false}, nil
	})
	run, err := s.Execute(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, 3, run.Counts()[domain.RecordFailed])
}

func TestExecute_CancellationStopsNewTransfers(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	s.Workers = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger.setFn(func(tctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
		cancel()
		// In-flight transfers are not cut short by the caller's cancellation.
		if tctx.Err() != nil {
			return domain.TransferResult{}, tctx.Err()
		}
		return domain.TransferResult{Success: true, TransactionRef: "ok"}, nil
	})

	run, err := s.Execute(ctx, input())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	counts := run.Counts()
	assert.Equal(t, 1, counts[domain.RecordDistributed])
	assert.Equal(t, 2, counts[domain.RecordPending])
	assert.Equal(t, domain.RunInterrupted, run.Status)

	stored, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunInterrupted, stored.Status)
	assert.Len(t, ledger.Calls(), 1)
}

func TestExecute_ZeroNetSkipsTransfer(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	in := input()
	in.TaxRates = flatRate("1")
	run, err := s.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 3, run.Counts()[domain.RecordDistributed])
	assert.Empty(t, ledger.Calls())
}

func TestExecute_InvalidRequestPersistsNothing(t *testing.T) {
	s, ledger, _ := setupDistributionTest(t)
	ctx := context.Background()

	minHolding := decimal.NewFromInt(90)
	in := input()
	in.Eligibility.MinHolding = &minHolding
	_, err := s.Execute(ctx, in)
	assert.ErrorIs(t, err, domain.ErrNoEligibleRecipients)

	in = input()
	in.TaxRates = flatRate("-0.1")
	_, err = s.Execute(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidTaxRate)

	in = input()
	in.Currency = ""
	_, err = s.Execute(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidDistribution)

	s.Directory = fakeDirectory{positions: []domain.Position{pos("0xa", "60", "", 0)}}
	_, err = s.Execute(ctx, input())
	assert.ErrorIs(t, err, domain.ErrInvalidSnapshot)

	runs, err := s.ListRuns(ctx, "villa-7")
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, ledger.Calls())

	_, err = s.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
