package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	distsvc "fractions-backend/internal/application/distribution"
	holdingsvc "fractions-backend/internal/application/holdings"
	"fractions-backend/internal/domain"
	"fractions-backend/internal/infrastructure/assetlock"
	"fractions-backend/internal/infrastructure/database"
	"fractions-backend/internal/infrastructure/notify"
	"fractions-backend/internal/pkg/clock"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var runAt = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

type scriptedLedger struct {
	mu   sync.Mutex
	fail map[string]error
}

func (l *scriptedLedger) set(addr string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail == nil {
		l.fail = map[string]error{}
	}
	if err == nil {
		delete(l.fail, addr)
		return
	}
	l.fail[addr] = err
}

func (l *scriptedLedger) Transfer(_ context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	l.mu.Lock()
	err := l.fail[req.Recipient]
	l.mu.Unlock()
	if err != nil {
		return domain.TransferResult{}, err
	}
	return domain.TransferResult{Success: true, TransactionRef: "tx-" + req.Recipient}, nil
}

func setupDistributionApp(t *testing.T) (*fiber.App, *scriptedLedger) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	acquired := runAt.AddDate(-1, 0, 0)
	for addr, pct := range map[string]int64{"0xa": 50, "0xb": 30, "0xc": 20} {
		require.NoError(t, db.Create(&domain.Holding{AssetID: "villa-7", OwnerAddress: addr, OwnershipPercentage: decimal.NewFromInt(pct), Jurisdiction: "US", AcquisitionDate: acquired}).Error)
	}

	ledger := &scriptedLedger{}
	h := &Handlers{Service: &distsvc.Service{
		DB:              db,
		Directory:       &holdingsvc.Service{DB: db},
		Ledger:          ledger,
		Notifier:        &notify.Recorder{},
		Locker:          assetlock.NewMemory(),
		Clock:           clock.Fixed{T: runAt},
		Workers:         2,
		TransferTimeout: time.Second,
	}}
	app := fiber.New()
	app.Post("/assets/:asset_id/distributions", h.Execute)
	app.Get("/assets/:asset_id/distributions", h.List)
	app.Get("/distributions/:id", h.Get)
	app.Post("/distributions/:id/resume", h.Resume)
	app.Post("/distributions/:id/retry-failed", h.RetryFailed)
	return app, ledger
}

func do(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, map[string]interface{}) {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

var payout = map[string]interface{}{
	"amount":    10000,
	"currency":  "usd",
	"tax_rates": map[string]interface{}{"default": "0.15"},
}

func counts(m map[string]interface{}) map[string]interface{} {
	return m["counts"].(map[string]interface{})
}

func TestExecute_CompletesAndLists(t *testing.T) {
	app, _ := setupDistributionApp(t)

	code, out := do(t, app, "POST", "/assets/villa-7/distributions", payout)
	require.Equal(t, 201, code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "USD", data["currency"])
	assert.Equal(t, float64(3), counts(out["metadata"].(map[string]interface{}))["distributed"])
	records := data["records"].([]interface{})
	require.Len(t, records, 3)
	assert.Equal(t, float64(4250), records[0].(map[string]interface{})["net_amount"])

	code, out = do(t, app, "GET", "/distributions/"+data["id"].(string), nil)
	assert.Equal(t, 200, code)

	code, out = do(t, app, "GET", "/assets/villa-7/distributions", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, float64(1), out["metadata"].(map[string]interface{})["count"])
}

func TestRetryFailed_ChildRun(t *testing.T) {
	app, ledger := setupDistributionApp(t)
	ledger.set("0xb", errors.New("account frozen"))

	code, out := do(t, app, "POST", "/assets/villa-7/distributions", payout)
	require.Equal(t, 201, code)
	parentID := out["data"].(map[string]interface{})["id"].(string)
	assert.Equal(t, float64(1), counts(out["metadata"].(map[string]interface{}))["failed"])

	ledger.set("0xb", nil)
	code, out = do(t, app, "POST", "/distributions/"+parentID+"/retry-failed", nil)
	require.Equal(t, 201, code)
	child := out["data"].(map[string]interface{})
	assert.Equal(t, parentID, child["parent_run_id"])
	assert.Equal(t, float64(3000), child["distributable_amount"])
	assert.Equal(t, "completed", child["status"])

	code, _ = do(t, app, "POST", "/distributions/"+child["id"].(string)+"/retry-failed", nil)
	assert.Equal(t, 422, code)

	code, _ = do(t, app, "POST", "/distributions/"+parentID+"/retry-failed", nil)
	assert.Equal(t, 422, code)
}

func TestLedgerOutage_ReturnsRunForResume(t *testing.T) {
	app, ledger := setupDistributionApp(t)
	for _, addr := range []string{"0xa", "0xb", "0xc"} {
		ledger.set(addr, domain.ErrLedgerUnavailable)
	}

	code, out := do(t, app, "POST", "/assets/villa-7/distributions", payout)
	require.Equal(t, 502, code)
	details := out["error"].(map[string]interface{})["details"].(map[string]interface{})
	run := details["run"].(map[string]interface{})
	assert.Equal(t, "interrupted", run["status"])
	assert.Equal(t, float64(3), counts(details)["pending"])

	for _, addr := range []string{"0xa", "0xb", "0xc"} {
		ledger.set(addr, nil)
	}
	code, out = do(t, app, "POST", "/distributions/"+run["id"].(string)+"/resume", nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "completed", out["data"].(map[string]interface{})["status"])
}

func TestExecute_BadRequests(t *testing.T) {
	app, _ := setupDistributionApp(t)

	code, _ := do(t, app, "POST", "/assets/villa-7/distributions", map[string]interface{}{"amount": 0, "currency": "USD"})
	assert.Equal(t, 400, code)

	code, _ = do(t, app, "POST", "/assets/villa-7/distributions", map[string]interface{}{
		"amount": 100, "currency": "USD", "eligibility": map[string]interface{}{"min_holding_period_days": -1},
	})
	assert.Equal(t, 400, code)

	code, _ = do(t, app, "POST", "/assets/villa-7/distributions", map[string]interface{}{
		"amount": 100, "currency": "USD", "eligibility": map[string]interface{}{"min_holding": "90"},
	})
	assert.Equal(t, 422, code)

	code, _ = do(t, app, "GET", "/distributions/nope", nil)
	assert.Equal(t, 400, code)
	code, _ = do(t, app, "GET", "/distributions/6f1c2b1e-8a0e-4d7f-9f44-1b3f2a9c0d11", nil)
	assert.Equal(t, 404, code)
}
