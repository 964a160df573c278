package distribution

import (
	distsvc "fractions-backend/internal/application/distribution"
	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/response"
	"fractions-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Service *distsvc.Service
}

type eligibilityRequest struct {
	MinHolding           *decimal.Decimal `json:"min_holding"`
	MinHoldingPeriodDays *int             `json:"min_holding_period_days"`
}

type executeRequest struct {
	Amount      int64              `json:"amount"`
	Currency    string             `json:"currency"`
	Eligibility eligibilityRequest `json:"eligibility"`
	TaxRates    domain.TaxRates    `json:"tax_rates"`
}

func (r executeRequest) eligibility() domain.Eligibility {
	e := domain.Eligibility{MinHolding: r.Eligibility.MinHolding}
	if r.Eligibility.MinHoldingPeriodDays != nil {
		e.MinHoldingPeriod = distsvc.HoldingPeriodDays(*r.Eligibility.MinHoldingPeriodDays)
	}
	return e
}

// runResult renders a run. An error that still produced a run (ledger outage,
// cancellation) is reported with the run as details so callers can resume it.
func runResult(c *fiber.Ctx, msg string, created bool, run *domain.DistributionRun, err error) error {
	if err != nil {
		if run != nil {
			return response.FromError(c, err, fiber.Map{"run": run, "counts": run.Counts()})
		}
		return response.FromError(c, err, nil)
	}
	meta := fiber.Map{"counts": run.Counts()}
	if created {
		return response.SuccessCreated(c, msg, run, meta)
	}
	return response.Success(c, msg, run, meta)
}

func runID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	return id, err == nil
}

func badID(c *fiber.Ctx) error {
	return response.Error(c, "Invalid run ID format (must be a valid UUID)", fiber.StatusBadRequest, nil)
}

// POST /api/v1/assets/:asset_id/distributions
func (h *Handlers) Execute(c *fiber.Ctx) error {
	var body executeRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if body.Eligibility.MinHoldingPeriodDays != nil && *body.Eligibility.MinHoldingPeriodDays < 0 {
		return response.Error(c, "min_holding_period_days must not be negative", fiber.StatusBadRequest, nil)
	}
	currency := validation.NormalizeCurrency(body.Currency)
	if currency != "" && !validation.IsCurrencyCode(currency) {
		return response.Error(c, "currency must be a three-letter code", fiber.StatusBadRequest, nil)
	}
	run, err := h.Service.Execute(c.UserContext(), distsvc.ExecuteInput{
		AssetID:     c.Params("asset_id"),
		Amount:      body.Amount,
		Currency:    currency,
		Eligibility: body.eligibility(),
		TaxRates:    body.TaxRates,
	})
	return runResult(c, "Distribution executed", true, run, err)
}

// GET /api/v1/assets/:asset_id/distributions
func (h *Handlers) List(c *fiber.Ctx) error {
	runs, err := h.Service.ListRuns(c.UserContext(), c.Params("asset_id"))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Distribution runs fetched", runs, fiber.Map{"count": len(runs)})
}

// GET /api/v1/distributions/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, ok := runID(c)
	if !ok {
		return badID(c)
	}
	run, err := h.Service.GetRun(c.UserContext(), id)
	return runResult(c, "Distribution run fetched", false, run, err)
}

// POST /api/v1/distributions/:id/resume
func (h *Handlers) Resume(c *fiber.Ctx) error {
	id, ok := runID(c)
	if !ok {
		return badID(c)
	}
	run, err := h.Service.Resume(c.UserContext(), id)
	return runResult(c, "Distribution run resumed", false, run, err)
}

// POST /api/v1/distributions/:id/retry-failed
func (h *Handlers) RetryFailed(c *fiber.Ctx) error {
	id, ok := runID(c)
	if !ok {
		return badID(c)
	}
	run, err := h.Service.RetryFailed(c.UserContext(), id)
	return runResult(c, "Retry run executed", true, run, err)
}
