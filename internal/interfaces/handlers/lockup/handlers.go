package lockup

import (
	"context"
	"time"

	lockupsvc "fractions-backend/internal/application/lockup"
	"fractions-backend/internal/domain"
	"fractions-backend/internal/middleware"
	"fractions-backend/internal/pkg/clock"
	"fractions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *lockupsvc.Service
	Clock   clock.Clock
}

type createRequest struct {
	Holder        string                     `json:"holder"`
	Amount        int64                      `json:"amount"`
	LockStartDate time.Time                  `json:"lock_start_date"`
	LockEndDate   time.Time                  `json:"lock_end_date"`
	Conditions    []lockupsvc.ConditionInput `json:"unlock_conditions"`
}

type decisionRequest struct {
	Authority string `json:"authority"`
}

func (h *Handlers) now() time.Time {
	if h.Clock == nil {
		return clock.New().Now()
	}
	return h.Clock.Now()
}

// POST /api/v1/assets/:asset_id/lockups
func (h *Handlers) Create(c *fiber.Ctx) error {
	var body createRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	l, err := h.Service.CreateLockup(c.UserContext(), lockupsvc.CreateLockupInput{
		AssetID:       c.Params("asset_id"),
		Holder:        body.Holder,
		Amount:        body.Amount,
		LockStartDate: body.LockStartDate,
		LockEndDate:   body.LockEndDate,
		Conditions:    body.Conditions,
	})
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.SuccessCreated(c, "Lockup created", l, nil)
}

// GET /api/v1/assets/:asset_id/lockups?holder=&status=
func (h *Handlers) List(c *fiber.Ctx) error {
	list, err := h.Service.ListLockups(c.UserContext(), c.Params("asset_id"), c.Query("holder"), domain.LockupStatus(c.Query("status")))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Lockups fetched", list, fiber.Map{"count": len(list)})
}

// GET /api/v1/lockups/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid lockup ID format (must be a valid UUID)", fiber.StatusBadRequest, nil)
	}
	l, err := h.Service.GetLockup(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Lockup fetched", l, nil)
}

// POST /api/v1/lockups/:id/conditions/:condition_id/satisfy
func (h *Handlers) Satisfy(c *fiber.Ctx) error {
	return h.decide(c, "Unlock condition satisfied", h.Service.SatisfyCondition)
}

// POST /api/v1/lockups/:id/conditions/:condition_id/revoke
func (h *Handlers) Revoke(c *fiber.Ctx) error {
	return h.decide(c, "Unlock condition revoked", h.Service.RevokeCondition)
}

func (h *Handlers) decide(c *fiber.Ctx, msg string, fn func(ctx context.Context, lockupID, conditionID uuid.UUID, authority string) (*domain.LockupPeriod, error)) error {
	lockupID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid lockup ID format (must be a valid UUID)", fiber.StatusBadRequest, nil)
	}
	conditionID, err := uuid.Parse(c.Params("condition_id"))
	if err != nil {
		return response.Error(c, "Invalid condition ID format (must be a valid UUID)", fiber.StatusBadRequest, nil)
	}
	var body decisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
		}
	}
	if body.Authority == "" {
		body.Authority = middleware.GetOperator(c)
	}
	l, err := fn(c.UserContext(), lockupID, conditionID, body.Authority)
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, msg, l, nil)
}

// POST /api/v1/lockups/check-unlocks runs the same pass as the background sweeper.
func (h *Handlers) CheckUnlocks(c *fiber.Ctx) error {
	entries, err := h.Service.CheckUnlocks(c.UserContext(), h.now())
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Unlock check complete", entries, fiber.Map{"unlocked": len(entries)})
}
