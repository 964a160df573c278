package vesting

import (
	"context"
	"time"

	vestingsvc "fractions-backend/internal/application/vesting"
	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/clock"
	"fractions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *vestingsvc.Service
	Clock   clock.Clock
}

type scheduleRequest struct {
	Beneficiary string     `json:"beneficiary"`
	TotalAmount int64      `json:"total_amount"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
	CliffDate   *time.Time `json:"cliff_date"`
}

func (h *Handlers) now() time.Time {
	if h.Clock == nil {
		return clock.New().Now()
	}
	return h.Clock.Now()
}

func scheduleID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	return id, err == nil
}

func badID(c *fiber.Ctx) error {
	return response.Error(c, "Invalid schedule ID format (must be a valid UUID)", fiber.StatusBadRequest, nil)
}

// POST /api/v1/vesting/preview: release entries without storing anything.
func (h *Handlers) Preview(c *fiber.Ctx) error {
	var body scheduleRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	entries, err := vestingsvc.GenerateSchedule(body.TotalAmount, body.StartDate, body.EndDate, body.CliffDate)
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Release schedule generated", entries, fiber.Map{
		"count":         len(entries),
		"claimable_now": vestingsvc.Claimable(entries, h.now()),
	})
}

// POST /api/v1/assets/:asset_id/vesting-schedules
func (h *Handlers) Create(c *fiber.Ctx) error {
	var body scheduleRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	v, err := h.Service.CreateSchedule(c.UserContext(), vestingsvc.CreateScheduleInput{
		AssetID:     c.Params("asset_id"),
		Beneficiary: body.Beneficiary,
		TotalAmount: body.TotalAmount,
		StartDate:   body.StartDate,
		EndDate:     body.EndDate,
		CliffDate:   body.CliffDate,
	})
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.SuccessCreated(c, "Vesting schedule created", v, nil)
}

// GET /api/v1/assets/:asset_id/vesting-schedules?beneficiary=
func (h *Handlers) List(c *fiber.Ctx) error {
	list, err := h.Service.ListSchedules(c.UserContext(), c.Params("asset_id"), c.Query("beneficiary"))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Vesting schedules fetched", list, fiber.Map{"count": len(list)})
}

// GET /api/v1/vesting-schedules/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, ok := scheduleID(c)
	if !ok {
		return badID(c)
	}
	v, err := h.Service.GetSchedule(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Vesting schedule fetched", v, fiber.Map{
		"claimable_now": vestingsvc.Claimable(v.Entries, h.now()),
	})
}

// POST /api/v1/vesting-schedules/:id/claim
func (h *Handlers) Claim(c *fiber.Ctx) error {
	id, ok := scheduleID(c)
	if !ok {
		return badID(c)
	}
	res, err := h.Service.Claim(c.UserContext(), id, h.now())
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Vesting claimed", res, nil)
}

// POST /api/v1/vesting-schedules/:id/pause
func (h *Handlers) Pause(c *fiber.Ctx) error {
	return h.transition(c, "Vesting schedule paused", h.Service.Pause)
}

// POST /api/v1/vesting-schedules/:id/resume
func (h *Handlers) Resume(c *fiber.Ctx) error {
	return h.transition(c, "Vesting schedule resumed", h.Service.Resume)
}

// POST /api/v1/vesting-schedules/:id/cancel
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	return h.transition(c, "Vesting schedule cancelled", h.Service.Cancel)
}

func (h *Handlers) transition(c *fiber.Ctx, msg string, fn func(ctx context.Context, id uuid.UUID) (*domain.VestingSchedule, error)) error {
	id, ok := scheduleID(c)
	if !ok {
		return badID(c)
	}
	v, err := fn(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, msg, v, nil)
}
