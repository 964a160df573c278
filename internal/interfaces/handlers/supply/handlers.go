package supply

import (
	supplysvc "fractions-backend/internal/application/supply"
	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/response"
	"fractions-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Service *supplysvc.Service
}

type calculateRequest struct {
	AssetValue decimal.Decimal                `json:"asset_value"`
	Method     domain.FractionalizationMethod `json:"method"`
	Params     supplysvc.Params               `json:"params"`
}

type tokenizeRequest struct {
	AssetValue *decimal.Decimal               `json:"asset_value"`
	Currency   string                         `json:"currency"`
	Method     domain.FractionalizationMethod `json:"method"`
	Params     supplysvc.Params               `json:"params"`
}

type adjustRequest struct {
	Type        domain.AdjustmentType `json:"type"`
	Amount      int64                 `json:"amount"`
	FromReserve bool                  `json:"from_reserve"`
	Reason      string                `json:"reason"`
}

// POST /api/v1/supply/calculate: dry run, nothing stored.
func (h *Handlers) Calculate(c *fiber.Ctx) error {
	var body calculateRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	s, err := h.Service.Calculate(body.AssetValue, body.Method, body.Params)
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Supply calculated", s, nil)
}

// POST /api/v1/assets/:asset_id/supply/tokenize
func (h *Handlers) Tokenize(c *fiber.Ctx) error {
	var body tokenizeRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	currency := validation.NormalizeCurrency(body.Currency)
	if currency != "" && !validation.IsCurrencyCode(currency) {
		return response.Error(c, "currency must be a three-letter code", fiber.StatusBadRequest, nil)
	}
	s, err := h.Service.Tokenize(c.UserContext(), supplysvc.TokenizeInput{
		AssetID:    c.Params("asset_id"),
		AssetValue: body.AssetValue,
		Currency:   currency,
		Method:     body.Method,
		Params:     body.Params,
	})
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.SuccessCreated(c, "Asset tokenized", s, nil)
}

// GET /api/v1/assets/:asset_id/supply
func (h *Handlers) Get(c *fiber.Ctx) error {
	s, err := h.Service.GetSupply(c.UserContext(), c.Params("asset_id"))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Supply fetched", s, fiber.Map{
		"unallocated_supply": s.Unallocated(),
	})
}

// POST /api/v1/assets/:asset_id/supply/adjustments
func (h *Handlers) Adjust(c *fiber.Ctx) error {
	var body adjustRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	s, err := h.Service.AdjustSupply(c.UserContext(), c.Params("asset_id"), supplysvc.AdjustInput{
		Type:        body.Type,
		Amount:      body.Amount,
		FromReserve: body.FromReserve,
		Reason:      body.Reason,
	})
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.SuccessCreated(c, "Supply adjusted", s, nil)
}

// GET /api/v1/assets/:asset_id/supply/adjustments
func (h *Handlers) ListAdjustments(c *fiber.Ctx) error {
	list, err := h.Service.ListAdjustments(c.UserContext(), c.Params("asset_id"))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Adjustments fetched", list, fiber.Map{"count": len(list)})
}
