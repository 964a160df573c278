package holdings

import (
	holdingsvc "fractions-backend/internal/application/holdings"
	"fractions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Handlers bundles holdings handlers.
type Handlers struct {
	Service *holdingsvc.Service
}

// GET /api/v1/assets/:asset_id/holdings
func (h *Handlers) List(c *fiber.Ctx) error {
	list, err := h.Service.ListHoldings(c.UserContext(), c.Params("asset_id"))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Holdings fetched", list, fiber.Map{"count": len(list)})
}
