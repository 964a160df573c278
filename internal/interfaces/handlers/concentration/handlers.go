package concentration

import (
	"time"

	concsvc "fractions-backend/internal/application/concentration"
	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *concsvc.Service
}

type analyzeRequest struct {
	AssetID   string            `json:"asset_id"`
	Positions []domain.Position `json:"positions"`
}

// GET /api/v1/assets/:asset_id/concentration analyses the directory's current owners.
func (h *Handlers) ForAsset(c *fiber.Ctx) error {
	snap, err := h.Service.AnalyzeAsset(c.UserContext(), c.Params("asset_id"))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Concentration analysed", snap, nil)
}

// POST /api/v1/concentration/analyze analyses a caller-supplied snapshot.
func (h *Handlers) Analyze(c *fiber.Ctx) error {
	var body analyzeRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	snap, err := concsvc.Analyze(domain.NewOwnershipSnapshot(body.AssetID, time.Now().UTC(), body.Positions))
	if err != nil {
		return response.FromError(c, err, nil)
	}
	return response.Success(c, "Concentration analysed", snap, nil)
}
