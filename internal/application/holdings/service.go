package holdings

import (
	"context"
	"fmt"
	"strings"

	"fractions-backend/internal/domain"

	"gorm.io/gorm"
)

// Service is the gorm-backed Ownership Directory. It reads the Holdings table
// and never writes ownership on behalf of the engine.
type Service struct {
	DB *gorm.DB
}

// GetCurrentOwnership returns the positions of an asset ordered by owner address.
func (s *Service) GetCurrentOwnership(ctx context.Context, assetID string) ([]domain.Position, error) {
	holdings, err := s.ListHoldings(ctx, assetID)
	if err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(holdings))
	for _, h := range holdings {
		positions = append(positions, domain.Position{
			OwnerAddress:        h.OwnerAddress,
			OwnershipPercentage: h.OwnershipPercentage,
			Jurisdiction:        h.Jurisdiction,
			AcquisitionDate:     h.AcquisitionDate,
		})
	}
	return positions, nil
}

// ListHoldings returns raw holdings rows for an asset.
func (s *Service) ListHoldings(ctx context.Context, assetID string) ([]domain.Holding, error) {
	if strings.TrimSpace(assetID) == "" {
		return nil, domain.ErrInvalidAssetID
	}
	var holdings []domain.Holding
	if err := s.DB.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("owner_address ASC").
		Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOwnershipUnavailable, err)
	}
	return holdings, nil
}
