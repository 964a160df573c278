package holdings

import (
	"context"
	"testing"
	"time"

	"fractions-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupHoldingsTest(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Holding{}))
	return &Service{DB: db}
}

func TestGetCurrentOwnership_OrderedPositions(t *testing.T) {
	s := setupHoldingsTest(t)
	acquired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, h := range []domain.Holding{
		{AssetID: "asset-1", OwnerAddress: "0xbbb", OwnershipPercentage: decimal.NewFromInt(40), Jurisdiction: "DE", AcquisitionDate: acquired},
		{AssetID: "asset-1", OwnerAddress: "0xaaa", OwnershipPercentage: decimal.NewFromInt(60), Jurisdiction: "US", AcquisitionDate: acquired},
		{AssetID: "asset-2", OwnerAddress: "0xccc", OwnershipPercentage: decimal.NewFromInt(100), AcquisitionDate: acquired},
	} {
		h := h
		require.NoError(t, s.DB.Create(&h).Error)
	}

	positions, err := s.GetCurrentOwnership(context.Background(), "asset-1")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "0xaaa", positions[0].OwnerAddress)
	assert.True(t, positions[0].OwnershipPercentage.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, "US", positions[0].Jurisdiction)
	assert.Equal(t, "0xbbb", positions[1].OwnerAddress)
}

func TestGetCurrentOwnership_EmptyAssetID(t *testing.T) {
	s := setupHoldingsTest(t)
	_, err := s.GetCurrentOwnership(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidAssetID)
}

func TestGetCurrentOwnership_NoHoldings(t *testing.T) {
	s := setupHoldingsTest(t)
	positions, err := s.GetCurrentOwnership(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, positions)
}
