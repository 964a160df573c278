package supply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/infrastructure/assetlock"
	"fractions-backend/internal/pkg/clock"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service persists token supplies and their append-only adjustment ledger.
type Service struct {
	DB       *gorm.DB
	Oracle   domain.ValuationOracle
	Locker   assetlock.Locker
	Clock    clock.Clock
	Defaults Defaults
}

type TokenizeInput struct {
	AssetID string
	// AssetValue overrides the oracle when set.
	AssetValue *decimal.Decimal
	Currency   string
	Method     domain.FractionalizationMethod
	Params     Params
}

type AdjustInput struct {
	Type        domain.AdjustmentType
	Amount      int64
	FromReserve bool
	Reason      string
}

func (s *Service) clk() clock.Clock {
	if s.Clock == nil {
		return clock.New()
	}
	return s.Clock
}

func (s *Service) locker() assetlock.Locker {
	if s.Locker == nil {
		return assetlock.Noop{}
	}
	return s.Locker
}

func (s *Service) defaults() Defaults {
	if s.Defaults == (Defaults{}) {
		return DefaultDefaults()
	}
	return s.Defaults
}

// Calculate runs CalculateSupply with the service defaults.
func (s *Service) Calculate(assetValue decimal.Decimal, method domain.FractionalizationMethod, params Params) (*domain.TokenSupply, error) {
	return CalculateSupply(assetValue, method, params, s.defaults())
}

// Tokenize computes and stores the initial supply for an asset, recording the
// genesis mint and reserve entries. An asset is tokenized at most once.
func (s *Service) Tokenize(ctx context.Context, in TokenizeInput) (*domain.TokenSupply, error) {
	if strings.TrimSpace(in.AssetID) == "" {
		return nil, domain.ErrInvalidAssetID
	}
	release, err := s.locker().Lock(ctx, in.AssetID)
	if err != nil {
		return nil, err
	}
	defer release()

	value, currency := decimal.Zero, in.Currency
	if in.AssetValue != nil {
		value = *in.AssetValue
	} else {
		if s.Oracle == nil {
			return nil, domain.Wrap(domain.ErrValuationUnavailable, "no oracle configured")
		}
		v, err := s.Oracle.GetLatestValue(ctx, in.AssetID)
		if err != nil {
			return nil, err
		}
		value = v.Value
		if currency == "" {
			currency = v.Currency
		}
	}

	supply, err := s.Calculate(value, in.Method, in.Params)
	if err != nil {
		return nil, err
	}
	supply.AssetID = in.AssetID
	supply.Currency = currency
	now := s.clk().Now()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.TokenSupply{}).Where("asset_id = ?", in.AssetID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.Wrap(domain.ErrSupplyExists, "asset %s", in.AssetID)
		}
		if err := tx.Create(supply).Error; err != nil {
			return fmt.Errorf("create token supply: %w", err)
		}
		entries := []domain.SupplyAdjustment{{
			AssetID:    in.AssetID,
			Seq:        1,
			Type:       domain.AdjustmentMint,
			Amount:     supply.TotalSupply,
			Reason:     "tokenization",
			TotalAfter: supply.TotalSupply,
			Timestamp:  now,
		}}
		if supply.ReservedSupply > 0 {
			entries = append(entries, domain.SupplyAdjustment{
				AssetID:       in.AssetID,
				Seq:           2,
				Type:          domain.AdjustmentReserve,
				Amount:        supply.ReservedSupply,
				Reason:        "tokenization reserve",
				TotalAfter:    supply.TotalSupply,
				ReservedAfter: supply.ReservedSupply,
				Timestamp:     now,
			})
		}
		if err := tx.Create(&entries).Error; err != nil {
			return fmt.Errorf("record genesis adjustments: %w", err)
		}
		supply.Adjustments = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("asset_id", in.AssetID).
		Str("method", string(in.Method)).
		Int64("total_supply", supply.TotalSupply).
		Int64("reserved_supply", supply.ReservedSupply).
		Msg("Asset tokenized")
	return supply, nil
}

// AdjustSupply validates and applies one adjustment. The ledger row and the
// counter update commit together or not at all.
func (s *Service) AdjustSupply(ctx context.Context, assetID string, in AdjustInput) (*domain.TokenSupply, error) {
	if strings.TrimSpace(assetID) == "" {
		return nil, domain.ErrInvalidAssetID
	}
	if !in.Type.Valid() {
		return nil, domain.ErrInvalidAdjustmentType
	}
	if in.Amount <= 0 {
		return nil, domain.ErrNonPositiveAmount
	}
	release, err := s.locker().Lock(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer release()

	var supply domain.TokenSupply
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_id = ?", assetID).First(&supply).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Wrap(domain.ErrSupplyNotFound, "asset %s", assetID)
			}
			return err
		}
		if err := apply(&supply, in.Type, in.Amount, in.FromReserve); err != nil {
			return err
		}

		var lastSeq int64
		if err := tx.Model(&domain.SupplyAdjustment{}).
			Where("asset_id = ?", assetID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&lastSeq).Error; err != nil {
			return err
		}
		entry := domain.SupplyAdjustment{
			AssetID:          assetID,
			Seq:              lastSeq + 1,
			Type:             in.Type,
			Amount:           in.Amount,
			FromReserve:      in.FromReserve,
			Reason:           in.Reason,
			TotalAfter:       supply.TotalSupply,
			CirculatingAfter: supply.CirculatingSupply,
			ReservedAfter:    supply.ReservedSupply,
			BurnedAfter:      supply.BurnedSupply,
			Timestamp:        s.clk().Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("record adjustment: %w", err)
		}
		return tx.Model(&domain.TokenSupply{}).
			Where("asset_id = ?", assetID).
			Updates(map[string]interface{}{
				"total_supply":       supply.TotalSupply,
				"circulating_supply": supply.CirculatingSupply,
				"reserved_supply":    supply.ReservedSupply,
				"burned_supply":      supply.BurnedSupply,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("asset_id", assetID).
		Str("type", string(in.Type)).
		Int64("amount", in.Amount).
		Int64("total_supply", supply.TotalSupply).
		Int64("circulating_supply", supply.CirculatingSupply).
		Msg("Supply adjusted")
	return &supply, nil
}

func (s *Service) GetSupply(ctx context.Context, assetID string) (*domain.TokenSupply, error) {
	var supply domain.TokenSupply
	if err := s.DB.WithContext(ctx).Where("asset_id = ?", assetID).First(&supply).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Wrap(domain.ErrSupplyNotFound, "asset %s", assetID)
		}
		return nil, err
	}
	return &supply, nil
}

// ListAdjustments returns the ledger in application order.
func (s *Service) ListAdjustments(ctx context.Context, assetID string) ([]domain.SupplyAdjustment, error) {
	if _, err := s.GetSupply(ctx, assetID); err != nil {
		return nil, err
	}
	var entries []domain.SupplyAdjustment
	if err := s.DB.WithContext(ctx).Where("asset_id = ?", assetID).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
