// Package concentration scores how concentrated an asset's ownership is.
package concentration

import (
	"context"
	"sort"

	"fractions-backend/internal/domain"
	"fractions-backend/internal/pkg/clock"

	"github.com/rs/zerolog/log"
)

// HHI thresholds for the concentration levels.
const (
	HighThreshold     = 0.25
	ModerateThreshold = 0.15
)

// Level buckets an HHI value.
func Level(hhi float64) domain.ConcentrationLevel {
	switch {
	case hhi > HighThreshold:
		return domain.ConcentrationHigh
	case hhi > ModerateThreshold:
		return domain.ConcentrationModerate
	default:
		return domain.ConcentrationDiversified
	}
}

// Analyze computes HHI, Gini and the largest owner of a validated snapshot.
// It keeps no state and is safe to call concurrently.
func Analyze(snap domain.OwnershipSnapshot) (domain.ConcentrationSnapshot, error) {
	if err := snap.Validate(); err != nil {
		return domain.ConcentrationSnapshot{}, err
	}

	n := len(snap.Positions)
	shares := make([]float64, n)
	var hhi, total float64
	largest := snap.Positions[0]
	for i, p := range snap.Positions {
		v := p.OwnershipPercentage.InexactFloat64()
		shares[i] = v
		total += v
		f := v / 100
		hhi += f * f
		cmp := p.OwnershipPercentage.Cmp(largest.OwnershipPercentage)
		if cmp > 0 || (cmp == 0 && p.OwnerAddress < largest.OwnerAddress) {
			largest = p
		}
	}

	return domain.ConcentrationSnapshot{
		AssetID:                snap.AssetID,
		HerfindahlIndex:        hhi,
		GiniCoefficient:        gini(shares, total),
		LargestOwnerPercentage: largest.OwnershipPercentage.InexactFloat64(),
		LargestOwnerAddress:    largest.OwnerAddress,
		OwnerCount:             n,
		ConcentrationLevel:     Level(hhi),
	}, nil
}

// gini uses the sorted-rank form: Σ (2i−n−1)·x_i / (n·Σx) over ascending x, i from 1.
func gini(shares []float64, total float64) float64 {
	n := len(shares)
	if n < 2 || total == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, shares)
	sort.Float64s(sorted)
	var acc float64
	for i, x := range sorted {
		acc += float64(2*(i+1)-n-1) * x
	}
	return acc / (float64(n) * total)
}

// Service analyses the directory's current ownership of an asset.
type Service struct {
	Directory domain.OwnershipDirectory
	Clock     clock.Clock
}

func (s *Service) AnalyzeAsset(ctx context.Context, assetID string) (domain.ConcentrationSnapshot, error) {
	if assetID == "" {
		return domain.ConcentrationSnapshot{}, domain.ErrInvalidAssetID
	}
	positions, err := s.Directory.GetCurrentOwnership(ctx, assetID)
	if err != nil {
		return domain.ConcentrationSnapshot{}, err
	}
	now := clock.New().Now()
	if s.Clock != nil {
		now = s.Clock.Now()
	}
	out, err := Analyze(domain.NewOwnershipSnapshot(assetID, now, positions))
	if err != nil {
		return out, err
	}
	log.Debug().
		Str("asset_id", assetID).
		Float64("hhi", out.HerfindahlIndex).
		Float64("gini", out.GiniCoefficient).
		Str("level", string(out.ConcentrationLevel)).
		Msg("Concentration analysed")
	return out, nil
}
