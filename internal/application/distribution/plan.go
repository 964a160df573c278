package distribution

import (
	"sort"
	"time"

	"fractions-backend/internal/domain"

	"github.com/shopspring/decimal"
)

// Eligible filters snapshot positions by the minimum holding and holding period.
// Zero-share positions are never eligible.
func Eligible(snap domain.OwnershipSnapshot, e domain.Eligibility) []domain.Position {
	out := make([]domain.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if !p.OwnershipPercentage.IsPositive() {
			continue
		}
		if e.MinHolding != nil && p.OwnershipPercentage.LessThan(*e.MinHolding) {
			continue
		}
		if e.MinHoldingPeriod != nil && snap.TakenAt.Sub(p.AcquisitionDate) < *e.MinHoldingPeriod {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Plan computes pending records for a run. Entitlements are
// floor(amount × p / Σp) over eligible holders; the rounding remainder goes to
// the largest holder, ties broken by the smallest address, so entitlements
// always sum to amount. Records are ordered by recipient address.
func Plan(snap domain.OwnershipSnapshot, amount int64, e domain.Eligibility, rates domain.TaxRates) ([]domain.DistributionRecord, error) {
	if amount <= 0 {
		return nil, domain.Wrap(domain.ErrInvalidDistribution, "distributable amount must be positive")
	}
	if e.MinHolding != nil && e.MinHolding.IsNegative() {
		return nil, domain.Wrap(domain.ErrInvalidDistribution, "min_holding must not be negative")
	}
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	eligible := Eligible(snap, e)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleRecipients
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].OwnerAddress < eligible[j].OwnerAddress })

	share := decimal.Zero
	for _, p := range eligible {
		share = share.Add(p.OwnershipPercentage)
	}

	total := decimal.NewFromInt(amount)
	records := make([]domain.DistributionRecord, len(eligible))
	largest := 0
	var assigned int64
	for i, p := range eligible {
		q, _ := total.Mul(p.OwnershipPercentage).QuoRem(share, 0)
		entitled := q.IntPart()
		assigned += entitled
		records[i] = domain.DistributionRecord{
			RecipientAddress:    p.OwnerAddress,
			OwnershipPercentage: p.OwnershipPercentage,
			Jurisdiction:        p.Jurisdiction,
			EntitledAmount:      entitled,
			Status:              domain.RecordPending,
		}
		// eligible is sorted by address, so strict > keeps the smallest address on ties.
		if p.OwnershipPercentage.GreaterThan(eligible[largest].OwnershipPercentage) {
			largest = i
		}
	}
	records[largest].EntitledAmount += amount - assigned

	for i := range records {
		withhold(&records[i], rates.RateFor(records[i].Jurisdiction))
	}
	return records, nil
}

// withhold sets tax = round(entitled × rate) and net = entitled − tax.
func withhold(r *domain.DistributionRecord, rate decimal.Decimal) {
	r.TaxRate = rate
	r.TaxWithheld = decimal.NewFromInt(r.EntitledAmount).Mul(rate).Round(0).IntPart()
	r.NetAmount = r.EntitledAmount - r.TaxWithheld
}

// HoldingPeriodDays converts a day count to a minimum holding period; zero means none.
func HoldingPeriodDays(days int) *time.Duration {
	if days <= 0 {
		return nil
	}
	d := time.Duration(days) * 24 * time.Hour
	return &d
}
