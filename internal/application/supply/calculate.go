package supply

import (
	"encoding/json"
	"math"

	"fractions-backend/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MaxMarketAdjustment bounds dynamic_pricing's market adjustment to ±20%.
var MaxMarketAdjustment = decimal.RequireFromString("0.20")

var (
	one        = decimal.NewFromInt(1)
	hundred    = decimal.NewFromInt(100)
	maxInt64   = decimal.NewFromInt(math.MaxInt64)
	defaultPct = decimal.NewFromInt(10)
)

// Params are the method inputs plus the ordered adjustment factors.
// Nil factors and reserve percent take Defaults.
type Params struct {
	TargetTokenPrice decimal.Decimal  `json:"target_token_price"`
	MarketAdjustment decimal.Decimal  `json:"market_adjustment"`
	TargetSupply     int64            `json:"target_supply"`
	LiquidityBuffer  *decimal.Decimal `json:"liquidity_buffer,omitempty"`
	CommunityReserve *decimal.Decimal `json:"community_reserve,omitempty"`
	StabilityMargin  *decimal.Decimal `json:"stability_margin,omitempty"`
	ReservePercent   *decimal.Decimal `json:"reserve_percent,omitempty"`
	MaxSupply        int64            `json:"max_supply,omitempty"`
}

// Defaults fill factors a caller leaves unset.
type Defaults struct {
	LiquidityBuffer  decimal.Decimal
	CommunityReserve decimal.Decimal
	StabilityMargin  decimal.Decimal
	ReservePercent   decimal.Decimal
}

// DefaultDefaults applies no factors and reserves 10%.
func DefaultDefaults() Defaults {
	return Defaults{ReservePercent: defaultPct}
}

func pick(v *decimal.Decimal, d decimal.Decimal) decimal.Decimal {
	if v != nil {
		return *v
	}
	return d
}

// Resolved returns params with every factor set.
func (p Params) Resolved(d Defaults) Params {
	l := pick(p.LiquidityBuffer, d.LiquidityBuffer)
	c := pick(p.CommunityReserve, d.CommunityReserve)
	s := pick(p.StabilityMargin, d.StabilityMargin)
	r := pick(p.ReservePercent, d.ReservePercent)
	p.LiquidityBuffer, p.CommunityReserve, p.StabilityMargin, p.ReservePercent = &l, &c, &s, &r
	return p
}

// basePrice returns the per-token price used for the base division.
func basePrice(value decimal.Decimal, method domain.FractionalizationMethod, p Params) (decimal.Decimal, error) {
	switch method {
	case domain.MethodFixedPrice:
		if !p.TargetTokenPrice.IsPositive() {
			return decimal.Zero, domain.ErrNonPositivePrice
		}
		return p.TargetTokenPrice, nil
	case domain.MethodDynamicPricing:
		if !p.TargetTokenPrice.IsPositive() {
			return decimal.Zero, domain.ErrNonPositivePrice
		}
		if p.MarketAdjustment.Abs().GreaterThan(MaxMarketAdjustment) {
			return decimal.Zero, domain.Wrap(domain.ErrInvalidParams, "market_adjustment %s outside ±%s", p.MarketAdjustment, MaxMarketAdjustment)
		}
		return p.TargetTokenPrice.Mul(one.Add(p.MarketAdjustment)), nil
	case domain.MethodTargetSupply:
		if p.TargetSupply <= 0 {
			return decimal.Zero, domain.Wrap(domain.ErrInvalidParams, "target_supply must be positive")
		}
		return value.DivRound(decimal.NewFromInt(p.TargetSupply), 8), nil
	}
	return decimal.Zero, domain.ErrInvalidMethod
}

// CalculateSupply derives a fresh TokenSupply. The base supply is multiplied by
// (1+liquidityBuffer), then (1+communityReserve), then (1+stabilityMargin),
// flooring after each step, so the order is part of the result. Nothing is persisted.
func CalculateSupply(assetValue decimal.Decimal, method domain.FractionalizationMethod, params Params, d Defaults) (*domain.TokenSupply, error) {
	if !method.Valid() {
		return nil, domain.ErrInvalidMethod
	}
	if !assetValue.IsPositive() {
		return nil, domain.ErrNonPositiveValue
	}
	p := params.Resolved(d)
	for name, f := range map[string]decimal.Decimal{
		"liquidity_buffer":  *p.LiquidityBuffer,
		"community_reserve": *p.CommunityReserve,
		"stability_margin":  *p.StabilityMargin,
	} {
		if f.IsNegative() {
			return nil, domain.Wrap(domain.ErrInvalidParams, "%s must not be negative", name)
		}
	}
	if p.ReservePercent.IsNegative() || p.ReservePercent.GreaterThan(hundred) {
		return nil, domain.Wrap(domain.ErrInvalidParams, "reserve_percent must be within [0,100]")
	}
	if p.MaxSupply < 0 {
		return nil, domain.Wrap(domain.ErrInvalidParams, "max_supply must not be negative")
	}

	price, err := basePrice(assetValue, method, p)
	if err != nil {
		return nil, err
	}

	var base decimal.Decimal
	if method == domain.MethodTargetSupply {
		base = decimal.NewFromInt(p.TargetSupply)
	} else {
		base = assetValue.Div(price).Floor()
	}

	final := base
	for _, f := range []decimal.Decimal{*p.LiquidityBuffer, *p.CommunityReserve, *p.StabilityMargin} {
		final = final.Mul(one.Add(f)).Floor()
	}
	if final.LessThan(one) {
		return nil, domain.Wrap(domain.ErrInvalidParams, "asset value yields no whole token")
	}
	if final.GreaterThan(maxInt64) {
		return nil, domain.Wrap(domain.ErrInvalidParams, "supply overflows")
	}
	total := final.IntPart()
	if p.MaxSupply > 0 && total > p.MaxSupply {
		return nil, domain.Wrap(domain.ErrSupplyInvariantViolation, "supply %d exceeds max_supply %d", total, p.MaxSupply)
	}
	reserved := final.Mul(*p.ReservePercent).Div(hundred).Floor().IntPart()

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &domain.TokenSupply{
		TotalSupply:    total,
		ReservedSupply: reserved,
		MaxSupply:      p.MaxSupply,
		AssetValue:     assetValue,
		Method:         method,
		TokenPrice:     price,
		Params:         datatypes.JSON(raw),
	}, nil
}

// apply mutates s for one adjustment or returns an error leaving s untouched.
func apply(s *domain.TokenSupply, t domain.AdjustmentType, amount int64, fromReserve bool) error {
	if !t.Valid() {
		return domain.ErrInvalidAdjustmentType
	}
	if amount <= 0 {
		return domain.ErrNonPositiveAmount
	}
	next := *s
	switch t {
	case domain.AdjustmentMint:
		if next.TotalSupply > math.MaxInt64-amount {
			return domain.Wrap(domain.ErrSupplyInvariantViolation, "mint overflows total supply")
		}
		next.TotalSupply += amount
		next.CirculatingSupply += amount
		if next.MaxSupply > 0 && next.TotalSupply > next.MaxSupply {
			return domain.Wrap(domain.ErrSupplyInvariantViolation, "mint of %d exceeds max_supply %d", amount, next.MaxSupply)
		}
	case domain.AdjustmentBurn:
		// Burned tokens stay counted against a total that also shrinks, so a
		// burn of X needs X of unallocated headroom as well as X circulating.
		if amount > next.CirculatingSupply {
			return domain.Wrap(domain.ErrSupplyInvariantViolation, "burn of %d exceeds circulating %d", amount, next.CirculatingSupply)
		}
		if amount > next.Unallocated() {
			return domain.Wrap(domain.ErrSupplyInvariantViolation, "burn of %d exceeds unallocated headroom %d", amount, next.Unallocated())
		}
		next.CirculatingSupply -= amount
		next.BurnedSupply += amount
		next.TotalSupply -= amount
	case domain.AdjustmentReserve:
		if amount > next.Unallocated() {
			return domain.Wrap(domain.ErrSupplyInvariantViolation, "reserve of %d exceeds unallocated %d", amount, next.Unallocated())
		}
		next.ReservedSupply += amount
	case domain.AdjustmentUnlock:
		if fromReserve {
			if amount > next.ReservedSupply {
				return domain.Wrap(domain.ErrSupplyInvariantViolation, "unlock of %d exceeds reserved %d", amount, next.ReservedSupply)
			}
			next.ReservedSupply -= amount
		} else if amount > next.Unallocated() {
			return domain.Wrap(domain.ErrSupplyInvariantViolation, "unlock of %d exceeds unallocated %d", amount, next.Unallocated())
		}
		next.CirculatingSupply += amount
	}
	if !next.Conserved() {
		return domain.ErrSupplyInvariantViolation
	}
	*s = next
	return nil
}
