package usecase

import (
	"math"

	"github.com/openquant/mmdash/internal/domain"
)

// Strategy computes the order set a session should keep resting on the
// exchange. The engine owns lifecycle, timers and persistence; the strategy
// owns the order math and the replacement shape.
type Strategy interface {
	Name() string

	// ComputeOrderSet returns the full target order set around mid. Used for
	// initial placement and full refreshes.
	ComputeOrderSet(mid float64) []domain.OrderSpec

	// ReplacementFor returns the orders to place after the given fills, with
	// live being the orders still believed resting.
	ReplacementFor(filled, live []domain.LiveOrder, mid float64) []domain.OrderSpec

	// NeedsFullRefresh reports whether the move from lastMid to newMid
	// requires cancelling and re-placing the whole set.
	NeedsFullRefresh(lastMid, newMid float64) bool
}

// PairedStrategy maintains one buy+sell cluster priced symmetrically around
// mid, splitting total capital 50/50 by notional. Replacement relists the
// filled leg at the same price and quantity, not at a fresh mid.
type PairedStrategy struct {
	SpreadPct   float64
	TotalAmount float64
}

func (s *PairedStrategy) Name() string { return "paired" }

func (s *PairedStrategy) ComputeOrderSet(mid float64) []domain.OrderSpec {
	buyPrice, sellPrice := clusterPrices(mid, s.SpreadPct)

	half := s.TotalAmount / 2
	buyQty := roundAmount(half / buyPrice)
	sellQty := roundAmount(half / sellPrice)

	return []domain.OrderSpec{
		{Side: domain.SideBuy, Price: buyPrice, Quantity: buyQty},
		{Side: domain.SideSell, Price: sellPrice, Quantity: sellQty},
	}
}

func (s *PairedStrategy) ReplacementFor(filled, live []domain.LiveOrder, mid float64) []domain.OrderSpec {
	specs := make([]domain.OrderSpec, 0, len(filled))
	for _, f := range filled {
		specs = append(specs, domain.OrderSpec{Side: f.Side, Price: f.Price, Quantity: f.Quantity})
	}
	return specs
}

func (s *PairedStrategy) NeedsFullRefresh(lastMid, newMid float64) bool { return false }

// LadderStrategy maintains OrderCount simultaneous orders, half per side, at
// graduated distances from mid with quantity scaled by level. Replacement
// tops up missing slots at the current ladder geometry.
type LadderStrategy struct {
	SpreadPct            float64
	OrderCount           int
	BaseOrderSize        float64
	MovementThresholdPct float64
}

func (s *LadderStrategy) Name() string { return "ladder" }

func (s *LadderStrategy) ComputeOrderSet(mid float64) []domain.OrderSpec {
	perSide := s.OrderCount / 2
	specs := make([]domain.OrderSpec, 0, perSide*2)
	for i := 1; i <= perSide; i++ {
		specs = append(specs, domain.OrderSpec{
			Side:     domain.SideBuy,
			Price:    ladderPrice(mid, s.SpreadPct, i, perSide, false),
			Quantity: ladderQuantity(s.BaseOrderSize, i, perSide),
			Level:    i,
		})
	}
	for i := 1; i <= perSide; i++ {
		specs = append(specs, domain.OrderSpec{
			Side:     domain.SideSell,
			Price:    ladderPrice(mid, s.SpreadPct, i, perSide, true),
			Quantity: ladderQuantity(s.BaseOrderSize, i, perSide),
			Level:    i,
		})
	}
	return specs
}

// ReplacementFor fills empty slots at the current geometry: the target set is
// recomputed for mid and any (side, level) slot without a live order is
// returned, capped at the configured order count.
func (s *LadderStrategy) ReplacementFor(filled, live []domain.LiveOrder, mid float64) []domain.OrderSpec {
	missing := s.OrderCount - len(live)
	if missing <= 0 {
		return nil
	}

	type slot struct {
		side  domain.Side
		level int
	}
	occupied := make(map[slot]bool, len(live))
	for _, o := range live {
		occupied[slot{o.Side, o.Level}] = true
	}

	var specs []domain.OrderSpec
	for _, spec := range s.ComputeOrderSet(mid) {
		if occupied[slot{spec.Side, spec.Level}] {
			continue
		}
		specs = append(specs, spec)
		if len(specs) == missing {
			break
		}
	}
	return specs
}

func (s *LadderStrategy) NeedsFullRefresh(lastMid, newMid float64) bool {
	if lastMid == 0 {
		return false
	}
	movePct := math.Abs((newMid - lastMid) / lastMid * 100)
	return movePct > s.MovementThresholdPct
}

// NewStrategy builds the strategy for a session config.
func NewStrategy(cfg domain.SessionConfig) Strategy {
	if cfg.Strategy == domain.StrategyLadder {
		return &LadderStrategy{
			SpreadPct:            cfg.SpreadPct,
			OrderCount:           cfg.OrderCount,
			BaseOrderSize:        cfg.BaseOrderSize,
			MovementThresholdPct: cfg.MovementThresholdPct,
		}
	}
	return &PairedStrategy{SpreadPct: cfg.SpreadPct, TotalAmount: cfg.TotalAmount}
}
