package usecase

import "github.com/shopspring/decimal"

// pricePrecision is the fixed decimal precision every price and quantity is
// rounded to before submission. Exchanges reject orders carrying excess
// precision.
const pricePrecision = 8

// roundAmount rounds half away from zero at the fixed precision.
func roundAmount(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(pricePrecision).Float64()
	return f
}

// clusterPrices computes the symmetric paired-cluster prices around mid:
// buy = mid*(1-spread), sell = mid*(1+spread), spread given in percent.
func clusterPrices(mid, spreadPct float64) (buy, sell float64) {
	m := decimal.NewFromFloat(mid)
	s := m.Mul(decimal.NewFromFloat(spreadPct)).Div(decimal.NewFromInt(100))
	buy, _ = m.Sub(s).Round(pricePrecision).Float64()
	sell, _ = m.Add(s).Round(pricePrecision).Float64()
	return buy, sell
}

// ladderPrice computes the rung price at level i of maxLevel per side:
// mid ± spread*mid*(i/maxLevel).
func ladderPrice(mid, spreadPct float64, level, maxLevel int, sell bool) float64 {
	m := decimal.NewFromFloat(mid)
	step := m.Mul(decimal.NewFromFloat(spreadPct)).Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(level))).Div(decimal.NewFromInt(int64(maxLevel)))
	p := m.Sub(step)
	if sell {
		p = m.Add(step)
	}
	f, _ := p.Round(pricePrecision).Float64()
	return f
}

// ladderQuantity scales the base size by level so orders further from mid
// are larger: base * (1 + level/maxLevel).
func ladderQuantity(baseSize float64, level, maxLevel int) float64 {
	factor := decimal.NewFromInt(1).Add(
		decimal.NewFromInt(int64(level)).Div(decimal.NewFromInt(int64(maxLevel))))
	f, _ := decimal.NewFromFloat(baseSize).Mul(factor).Round(pricePrecision).Float64()
	return f
}
