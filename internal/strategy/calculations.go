package strategy

// LegFactor is the amount of target asset obtained per unit of source asset
// after one commission deduction. Buying divides by the ask, selling
// multiplies by the bid.
func LegFactor(buy bool, price, commission float64) float64 {
	if price <= 0 {
		return 0
	}
	if buy {
		return (1 / price) * (1 - commission)
	}
	return price * (1 - commission)
}

// Yield compounds per-leg factors.
func Yield(factors ...float64) float64 {
	y := 1.0
	for _, f := range factors {
		y *= f
	}
	return y
}

func ProfitPct(yield float64) float64 { return (yield - 1) * 100 }
