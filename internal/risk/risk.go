package risk

import "fmt"

// ProfitBounds is the inclusive band of profit percentages considered
// actionable. Values above Max are treated as stale or erroneous quotes.
type ProfitBounds struct {
	MinPct float64
	MaxPct float64
}

func (b ProfitBounds) Allow(profitPct float64) bool {
	return profitPct >= b.MinPct && profitPct <= b.MaxPct
}

// Reason classifies a profit percentage for metrics labels.
func (b ProfitBounds) Reason(profitPct float64) string {
	switch {
	case profitPct < b.MinPct:
		return "below_min"
	case profitPct > b.MaxPct:
		return "above_max"
	}
	return "ok"
}

func (b ProfitBounds) Validate() error {
	if b.MinPct > b.MaxPct {
		return fmt.Errorf("min profit %.4f%% above max %.4f%%", b.MinPct, b.MaxPct)
	}
	return nil
}
