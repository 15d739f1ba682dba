package slippage

import "triarb/internal/orderbook"

// Quote is the outcome of walking one side of a book for a target notional.
// OK=false means the visible depth could not fill the target; AvgPrice and
// Filled are zero in that case.
type Quote struct {
	AvgPrice  float64
	Filled    float64 // notional consumed, quote units
	Liquidity float64 // notional of every level visited, quote units
	OK        bool
}

// Insufficient is the quote reported when a book could not be fetched.
var Insufficient = Quote{}

// Fill walks levels best-first until target notional is consumed. The last
// level touched contributes only the remainder to the fill but its full
// notional to Liquidity.
func Fill(levels []orderbook.Level, target float64) Quote {
	var q Quote
	if target <= 0 {
		for _, lvl := range levels {
			q.Liquidity += lvl.Notional()
		}
		return q
	}
	var base float64
	for _, lvl := range levels {
		if lvl.Price <= 0 || lvl.Qty <= 0 {
			continue
		}
		notional := lvl.Notional()
		q.Liquidity += notional
		if q.Filled+notional >= target {
			remain := target - q.Filled
			base += remain / lvl.Price
			q.Filled = target
			q.AvgPrice = q.Filled / base
			q.OK = true
			return q
		}
		base += lvl.Qty
		q.Filled += notional
	}
	return Quote{Liquidity: q.Liquidity}
}

// IntegralBps returns the slippage of a filled quote relative to the best
// level, in bps. Unfilled quotes are effectively rejected.
func IntegralBps(levels []orderbook.Level, q Quote) float64 {
	if !q.OK || len(levels) == 0 || levels[0].Price <= 0 {
		return 1e9
	}
	best := levels[0].Price
	diff := q.AvgPrice - best
	if diff < 0 {
		diff = -diff
	}
	return (diff / best) * 10000.0
}
