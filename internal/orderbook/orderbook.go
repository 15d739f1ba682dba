package orderbook

type Level struct{ Price, Qty float64 }

// Notional is the level value in quote currency units.
func (l Level) Notional() float64 { return l.Price * l.Qty }

type L2 struct {
	Bids []Level // sorted desc by price
	Asks []Level // sorted asc by price
}

// Side returns the asks when buying and the bids when selling.
func (b L2) Side(buy bool) []Level {
	if buy {
		return b.Asks
	}
	return b.Bids
}
