package strategy

import (
	"triarb/internal/exchange/common"
	"triarb/internal/graph"
)

// Orientation tells how a leg maps onto the listed pair.
type Orientation int

const (
	Unavailable Orientation = iota
	// Direct: the preferred listing for the leg exists.
	Direct
	// Inverse: only the reversed listing exists.
	Inverse
)

func (o Orientation) String() string {
	switch o {
	case Direct:
		return "direct"
	case Inverse:
		return "inverse"
	}
	return "unavailable"
}

// Leg converts From into To on Pair.
type Leg struct {
	From, To    string
	Pair        common.Pair
	Orientation Orientation
	Side        common.OrderSide
}

func (l Leg) Symbol() string { return l.Pair.Symbol }

func (l Leg) Buy() bool { return l.Side == common.Buy }

// BookSide is the side of the book the leg consumes.
func (l Leg) BookSide() string {
	if l.Buy() {
		return "ASK"
	}
	return "BID"
}

// Unit is the denomination of an order amount of From: buys spend quote,
// sells give up base.
func (l Leg) Unit() common.AmountUnit {
	if l.Buy() {
		return common.UnitQuote
	}
	return common.UnitBase
}

// Convert returns how much To is obtained for amount of From at price after
// one commission deduction.
func (l Leg) Convert(amount, price, commission float64) float64 {
	return amount * LegFactor(l.Buy(), price, commission)
}

// Route is a triangle with its three legs resolved against the listing.
type Route struct {
	Triangle graph.Triangle
	Legs     [3]Leg
}

// Resolved reports whether every leg maps to a listed pair.
func (r Route) Resolved() bool {
	for _, l := range r.Legs {
		if l.Orientation == Unavailable {
			return false
		}
	}
	return true
}

// ResolveLegs maps each conversion of tri onto a listed pair. The first two
// legs prefer buying the target asset (target/source listed); the closing leg
// prefers selling the intermediate into the anchor (intermediate/anchor listed).
func ResolveLegs(ps *graph.PairSet, tri graph.Triangle) Route {
	return Route{
		Triangle: tri,
		Legs: [3]Leg{
			resolve(ps, tri.Anchor, tri.Mid1, true),
			resolve(ps, tri.Mid1, tri.Mid2, true),
			resolve(ps, tri.Mid2, tri.Anchor, false),
		},
	}
}

// ResolveAll resolves every triangle once; the listing is static for the
// process lifetime so orientations never need re-querying.
func ResolveAll(ps *graph.PairSet, tris []graph.Triangle) []Route {
	out := make([]Route, 0, len(tris))
	for _, tri := range tris {
		out = append(out, ResolveLegs(ps, tri))
	}
	return out
}

func resolve(ps *graph.PairSet, from, to string, preferBuy bool) Leg {
	leg := Leg{From: from, To: to}
	buyPair, canBuy := ps.Lookup(to, from)
	sellPair, canSell := ps.Lookup(from, to)
	switch {
	case preferBuy && canBuy:
		leg.Pair, leg.Side, leg.Orientation = buyPair, common.Buy, Direct
	case preferBuy && canSell:
		leg.Pair, leg.Side, leg.Orientation = sellPair, common.Sell, Inverse
	case !preferBuy && canSell:
		leg.Pair, leg.Side, leg.Orientation = sellPair, common.Sell, Direct
	case !preferBuy && canBuy:
		leg.Pair, leg.Side, leg.Orientation = buyPair, common.Buy, Inverse
	}
	return leg
}
