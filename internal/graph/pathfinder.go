package graph

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"triarb/internal/exchange/common"
)

// Triangle is the cycle Anchor -> Mid1 -> Mid2 -> Anchor.
type Triangle struct{ Anchor, Mid1, Mid2 string }

// Route is the canonical route string, e.g. "USDT->BTC->ETH->USDT".
func (t Triangle) Route() string {
	return t.Anchor + "->" + t.Mid1 + "->" + t.Mid2 + "->" + t.Anchor
}

// RouteID is a stable hash of Route.
func (t Triangle) RouteID() uint64 { return xxhash.Sum64String(t.Route()) }

func (t Triangle) String() string { return t.Route() + "#" + strconv.FormatUint(t.RouteID(), 16) }

// PairSet indexes listed pairs by (base, quote).
type PairSet struct {
	byAssets map[[2]string]common.Pair
	pairs    []common.Pair
}

func NewPairSet(pairs []common.Pair) *PairSet {
	ps := &PairSet{byAssets: make(map[[2]string]common.Pair, len(pairs))}
	for _, p := range pairs {
		if p.Base == "" || p.Quote == "" || p.Base == p.Quote {
			continue
		}
		key := [2]string{p.Base, p.Quote}
		if _, dup := ps.byAssets[key]; dup {
			continue
		}
		ps.byAssets[key] = p
		ps.pairs = append(ps.pairs, p)
	}
	sort.Slice(ps.pairs, func(i, j int) bool { return ps.pairs[i].Symbol < ps.pairs[j].Symbol })
	return ps
}

// Lookup returns the pair listed as base/quote.
func (ps *PairSet) Lookup(base, quote string) (common.Pair, bool) {
	p, ok := ps.byAssets[[2]string{base, quote}]
	return p, ok
}

func (ps *PairSet) Has(base, quote string) bool {
	_, ok := ps.byAssets[[2]string{base, quote}]
	return ok
}

func (ps *PairSet) Len() int { return len(ps.pairs) }

// Pairs returns listed pairs sorted by symbol.
func (ps *PairSet) Pairs() []common.Pair { return ps.pairs }

// FindTriangles enumerates routes starting and ending at each anchor. A route
// is emitted once for every listed orientation of its closing pair; callers
// that want one entry per route pass the result through Dedupe.
func FindTriangles(ps *PairSet, anchors []string) []Triangle {
	var out []Triangle
	for _, anchor := range anchors {
		for _, p1 := range ps.pairs {
			mid1, ok := other(p1, anchor)
			if !ok {
				continue
			}
			for _, p2 := range ps.pairs {
				if p2.Symbol == p1.Symbol {
					continue
				}
				mid2, ok := other(p2, mid1)
				if !ok || mid2 == anchor || mid2 == mid1 {
					continue
				}
				tri := Triangle{Anchor: anchor, Mid1: mid1, Mid2: mid2}
				if ps.Has(mid2, anchor) {
					out = append(out, tri)
				}
				if ps.Has(anchor, mid2) {
					out = append(out, tri)
				}
			}
		}
	}
	return out
}

// Dedupe keeps the first occurrence of each route.
func Dedupe(tris []Triangle) []Triangle {
	seen := make(map[string]struct{}, len(tris))
	out := make([]Triangle, 0, len(tris))
	for _, t := range tris {
		if _, ok := seen[t.Route()]; ok {
			continue
		}
		seen[t.Route()] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Assets returns every distinct asset referenced by the triangles.
func Assets(tris []Triangle) []string {
	set := map[string]struct{}{}
	for _, t := range tris {
		set[t.Anchor] = struct{}{}
		set[t.Mid1] = struct{}{}
		set[t.Mid2] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func other(p common.Pair, asset string) (string, bool) {
	switch asset {
	case p.Base:
		return p.Quote, true
	case p.Quote:
		return p.Base, true
	}
	return "", false
}
