package pnl

import (
	"sort"
	"sync"

	"triarb/internal/infra/metrics"
)

// Tracker accumulates the profit of completed sequences per anchor asset.
// Simulated sequences contribute their expected profit.
type Tracker struct {
	mu       sync.Mutex
	byAnchor map[string]float64
	count    int
}

func NewTracker() *Tracker { return &Tracker{byAnchor: make(map[string]float64)} }

func (t *Tracker) Record(anchor string, profit float64) {
	t.mu.Lock()
	t.byAnchor[anchor] += profit
	t.count++
	total := t.byAnchor[anchor]
	t.mu.Unlock()
	metrics.ExpectedProfit.WithLabelValues(anchor).Set(total)
}

func (t *Tracker) Total(anchor string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byAnchor[anchor]
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

type Entry struct {
	Anchor string  `json:"anchor"`
	Profit float64 `json:"profit"`
}

// Snapshot returns the per-anchor totals sorted by anchor.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.byAnchor))
	for a, p := range t.byAnchor {
		out = append(out, Entry{Anchor: a, Profit: p})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Anchor < out[j].Anchor })
	return out
}
