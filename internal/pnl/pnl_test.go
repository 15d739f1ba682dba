package pnl

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerAccumulatesPerAnchor(t *testing.T) {
	tr := NewTracker()
	tr.Record("USDT", 0.17)
	tr.Record("USDT", 0.03)
	tr.Record("BTC", 0.0001)

	require.InDelta(t, 0.20, tr.Total("USDT"), 1e-12)
	require.Equal(t, 3, tr.Count())
	require.Equal(t, []Entry{{Anchor: "BTC", Profit: 0.0001}, {Anchor: "USDT", Profit: tr.Total("USDT")}}, tr.Snapshot())
}

func TestTrackerConcurrentRecord(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("ETH", 1)
		}()
	}
	wg.Wait()
	require.Equal(t, 50.0, tr.Total("ETH"))
	require.Equal(t, 50, tr.Count())
}
