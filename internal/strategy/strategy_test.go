package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"triarb/internal/exchange/common"
	"triarb/internal/graph"
	"triarb/internal/orderbook"
	"triarb/internal/risk"
)

type fakeBooks struct {
	mu    sync.Mutex
	books map[string]orderbook.L2
	errs  map[string]error
	calls []string
}

func (f *fakeBooks) Name() string { return "fake" }

func (f *fakeBooks) GetOrderBook(ctx context.Context, symbol string) (orderbook.L2, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if err := f.errs[symbol]; err != nil {
		return orderbook.L2{}, err
	}
	b, ok := f.books[symbol]
	if !ok {
		return orderbook.L2{}, errors.New("unknown symbol")
	}
	return b, nil
}

func listing() *graph.PairSet {
	return graph.NewPairSet([]common.Pair{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
	})
}

// books priced for a 2% gross round trip on USDT->BTC->ETH->USDT
func twoPercentBooks() *fakeBooks {
	return &fakeBooks{books: map[string]orderbook.L2{
		"BTCUSDT": {Asks: []orderbook.Level{{Price: 100, Qty: 0.05}, {Price: 100, Qty: 1}}, Bids: []orderbook.Level{{Price: 99.9, Qty: 1}}},
		"ETHBTC":  {Asks: []orderbook.Level{{Price: 0.02, Qty: 1000}}, Bids: []orderbook.Level{{Price: 0.0199, Qty: 1000}}},
		"ETHUSDT": {Asks: []orderbook.Level{{Price: 2.05, Qty: 100}}, Bids: []orderbook.Level{{Price: 2.04, Qty: 100}}},
	}}
}

func evalConfig() EvaluatorConfig {
	return EvaluatorConfig{Commission: 0.001, TargetNotional: 10, Bounds: risk.ProfitBounds{MinPct: 0.01, MaxPct: 5}}
}

func TestResolveLegsOrientation(t *testing.T) {
	r := ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "ETH"})
	require.True(t, r.Resolved())
	require.Equal(t, "BTCUSDT", r.Legs[0].Symbol())
	require.Equal(t, Direct, r.Legs[0].Orientation)
	require.Equal(t, common.Buy, r.Legs[0].Side)
	require.Equal(t, "ETHBTC", r.Legs[1].Symbol())
	require.Equal(t, common.Buy, r.Legs[1].Side)
	require.Equal(t, "ETHUSDT", r.Legs[2].Symbol())
	require.Equal(t, Direct, r.Legs[2].Orientation)
	require.Equal(t, common.Sell, r.Legs[2].Side)
	require.Equal(t, "BID", r.Legs[2].BookSide())
	require.Equal(t, common.UnitBase, r.Legs[2].Unit())

	rev := ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "ETH", Mid2: "BTC"})
	require.True(t, rev.Resolved())
	require.Equal(t, Inverse, rev.Legs[1].Orientation)
	require.Equal(t, common.Sell, rev.Legs[1].Side)
	require.Equal(t, Direct, rev.Legs[2].Orientation)

	// anchor BTC: BTC->ETH is listed as ETHBTC, so the first leg buys ETH;
	// the closing leg USDT->BTC is only listed as BTCUSDT, so it buys too
	btc := ResolveLegs(listing(), graph.Triangle{Anchor: "BTC", Mid1: "ETH", Mid2: "USDT"})
	require.Equal(t, "ETHBTC", btc.Legs[0].Symbol())
	require.Equal(t, Direct, btc.Legs[0].Orientation)
	require.Equal(t, common.Buy, btc.Legs[0].Side)
	require.Equal(t, Inverse, btc.Legs[2].Orientation)
	require.Equal(t, common.Buy, btc.Legs[2].Side)
	require.Equal(t, common.UnitQuote, btc.Legs[2].Unit())
}

func TestResolveLegsUnavailable(t *testing.T) {
	r := ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "XRP"})
	require.False(t, r.Resolved())
	require.Equal(t, Unavailable, r.Legs[1].Orientation)
	require.Equal(t, "unavailable", r.Legs[1].Orientation.String())
}

func TestProfitFormula(t *testing.T) {
	c := 0.001
	f1 := LegFactor(true, 100, c)
	f2 := LegFactor(true, 0.02, c)
	f3 := LegFactor(false, 2.04, c)
	require.InDelta(t, (f1*f2*f3-1)*100, ProfitPct(Yield(f1, f2, f3)), 1e-12)
	require.InDelta(t, 0.01*0.999, f1, 1e-15)
	require.Zero(t, LegFactor(true, 0, c))
}

func TestEvaluateScenarioA(t *testing.T) {
	books := twoPercentBooks()
	ev := NewEvaluator(books, evalConfig(), zerolog.Nop())
	route := ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "ETH"})
	op, outcome := ev.Evaluate(context.Background(), route)
	require.Equal(t, OutcomeQualified, outcome)
	require.InDelta(t, (1.02*0.999*0.999*0.999-1)*100, op.ProfitPct, 1e-9)
	require.InDelta(t, 1.70, op.ProfitPct, 0.01)
	require.False(t, op.Ready)
	require.InDelta(t, op.ProfitPct/100*10, op.NetProfit(), 1e-12)
	// leg1 walked both BTCUSDT ask levels: 5 + 100
	require.InDelta(t, 105, op.Legs[0].Quote.Liquidity, 1e-9)
	require.InDelta(t, 20, op.MinLiquidity, 1e-9)
	require.Equal(t, []string{"BTCUSDT", "ETHBTC", "ETHUSDT"}, books.calls)
}

func TestEvaluateScenarioCInsufficientDepth(t *testing.T) {
	books := twoPercentBooks()
	books.books["BTCUSDT"] = orderbook.L2{Asks: []orderbook.Level{{Price: 100, Qty: 0.03}, {Price: 100, Qty: 0.05}}}
	ev := NewEvaluator(books, evalConfig(), zerolog.Nop())
	route := ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "ETH"})
	_, outcome := ev.Evaluate(context.Background(), route)
	require.Equal(t, OutcomeInsufficientDepth, outcome)
	// aborted after the first leg
	require.Equal(t, []string{"BTCUSDT"}, books.calls)
}

func TestEvaluateScenarioDAboveMax(t *testing.T) {
	books := twoPercentBooks()
	// 6.3% gross on the closing leg
	books.books["ETHUSDT"] = orderbook.L2{Bids: []orderbook.Level{{Price: 2.1264, Qty: 100}}}
	ev := NewEvaluator(books, evalConfig(), zerolog.Nop())
	route := ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "ETH"})
	op, outcome := ev.Evaluate(context.Background(), route)
	require.Equal(t, OutcomeAboveMax, outcome)
	require.Greater(t, op.ProfitPct, 5.0)
}

func TestEvaluateBelowMin(t *testing.T) {
	books := twoPercentBooks()
	books.books["ETHUSDT"] = orderbook.L2{Bids: []orderbook.Level{{Price: 2.0, Qty: 100}}}
	ev := NewEvaluator(books, evalConfig(), zerolog.Nop())
	route := ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "ETH"})
	_, outcome := ev.Evaluate(context.Background(), route)
	require.Equal(t, OutcomeBelowMin, outcome)
}

func TestEvaluateBookErrorIsInsufficient(t *testing.T) {
	books := twoPercentBooks()
	books.errs = map[string]error{"ETHBTC": errors.New("gateway down")}
	ev := NewEvaluator(books, evalConfig(), zerolog.Nop())
	q := ev.QuoteLeg(context.Background(), ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "ETH"}).Legs[1])
	require.False(t, q.OK)
	require.Zero(t, q.Liquidity)
}

func TestEvaluateUnavailableRoute(t *testing.T) {
	books := twoPercentBooks()
	ev := NewEvaluator(books, evalConfig(), zerolog.Nop())
	_, outcome := ev.Evaluate(context.Background(), ResolveLegs(listing(), graph.Triangle{Anchor: "USDT", Mid1: "BTC", Mid2: "XRP"}))
	require.Equal(t, OutcomeUnavailable, outcome)
	require.Empty(t, books.calls)
}
