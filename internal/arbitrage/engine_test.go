package arbitrage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"triarb/internal/config"
	"triarb/internal/exchange/common"
	"triarb/internal/ledger"
	"triarb/internal/orderbook"
)

type fakeGateway struct {
	mu       sync.Mutex
	pairs    []common.Pair
	books    map[string]orderbook.L2
	bookErr  map[string]error
	panicOn  string
	timeErr  error
	balances []common.Balance
	orders   []common.MarketOrder
	received []float64
	failAt   int // 1-based order index that fails, 0 never
}

func (f *fakeGateway) Name() string                    { return "fake" }
func (f *fakeGateway) Start(ctx context.Context) error { return nil }
func (f *fakeGateway) Stop(ctx context.Context) error  { return nil }

func (f *fakeGateway) ListPairs(ctx context.Context) ([]common.Pair, error) { return f.pairs, nil }

func (f *fakeGateway) GetOrderBook(ctx context.Context, symbol string) (orderbook.L2, error) {
	if symbol == f.panicOn {
		panic("corrupt book " + symbol)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bookErr[symbol]; err != nil {
		return orderbook.L2{}, err
	}
	b, ok := f.books[symbol]
	if !ok {
		return orderbook.L2{}, errors.New("unknown symbol")
	}
	return b, nil
}

func (f *fakeGateway) SubmitMarketOrder(ctx context.Context, ord common.MarketOrder) (common.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, ord)
	n := len(f.orders)
	if n == f.failAt {
		return common.OrderConfirmation{}, errors.New("insufficient balance")
	}
	conf := common.OrderConfirmation{OrderID: ord.Symbol + "-1", Symbol: ord.Symbol, Side: ord.Side, Status: "Filled"}
	if n <= len(f.received) {
		conf.Received = f.received[n-1]
	}
	return conf, nil
}

func (f *fakeGateway) ServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), f.timeErr
}

func (f *fakeGateway) GetBalances(ctx context.Context) ([]common.Balance, error) {
	return f.balances, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Send(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *fakeNotifier) containing(s string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs {
		if strings.Contains(m, s) {
			out = append(out, m)
		}
	}
	return out
}

type fakeLedger struct {
	mu   sync.Mutex
	recs []ledger.Record
	err  error
}

func (l *fakeLedger) Append(ctx context.Context, rec ledger.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.recs = append(l.recs, rec)
	return nil
}

func (l *fakeLedger) Close() error { return nil }

func (l *fakeLedger) statuses() []ledger.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Status
	for _, r := range l.recs {
		out = append(out, r.Status)
	}
	return out
}

// twoPercentGateway prices USDT->BTC->ETH->USDT at a 2% gross round trip.
// The reverse route loses about 3%.
func twoPercentGateway() *fakeGateway {
	return &fakeGateway{
		pairs: []common.Pair{
			{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
			{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
			{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
		},
		books: map[string]orderbook.L2{
			"BTCUSDT": {Asks: []orderbook.Level{{Price: 100, Qty: 0.05}, {Price: 100, Qty: 1}}, Bids: []orderbook.Level{{Price: 99.9, Qty: 1}}},
			"ETHBTC":  {Asks: []orderbook.Level{{Price: 0.02, Qty: 1000}}, Bids: []orderbook.Level{{Price: 0.0199, Qty: 1000}}},
			"ETHUSDT": {Asks: []orderbook.Level{{Price: 2.05, Qty: 100}}, Bids: []orderbook.Level{{Price: 2.04, Qty: 100}}},
		},
	}
}

func testConfig() config.Config {
	cfg := config.Load()
	cfg.Trading.Live = false
	cfg.Trading.Verbose = false
	cfg.Trading.Anchors = []string{"USDT"}
	cfg.Trading.CommissionRate = 0.001
	cfg.Trading.MinProfitPct = 0.01
	cfg.Trading.MaxProfitPct = 5
	cfg.Trading.TargetNotional = 10
	cfg.Trading.HoldTimeSeconds = 5
	cfg.Trading.LegPauseMs = 0
	cfg.Trading.MaxConcurrency = 0
	cfg.Trading.DedupeRoutes = false
	cfg.Trading.BalanceReportIntervalSeconds = 3600
	return cfg
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, cfg config.Config, gw *fakeGateway) (*Engine, *fakeNotifier, *fakeLedger, *clock) {
	t.Helper()
	n := &fakeNotifier{}
	l := &fakeLedger{}
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	e := New(cfg, gw, n, l, zerolog.Nop())
	e.now = clk.now
	require.NoError(t, e.Prepare(context.Background()))
	return e, n, l, clk
}

func TestPrepareLoadsRoutes(t *testing.T) {
	e, n, _, _ := newTestEngine(t, testConfig(), twoPercentGateway())
	require.Len(t, e.routes, 2)
	for _, r := range e.routes {
		require.True(t, r.Resolved())
	}
	require.Len(t, n.containing("scanner started"), 1)
	require.Empty(t, n.containing("Triangles found"))
}

func TestPrepareConnectionFailure(t *testing.T) {
	gw := twoPercentGateway()
	gw.timeErr = errors.New("dial tcp: timeout")
	n := &fakeNotifier{}
	e := New(testConfig(), gw, n, &fakeLedger{}, zerolog.Nop())
	err := e.Prepare(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	require.Len(t, n.containing("Connection error"), 1)
	require.Empty(t, n.containing("scanner started"))
}

func TestScenarioAFirstSightingNotReady(t *testing.T) {
	gw := twoPercentGateway()
	e, n, l, _ := newTestEngine(t, testConfig(), gw)
	e.ScanOnce(context.Background())

	reports := n.containing("Arbitrage opportunity")
	require.Len(t, reports, 1)
	require.Contains(t, reports[0], "Route: USDT->BTC->ETH->USDT")
	require.Contains(t, reports[0], "Ready to trade:</b> NO")
	require.Contains(t, reports[0], "1. BTCUSDT - 100.000000 (ASK)")
	require.Contains(t, reports[0], "3. ETHUSDT - 2.040000 (BID)")

	require.Len(t, l.recs, 1)
	rec := l.recs[0]
	require.Equal(t, ledger.StatusDetected, rec.Status)
	require.Equal(t, "USDT->BTC->ETH->USDT", rec.Route)
	require.InDelta(t, 1.70, rec.ProfitPct, 0.01)
	require.Equal(t, 20.0, rec.Volume)
	require.Empty(t, gw.orders)
	require.Equal(t, 1, e.hold.Len())
}

func TestScenarioBReadyAfterHoldSimulates(t *testing.T) {
	gw := twoPercentGateway()
	e, n, l, clk := newTestEngine(t, testConfig(), gw)

	e.ScanOnce(context.Background())
	clk.advance(6 * time.Second)
	e.ScanOnce(context.Background())

	require.Len(t, n.containing("Ready to trade:</b> YES"), 1)
	require.Len(t, n.containing("TEST TRADE"), 1)
	require.Len(t, n.containing("Trade simulated"), 1)
	require.Equal(t, []ledger.Status{ledger.StatusDetected, ledger.StatusDetected, ledger.StatusSimulated}, l.statuses())
	require.Equal(t, 10.0, l.recs[2].Volume)
	require.Empty(t, gw.orders)
	require.InDelta(t, 0.169, e.pnl.Total("USDT"), 0.001)

	// the route stays ready on every later sighting
	clk.advance(time.Second)
	e.ScanOnce(context.Background())
	require.Len(t, n.containing("Trade simulated"), 2)
}

func TestWithinHoldWindowNotReady(t *testing.T) {
	e, n, _, clk := newTestEngine(t, testConfig(), twoPercentGateway())
	e.ScanOnce(context.Background())
	clk.advance(3 * time.Second)
	e.ScanOnce(context.Background())
	require.Len(t, n.containing("Ready to trade:</b> NO"), 2)
	require.Empty(t, n.containing("TEST TRADE"))
}

func TestScenarioCInsufficientDepthNoSideEffects(t *testing.T) {
	gw := twoPercentGateway()
	gw.books["BTCUSDT"] = orderbook.L2{Asks: []orderbook.Level{{Price: 100, Qty: 0.03}, {Price: 100, Qty: 0.05}}, Bids: []orderbook.Level{{Price: 99.9, Qty: 1}}}
	e, n, l, _ := newTestEngine(t, testConfig(), gw)
	e.ScanOnce(context.Background())
	require.Empty(t, n.containing("Arbitrage opportunity"))
	require.Empty(t, l.recs)
	require.Zero(t, e.hold.Len())
}

func TestScenarioDAboveMaxNoSideEffects(t *testing.T) {
	gw := twoPercentGateway()
	gw.books["ETHUSDT"] = orderbook.L2{Asks: []orderbook.Level{{Price: 2.2, Qty: 100}}, Bids: []orderbook.Level{{Price: 2.1264, Qty: 100}}}
	e, n, l, _ := newTestEngine(t, testConfig(), gw)
	e.ScanOnce(context.Background())
	require.Empty(t, n.containing("Arbitrage opportunity"))
	require.Empty(t, l.recs)
	require.Zero(t, e.hold.Len())
}

func withSecondTriangle(gw *fakeGateway) *fakeGateway {
	gw.pairs = append(gw.pairs,
		common.Pair{Symbol: "SOLUSDT", Base: "SOL", Quote: "USDT"},
		common.Pair{Symbol: "XRPSOL", Base: "XRP", Quote: "SOL"},
		common.Pair{Symbol: "XRPUSDT", Base: "XRP", Quote: "USDT"},
	)
	gw.books["SOLUSDT"] = gw.books["BTCUSDT"]
	gw.books["XRPSOL"] = gw.books["ETHBTC"]
	gw.books["XRPUSDT"] = gw.books["ETHUSDT"]
	return gw
}

func TestScenarioEBookErrorIsolatedToTriangle(t *testing.T) {
	gw := withSecondTriangle(twoPercentGateway())
	gw.bookErr = map[string]error{"ETHBTC": errors.New("502 bad gateway")}
	e, n, l, _ := newTestEngine(t, testConfig(), gw)
	require.Len(t, e.routes, 4)

	e.ScanOnce(context.Background())
	reports := n.containing("Arbitrage opportunity")
	require.Len(t, reports, 1)
	require.Contains(t, reports[0], "XRPSOL")
	require.Len(t, l.recs, 1)
	require.Equal(t, "USDT->SOL->XRP->USDT", l.recs[0].Route)
}

func TestPanicInOneTriangleIsReported(t *testing.T) {
	gw := withSecondTriangle(twoPercentGateway())
	gw.panicOn = "ETHBTC"
	e, n, l, _ := newTestEngine(t, testConfig(), gw)
	e.ScanOnce(context.Background())

	require.Len(t, n.containing("Triangle processing error"), 2) // both BTC/ETH routes touch ETHBTC
	require.Len(t, n.containing("Arbitrage opportunity"), 1)
	require.Len(t, l.recs, 1)
}

func TestLedgerFailureIsNotified(t *testing.T) {
	e, n, l, _ := newTestEngine(t, testConfig(), twoPercentGateway())
	l.err = errors.New("disk full")
	e.ScanOnce(context.Background())
	errs := n.containing("Triangle processing error")
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "disk full")
}

func TestLiveExecutionUsesFills(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.Live = true
	cfg.Trading.HoldTimeSeconds = 0
	gw := twoPercentGateway()
	gw.received = []float64{0.0999, 4.99, 10.15}
	e, n, l, _ := newTestEngine(t, cfg, gw)

	e.ScanOnce(context.Background())
	require.Empty(t, gw.orders)
	e.ScanOnce(context.Background())

	require.Len(t, gw.orders, 3)
	require.Equal(t, common.UnitQuote, gw.orders[0].Unit)
	require.Equal(t, 10.0, gw.orders[0].Amount)
	require.Equal(t, 0.0999, gw.orders[1].Amount)
	require.Equal(t, common.Sell, gw.orders[2].Side)
	require.Equal(t, common.UnitBase, gw.orders[2].Unit)
	require.Equal(t, 4.99, gw.orders[2].Amount)

	require.Len(t, n.containing("Trade executed"), 1)
	require.Equal(t, ledger.StatusExecuted, l.recs[len(l.recs)-1].Status)
	require.Equal(t, "BTCUSDT:BTCUSDT-1 ETHBTC:ETHBTC-1 ETHUSDT:ETHUSDT-1", l.recs[len(l.recs)-1].Details)
	require.InDelta(t, 0.15, e.pnl.Total("USDT"), 1e-9)
}

func TestLiveDuplicateRouteExecutesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.Live = true
	gw := twoPercentGateway()
	// USDT/ETH listed in both orientations: the route is enumerated twice
	gw.pairs = append(gw.pairs, common.Pair{Symbol: "USDTETH", Base: "USDT", Quote: "ETH"})
	e, n, l, clk := newTestEngine(t, cfg, gw)
	require.Len(t, e.routes, 4)

	e.ScanOnce(context.Background())
	require.Len(t, n.containing("Arbitrage opportunity"), 2)
	require.Empty(t, gw.orders)

	clk.advance(6 * time.Second)
	e.ScanOnce(context.Background())
	require.Len(t, n.containing("Ready to trade:</b> YES"), 2)
	require.Len(t, gw.orders, 3)
	require.Len(t, n.containing("Trade executed"), 1)
	require.Equal(t, 1, e.pnl.Count())
	require.ElementsMatch(t, []ledger.Status{
		ledger.StatusDetected, ledger.StatusDetected,
		ledger.StatusDetected, ledger.StatusDetected, ledger.StatusExecuted,
	}, l.statuses())

	// a later cycle may execute the route again
	e.ScanOnce(context.Background())
	require.Len(t, gw.orders, 6)
}

func TestLiveExecutionFailureAborts(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.Live = true
	cfg.Trading.HoldTimeSeconds = 0
	gw := twoPercentGateway()
	gw.failAt = 2
	e, n, l, _ := newTestEngine(t, cfg, gw)

	e.ScanOnce(context.Background())
	e.ScanOnce(context.Background())

	require.Len(t, gw.orders, 2)
	failed := n.containing("Trade failed")
	require.Len(t, failed, 1)
	require.Contains(t, failed[0], "Failed at step 2 after 1 filled")
	last := l.recs[len(l.recs)-1]
	require.Equal(t, ledger.StatusFailed, last.Status)
	require.Contains(t, last.Details, "insufficient balance")
	require.Zero(t, e.pnl.Count())
}

func TestBalanceReportOnInterval(t *testing.T) {
	gw := twoPercentGateway()
	gw.balances = []common.Balance{{Asset: "USDT", Total: 100}, {Asset: "BTC", Total: 0.00001}, {Asset: "ETH", Total: 1.5}}
	e, n, _, clk := newTestEngine(t, testConfig(), gw)

	e.maybeReportBalances(context.Background())
	require.Empty(t, n.containing("Balance"))

	clk.advance(time.Hour + time.Second)
	e.maybeReportBalances(context.Background())
	msgs := n.containing("Balance")
	require.Len(t, msgs, 1)
	require.Equal(t, "💰 <b>Balance:</b>\nETH: 1.500000\nUSDT: 100.000000", msgs[0])
}

func TestBalanceReportSkippedWhenAllDust(t *testing.T) {
	gw := twoPercentGateway()
	gw.balances = []common.Balance{{Asset: "USDT", Total: 0}, {Asset: "BTC", Total: 0.00001}, {Asset: "ETH", Total: 0}}
	e, n, _, clk := newTestEngine(t, testConfig(), gw)

	clk.advance(time.Hour + time.Second)
	e.maybeReportBalances(context.Background())
	require.Empty(t, n.containing("Balance"))
}

func TestRunStopsOnCancel(t *testing.T) {
	gw := twoPercentGateway()
	n := &fakeNotifier{}
	e := New(testConfig(), gw, n, &fakeLedger{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		require.Equal(t, 10*time.Second, d)
		cancel()
		return ctx.Err()
	}
	require.NoError(t, e.Run(ctx))
	require.Equal(t, int64(1), e.cycles.Load())
}
