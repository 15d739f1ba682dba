package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"triarb/internal/config"
	"triarb/internal/exchange/common"
	"triarb/internal/graph"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/ledger"
	"triarb/internal/orderexec"
	"triarb/internal/pnl"
	"triarb/internal/risk"
	"triarb/internal/strategy"
)

// ErrConnection is returned by Prepare when the venue does not answer the
// startup server time probe. The failure has already been notified.
var ErrConnection = errors.New("exchange connection check failed")

// Notifier delivers human readable reports. Delivery failures are handled
// by the implementation and never surface to the engine.
type Notifier interface {
	Send(ctx context.Context, text string)
}

type Engine struct {
	cfg      config.Config
	gw       common.Gateway
	notifier Notifier
	ledger   ledger.Ledger
	logger   log.Logger

	eval *strategy.Evaluator
	seq  *orderexec.Sequencer
	hold *HoldCache
	pnl  *pnl.Tracker

	routes      []strategy.Route
	lastBalance time.Time

	// route IDs that started a live sequence in the current cycle
	execMu   sync.Mutex
	executed map[uint64]struct{}

	loaded      atomic.Int64
	cycles      atomic.Int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(cfg config.Config, gw common.Gateway, n Notifier, l ledger.Ledger, logger log.Logger) *Engine {
	bounds := risk.ProfitBounds{MinPct: cfg.Trading.MinProfitPct, MaxPct: cfg.Trading.MaxProfitPct}
	return &Engine{
		cfg:      cfg,
		gw:       gw,
		notifier: n,
		ledger:   l,
		logger:   logger.With().Str("component", "engine").Logger(),
		eval: strategy.NewEvaluator(gw, strategy.EvaluatorConfig{
			Commission:     cfg.Trading.CommissionRate,
			TargetNotional: cfg.Trading.TargetNotional,
			Bounds:         bounds,
			RequestTimeout: cfg.RequestTimeout(),
		}, logger),
		seq: orderexec.NewSequencer(gw, orderexec.Config{
			Live:           cfg.Trading.Live,
			LegPause:       cfg.LegPause(),
			Commission:     cfg.Trading.CommissionRate,
			RequestTimeout: cfg.RequestTimeout(),
		}, logger),
		hold:  NewHoldCache(cfg.HoldTime()),
		pnl:   pnl.NewTracker(),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Status is the operator view served by the admin API.
type Status struct {
	Venue       string      `json:"venue"`
	Live        bool        `json:"live"`
	Triangles   int64       `json:"triangles"`
	Cycles      int64       `json:"cycles"`
	HeldRoutes  int         `json:"held_routes"`
	Completed   int         `json:"completed_sequences"`
	ProfitTotal []pnl.Entry `json:"profit"`
}

// Status is safe to call while the engine is running.
func (e *Engine) Status() Status {
	return Status{
		Venue:       e.gw.Name(),
		Live:        e.cfg.Trading.Live,
		Triangles:   e.loaded.Load(),
		Cycles:      e.cycles.Load(),
		HeldRoutes:  e.hold.Len(),
		Completed:   e.pnl.Count(),
		ProfitTotal: e.pnl.Snapshot(),
	}
}

// Prepare checks connectivity, loads the pair listing and resolves every
// route. The listing is static for the life of the process, so leg
// orientation is resolved once here and reused by every cycle.
func (e *Engine) Prepare(ctx context.Context) error {
	ctxTO, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout())
	st, err := e.gw.ServerTime(ctxTO)
	cancel()
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues(e.gw.Name(), "time").Inc()
		e.logger.Error().Err(err).Msg("exchange connection check failed")
		e.notifier.Send(ctx, connectionErrorText(e.gw.Name(), err))
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	e.logger.Info().Time("server_time", st).Dur("skew", time.Since(st)).Msg("exchange reachable")
	e.notifier.Send(ctx, startupText(e.gw.Name(), e.cfg.Trading.Live))

	ctxTO, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout())
	pairs, err := e.gw.ListPairs(ctxTO)
	cancel()
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues(e.gw.Name(), "pairs").Inc()
		return fmt.Errorf("list pairs: %w", err)
	}
	ps := graph.NewPairSet(pairs)
	tris := graph.FindTriangles(ps, e.cfg.Trading.Anchors)
	if e.cfg.Trading.DedupeRoutes {
		tris = graph.Dedupe(tris)
	} else if dups := len(tris) - len(graph.Dedupe(tris)); dups > 0 && e.cfg.Trading.Live {
		e.logger.Warn().Int("duplicates", dups).
			Msg("routes listed in both closing orientations are scanned twice; each executes at most once per cycle")
	}
	e.routes = strategy.ResolveAll(ps, tris)
	e.loaded.Store(int64(len(e.routes)))
	metrics.TrianglesLoaded.Set(float64(len(e.routes)))
	e.logger.Info().Int("pairs", ps.Len()).Int("triangles", len(e.routes)).Int("assets", len(graph.Assets(tris))).
		Strs("anchors", e.cfg.Trading.Anchors).Msg("routes loaded")
	if e.cfg.Trading.Verbose {
		e.notifier.Send(ctx, fmt.Sprintf("🔍 Triangles found: %d", len(e.routes)))
	}
	e.lastBalance = e.now()
	return nil
}

// Run prepares the engine and scans until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Prepare(ctx); err != nil {
		return err
	}
	return e.Loop(ctx)
}

// Loop runs scan cycles on a prepared engine until ctx is cancelled.
func (e *Engine) Loop(ctx context.Context) error {
	for {
		e.ScanOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		e.maybeReportBalances(ctx)
		if err := e.sleep(ctx, e.cfg.ScanInterval()); err != nil {
			return nil
		}
	}
}

// ScanOnce evaluates every route concurrently and waits for all of them.
func (e *Engine) ScanOnce(ctx context.Context) {
	start := time.Now()
	e.execMu.Lock()
	e.executed = make(map[uint64]struct{})
	e.execMu.Unlock()
	metrics.ScanState.Set(1)
	defer metrics.ScanState.Set(0)

	var g errgroup.Group
	if n := e.cfg.Trading.MaxConcurrency; n > 0 {
		g.SetLimit(n)
	}
	for _, r := range e.routes {
		g.Go(func() error {
			e.checkRoute(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	e.cycles.Add(1)
	metrics.ScanCyclesTotal.Inc()
	metrics.ScanCycleDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	e.logger.Debug().Int("triangles", len(e.routes)).Dur("took", time.Since(start)).Msg("scan cycle complete")
}

func (e *Engine) checkRoute(ctx context.Context, route strategy.Route) {
	defer func() {
		if rec := recover(); rec != nil {
			e.triangleError(ctx, route, fmt.Errorf("panic: %v", rec))
		}
	}()
	metrics.TrianglesCheckedTotal.Inc()
	op, outcome := e.eval.Evaluate(ctx, route)
	metrics.TrianglesOutcomeTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != strategy.OutcomeQualified {
		return
	}
	e.handle(ctx, op)
}

// handle applies the side effects of a qualifying opportunity.
func (e *Engine) handle(ctx context.Context, op strategy.Opportunity) {
	metrics.ArbOppsFound.Inc()
	op.Ready = e.hold.Observe(op.Triangle.RouteID(), e.now())
	route := op.Triangle.Route()

	e.notifier.Send(ctx, FormatReport(op))
	e.appendLedger(ctx, op, ledger.Record{
		Time:      op.DetectedAt,
		Route:     route,
		ProfitPct: op.ProfitPct,
		Volume:    round2(op.MinLiquidity),
		Status:    ledger.StatusDetected,
	})
	if !op.Ready {
		return
	}
	metrics.ArbOppsReady.Inc()
	if since, ok := e.hold.Last(op.Triangle.RouteID()); ok {
		e.logger.Info().Str("route", route).Dur("held_for", e.now().Sub(since)).
			Float64("profit_pct", op.ProfitPct).Bool("live", e.cfg.Trading.Live).Msg("route ready")
	}

	if e.cfg.Trading.Live && !e.claim(op.Triangle.RouteID()) {
		e.logger.Warn().Str("route", route).Msg("route already executed this cycle, duplicate skipped")
		return
	}

	plan := orderexec.BuildPlan(op)
	res := e.seq.Execute(ctx, plan)
	rec := ledger.Record{Time: e.now(), Route: route, ProfitPct: op.ProfitPct, Volume: op.Target}
	switch {
	case res.Simulated:
		metrics.ArbOppsExecuted.WithLabelValues(string(ledger.StatusSimulated)).Inc()
		e.pnl.Record(op.Triangle.Anchor, op.NetProfit())
		e.notifier.Send(ctx, res.Message)
		e.notifier.Send(ctx, SimulatedText(op))
		rec.Status, rec.Details = ledger.StatusSimulated, "simulated mode"
	case res.Success:
		metrics.ArbOppsExecuted.WithLabelValues(string(ledger.StatusExecuted)).Inc()
		realized := op.NetProfit()
		if n := len(res.Confirmations); n == len(plan.Steps) && res.Confirmations[n-1].Received > 0 {
			realized = res.Confirmations[n-1].Received - op.Target
		}
		e.pnl.Record(op.Triangle.Anchor, realized)
		e.notifier.Send(ctx, ExecutedText(op, res, realized))
		rec.Status, rec.Details = ledger.StatusExecuted, orderIDs(res.Confirmations)
	default:
		metrics.ArbOppsExecuted.WithLabelValues(string(ledger.StatusFailed)).Inc()
		e.logger.Error().Err(res.Err).Str("route", route).Int("failed_step", res.FailedStep).
			Int("filled_steps", len(res.Confirmations)).Msg("execution failed")
		e.notifier.Send(ctx, FailedText(op, res))
		rec.Status = ledger.StatusFailed
		if res.Err != nil {
			rec.Details = res.Err.Error()
		}
	}
	e.appendLedger(ctx, op, rec)
}

// claim reports whether routeID may start a live sequence in this cycle.
func (e *Engine) claim(routeID uint64) bool {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	if _, ok := e.executed[routeID]; ok {
		return false
	}
	if e.executed == nil {
		e.executed = make(map[uint64]struct{})
	}
	e.executed[routeID] = struct{}{}
	return true
}

func (e *Engine) appendLedger(ctx context.Context, op strategy.Opportunity, rec ledger.Record) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Append(ctx, rec); err != nil {
		metrics.LedgerErrorsTotal.Inc()
		e.triangleError(ctx, strategy.Route{Triangle: op.Triangle}, fmt.Errorf("ledger append: %w", err))
	}
}

func (e *Engine) triangleError(ctx context.Context, route strategy.Route, err error) {
	metrics.TriangleErrorsTotal.Inc()
	e.logger.Error().Err(err).Str("route", route.Triangle.Route()).Msg("triangle processing failed")
	e.notifier.Send(ctx, "⚠️ <b>Triangle processing error</b>\n"+err.Error())
}

func (e *Engine) maybeReportBalances(ctx context.Context) {
	every := e.cfg.BalanceReportInterval()
	if every <= 0 {
		return
	}
	now := e.now()
	if now.Sub(e.lastBalance) <= every {
		return
	}
	e.lastBalance = now
	e.ReportBalances(ctx)
}

// ReportBalances sends the non-dust account balances. Nothing is sent when
// every balance is dust. Errors are logged and counted only.
func (e *Engine) ReportBalances(ctx context.Context) {
	ctxTO, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout())
	bals, err := e.gw.GetBalances(ctxTO)
	cancel()
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues(e.gw.Name(), "balances").Inc()
		e.logger.Debug().Err(err).Msg("balance fetch failed")
		return
	}
	bals = reportable(bals)
	if len(bals) == 0 {
		e.logger.Debug().Msg("no balances above dust, report skipped")
		return
	}
	e.notifier.Send(ctx, BalanceText(bals))
}

func orderIDs(confs []common.OrderConfirmation) string {
	ids := make([]string, 0, len(confs))
	for _, c := range confs {
		ids = append(ids, c.Symbol+":"+c.OrderID)
	}
	return strings.Join(ids, " ")
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
