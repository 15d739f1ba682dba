package strategy

import (
	"context"
	"math"
	"time"

	"triarb/internal/exchange/common"
	"triarb/internal/graph"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/risk"
	"triarb/internal/slippage"
)

// Outcome classifies a single triangle evaluation.
type Outcome string

const (
	OutcomeUnavailable       Outcome = "unavailable"
	OutcomeInsufficientDepth Outcome = "insufficient_depth"
	OutcomeBelowMin          Outcome = "below_min"
	OutcomeAboveMax          Outcome = "above_max"
	OutcomeQualified         Outcome = "qualified"
)

// LegQuote is one priced leg.
type LegQuote struct {
	Leg    Leg
	Quote  slippage.Quote
	Factor float64
}

// Opportunity is a fully priced triangle inside the profit bounds.
type Opportunity struct {
	Triangle     graph.Triangle
	Legs         [3]LegQuote
	Target       float64
	Commission   float64
	Yield        float64
	ProfitPct    float64
	MinLiquidity float64
	Ready        bool
	DetectedAt   time.Time
}

// NetProfit is the expected profit in anchor units for the target notional.
func (o Opportunity) NetProfit() float64 { return (o.Yield - 1) * o.Target }

// Assemble combines three priced legs.
func Assemble(tri graph.Triangle, legs [3]LegQuote, target, commission float64, at time.Time) Opportunity {
	op := Opportunity{Triangle: tri, Legs: legs, Target: target, Commission: commission, DetectedAt: at}
	op.Yield = Yield(legs[0].Factor, legs[1].Factor, legs[2].Factor)
	op.ProfitPct = ProfitPct(op.Yield)
	op.MinLiquidity = math.Min(legs[0].Quote.Liquidity, math.Min(legs[1].Quote.Liquidity, legs[2].Quote.Liquidity))
	return op
}

type EvaluatorConfig struct {
	Commission     float64
	TargetNotional float64
	Bounds         risk.ProfitBounds
	RequestTimeout time.Duration
}

// Evaluator prices routes against freshly fetched books.
type Evaluator struct {
	books  common.BookSource
	cfg    EvaluatorConfig
	logger log.Logger
	now    func() time.Time
}

func NewEvaluator(books common.BookSource, cfg EvaluatorConfig, logger log.Logger) *Evaluator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 4 * time.Second
	}
	return &Evaluator{
		books:  books,
		cfg:    cfg,
		logger: logger.With().Str("component", "evaluator").Logger(),
		now:    time.Now,
	}
}

// QuoteLeg fetches the leg's book and walks the side it consumes. A fetch
// error is reported as insufficient depth with zero liquidity.
func (e *Evaluator) QuoteLeg(ctx context.Context, leg Leg) slippage.Quote {
	ctxTO, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	book, err := e.books.GetOrderBook(ctxTO, leg.Symbol())
	cancel()
	if err != nil {
		metrics.APIErrorsTotal.WithLabelValues(e.books.Name(), "orderbook").Inc()
		e.logger.Debug().Err(err).Str("symbol", leg.Symbol()).Msg("orderbook fetch failed")
		return slippage.Insufficient
	}
	side := book.Side(leg.Buy())
	q := slippage.Fill(side, e.cfg.TargetNotional)
	if q.OK {
		metrics.LegSlippageBps.Observe(slippage.IntegralBps(side, q))
	}
	return q
}

// Evaluate prices the three legs in order and applies the profit bounds.
// The returned opportunity is meaningful only for OutcomeQualified; its
// Ready flag is left for the hold cache to decide.
func (e *Evaluator) Evaluate(ctx context.Context, route Route) (Opportunity, Outcome) {
	if !route.Resolved() {
		return Opportunity{}, OutcomeUnavailable
	}
	var legs [3]LegQuote
	for i, leg := range route.Legs {
		q := e.QuoteLeg(ctx, leg)
		if !q.OK {
			return Opportunity{}, OutcomeInsufficientDepth
		}
		legs[i] = LegQuote{Leg: leg, Quote: q, Factor: LegFactor(leg.Buy(), q.AvgPrice, e.cfg.Commission)}
	}
	op := Assemble(route.Triangle, legs, e.cfg.TargetNotional, e.cfg.Commission, e.now())
	metrics.TriangleProfitPct.Observe(op.ProfitPct)
	if !e.cfg.Bounds.Allow(op.ProfitPct) {
		return op, Outcome(e.cfg.Bounds.Reason(op.ProfitPct))
	}
	return op, OutcomeQualified
}
