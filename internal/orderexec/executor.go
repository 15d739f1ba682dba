package orderexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"triarb/internal/exchange/common"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/strategy"
)

// Step is one fully sized market order. Amount is denominated in Unit.
type Step struct {
	Symbol        string
	Side          common.OrderSide
	Amount        float64
	Unit          common.AmountUnit
	From, To      string
	ExpectedPrice float64
}

func (s Step) String() string {
	return fmt.Sprintf("%s %s %.6f %s -> %s @ %.6f", s.Symbol, strings.ToUpper(string(s.Side)), s.Amount, s.From, s.To, s.ExpectedPrice)
}

// Plan chains three steps: each step spends what the previous one is
// expected to yield after its commission.
type Plan struct {
	Route    string
	Steps    []Step
	Expected float64 // anchor units after the last step
}

func BuildPlan(op strategy.Opportunity) Plan {
	plan := Plan{Route: op.Triangle.Route()}
	amount := op.Target
	for _, lq := range op.Legs {
		leg := lq.Leg
		plan.Steps = append(plan.Steps, Step{
			Symbol:        leg.Symbol(),
			Side:          leg.Side,
			Amount:        amount,
			Unit:          leg.Unit(),
			From:          leg.From,
			To:            leg.To,
			ExpectedPrice: lq.Quote.AvgPrice,
		})
		amount = leg.Convert(amount, lq.Quote.AvgPrice, op.Commission)
	}
	plan.Expected = amount
	return plan
}

// Result of running a plan. Confirmations holds every order the venue
// accepted, including those before a failing step.
type Result struct {
	Success       bool
	Simulated     bool
	Message       string
	Confirmations []common.OrderConfirmation
	FailedStep    int // 1-based, 0 when nothing failed
	Err           error
}

type Config struct {
	Live           bool
	LegPause       time.Duration
	Commission     float64
	RequestTimeout time.Duration
}

// Sequencer submits plan steps strictly one after another.
type Sequencer struct {
	orders common.OrderSubmitter
	cfg    Config
	logger log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewSequencer(orders common.OrderSubmitter, cfg Config, logger log.Logger) *Sequencer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Sequencer{
		orders: orders,
		cfg:    cfg,
		logger: logger.With().Str("component", "sequencer").Logger(),
		sleep:  sleepCtx,
	}
}

func (s *Sequencer) Execute(ctx context.Context, plan Plan) Result {
	if !s.cfg.Live {
		return Result{Success: true, Simulated: true, Message: SimulatedConfirmation(plan)}
	}
	res := Result{}
	amount := 0.0
	for i, step := range plan.Steps {
		if i == 0 {
			amount = step.Amount
		} else {
			if err := s.sleep(ctx, s.cfg.LegPause); err != nil {
				res.FailedStep = i + 1
				res.Err = fmt.Errorf("step %d %s: %w", i+1, step.Symbol, err)
				return res
			}
		}
		ord := common.MarketOrder{
			ClientID: uuid.NewString(),
			Symbol:   step.Symbol,
			Side:     step.Side,
			Amount:   amount,
			Unit:     step.Unit,
		}
		start := time.Now()
		ctxTO, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		conf, err := s.orders.SubmitMarketOrder(ctxTO, ord)
		cancel()
		metrics.OrderSubmitLatencyMs.Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.APIErrorsTotal.WithLabelValues(s.orders.Name(), "order").Inc()
			s.logger.Error().Err(err).Str("route", plan.Route).Int("step", i+1).Str("symbol", step.Symbol).
				Int("filled_steps", len(res.Confirmations)).Msg("order submission failed, sequence aborted")
			res.FailedStep = i + 1
			res.Err = fmt.Errorf("step %d %s: %w", i+1, step.Symbol, err)
			return res
		}
		metrics.OrdersSubmittedTotal.Inc()
		res.Confirmations = append(res.Confirmations, conf)
		s.logger.Info().Str("route", plan.Route).Int("step", i+1).Str("symbol", step.Symbol).
			Str("side", string(step.Side)).Float64("amount", amount).Float64("expected_price", step.ExpectedPrice).Str("order_id", conf.OrderID).
			Float64("received", conf.Received).Msg("order submitted")

		// size the next step from the reported fill when the venue gave one
		if i+1 < len(plan.Steps) {
			amount = plan.Steps[i+1].Amount
			if conf.Received > 0 {
				amount = conf.Received
			}
		}
	}
	res.Success = true
	return res
}

// SimulatedConfirmation renders the steps a simulated run would have sent.
func SimulatedConfirmation(plan Plan) string {
	lines := []string{
		"🧪 <b>TEST TRADE</b>",
		"Route: " + plan.Route,
		"Steps:",
	}
	for i, st := range plan.Steps {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, st))
	}
	if n := len(plan.Steps); n > 0 {
		lines = append(lines, fmt.Sprintf("Expected return: %.6f %s", plan.Expected, plan.Steps[n-1].To))
	}
	lines = append(lines, "", "⚠️ <i>Simulated mode: no orders were sent</i>")
	return strings.Join(lines, "\n")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
