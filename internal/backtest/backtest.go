package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"triarb/internal/config"
	"triarb/internal/exchange/common"
	"triarb/internal/graph"
	"triarb/internal/infra/log"
	"triarb/internal/orderbook"
	"triarb/internal/risk"
	"triarb/internal/strategy"
)

// Snapshot is a recorded set of order books used to replay the scanner
// offline. CSV format, one level per row:
//
//	symbol,base,quote,side,price,qty
//
// side is "bid" or "ask"; levels must be in book order.
type Snapshot struct {
	mu    sync.Mutex
	pairs []common.Pair
	books map[string]orderbook.L2
}

func (s *Snapshot) Name() string { return "replay" }

func (s *Snapshot) GetOrderBook(_ context.Context, symbol string) (orderbook.L2, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[symbol]
	if !ok {
		return orderbook.L2{}, fmt.Errorf("replay: no book for %s", symbol)
	}
	return b, nil
}

func (s *Snapshot) Pairs() []common.Pair { return s.pairs }

func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.Comment = '#'
	s := &Snapshot{books: make(map[string]orderbook.L2)}
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && rec[0] == "symbol" {
			continue
		}
		sym := rec[0]
		book, seen := s.books[sym]
		if !seen {
			s.pairs = append(s.pairs, common.Pair{Symbol: sym, Base: rec[1], Quote: rec[2]})
		}
		lv, err := common.ParseLevels([][]string{{rec[4], rec[5]}})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		switch strings.ToLower(rec[3]) {
		case "bid":
			book.Bids = append(book.Bids, lv[0])
		case "ask":
			book.Asks = append(book.Asks, lv[0])
		default:
			return nil, fmt.Errorf("line %d: unknown side %q", line, rec[3])
		}
		s.books[sym] = book
	}
	return s, nil
}

// Result is the outcome of one replay.
type Result struct {
	Routes        int
	Outcomes      map[strategy.Outcome]int
	Opportunities []strategy.Opportunity // qualified, best first
}

// Replay evaluates every route of the snapshot once with the configured
// trading parameters.
func Replay(ctx context.Context, snap *Snapshot, cfg config.Config, logger log.Logger) Result {
	ps := graph.NewPairSet(snap.Pairs())
	tris := graph.FindTriangles(ps, cfg.Trading.Anchors)
	if cfg.Trading.DedupeRoutes {
		tris = graph.Dedupe(tris)
	}
	routes := strategy.ResolveAll(ps, tris)
	ev := strategy.NewEvaluator(snap, strategy.EvaluatorConfig{
		Commission:     cfg.Trading.CommissionRate,
		TargetNotional: cfg.Trading.TargetNotional,
		Bounds:         risk.ProfitBounds{MinPct: cfg.Trading.MinProfitPct, MaxPct: cfg.Trading.MaxProfitPct},
	}, logger)

	res := Result{Routes: len(routes), Outcomes: make(map[strategy.Outcome]int)}
	for _, r := range routes {
		op, outcome := ev.Evaluate(ctx, r)
		res.Outcomes[outcome]++
		if outcome == strategy.OutcomeQualified {
			res.Opportunities = append(res.Opportunities, op)
		}
	}
	sort.SliceStable(res.Opportunities, func(i, j int) bool {
		return res.Opportunities[i].ProfitPct > res.Opportunities[j].ProfitPct
	})
	return res
}

// RunCSV replays the snapshot named by TRIARB_REPLAY_CSV and prints a
// summary. It reports false when the variable is unset.
func RunCSV(ctx context.Context, cfg config.Config, logger log.Logger, out io.Writer) (bool, error) {
	path := os.Getenv("TRIARB_REPLAY_CSV")
	if path == "" {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return true, err
	}
	defer f.Close()
	snap, err := LoadSnapshot(f)
	if err != nil {
		return true, fmt.Errorf("load %s: %w", path, err)
	}
	res := Replay(ctx, snap, cfg, logger)
	fmt.Fprintf(out, "replay pairs=%d routes=%d qualified=%d insufficient=%d below_min=%d above_max=%d\n",
		len(snap.Pairs()), res.Routes, res.Outcomes[strategy.OutcomeQualified],
		res.Outcomes[strategy.OutcomeInsufficientDepth], res.Outcomes[strategy.OutcomeBelowMin],
		res.Outcomes[strategy.OutcomeAboveMax])
	for _, op := range res.Opportunities {
		fmt.Fprintf(out, "%s profit=%.4f%% min_liquidity=%.2f\n", op.Triangle.Route(), op.ProfitPct, op.MinLiquidity)
	}
	return true, nil
}
