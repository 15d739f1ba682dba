package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ScanCyclesTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "scan_cycles_total", Help: "Completed scan cycles"})
	ScanCycleDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "scan_cycle_duration_ms", Help: "Wall time of one fan-out/fan-in scan cycle", Buckets: prometheus.ExponentialBuckets(10, 2, 14)})
	ScanState           = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scan_state", Help: "0 idle, 1 scanning"})
	TrianglesLoaded     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "triangles_loaded", Help: "Routes enumerated at startup"})

	TrianglesCheckedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "triangles_checked_total", Help: "Total triangles evaluated"})
	TrianglesOutcomeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "triangles_outcome_total", Help: "Triangle evaluation outcomes"},
		[]string{"outcome"},
	)
	TriangleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "triangle_errors_total", Help: "Unexpected per-triangle failures"})
	TriangleProfitPct   = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "triangle_profit_pct", Help: "Net profit percent per fully priced triangle", Buckets: prometheus.LinearBuckets(-5, 0.25, 41)})
	LegSlippageBps      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "leg_slippage_bps", Help: "Depth-weighted price distance from best level", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)})

	ArbOppsFound    = prometheus.NewCounter(prometheus.CounterOpts{Name: "arbitrage_opportunities_found", Help: "Opportunities inside the profit bounds"})
	ArbOppsReady    = prometheus.NewCounter(prometheus.CounterOpts{Name: "arbitrage_opportunities_ready", Help: "Opportunities past the hold window"})
	ArbOppsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "arbitrage_opportunities_executed", Help: "Execution sequences by result"},
		[]string{"status"},
	)
	ExpectedProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "expected_profit_anchor_units", Help: "Cumulative expected profit of completed sequences"},
		[]string{"anchor"},
	)

	OrdersSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_submitted_total", Help: "Total orders submitted"})
	OrderSubmitLatencyMs = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "order_submit_latency_ms", Help: "Order submit latency", Buckets: prometheus.LinearBuckets(1, 10, 20)})
	APIErrorsTotal       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "api_errors_total", Help: "API errors by exchange and endpoint"}, []string{"exchange", "endpoint"})

	NotifyErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "notify_errors_total", Help: "Failed notification deliveries"}, []string{"sender"})
	LedgerErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_errors_total", Help: "Failed ledger appends"})
)

func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		ScanCyclesTotal, ScanCycleDurationMs, ScanState, TrianglesLoaded,
		TrianglesCheckedTotal, TrianglesOutcomeTotal, TriangleErrorsTotal, TriangleProfitPct, LegSlippageBps,
		ArbOppsFound, ArbOppsReady, ArbOppsExecuted, ExpectedProfit,
		OrdersSubmittedTotal, OrderSubmitLatencyMs, APIErrorsTotal,
		NotifyErrorsTotal, LedgerErrorsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
