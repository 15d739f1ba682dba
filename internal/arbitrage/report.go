package arbitrage

import (
	"fmt"
	"sort"
	"strings"

	"triarb/internal/exchange/common"
	"triarb/internal/orderexec"
	"triarb/internal/strategy"
)

// dustBalance is the smallest balance included in balance reports.
const dustBalance = 0.0001

var legMarks = [3]string{"🟢", "🟡", "🔴"}

// FormatReport renders an opportunity for the operator channel.
func FormatReport(op strategy.Opportunity) string {
	lines := []string{"🔁 <b>Arbitrage opportunity</b>", "Route: " + op.Triangle.Route()}
	for i, lq := range op.Legs {
		lines = append(lines, fmt.Sprintf("%s %d. %s - %.6f (%s), filled %.2f, available %.2f",
			legMarks[i], i+1, lq.Leg.Symbol(), lq.Quote.AvgPrice, lq.Leg.BookSide(), lq.Quote.Filled, lq.Quote.Liquidity))
	}
	ready := "NO"
	if op.Ready {
		ready = "YES"
	}
	lines = append(lines,
		"",
		fmt.Sprintf("💰 <b>Net profit:</b> %s %s", amount(op.NetProfit()), op.Triangle.Anchor),
		fmt.Sprintf("📈 <b>Spread:</b> %.2f%%", op.ProfitPct),
		fmt.Sprintf("💧 <b>Min liquidity:</b> %.2f", op.MinLiquidity),
		fmt.Sprintf("⚙️ <b>Ready to trade:</b> %s", ready),
	)
	return strings.Join(lines, "\n")
}

func SimulatedText(op strategy.Opportunity) string {
	return strings.Join([]string{
		"✅ <b>Trade simulated</b>",
		"Route: " + op.Triangle.Route(),
		fmt.Sprintf("Expected profit: %.2f%%", op.ProfitPct),
		fmt.Sprintf("Profit amount: %s %s", amount(op.NetProfit()), op.Triangle.Anchor),
		"<i>Simulated mode: no real orders are created</i>",
	}, "\n")
}

func ExecutedText(op strategy.Opportunity, res orderexec.Result, realized float64) string {
	lines := []string{
		"✅ <b>Trade executed</b>",
		"Route: " + op.Triangle.Route(),
		fmt.Sprintf("Expected profit: %.2f%%", op.ProfitPct),
		fmt.Sprintf("Profit amount: %s %s", amount(realized), op.Triangle.Anchor),
	}
	for i, c := range res.Confirmations {
		lines = append(lines, fmt.Sprintf("%d. %s %s order %s %s", i+1, c.Symbol, strings.ToUpper(string(c.Side)), c.OrderID, c.Status))
	}
	return strings.Join(lines, "\n")
}

func FailedText(op strategy.Opportunity, res orderexec.Result) string {
	lines := []string{
		"❌ <b>Trade failed</b>",
		"Route: " + op.Triangle.Route(),
		fmt.Sprintf("Failed at step %d after %d filled", res.FailedStep, len(res.Confirmations)),
	}
	if res.Err != nil {
		lines = append(lines, res.Err.Error())
	}
	return strings.Join(lines, "\n")
}

// BalanceText lists balances above the dust threshold, sorted by asset.
func BalanceText(bals []common.Balance) string {
	lines := []string{"💰 <b>Balance:</b>"}
	for _, b := range reportable(bals) {
		lines = append(lines, fmt.Sprintf("%s: %.6f", b.Asset, b.Total))
	}
	return strings.Join(lines, "\n")
}

// reportable returns the balances above the dust threshold, sorted by asset.
func reportable(bals []common.Balance) []common.Balance {
	out := make([]common.Balance, 0, len(bals))
	for _, b := range bals {
		if b.Total > dustBalance {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// CriticalText is sent when the process stops on an unrecoverable error.
func CriticalText(err error) string {
	return "🚨 <b>Critical error</b>\n" + err.Error()
}

func connectionErrorText(venue string, err error) string {
	return fmt.Sprintf("❌ <b>Connection error (%s)</b>\n%v", venue, err)
}

func startupText(venue string, live bool) string {
	mode := "simulated"
	if live {
		mode = "live"
	}
	return fmt.Sprintf("🤖 <b>Triangular arbitrage scanner started</b>\nVenue: %s\nMode: %s", venue, mode)
}

// amount prints anchor quantities with enough precision for BTC-sized anchors.
func amount(v float64) string {
	if v > -1 && v < 1 {
		return fmt.Sprintf("%.6f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
