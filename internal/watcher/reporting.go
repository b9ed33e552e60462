package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"psx_copilot/internal/budget"
	"psx_copilot/internal/config"
	"psx_copilot/internal/ledger"
	"psx_copilot/internal/models"
)

func (w *Watcher) getStatus() string {
	snap := w.ledger.Snapshot()
	sum := ledger.Summarize(snap)
	s := w.settings.Get()
	cur := snap.Currency

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *PSX COPILOT STATUS* %s\n", w.version)
	fmt.Fprintf(&sb, "Mode: [%s] | Uptime: %s\n", modeLabel(s.AutonomousMode), w.now().Sub(w.started).Round(time.Minute))

	now := w.now().In(config.PktLoc)
	window := s.Window()
	session := "CLOSED 🔴"
	if window.Contains(now) {
		session = "OPEN 🟢"
	}
	fmt.Fprintf(&sb, "Window %s-%s PKT: %s\n\n", window.Start, window.End, session)

	fmt.Fprintf(&sb, "Cash: %s\nHoldings: %s\nTotal: %s\n",
		models.FormatMoney(sum.Cash, cur), models.FormatMoney(sum.HoldingsValue, cur), models.FormatMoney(sum.TotalValue, cur))
	fmt.Fprintf(&sb, "Unrealized: %s | Realized: %s\nOverall: %s (%s%%)\n\n",
		models.FormatMoney(sum.UnrealizedPnL, cur), models.FormatMoney(sum.RealizedPnL, cur),
		models.FormatMoney(sum.OverallPnL, cur), sum.OverallPnLPct.StringFixed(2))

	b := snap.Budget
	fmt.Fprintf(&sb, "Budget %s: deployable %s, used %s, remaining %s\n\n",
		orDash(b.LastAccrualDate), models.FormatMoney(b.TodayDeployable, cur),
		models.FormatMoney(b.UsedToday, cur), models.FormatMoney(budget.Remaining(b), cur))

	if len(snap.Positions) > 0 {
		sb.WriteString("`Ticker |   Qty |    Avg |   Last |  P/L%`\n")
		sb.WriteString("`---------------------------------------`\n")
		for _, sym := range sortedSymbols(snap.Positions) {
			p := snap.Positions[sym]
			last := p.LastPrice
			if !last.IsPositive() {
				last = p.AvgCost
			}
			fmt.Fprintf(&sb, "`%-6s | %5d | %6s | %6s | %+5.1f`\n",
				sym, p.Quantity, p.AvgCost.StringFixed(2), last.StringFixed(2), p.PnLPct(last)*100)
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No open positions.\n\n")
	}

	fmt.Fprintf(&sb, "Pending reviews: %d\n", sum.PendingReviews)
	if snap.LastRun != nil {
		fmt.Fprintf(&sb, "Last cycle: %s", snap.LastRun.In(config.PktLoc).Format("2006-01-02 15:04 MST"))
	} else {
		sb.WriteString("Last cycle: never")
	}
	return sb.String()
}

func (w *Watcher) getPending() string {
	pending := w.gate.Pending()
	if len(pending) == 0 {
		return "✅ No pending recommendations."
	}
	cur := w.ledger.Snapshot().Currency
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 *PENDING RECOMMENDATIONS (%d)*\n", len(pending))
	for _, r := range pending {
		fmt.Fprintf(&sb, "• `%s` %s %d %s @ %s\n  _%s_\n",
			r.ShortID(), r.Side, r.Quantity, r.Symbol, models.FormatMoney(r.Price, cur), r.Reason)
	}
	sb.WriteString("\nUse /approve <id> or /deny <id>.")
	return sb.String()
}

func (w *Watcher) getHistory(n int) string {
	trades := w.ledger.Snapshot().Trades
	if len(trades) == 0 {
		return "No trades yet."
	}
	if n <= 0 || n > len(trades) {
		n = len(trades)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📜 *LAST %d ENTRIES*\n", n)
	for i := len(trades) - 1; i >= len(trades)-n; i-- {
		sb.WriteString("• " + formatTrade(trades[i]) + "\n")
	}
	return sb.String()
}

func (w *Watcher) getMarket(ctx context.Context) string {
	b, ok := w.marketBreadth(ctx, w.settings.Get().CallTimeout())
	if !ok {
		return "⚠️ Market breadth unavailable."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏛️ *PSX MARKET*\nGainers: %d | Losers: %d | Trend: %+.2f\n", b.Gainers, b.Losers, b.Trend())
	for _, m := range b.TopGainers {
		fmt.Fprintf(&sb, "🟢 %s %s (%+.2f%%)\n", m.Symbol, m.Price.StringFixed(2), m.ChangePct)
	}
	for _, m := range b.TopLosers {
		fmt.Fprintf(&sb, "🔴 %s %s (%+.2f%%)\n", m.Symbol, m.Price.StringFixed(2), m.ChangePct)
	}
	return sb.String()
}

func (w *Watcher) getConfig() string {
	s := w.settings.Get()
	var sb strings.Builder
	sb.WriteString("⚙️ *SETTINGS*\n")
	fmt.Fprintf(&sb, "Window: %s-%s PKT, every %d min\n", s.TradingStart, s.TradingEnd, s.PollingIntervalMins)
	fmt.Fprintf(&sb, "Mode: %s | Monitor: %t\n", modeLabel(s.AutonomousMode), s.MonitorEnabled)
	fmt.Fprintf(&sb, "Allowance: %.2f | Rollover: %.0f%%\n", s.DailyAllowance, s.RolloverFraction*100)
	fmt.Fprintf(&sb, "Shortlist %d, picks %d, min score %.0f, min ticket %.0f\n",
		s.Allocator.ShortlistSize, s.Allocator.MaxPicks, s.Allocator.MinScore, s.Allocator.MinTicket)
	fmt.Fprintf(&sb, "Stop loss %.1f%% | Take profit %.1f%%", s.Monitor.StopLossPct, s.Monitor.TakeProfitPct)
	return sb.String()
}

// FormatReport renders a cycle report for chat and the CLI.
func FormatReport(r *CycleReport, currency string) string {
	if r == nil {
		return "No cycle has run yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔁 *CYCLE %s* (%s)\n", r.Day, modeLabel(r.Autonomous))
	if r.Regime != "" {
		fmt.Fprintf(&sb, "Regime: %s (sentiment %+.2f, trend %+.2f)\n", r.Regime, r.Sentiment, r.Trend)
	}
	fmt.Fprintf(&sb, "Remaining: %s | Deployable: %s\n",
		models.FormatMoney(r.Remaining, currency), models.FormatMoney(r.Deployable, currency))
	for _, t := range r.Executed {
		sb.WriteString("✅ " + formatTrade(t) + "\n")
	}
	for _, rec := range r.Proposed {
		fmt.Fprintf(&sb, "🔔 `%s` %s %d %s awaiting approval\n", rec.ShortID(), rec.Side, rec.Quantity, rec.Symbol)
	}
	for _, msg := range r.Rejected {
		sb.WriteString("❌ " + msg + "\n")
	}
	if len(r.Executed)+len(r.Proposed)+len(r.Rejected) == 0 {
		sb.WriteString("No trades this cycle.\n")
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&sb, "Skipped: %d candidates", len(r.Skipped))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatTrade(t models.TradeRecord) string {
	ts := t.Timestamp.In(config.PktLoc).Format("01-02 15:04")
	switch t.Side {
	case models.SideDeposit, models.SideWithdraw:
		return fmt.Sprintf("%s %s %s (%s)", ts, t.Side, t.Amount.StringFixed(2), t.Reason)
	}
	line := fmt.Sprintf("%s %s %d %s @ %s", ts, t.Side, t.Quantity, t.Symbol, t.Price.StringFixed(2))
	if t.RealizedPnL != nil {
		line += fmt.Sprintf(" P/L %s", t.RealizedPnL.StringFixed(2))
	}
	return line
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
