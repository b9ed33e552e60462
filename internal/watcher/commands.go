package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"psx_copilot/internal/gate"
	"psx_copilot/internal/models"
)

type CommandDoc struct {
	Name        string
	Description string
	Example     string
}

func defaultCommands() []CommandDoc {
	return []CommandDoc{
		{"/ping", "Connectivity check", "/ping"},
		{"/status", "Cash, holdings, P&L and today's budget", "/status"},
		{"/pending", "Recommendations awaiting a decision", "/pending"},
		{"/approve", "Approve and execute a recommendation", "/approve <id>"},
		{"/deny", "Deny a recommendation", "/deny <id>"},
		{"/cycle", "Run a trading cycle now", "/cycle"},
		{"/report", "Show the last cycle report", "/report"},
		{"/newday", "Inject today's allowance into cash", "/newday"},
		{"/history", "Recent ledger entries", "/history [n]"},
		{"/price", "Live price for a symbol", "/price <symbol>"},
		{"/buy", "Manual buy, staged for approval in gated mode", "/buy <symbol> <qty> [price]"},
		{"/sell", "Manual sell, staged for approval in gated mode", "/sell <symbol> <qty> [price]"},
		{"/market", "PSX breadth and top movers", "/market"},
		{"/config", "Inspect runtime settings", "/config"},
		{"/stop", "Killswitch. Every trade needs approval", "/stop"},
		{"/start", "Enable autonomous execution", "/start"},
	}
}

// HandleCommand processes inbound Telegram commands safely.
func (w *Watcher) HandleCommand(ctx context.Context, cmd string) string {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return ""
	}

	if err := w.ledger.Refresh(ctx); err != nil {
		log.Printf("WARN: could not reload portfolio state: %v", err)
	}

	// Telegram appends the bot name in groups: /status@psx_bot
	name, _, _ := strings.Cut(strings.ToLower(parts[0]), "@")
	switch name {
	case "/ping":
		return "Pong 🏓"
	case "/help":
		return w.getHelp()
	case "/status":
		return w.getStatus()
	case "/pending":
		return w.getPending()
	case "/approve":
		if len(parts) < 2 {
			return "Usage: /approve <id>"
		}
		return w.handleApprove(ctx, parts[1])
	case "/deny":
		if len(parts) < 2 {
			return "Usage: /deny <id>"
		}
		return w.handleDeny(ctx, parts[1])
	case "/cycle":
		return w.handleCycleCommand(ctx)
	case "/report":
		return FormatReport(w.LastReport(), w.ledger.Snapshot().Currency)
	case "/newday":
		return w.handleNewDayCommand(ctx)
	case "/history":
		n := 10
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v <= 0 {
				return "Usage: /history [n]"
			}
			n = v
		}
		return w.getHistory(n)
	case "/market":
		return w.getMarket(ctx)
	case "/price":
		if len(parts) < 2 {
			return "Usage: /price <symbol>"
		}
		return w.getPrice(ctx, parts[1])
	case "/buy":
		return w.handleTradeCommand(ctx, models.SideBuy, parts)
	case "/sell":
		return w.handleTradeCommand(ctx, models.SideSell, parts)
	case "/config":
		return w.getConfig()
	case "/stop":
		return w.handleStopCommand()
	case "/start":
		return w.handleStartCommand()
	default:
		return "Unknown command. Try /status, /pending, /approve, /buy, /sell, /cycle or /help."
	}
}

func (w *Watcher) getHelp() string {
	var sb strings.Builder
	sb.WriteString("🤖 *PSX COPILOT COMMANDS*\n\n")
	for _, cmd := range w.commands {
		fmt.Fprintf(&sb, "🔹 *%s*\n%s\n`%s`\n\n", cmd.Name, cmd.Description, cmd.Example)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (w *Watcher) handleApprove(ctx context.Context, id string) string {
	rec, err := w.Approve(ctx, id)
	switch {
	case errors.Is(err, gate.ErrNotFound), errors.Is(err, gate.ErrAmbiguousID):
		return fmt.Sprintf("⚠️ %v: %s", err, id)
	case errors.Is(err, gate.ErrAlreadyResolved):
		return fmt.Sprintf("⚠️ Already resolved: %s is %s.", rec.ShortID(), rec.Status)
	case err != nil && rec.Status == models.StatusApproved:
		return fmt.Sprintf("❌ Approved but not executed: %s %d %s\n%v", rec.Side, rec.Quantity, rec.Symbol, err)
	case err != nil:
		log.Printf("Approve %s failed: %v", id, err)
		return fmt.Sprintf("⚠️ Approve failed: %v", err)
	}
	cur := w.ledger.Snapshot().Currency
	return fmt.Sprintf("✅ Executed %s %d %s @ %s [%s]",
		rec.Side, rec.Quantity, rec.Symbol, models.FormatMoney(rec.Price, cur), rec.ShortID())
}

func (w *Watcher) handleDeny(ctx context.Context, id string) string {
	rec, err := w.Deny(ctx, id)
	switch {
	case errors.Is(err, gate.ErrNotFound), errors.Is(err, gate.ErrAmbiguousID):
		return fmt.Sprintf("⚠️ %v: %s", err, id)
	case errors.Is(err, gate.ErrAlreadyResolved):
		return fmt.Sprintf("⚠️ Already resolved: %s is %s.", rec.ShortID(), rec.Status)
	case err != nil:
		log.Printf("Deny %s failed: %v", id, err)
		return fmt.Sprintf("⚠️ Deny failed: %v", err)
	}
	return fmt.Sprintf("❌ Denied %s %d %s [%s]", rec.Side, rec.Quantity, rec.Symbol, rec.ShortID())
}

func (w *Watcher) handleCycleCommand(ctx context.Context) string {
	out := w.RunNow(ctx)
	if !out.Ran {
		return "⏳ " + out.Reason
	}
	msg := FormatReport(w.LastReport(), w.ledger.Snapshot().Currency)
	if out.Err != nil {
		msg += fmt.Sprintf("\n⚠️ %s: %v", out.Reason, out.Err)
	}
	return msg
}

func (w *Watcher) handleNewDayCommand(ctx context.Context) string {
	ok, amount, err := w.NewDay(ctx)
	if err != nil {
		return fmt.Sprintf("⚠️ New day failed: %v", err)
	}
	if !ok {
		return "ℹ️ Today's allowance was already injected."
	}
	snap := w.ledger.Snapshot()
	return fmt.Sprintf("⚙️ Added %s. Cash is now %s.",
		models.FormatMoney(amount, snap.Currency), models.FormatMoney(snap.Cash, snap.Currency))
}

func (w *Watcher) handleStopCommand() string {
	if err := w.settings.SetAutonomous(false); err != nil {
		return fmt.Sprintf("⚠️ Could not update settings: %v", err)
	}
	return "🛑 AUTONOMY DISABLED. Every trade now needs approval."
}

func (w *Watcher) handleStartCommand() string {
	if err := w.settings.SetAutonomous(true); err != nil {
		return fmt.Sprintf("⚠️ Could not update settings: %v", err)
	}
	return "✅ AUTONOMY ENABLED. Allocations execute without approval."
}
