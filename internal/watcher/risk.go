package watcher

import (
	"context"
	"fmt"
	"log"

	"psx_copilot/internal/ai"
	"psx_copilot/internal/config"
	"psx_copilot/internal/ledger"
	"psx_copilot/internal/models"
)

// reviewPositions marks every holding to market and asks the advisor what to
// do with it. SELL advice is executed or staged; BUY_MORE is left to the
// allocator; holdings without a live price are skipped.
func (w *Watcher) reviewPositions(ctx context.Context, s config.Settings, rep *CycleReport) {
	snap := w.ledger.Snapshot()
	if len(snap.Positions) == 0 {
		return
	}

	prices := w.syncPrices(ctx, snap)
	advisor := ai.NewAdvisor(w.gen, s.Monitor)
	marketContext := fmt.Sprintf("PSX breadth trend %+.2f (-1 all losers, +1 all gainers)", rep.Trend)

	for _, sym := range sortedSymbols(snap.Positions) {
		if ctx.Err() != nil {
			return
		}
		p := snap.Positions[sym]
		price, ok := prices[sym]
		if !ok {
			log.Printf("[MONITOR] %s: price unavailable, skipping review", sym)
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, s.CallTimeout())
		d := advisor.Decide(cctx, ai.PositionView{
			Symbol:   sym,
			Quantity: p.Quantity,
			AvgCost:  p.AvgCost,
			Price:    price,
			OpenedAt: p.OpenedAt,
		}, marketContext)
		cancel()

		switch d.Action {
		case ai.ActionSell:
			qty := min(d.Quantity, p.Quantity)
			if qty <= 0 {
				continue
			}
			log.Printf("[MONITOR] %s: SELL %d (%s)", sym, qty, d.Reason)
			w.submit(ctx, ledger.Order{
				Symbol:   sym,
				Side:     models.SideSell,
				Quantity: qty,
				Price:    price,
				Reason:   d.Reason,
			}, s.AutonomousMode, rep)
		case ai.ActionBuyMore:
			log.Printf("[MONITOR] %s: BUY_MORE suggested (%s), sizing left to the allocator", sym, d.Reason)
		default:
			log.Printf("DEBUG: [MONITOR] %s: HOLD (%s)", sym, d.Reason)
		}
	}
}
