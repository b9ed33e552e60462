package watcher

import (
	"context"

	"psx_copilot/internal/telegram"
)

// HandleCallback processes approve/deny button presses from Telegram.
func (w *Watcher) HandleCallback(ctx context.Context, data string) string {
	approve, id, ok := telegram.ParseDecision(data)
	if !ok || id == "" {
		return "⚠️ Invalid callback data."
	}
	if approve {
		return w.handleApprove(ctx, id)
	}
	return w.handleDeny(ctx, id)
}
