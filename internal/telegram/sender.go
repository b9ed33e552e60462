package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"psx_copilot/internal/models"
	"psx_copilot/internal/notifications"
)

const (
	ApprovePrefix = "APPROVE_"
	DenyPrefix    = "DENY_"
	sendTimeout   = 10 * time.Second
)

// Button represents an inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// SendInteractive sends a message with one row of inline buttons.
func (c *Client) SendInteractive(ctx context.Context, text string, buttons []Button) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":      c.chatID,
		"text":         text,
		"parse_mode":   "Markdown",
		"reply_markup": map[string]any{"inline_keyboard": [][]Button{buttons}},
	})
}

// DecisionButtons are the approve/deny pair attached to a recommendation.
func DecisionButtons(id string) []Button {
	return []Button{
		{Text: "✅ Approve", CallbackData: ApprovePrefix + id},
		{Text: "❌ Deny", CallbackData: DenyPrefix + id},
	}
}

// ParseDecision splits callback data into the action and recommendation id.
func ParseDecision(data string) (approve bool, id string, ok bool) {
	switch {
	case strings.HasPrefix(data, ApprovePrefix):
		return true, strings.TrimPrefix(data, ApprovePrefix), true
	case strings.HasPrefix(data, DenyPrefix):
		return false, strings.TrimPrefix(data, DenyPrefix), true
	}
	return false, "", false
}

// Announce queues a freshly staged recommendation with decision buttons.
// Its signature matches gate.Announcer.
func (c *Client) Announce(rec models.Recommendation) {
	text := fmt.Sprintf("🔔 *Recommendation* `%s`\n%s %d %s @ %s\n_%s_",
		rec.ShortID(), rec.Side, rec.Quantity, rec.Symbol, rec.Price.StringFixed(2), rec.Reason)
	c.enqueue(outbound{
		label:   "recommendation " + rec.ShortID(),
		text:    text,
		buttons: DecisionButtons(rec.ID),
	})
}

// Emit implements notifications.Sink. ACTION_REQUIRED entries are skipped
// because Announce already carries them with buttons.
func (c *Client) Emit(n models.Notification) {
	if n.Category == models.CategoryActionRequired {
		return
	}
	c.enqueue(outbound{label: fmt.Sprintf("%q", n.Title), text: notifications.Format(n)})
}

var _ notifications.Sink = (*Client)(nil)
