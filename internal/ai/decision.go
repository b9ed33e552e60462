package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionHold    Action = "HOLD"
	ActionSell    Action = "SELL"
	ActionBuyMore Action = "BUY_MORE"
)

// Decision is the validated advice for one held position.
type Decision struct {
	Action     Action `json:"action"`
	Quantity   int64  `json:"quantity"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

func hold(reason string) Decision {
	return Decision{Action: ActionHold, Confidence: "LOW", Reason: reason}
}

// PositionView is what the advisor sees of a holding.
type PositionView struct {
	Symbol   string
	Quantity int64
	AvgCost  decimal.Decimal
	Price    decimal.Decimal
	OpenedAt time.Time
}

// PnLPct is the unrealized return as a fraction of cost.
func (p PositionView) PnLPct() float64 {
	if !p.AvgCost.IsPositive() {
		return 0
	}
	f, _ := p.Price.Sub(p.AvgCost).Div(p.AvgCost).Float64()
	return f
}

// FallbackRules decide when no model is available.
type FallbackRules struct {
	StopLossPct        float64 `json:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	TakeProfitFraction float64 `json:"take_profit_fraction"`
}

func DefaultFallbackRules() FallbackRules {
	return FallbackRules{StopLossPct: 5, TakeProfitPct: 10, TakeProfitFraction: 0.5}
}

func (r FallbackRules) Normalize() FallbackRules {
	def := DefaultFallbackRules()
	if r.StopLossPct <= 0 {
		r.StopLossPct = def.StopLossPct
	}
	if r.TakeProfitPct <= 0 {
		r.TakeProfitPct = def.TakeProfitPct
	}
	if r.TakeProfitFraction <= 0 || r.TakeProfitFraction > 1 {
		r.TakeProfitFraction = def.TakeProfitFraction
	}
	return r
}

// Evaluate sells everything below the stop loss, sells a fraction (at least one
// share) above the take profit, and holds otherwise.
func (r FallbackRules) Evaluate(p PositionView) Decision {
	pnl := p.PnLPct() * 100
	switch {
	case pnl < -r.StopLossPct:
		return Decision{Action: ActionSell, Quantity: p.Quantity, Confidence: "LOW", Reason: "Fallback: Stop Loss"}
	case pnl > r.TakeProfitPct:
		qty := int64(float64(p.Quantity) * r.TakeProfitFraction)
		if qty < 1 {
			qty = 1
		}
		return Decision{Action: ActionSell, Quantity: qty, Confidence: "LOW", Reason: "Fallback: Take Profit"}
	}
	return hold("Fallback: Within range")
}

const decisionInstruction = `You are an expert autonomous trading AI managing a position on the Pakistan Stock Exchange (PSX).
All prices are in Pakistani Rupees (PKR). Make measured, patient decisions; short-term noise should not trigger exits.
Positions held less than 3 days with a loss under 5% should normally be held. Cut losses beyond 8-10%. Consider partial profit taking above 15%.
Respond with JSON only:
{"action": "HOLD|SELL|BUY_MORE", "quantity": <shares, 0 for HOLD>, "confidence": "HIGH|MEDIUM|LOW", "reason": "<1-2 sentences>"}`

// Advisor reviews held positions.
type Advisor struct {
	gen   Generator
	rules FallbackRules
	now   func() time.Time
}

// NewAdvisor accepts a nil Generator, in which case only the fallback rules apply.
func NewAdvisor(gen Generator, rules FallbackRules) *Advisor {
	return &Advisor{gen: gen, rules: rules.Normalize(), now: time.Now}
}

// Decide returns a validated decision. It never fails: a model error or an
// invalid answer becomes HOLD, and SELL quantities are clamped to the holding.
func (a *Advisor) Decide(ctx context.Context, p PositionView, marketContext string) Decision {
	if a.gen == nil {
		return a.rules.Evaluate(p)
	}

	text, err := a.gen.Generate(ctx, decisionInstruction, a.prompt(p, marketContext))
	if err != nil {
		log.Printf("AI decision error for %s: %v", p.Symbol, err)
		return hold("AI unavailable, holding")
	}
	d, err := parseDecision(text)
	if err != nil {
		log.Printf("WARN: invalid AI decision for %s: %v", p.Symbol, err)
		return hold("Invalid AI decision, holding")
	}
	if d.Action == ActionSell && d.Quantity > p.Quantity {
		d.Quantity = p.Quantity
	}
	log.Printf("[AI DECISION] %s: %s %d | %s", p.Symbol, d.Action, d.Quantity, d.Reason)
	return d
}

func (a *Advisor) prompt(p PositionView, marketContext string) string {
	held := "Unknown"
	if !p.OpenedAt.IsZero() {
		dur := a.now().Sub(p.OpenedAt)
		if days := int(dur.Hours() / 24); days > 0 {
			held = fmt.Sprintf("%d days", days)
		} else {
			held = fmt.Sprintf("%.1f hours", dur.Hours())
		}
	}
	return fmt.Sprintf(`POSITION DETAILS:
- Symbol: %s
- Quantity Held: %d shares
- Average Cost: %s
- Current Price: %s
- Unrealized P&L: %.2f%%
- Holding Period: %s

MARKET CONTEXT:
%s`, p.Symbol, p.Quantity, p.AvgCost.StringFixed(2), p.Price.StringFixed(2), p.PnLPct()*100, held, marketContext)
}

func parseDecision(text string) (Decision, error) {
	var raw struct {
		Action     string   `json:"action"`
		Quantity   *float64 `json:"quantity"`
		Confidence string   `json:"confidence"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return Decision{}, fmt.Errorf("decode: %w", err)
	}

	d := Decision{
		Action:     Action(strings.ToUpper(strings.TrimSpace(raw.Action))),
		Confidence: strings.ToUpper(strings.TrimSpace(raw.Confidence)),
		Reason:     strings.TrimSpace(raw.Reason),
	}
	switch d.Action {
	case ActionHold, ActionSell, ActionBuyMore:
	default:
		return Decision{}, fmt.Errorf("unknown action %q", raw.Action)
	}
	if d.Action == ActionHold {
		d.Quantity = 0
		return d, nil
	}
	if raw.Quantity == nil || *raw.Quantity < 0 || *raw.Quantity != float64(int64(*raw.Quantity)) {
		return Decision{}, fmt.Errorf("invalid quantity for %s", d.Action)
	}
	d.Quantity = int64(*raw.Quantity)
	if d.Quantity == 0 {
		return Decision{}, fmt.Errorf("%s with zero quantity", d.Action)
	}
	return d, nil
}
