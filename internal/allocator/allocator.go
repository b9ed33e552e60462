// Package allocator turns ranked candidates into sized, capped buy decisions.
package allocator

import (
	"context"
	"fmt"
	"log"
	"sort"

	"psx_copilot/internal/models"
	"psx_copilot/internal/scoring"

	"github.com/shopspring/decimal"
)

type Params struct {
	ShortlistSize   int                     `json:"shortlist_size"`
	MaxPicks        int                     `json:"max_picks"`
	SentimentWeight float64                 `json:"sentiment_weight"`
	MinScore        float64                 `json:"min_score"`
	MinTicket       float64                 `json:"min_ticket"`
	TierCaps        map[models.Tier]float64 `json:"tier_caps"`
	DefaultTierCap  float64                 `json:"default_tier_cap"`
	Scope           string                  `json:"scope"` // "active" or "held"
}

func DefaultParams() Params {
	return Params{
		ShortlistSize:   7,
		MaxPicks:        5,
		SentimentWeight: 20,
		MinScore:        40,
		MinTicket:       1000,
		TierCaps: map[models.Tier]float64{
			models.TierCore:      0.80,
			models.TierStability: 0.30,
		},
		DefaultTierCap: 0.20,
		Scope:          "active",
	}
}

// Normalize replaces values that would make allocation meaningless.
func (p Params) Normalize() Params {
	def := DefaultParams()
	if p.ShortlistSize <= 0 {
		p.ShortlistSize = def.ShortlistSize
	}
	if p.MaxPicks <= 0 {
		p.MaxPicks = def.MaxPicks
	}
	if p.SentimentWeight < 0 {
		p.SentimentWeight = def.SentimentWeight
	}
	if p.MinScore < 0 || p.MinScore > 100 {
		p.MinScore = def.MinScore
	}
	if p.MinTicket < 0 {
		p.MinTicket = def.MinTicket
	}
	caps := make(map[models.Tier]float64, len(p.TierCaps))
	for tier, c := range p.TierCaps {
		if c < 0 || c > 1 {
			log.Printf("WARN: tier cap %s=%f out of [0,1], using default", tier, c)
			c = def.capFor(tier)
		}
		caps[tier] = c
	}
	if len(caps) == 0 {
		caps = def.TierCaps
	}
	p.TierCaps = caps
	if p.DefaultTierCap <= 0 || p.DefaultTierCap > 1 {
		p.DefaultTierCap = def.DefaultTierCap
	}
	if p.Scope != "held" {
		p.Scope = "active"
	}
	return p
}

func (p Params) capFor(tier models.Tier) float64 {
	if c, ok := p.TierCaps[tier]; ok {
		return c
	}
	return p.DefaultTierCap
}

// SentimentFunc returns a score in [-1, 1] for a shortlisted candidate.
// An error excludes that candidate from the cycle.
type SentimentFunc func(ctx context.Context, c models.ScoredCandidate) (float64, error)

// Plan is the allocator output for one cycle.
type Plan struct {
	Decisions []models.AllocationDecision
	Skipped   []scoring.Skip
}

// Total is the cash the plan consumes.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, d := range p.Decisions {
		total = total.Add(d.Cost())
	}
	return total
}

type Allocator struct {
	p Params
}

func New(p Params) *Allocator {
	return &Allocator{p: p.Normalize()}
}

func (a *Allocator) Params() Params { return a.p }

// Allocate sizes buys for ranked candidates. It returns an error only when ctx is
// cancelled; every other problem is recorded as a skip.
func (a *Allocator) Allocate(ctx context.Context, ranked []models.ScoredCandidate, deployable decimal.Decimal, sentiment SentimentFunc) (Plan, error) {
	var plan Plan
	if !deployable.IsPositive() || len(ranked) == 0 {
		return plan, nil
	}

	cands := append([]models.ScoredCandidate(nil), ranked...)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Base > cands[j].Base })
	for _, c := range cands[min(a.p.ShortlistSize, len(cands)):] {
		plan.Skipped = append(plan.Skipped, scoring.Skip{Symbol: c.Candidate.Symbol, Reason: "outside shortlist"})
	}
	cands = cands[:min(a.p.ShortlistSize, len(cands))]

	var viable []models.ScoredCandidate
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		s := 0.0
		if sentiment != nil {
			v, err := sentiment(ctx, c)
			if err != nil {
				plan.Skipped = append(plan.Skipped, scoring.Skip{Symbol: c.Candidate.Symbol, Reason: fmt.Sprintf("sentiment unavailable: %v", err)})
				continue
			}
			s = clamp(v, -1, 1)
		}
		c.Sentiment = s
		c.Final = clamp(c.Base+s*a.p.SentimentWeight, 0, 100)
		if c.Final < a.p.MinScore {
			plan.Skipped = append(plan.Skipped, scoring.Skip{Symbol: c.Candidate.Symbol, Reason: fmt.Sprintf("score %.1f below %.1f", c.Final, a.p.MinScore)})
			continue
		}
		viable = append(viable, c)
	}

	sort.SliceStable(viable, func(i, j int) bool { return viable[i].Final > viable[j].Final })
	if len(viable) > a.p.MaxPicks {
		for _, c := range viable[a.p.MaxPicks:] {
			plan.Skipped = append(plan.Skipped, scoring.Skip{Symbol: c.Candidate.Symbol, Reason: "outside top picks"})
		}
		viable = viable[:a.p.MaxPicks]
	}

	sumScores := 0.0
	for _, c := range viable {
		sumScores += c.Final
	}
	if sumScores <= 0 {
		return plan, nil
	}

	minTicket := decimal.NewFromFloat(a.p.MinTicket)
	sum := decimal.NewFromFloat(sumScores)
	for _, c := range viable {
		raw := decimal.NewFromFloat(c.Final).Div(sum).Mul(deployable)
		capAmt := deployable.Mul(decimal.NewFromFloat(a.p.capFor(c.Candidate.Tier)))
		amount := decimal.Min(raw, capAmt)
		sym := c.Candidate.Symbol

		if amount.LessThan(minTicket) {
			plan.Skipped = append(plan.Skipped, scoring.Skip{Symbol: sym, Reason: fmt.Sprintf("allocation %s below minimum ticket %s", amount.StringFixed(2), minTicket.StringFixed(2))})
			continue
		}
		qty := amount.Div(c.Price).Floor().IntPart()
		if qty <= 0 {
			plan.Skipped = append(plan.Skipped, scoring.Skip{Symbol: sym, Reason: fmt.Sprintf("allocation %s buys no shares at %s", amount.StringFixed(2), c.Price.StringFixed(2))})
			continue
		}

		plan.Decisions = append(plan.Decisions, models.AllocationDecision{
			Symbol:   sym,
			Tier:     c.Candidate.Tier,
			Score:    c.Final,
			Amount:   amount,
			Price:    c.Price,
			Quantity: qty,
			Rationale: fmt.Sprintf("score %.1f (base %.1f, sentiment %+.2f), %s tier",
				c.Final, c.Base, c.Sentiment, c.Candidate.Tier),
		})
	}
	return plan, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
