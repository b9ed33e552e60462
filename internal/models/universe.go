package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeSymbol is the canonical ticker form used for map keys and lookups.
func NormalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

// NormalizeUniverse rewrites every candidate symbol to its canonical form.
func NormalizeUniverse(u []CandidateStock) []CandidateStock {
	for i := range u {
		u[i].Symbol = NormalizeSymbol(u[i].Symbol)
	}
	return u
}

// Tier is the conviction bucket a candidate belongs to.
type Tier string

const (
	TierCore      Tier = "CORE"
	TierStability Tier = "STABILITY"
	TierDividend  Tier = "DYP"
	TierOptional  Tier = "OPTIONAL"
)

// Fundamentals holds the static inputs for scoring. Zero means unknown.
type Fundamentals struct {
	FairValue float64 `json:"fair_value,omitempty"`
	PE        float64 `json:"pe,omitempty"`
	Yield     float64 `json:"yield,omitempty"`  // percent
	Growth    float64 `json:"growth,omitempty"` // percent
}

// CandidateStock is a member of the investable universe.
type CandidateStock struct {
	Symbol       string       `json:"symbol"`
	Name         string       `json:"name,omitempty"`
	Sector       string       `json:"sector,omitempty"`
	Tier         Tier         `json:"tier"`
	TargetWeight float64      `json:"target_weight"`
	Fundamentals Fundamentals `json:"fundamentals"`
	Active       bool         `json:"active"`
}

// ScoreBreakdown lists each sub-score; Total is their clamped sum.
type ScoreBreakdown struct {
	Valuation   float64 `json:"valuation"`
	Fundamental float64 `json:"fundamental"`
	Position    float64 `json:"position"`
	Other       float64 `json:"other"`
	Total       float64 `json:"total"`
}

// ScoredCandidate lives for one cycle only.
type ScoredCandidate struct {
	Candidate CandidateStock  `json:"candidate"`
	Price     decimal.Decimal `json:"price"`
	Breakdown ScoreBreakdown  `json:"breakdown"`
	Base      float64         `json:"base"`
	Sentiment float64         `json:"sentiment"`
	Final     float64         `json:"final"`
}

// AllocationDecision is a sized buy for one candidate.
type AllocationDecision struct {
	Symbol    string          `json:"symbol"`
	Tier      Tier            `json:"tier"`
	Score     float64         `json:"score"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Rationale string          `json:"rationale"`
}

// Cost is the cash the decision consumes when filled at Price.
func (d AllocationDecision) Cost() decimal.Decimal {
	return d.Price.Mul(decimal.NewFromInt(d.Quantity))
}
