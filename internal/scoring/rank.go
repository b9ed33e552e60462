package scoring

import (
	"sort"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

// Skip records why a candidate was left out of a cycle.
type Skip struct {
	Symbol string
	Reason string
}

// ScoreAll scores every candidate that has a price and returns them ranked by
// base score, highest first. Ties keep universe order. Symbols are matched
// against prices in upper case.
func (s *Scorer) ScoreAll(universe []models.CandidateStock, prices map[string]decimal.Decimal, ctx Context) ([]models.ScoredCandidate, []Skip) {
	var scored []models.ScoredCandidate
	var skipped []Skip
	for _, c := range universe {
		c.Symbol = models.NormalizeSymbol(c.Symbol)
		price := prices[c.Symbol]
		b, err := s.Score(c, price, ctx)
		if err != nil {
			skipped = append(skipped, Skip{Symbol: c.Symbol, Reason: err.Error()})
			continue
		}
		scored = append(scored, models.ScoredCandidate{
			Candidate: c,
			Price:     price,
			Breakdown: b,
			Base:      b.Total,
			Final:     b.Total,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Base > scored[j].Base })
	return scored, skipped
}

// FilterScope restricts the universe before scoring.
// "held" keeps only symbols already in the portfolio; anything else keeps active candidates.
func FilterScope(universe []models.CandidateStock, scope string, held map[string]models.Position) []models.CandidateStock {
	var out []models.CandidateStock
	for _, c := range universe {
		if scope == "held" {
			if _, ok := held[models.NormalizeSymbol(c.Symbol)]; ok {
				out = append(out, c)
			}
			continue
		}
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}
