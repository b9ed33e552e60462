package allocator

import (
	"context"
	"errors"
	"testing"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ranked(sym string, tier models.Tier, base float64, price string) models.ScoredCandidate {
	return models.ScoredCandidate{
		Candidate: models.CandidateStock{Symbol: sym, Tier: tier, Active: true},
		Price:     d(price),
		Base:      base,
		Final:     base,
	}
}

func find(plan Plan, sym string) (models.AllocationDecision, bool) {
	for _, dec := range plan.Decisions {
		if dec.Symbol == sym {
			return dec, true
		}
	}
	return models.AllocationDecision{}, false
}

func TestAllocate_TierCapAndFloor(t *testing.T) {
	a := New(DefaultParams())
	cands := []models.ScoredCandidate{
		ranked("X", models.TierOptional, 90, "100"),
		ranked("Y", models.TierOptional, 60, "150"),
	}
	plan, err := a.Allocate(context.Background(), cands, d("10000"), nil)
	if err != nil {
		t.Fatal(err)
	}
	x, ok := find(plan, "X")
	if !ok || !x.Amount.Equal(d("2000")) || x.Quantity != 20 {
		t.Errorf("expected X capped at 2000 for 20 shares, got %+v", x)
	}
	y, ok := find(plan, "Y")
	if !ok || !y.Amount.Equal(d("2000")) || y.Quantity != 13 {
		t.Errorf("expected Y capped at 2000 for 13 shares, got %+v", y)
	}
}

func TestAllocate_SumsWithinDeployableAndCaps(t *testing.T) {
	a := New(DefaultParams())
	cands := []models.ScoredCandidate{
		ranked("CORE1", models.TierCore, 95, "10"),
		ranked("STAB1", models.TierStability, 80, "7"),
		ranked("OPT1", models.TierOptional, 70, "3"),
		ranked("OPT2", models.TierDividend, 65, "13"),
		ranked("CORE2", models.TierCore, 60, "9"),
	}
	deployable := d("50000")
	plan, err := a.Allocate(context.Background(), cands, deployable, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Decisions) == 0 {
		t.Fatal("expected decisions")
	}
	if plan.Total().GreaterThan(deployable) {
		t.Errorf("plan spends %s, more than %s", plan.Total(), deployable)
	}
	p := a.Params()
	for _, dec := range plan.Decisions {
		capAmt := deployable.Mul(decimal.NewFromFloat(p.capFor(dec.Tier)))
		if dec.Cost().GreaterThan(capAmt) {
			t.Errorf("%s costs %s above tier cap %s", dec.Symbol, dec.Cost(), capAmt)
		}
		if dec.Quantity <= 0 {
			t.Errorf("%s has non-positive quantity", dec.Symbol)
		}
	}
}

func TestAllocate_EmptyResults(t *testing.T) {
	a := New(DefaultParams())
	ctx := context.Background()

	if plan, err := a.Allocate(ctx, nil, d("10000"), nil); err != nil || len(plan.Decisions) != 0 {
		t.Errorf("empty universe: got %+v, %v", plan, err)
	}
	cands := []models.ScoredCandidate{ranked("X", models.TierCore, 80, "10")}
	if plan, err := a.Allocate(ctx, cands, decimal.Zero, nil); err != nil || len(plan.Decisions) != 0 {
		t.Errorf("zero deployable: got %+v, %v", plan, err)
	}
	low := []models.ScoredCandidate{ranked("L1", models.TierCore, 30, "10"), ranked("L2", models.TierCore, 39.9, "10")}
	plan, err := a.Allocate(ctx, low, d("10000"), nil)
	if err != nil || len(plan.Decisions) != 0 {
		t.Errorf("below threshold: got %+v, %v", plan, err)
	}
	if len(plan.Skipped) != 2 {
		t.Errorf("expected both candidates explained, got %+v", plan.Skipped)
	}
}

func TestAllocate_SentimentAdjustsAndExcludes(t *testing.T) {
	a := New(DefaultParams())
	cands := []models.ScoredCandidate{
		ranked("UP", models.TierCore, 35, "10"),
		ranked("DOWN", models.TierCore, 50, "10"),
		ranked("FAIL", models.TierCore, 90, "10"),
	}
	oracle := func(_ context.Context, c models.ScoredCandidate) (float64, error) {
		switch c.Candidate.Symbol {
		case "UP":
			return 1.5, nil // clamped to 1
		case "DOWN":
			return -1, nil
		}
		return 0, errors.New("timeout")
	}
	plan, err := a.Allocate(context.Background(), cands, d("10000"), oracle)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Decisions) != 1 || plan.Decisions[0].Symbol != "UP" {
		t.Fatalf("expected only UP, got %+v", plan.Decisions)
	}
	if plan.Decisions[0].Score != 55 {
		t.Errorf("expected final score 55, got %f", plan.Decisions[0].Score)
	}
	reasons := map[string]bool{}
	for _, s := range plan.Skipped {
		reasons[s.Symbol] = true
	}
	if !reasons["DOWN"] || !reasons["FAIL"] {
		t.Errorf("expected DOWN and FAIL skipped, got %+v", plan.Skipped)
	}
}

func TestAllocate_ShortlistAndTopPicks(t *testing.T) {
	p := DefaultParams()
	p.ShortlistSize = 3
	p.MaxPicks = 2
	p.MinTicket = 0
	a := New(p)

	calls := 0
	oracle := func(context.Context, models.ScoredCandidate) (float64, error) {
		calls++
		return 0, nil
	}
	cands := []models.ScoredCandidate{
		ranked("A", models.TierCore, 90, "1"),
		ranked("B", models.TierCore, 80, "1"),
		ranked("C", models.TierCore, 70, "1"),
		ranked("D", models.TierCore, 60, "1"),
		ranked("E", models.TierCore, 50, "1"),
	}
	plan, err := a.Allocate(context.Background(), cands, d("1000"), oracle)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected sentiment lookups bounded to 3, got %d", calls)
	}
	if len(plan.Decisions) != 2 || plan.Decisions[0].Symbol != "A" || plan.Decisions[1].Symbol != "B" {
		t.Errorf("expected A and B, got %+v", plan.Decisions)
	}
}

func TestAllocate_MinimumTicketAndZeroQuantity(t *testing.T) {
	a := New(DefaultParams())
	cands := []models.ScoredCandidate{
		ranked("DUST", models.TierOptional, 60, "10"),
		ranked("PRICEY", models.TierCore, 90, "100000"),
	}
	plan, err := a.Allocate(context.Background(), cands, d("4000"), nil)
	if err != nil {
		t.Fatal(err)
	}
	// DUST: cap 800 < 1000 ticket. PRICEY: 2400 buys no share at 100000.
	if len(plan.Decisions) != 0 {
		t.Errorf("expected no decisions, got %+v", plan.Decisions)
	}
	if len(plan.Skipped) != 2 {
		t.Errorf("expected two skips, got %+v", plan.Skipped)
	}
}

func TestAllocate_StableTieOrder(t *testing.T) {
	p := DefaultParams()
	p.MaxPicks = 1
	a := New(p)
	cands := []models.ScoredCandidate{
		ranked("FIRST", models.TierCore, 70, "10"),
		ranked("SECOND", models.TierCore, 70, "10"),
	}
	plan, err := a.Allocate(context.Background(), cands, d("10000"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Decisions) != 1 || plan.Decisions[0].Symbol != "FIRST" {
		t.Errorf("expected FIRST to win the tie, got %+v", plan.Decisions)
	}
}

func TestAllocate_CancelledContext(t *testing.T) {
	a := New(DefaultParams())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Allocate(ctx, []models.ScoredCandidate{ranked("X", models.TierCore, 80, "10")}, d("10000"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	p := Params{TierCaps: map[models.Tier]float64{models.TierCore: 1.5}, Scope: "bogus"}.Normalize()
	def := DefaultParams()
	if p.ShortlistSize != def.ShortlistSize || p.MaxPicks != def.MaxPicks || p.DefaultTierCap != def.DefaultTierCap {
		t.Errorf("expected defaults, got %+v", p)
	}
	if p.TierCaps[models.TierCore] != 0.80 {
		t.Errorf("expected CORE cap reset to 0.80, got %f", p.TierCaps[models.TierCore])
	}
	if p.Scope != "active" {
		t.Errorf("expected active scope, got %s", p.Scope)
	}
}
