// Package watcher runs the trading cycle and serves operator commands.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"psx_copilot/internal/ai"
	"psx_copilot/internal/allocator"
	"psx_copilot/internal/budget"
	"psx_copilot/internal/config"
	"psx_copilot/internal/gate"
	"psx_copilot/internal/ledger"
	"psx_copilot/internal/market"
	"psx_copilot/internal/models"
	"psx_copilot/internal/scheduler"
	"psx_copilot/internal/scoring"

	"github.com/shopspring/decimal"
)

// SettingsSource hands out settings snapshots. *config.Manager satisfies it.
type SettingsSource interface {
	Get() config.Settings
	SetAutonomous(on bool) error
}

// Deps are the collaborators of a Watcher. Ledger, Settings and Prices are
// required; the rest fall back to inert defaults.
type Deps struct {
	Ledger    *ledger.Ledger
	Settings  SettingsSource
	Prices    market.PriceProvider
	Breadth   market.SummaryProvider
	Generator ai.Generator
	Oracle    *ai.SentimentOracle
	Gate      *gate.Gate
	Budget    *budget.Engine
	Clock     func() time.Time
	Version   string
}

type Watcher struct {
	ledger   *ledger.Ledger
	settings SettingsSource
	prices   market.PriceProvider
	breadth  market.SummaryProvider
	gen      ai.Generator
	oracle   *ai.SentimentOracle
	gate     *gate.Gate
	budget   *budget.Engine
	now      func() time.Time
	version  string
	started  time.Time
	commands []CommandDoc

	sched *scheduler.Scheduler

	// cycleMu spans the whole monitor, budget, allocation and execution sequence.
	cycleMu sync.Mutex

	mu         sync.Mutex
	lastReport *CycleReport
}

func New(d Deps) (*Watcher, error) {
	if d.Ledger == nil || d.Settings == nil || d.Prices == nil {
		return nil, errors.New("watcher: ledger, settings and prices are required")
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Oracle == nil {
		d.Oracle = ai.NewSentimentOracle(d.Generator, 0)
	}
	if d.Gate == nil {
		d.Gate = gate.New(d.Ledger)
	}
	if d.Budget == nil {
		d.Budget = budget.New(d.Ledger)
	}

	w := &Watcher{
		ledger:   d.Ledger,
		settings: d.Settings,
		prices:   d.Prices,
		breadth:  d.Breadth,
		gen:      d.Generator,
		oracle:   d.Oracle,
		gate:     d.Gate,
		budget:   d.Budget,
		now:      d.Clock,
		version:  d.Version,
		started:  d.Clock(),
		commands: defaultCommands(),
	}
	w.sched = scheduler.New(w.RunCycle,
		func() scheduler.Settings { return w.settings.Get().SchedulerSettings() },
		scheduler.WithClock(d.Clock),
		scheduler.WithLocation(config.PktLoc),
		scheduler.WithLastRun(d.Ledger.Snapshot().LastRun),
		scheduler.OnRun(w.persistLastRun),
	)
	return w, nil
}

// Scheduler exposes the cycle gate, e.g. for the daemon loop.
func (w *Watcher) Scheduler() *scheduler.Scheduler { return w.sched }

func (w *Watcher) Gate() *gate.Gate { return w.gate }

func (w *Watcher) Ledger() *ledger.Ledger { return w.ledger }

// Tick runs a cycle if the trading window and cooldown allow it.
func (w *Watcher) Tick(ctx context.Context) scheduler.Outcome { return w.sched.Tick(ctx) }

// RunNow forces a cycle regardless of window and cooldown.
func (w *Watcher) RunNow(ctx context.Context) scheduler.Outcome { return w.sched.RunNow(ctx) }

// LastReport returns the report of the most recent cycle, or nil.
func (w *Watcher) LastReport() *CycleReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReport
}

func (w *Watcher) persistLastRun(t time.Time) {
	err := w.ledger.Mutate(context.Background(), func(tx *ledger.Tx) error {
		tx.State().LastRun = &t
		tx.Touch()
		return nil
	})
	if err != nil {
		log.Printf("WARN: could not persist last run: %v", err)
	}
}

// CycleReport summarises what one cycle did.
type CycleReport struct {
	Day        string
	Started    time.Time
	Autonomous bool
	Trend      float64
	Sentiment  float64
	Regime     string
	Remaining  decimal.Decimal
	Deployable decimal.Decimal
	Executed   []models.TradeRecord
	Proposed   []models.Recommendation
	Rejected   []string
	Skipped    []scoring.Skip
}

// Spent is the cash consumed by executed buys.
func (r CycleReport) Spent() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Executed {
		if t.Side == models.SideBuy {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// RunCycle is one full pass: review holdings, accrue the budget, score the
// universe, size allocations and execute or stage them.
func (w *Watcher) RunCycle(ctx context.Context) error {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	if err := w.ledger.Refresh(ctx); err != nil {
		log.Printf("WARN: could not reload portfolio state: %v", err)
	}
	rep, err := w.cycle(ctx)
	w.mu.Lock()
	w.lastReport = &rep
	w.mu.Unlock()
	return err
}

func (w *Watcher) cycle(ctx context.Context) (CycleReport, error) {
	s := w.settings.Get()
	now := w.now().In(config.PktLoc)
	rep := CycleReport{Day: budget.Day(now), Started: now, Autonomous: s.AutonomousMode}
	log.Printf("[CYCLE] Starting %s cycle for %s", modeLabel(s.AutonomousMode), rep.Day)

	rep.Trend = w.marketTrend(ctx, s.CallTimeout())

	if s.MonitorEnabled {
		w.reviewPositions(ctx, s, &rep)
	}

	if _, err := w.budget.Accrue(ctx, rep.Day, s.BudgetPolicy()); err != nil {
		return rep, fmt.Errorf("accrue budget: %w", err)
	}
	rep.Remaining = w.budget.Remaining()
	if !rep.Remaining.IsPositive() {
		log.Printf("[CYCLE] Daily budget exhausted, no new allocations")
		return rep, nil
	}

	rep.Sentiment = w.marketSentiment(ctx, s)
	rep.Regime = s.Regime.Label(rep.Sentiment)
	snap := w.ledger.Snapshot()
	rep.Deployable = s.Regime.Adjust(rep.Remaining, rep.Sentiment, snap.Cash)
	log.Printf("[ALLOCATOR] Regime %s (sentiment %+.2f): remaining %s, deployable %s",
		rep.Regime, rep.Sentiment, rep.Remaining.StringFixed(2), rep.Deployable.StringFixed(2))
	if !rep.Deployable.IsPositive() {
		return rep, nil
	}

	universe := scoring.FilterScope(snap.Universe, s.Allocator.Scope, snap.Positions)
	if len(universe) == 0 {
		log.Printf("[ALLOCATOR] Universe is empty for scope %q, nothing to allocate", s.Allocator.Scope)
		return rep, nil
	}
	symbols := make([]string, 0, len(universe))
	for _, c := range universe {
		symbols = append(symbols, c.Symbol)
	}
	prices := market.Prices(ctx, w.prices, symbols)

	ranked, skipped := scoring.New(s.Scoring).ScoreAll(universe, prices, scoring.ContextFromState(snap, rep.Trend))
	rep.Skipped = append(rep.Skipped, skipped...)

	plan, err := allocator.New(s.Allocator).Allocate(ctx, ranked, rep.Deployable, w.candidateSentiment(s.CallTimeout()))
	if err != nil {
		return rep, fmt.Errorf("allocate: %w", err)
	}
	rep.Skipped = append(rep.Skipped, plan.Skipped...)
	for _, sk := range rep.Skipped {
		log.Printf("DEBUG: [ALLOCATOR] skipped %s: %s", sk.Symbol, sk.Reason)
	}

	for _, d := range plan.Decisions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		w.submit(ctx, ledger.Order{
			Symbol:   d.Symbol,
			Side:     models.SideBuy,
			Quantity: d.Quantity,
			Price:    d.Price,
			Reason:   d.Rationale,
		}, s.AutonomousMode, &rep)
	}

	if spent := rep.Spent(); spent.IsPositive() {
		if err := w.budget.RecordUsage(ctx, spent); err != nil {
			return rep, fmt.Errorf("record budget usage: %w", err)
		}
	}
	log.Printf("[CYCLE] Done: %d executed, %d proposed, %d rejected, %d skipped",
		len(rep.Executed), len(rep.Proposed), len(rep.Rejected), len(rep.Skipped))
	return rep, nil
}

// submit executes o when autonomous, otherwise stages it for approval.
// Rejections are recorded as ALERT notifications and never abort the cycle.
func (w *Watcher) submit(ctx context.Context, o ledger.Order, autonomous bool, rep *CycleReport) {
	if !autonomous {
		rec, created, err := w.gate.Propose(ctx, o)
		if err != nil {
			log.Printf("WARN: could not stage %s: %v", o, err)
			rep.Rejected = append(rep.Rejected, fmt.Sprintf("%s: %v", o, err))
			return
		}
		if created {
			rep.Proposed = append(rep.Proposed, rec)
		}
		return
	}

	trade, err := w.ledger.Execute(ctx, o)
	if err != nil {
		log.Printf("WARN: trade rejected %s: %v", o, err)
		rep.Rejected = append(rep.Rejected, fmt.Sprintf("%s: %v", o, err))
		if nerr := w.ledger.Notify(ctx, "Trade Rejected", fmt.Sprintf("%s: %v", o, err), models.CategoryAlert); nerr != nil {
			log.Printf("WARN: could not record rejection: %v", nerr)
		}
		return
	}
	rep.Executed = append(rep.Executed, trade)
}

// marketSentiment scores the configured market topic. A failed call is neutral.
func (w *Watcher) marketSentiment(ctx context.Context, s config.Settings) float64 {
	cctx, cancel := context.WithTimeout(ctx, s.CallTimeout())
	defer cancel()
	r, err := w.oracle.Score(cctx, s.MarketTopic)
	if err != nil {
		log.Printf("WARN: market sentiment unavailable, assuming neutral: %v", err)
		return 0
	}
	return r.Score
}

// candidateSentiment asks the oracle about each shortlisted symbol. Errors
// propagate so the allocator excludes the candidate.
func (w *Watcher) candidateSentiment(timeout time.Duration) allocator.SentimentFunc {
	return func(ctx context.Context, c models.ScoredCandidate) (float64, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		topic := c.Candidate.Symbol + " stock (PSX)"
		if c.Candidate.Name != "" {
			topic = fmt.Sprintf("%s (%s) stock (PSX)", c.Candidate.Name, c.Candidate.Symbol)
		}
		r, err := w.oracle.Score(cctx, topic)
		if err != nil {
			return 0, err
		}
		return r.Score, nil
	}
}

// Approve resolves a recommendation and, for an executed buy, charges it to today's budget.
func (w *Watcher) Approve(ctx context.Context, id string) (models.Recommendation, error) {
	rec, err := w.gate.Approve(ctx, id)
	if err != nil {
		return rec, err
	}
	if rec.Side != models.SideBuy || rec.TradeID == "" {
		return rec, nil
	}
	// Roll the budget to today first so the spend lands on the right day.
	day := budget.Day(w.now().In(config.PktLoc))
	if _, aerr := w.budget.Accrue(ctx, day, w.settings.Get().BudgetPolicy()); aerr != nil {
		log.Printf("WARN: could not accrue budget before recording %s: %v", rec.ShortID(), aerr)
		return rec, nil
	}
	cost := rec.Price.Mul(decimal.NewFromInt(rec.Quantity))
	if uerr := w.budget.RecordUsage(ctx, cost); uerr != nil {
		log.Printf("WARN: could not record budget usage for %s: %v", rec.ShortID(), uerr)
	}
	return rec, nil
}

func (w *Watcher) Deny(ctx context.Context, id string) (models.Recommendation, error) {
	return w.gate.Deny(ctx, id)
}

// NewDay injects today's allowance into cash once per PKT calendar day.
func (w *Watcher) NewDay(ctx context.Context) (bool, decimal.Decimal, error) {
	s := w.settings.Get()
	amount := s.BudgetPolicy().DailyAllowance
	day := budget.Day(w.now().In(config.PktLoc))
	ok, err := w.budget.InjectDaily(ctx, day, amount)
	return ok, amount, err
}

func sortedSymbols(positions map[string]models.Position) []string {
	out := make([]string, 0, len(positions))
	for sym := range positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func modeLabel(autonomous bool) string {
	if autonomous {
		return "AUTONOMOUS"
	}
	return "GATED"
}
