// Package scheduler decides on each tick whether an allocation cycle should run.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultStart        = "09:30"
	DefaultEnd          = "15:30"
	DefaultPollInterval = 5 * time.Minute
	clockLayout         = "15:04"
)

// Window is an inclusive [Start, End] wall-clock range in HH:MM.
type Window struct {
	Start string
	End   string
}

// Normalize falls back to the default window when either bound is malformed or the range is inverted.
func (w Window) Normalize() Window {
	_, errS := time.Parse(clockLayout, w.Start)
	_, errE := time.Parse(clockLayout, w.End)
	if errS != nil || errE != nil || w.Start > w.End {
		if w != (Window{}) {
			log.Printf("WARN: invalid trading window %q-%q, using %s-%s", w.Start, w.End, DefaultStart, DefaultEnd)
		}
		return Window{Start: DefaultStart, End: DefaultEnd}
	}
	return w
}

// Contains compares zero-padded HH:MM strings, so lexical order is clock order.
func (w Window) Contains(t time.Time) bool {
	hm := t.Format(clockLayout)
	return hm >= w.Start && hm <= w.End
}

// Settings is the snapshot read once per tick.
type Settings struct {
	Window       Window
	PollInterval time.Duration
}

// Cycle is the allocation work. A returned error is a handled failure.
type Cycle func(ctx context.Context) error

// Outcome explains what a tick did.
type Outcome struct {
	Ran    bool
	Reason string
	Err    error
}

type Scheduler struct {
	cycle    Cycle
	settings func() Settings
	now      func() time.Time
	loc      *time.Location
	onRun    func(time.Time)

	running atomic.Bool
	mu      sync.Mutex
	lastRun *time.Time
}

type Option func(*Scheduler)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the zone the trading window is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithLastRun seeds the cooldown from a persisted timestamp.
func WithLastRun(t *time.Time) Option {
	return func(s *Scheduler) {
		if t != nil {
			v := *t
			s.lastRun = &v
		}
	}
}

// OnRun is called with the completion time after every finished cycle.
func OnRun(fn func(time.Time)) Option {
	return func(s *Scheduler) { s.onRun = fn }
}

func New(cycle Cycle, settings func() Settings, opts ...Option) *Scheduler {
	s := &Scheduler{
		cycle:    cycle,
		settings: settings,
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LastRun returns the completion time of the last finished cycle, or nil.
func (s *Scheduler) LastRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	t := *s.lastRun
	return &t
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Tick runs the cycle when inside the trading window and the cooldown has
// elapsed. A tick that arrives while a cycle is running is dropped.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	cfg := s.snapshot()
	now := s.now().In(s.loc)

	if !cfg.Window.Contains(now) {
		return Outcome{Reason: fmt.Sprintf("outside trading window %s-%s (now %s)", cfg.Window.Start, cfg.Window.End, now.Format(clockLayout))}
	}
	if last := s.LastRun(); last != nil {
		if wait := cfg.PollInterval - now.Sub(*last); wait > 0 {
			return Outcome{Reason: fmt.Sprintf("cooldown, next cycle in %s", wait.Round(time.Second))}
		}
	}
	return s.run(ctx)
}

// RunNow runs the cycle ignoring the window and cooldown. It still refuses to
// overlap a running cycle.
func (s *Scheduler) RunNow(ctx context.Context) Outcome {
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (out Outcome) {
	if !s.running.CompareAndSwap(false, true) {
		return Outcome{Reason: "cycle already running"}
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("CRITICAL: cycle panicked: %v\n%s", r, debug.Stack())
			// lastRun stays unset so the next tick retries immediately.
			out = Outcome{Ran: true, Reason: "cycle crashed", Err: fmt.Errorf("cycle panic: %v", r)}
		}
	}()

	err := s.cycle(ctx)

	done := s.now()
	s.mu.Lock()
	s.lastRun = &done
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun(done)
	}

	if err != nil {
		return Outcome{Ran: true, Reason: "cycle failed", Err: err}
	}
	return Outcome{Ran: true, Reason: "cycle completed"}
}

func (s *Scheduler) snapshot() Settings {
	var cfg Settings
	if s.settings != nil {
		cfg = s.settings()
	}
	cfg.Window = cfg.Window.Normalize()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return cfg
}

// Loop ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Loop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	s.logOutcome(s.Tick(ctx))

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler loop stopping...")
			return
		case <-ticker.C:
			s.logOutcome(s.Tick(ctx))
		}
	}
}

func (s *Scheduler) logOutcome(o Outcome) {
	switch {
	case o.Err != nil:
		log.Printf("ERROR: %s: %v", o.Reason, o.Err)
	case o.Ran:
		log.Printf("Scheduler: %s", o.Reason)
	default:
		log.Printf("DEBUG: tick skipped: %s", o.Reason)
	}
}
