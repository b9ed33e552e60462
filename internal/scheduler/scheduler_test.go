package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func at(hhmm string) time.Time {
	t, _ := time.Parse("2006-01-02 15:04", "2024-05-06 "+hhmm)
	return t
}

func fixedSettings() Settings {
	return Settings{Window: Window{Start: "09:30", End: "15:30"}, PollInterval: 5 * time.Minute}
}

func TestTick_OutsideWindowDoesNoWork(t *testing.T) {
	for _, hm := range []string{"09:29", "15:31", "00:00", "23:59"} {
		clock := &fakeClock{t: at(hm)}
		var calls int32
		s := New(func(context.Context) error { atomic.AddInt32(&calls, 1); return nil },
			fixedSettings, WithClock(clock.Now), WithLocation(time.UTC))

		out := s.Tick(context.Background())
		if out.Ran || calls != 0 {
			t.Errorf("%s: expected no cycle, ran=%v calls=%d", hm, out.Ran, calls)
		}
		if out.Reason == "" {
			t.Errorf("%s: skipped tick should carry a reason", hm)
		}
		if s.LastRun() != nil {
			t.Errorf("%s: lastRun must stay unset", hm)
		}
	}
}

func TestTick_WindowBoundsInclusive(t *testing.T) {
	for _, hm := range []string{"09:30", "15:30"} {
		clock := &fakeClock{t: at(hm)}
		s := New(func(context.Context) error { return nil }, fixedSettings, WithClock(clock.Now), WithLocation(time.UTC))
		if out := s.Tick(context.Background()); !out.Ran {
			t.Errorf("%s: expected cycle to run, got %q", hm, out.Reason)
		}
	}
}

func TestTick_Cooldown(t *testing.T) {
	clock := &fakeClock{t: at("10:00")}
	calls := 0
	s := New(func(context.Context) error { calls++; return nil }, fixedSettings, WithClock(clock.Now), WithLocation(time.UTC))
	ctx := context.Background()

	if out := s.Tick(ctx); !out.Ran {
		t.Fatal("first tick should run with no prior timestamp")
	}
	clock.Advance(4 * time.Minute)
	if out := s.Tick(ctx); out.Ran {
		t.Error("tick inside cooldown should not run")
	}
	clock.Advance(time.Minute)
	if out := s.Tick(ctx); !out.Ran {
		t.Errorf("tick at exactly the interval should run: %q", out.Reason)
	}
	if calls != 2 {
		t.Errorf("expected 2 cycles, got %d", calls)
	}
}

func TestTick_LastRunSetAfterCompletion(t *testing.T) {
	clock := &fakeClock{t: at("10:00")}
	var s *Scheduler
	var seenDuring *time.Time
	s = New(func(context.Context) error {
		seenDuring = s.LastRun()
		clock.Advance(2 * time.Minute)
		return nil
	}, fixedSettings, WithClock(clock.Now), WithLocation(time.UTC))

	s.Tick(context.Background())
	if seenDuring != nil {
		t.Error("lastRun must not be updated before the cycle finishes")
	}
	if last := s.LastRun(); last == nil || !last.Equal(at("10:02")) {
		t.Errorf("expected lastRun 10:02, got %v", last)
	}
}

func TestTick_HandledFailureStartsCooldown(t *testing.T) {
	clock := &fakeClock{t: at("10:00")}
	boom := errors.New("feed down")
	var persisted []time.Time
	s := New(func(context.Context) error { return boom }, fixedSettings,
		WithClock(clock.Now), WithLocation(time.UTC), OnRun(func(t time.Time) { persisted = append(persisted, t) }))

	out := s.Tick(context.Background())
	if !out.Ran || !errors.Is(out.Err, boom) {
		t.Fatalf("expected failed run, got %+v", out)
	}
	if s.LastRun() == nil || len(persisted) != 1 {
		t.Error("handled failure should record lastRun")
	}
}

func TestTick_PanicAllowsImmediateRetry(t *testing.T) {
	clock := &fakeClock{t: at("10:00")}
	calls := 0
	s := New(func(context.Context) error {
		calls++
		if calls == 1 {
			panic("nil map")
		}
		return nil
	}, fixedSettings, WithClock(clock.Now), WithLocation(time.UTC))

	out := s.Tick(context.Background())
	if out.Err == nil {
		t.Fatal("expected panic surfaced as error")
	}
	if s.LastRun() != nil {
		t.Error("crashed cycle must not set lastRun")
	}
	if s.Running() {
		t.Error("running flag must be cleared after a crash")
	}
	if out := s.Tick(context.Background()); !out.Ran || out.Err != nil {
		t.Errorf("expected immediate retry to succeed, got %+v", out)
	}
}

func TestTick_ConcurrentTicksAreExclusive(t *testing.T) {
	clock := &fakeClock{t: at("10:00")}
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32
	s := New(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}, fixedSettings, WithClock(clock.Now), WithLocation(time.UTC))

	done := make(chan Outcome)
	go func() { done <- s.Tick(context.Background()) }()
	<-started

	out := s.Tick(context.Background())
	if out.Ran || out.Reason != "cycle already running" {
		t.Errorf("expected overlapping tick dropped, got %+v", out)
	}
	if out := s.RunNow(context.Background()); out.Ran {
		t.Error("RunNow must not overlap a running cycle")
	}
	close(release)
	if first := <-done; !first.Ran {
		t.Error("first tick should have run")
	}
	if calls != 1 {
		t.Errorf("expected exactly one cycle, got %d", calls)
	}
}

func TestRunNow_IgnoresWindowAndCooldown(t *testing.T) {
	clock := &fakeClock{t: at("22:00")}
	calls := 0
	s := New(func(context.Context) error { calls++; return nil }, fixedSettings, WithClock(clock.Now), WithLocation(time.UTC))
	s.RunNow(context.Background())
	s.RunNow(context.Background())
	if calls != 2 {
		t.Errorf("expected 2 forced cycles, got %d", calls)
	}
}

func TestMisconfiguredSettingsUseDefaults(t *testing.T) {
	clock := &fakeClock{t: at("10:00")}
	calls := 0
	s := New(func(context.Context) error { calls++; return nil },
		func() Settings { return Settings{Window: Window{Start: "late", End: "25:99"}} },
		WithClock(clock.Now), WithLocation(time.UTC))

	s.Tick(context.Background())
	clock.Advance(time.Minute)
	s.Tick(context.Background())
	if calls != 1 {
		t.Errorf("expected default window and 5m cooldown, got %d cycles", calls)
	}

	clock = &fakeClock{t: at("16:00")}
	s = New(func(context.Context) error { calls++; return nil }, func() Settings { return Settings{} },
		WithClock(clock.Now), WithLocation(time.UTC))
	if out := s.Tick(context.Background()); out.Ran {
		t.Error("16:00 is outside the default window")
	}
}

func TestWithLastRunSeedsCooldown(t *testing.T) {
	clock := &fakeClock{t: at("10:00")}
	prev := at("09:58")
	s := New(func(context.Context) error { return nil }, fixedSettings,
		WithClock(clock.Now), WithLocation(time.UTC), WithLastRun(&prev))
	if out := s.Tick(context.Background()); out.Ran {
		t.Error("persisted lastRun should enforce cooldown")
	}
}

func TestWindowContainsUsesLocation(t *testing.T) {
	pkt := time.FixedZone("PKT", 5*3600)
	clock := &fakeClock{t: time.Date(2024, 5, 6, 5, 0, 0, 0, time.UTC)} // 10:00 PKT
	s := New(func(context.Context) error { return nil }, fixedSettings, WithClock(clock.Now), WithLocation(pkt))
	if out := s.Tick(context.Background()); !out.Ran {
		t.Errorf("expected window evaluated in PKT, got %q", out.Reason)
	}
}
