package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"psx_copilot/internal/ai"
	"psx_copilot/internal/allocator"
	"psx_copilot/internal/budget"
	"psx_copilot/internal/models"
	"psx_copilot/internal/regime"
	"psx_copilot/internal/scheduler"
	"psx_copilot/internal/scoring"

	"github.com/shopspring/decimal"
)

// Settings are the runtime tunables. Every cycle reads one snapshot so a
// reload never changes values mid-cycle.
type Settings struct {
	TradingStart        string  `json:"trading_start"`
	TradingEnd          string  `json:"trading_end"`
	PollingIntervalMins int     `json:"polling_interval_mins"`
	AutonomousMode      bool    `json:"autonomous_mode"`
	MonitorEnabled      bool    `json:"monitor_enabled"`
	DailyAllowance      float64 `json:"daily_allowance"`
	RolloverFraction    float64 `json:"rollover_fraction"`
	InitialCapital      float64 `json:"initial_capital"`
	CallTimeoutSecs     int     `json:"call_timeout_secs"`
	MarketTopic         string  `json:"market_topic"`

	Scoring   scoring.Weights  `json:"scoring"`
	Regime    regime.Params    `json:"regime"`
	Allocator allocator.Params `json:"allocator"`
	Monitor   ai.FallbackRules `json:"monitor"`
}

func DefaultSettings() Settings {
	return Settings{
		TradingStart:        scheduler.DefaultStart,
		TradingEnd:          scheduler.DefaultEnd,
		PollingIntervalMins: 5,
		AutonomousMode:      false,
		MonitorEnabled:      true,
		DailyAllowance:      5000,
		RolloverFraction:    0.30,
		InitialCapital:      10000,
		CallTimeoutSecs:     20,
		MarketTopic:         "Pakistan Stock Exchange KSE-100 market",
		Scoring:             scoring.DefaultWeights(),
		Regime:              regime.DefaultParams(),
		Allocator:           allocator.DefaultParams(),
		Monitor:             ai.DefaultFallbackRules(),
	}
}

// Clone copies the tunable maps so callers can edit a snapshot safely.
func (s Settings) Clone() Settings {
	if s.Scoring.TierPoints != nil {
		tp := make(map[models.Tier]float64, len(s.Scoring.TierPoints))
		for k, v := range s.Scoring.TierPoints {
			tp[k] = v
		}
		s.Scoring.TierPoints = tp
	}
	if s.Allocator.TierCaps != nil {
		tc := make(map[models.Tier]float64, len(s.Allocator.TierCaps))
		for k, v := range s.Allocator.TierCaps {
			tc[k] = v
		}
		s.Allocator.TierCaps = tc
	}
	return s
}

// Normalize replaces missing or unsafe values with defaults. It is applied to
// every settings file read from disk.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	w := scheduler.Window{Start: s.TradingStart, End: s.TradingEnd}.Normalize()
	s.TradingStart, s.TradingEnd = w.Start, w.End
	if s.PollingIntervalMins <= 0 {
		s.PollingIntervalMins = def.PollingIntervalMins
	}
	if s.DailyAllowance < 0 {
		log.Printf("WARN: negative daily_allowance %.2f, using %.2f", s.DailyAllowance, def.DailyAllowance)
		s.DailyAllowance = def.DailyAllowance
	}
	if s.RolloverFraction < 0 || s.RolloverFraction > 1 {
		log.Printf("WARN: rollover_fraction %.2f outside [0,1], using %.2f", s.RolloverFraction, def.RolloverFraction)
		s.RolloverFraction = def.RolloverFraction
	}
	if s.InitialCapital <= 0 {
		s.InitialCapital = def.InitialCapital
	}
	if s.CallTimeoutSecs <= 0 {
		s.CallTimeoutSecs = def.CallTimeoutSecs
	}
	if s.MarketTopic == "" {
		s.MarketTopic = def.MarketTopic
	}
	s.Scoring = s.Scoring.Normalize()
	s.Regime = s.Regime.Normalize()
	s.Allocator = s.Allocator.Normalize()
	s.Monitor = s.Monitor.Normalize()
	return s
}

// Validate rejects values an operator should fix rather than have silently replaced.
func (s Settings) Validate() error {
	var errs []error
	if w := (scheduler.Window{Start: s.TradingStart, End: s.TradingEnd}); w.Normalize() != w {
		errs = append(errs, fmt.Errorf("invalid trading window %q-%q", s.TradingStart, s.TradingEnd))
	}
	if s.PollingIntervalMins <= 0 {
		errs = append(errs, fmt.Errorf("polling_interval_mins must be positive"))
	}
	if s.DailyAllowance < 0 {
		errs = append(errs, fmt.Errorf("daily_allowance must not be negative"))
	}
	if s.RolloverFraction < 0 || s.RolloverFraction > 1 {
		errs = append(errs, fmt.Errorf("rollover_fraction must be within [0,1]"))
	}
	if s.InitialCapital <= 0 {
		errs = append(errs, fmt.Errorf("initial_capital must be positive"))
	}
	return errors.Join(errs...)
}

func (s Settings) Window() scheduler.Window {
	return scheduler.Window{Start: s.TradingStart, End: s.TradingEnd}.Normalize()
}

func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollingIntervalMins) * time.Minute
}

func (s Settings) CallTimeout() time.Duration {
	return time.Duration(s.CallTimeoutSecs) * time.Second
}

func (s Settings) SchedulerSettings() scheduler.Settings {
	return scheduler.Settings{Window: s.Window(), PollInterval: s.PollInterval()}
}

func (s Settings) BudgetPolicy() budget.Policy {
	return budget.Policy{
		DailyAllowance:   decimal.NewFromFloat(s.DailyAllowance),
		RolloverFraction: s.RolloverFraction,
	}
}

func (s Settings) Capital() decimal.Decimal {
	return decimal.NewFromFloat(s.InitialCapital)
}
