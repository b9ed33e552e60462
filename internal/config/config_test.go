package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// Ensure optional envs are unset for this test
	optionals := []string{
		"WATCHER_LOG_LEVEL", "MAX_LOG_SIZE_MB", "MAX_LOG_BACKUPS", "PRICE_PROVIDERS",
		"STATE_BACKEND", "DATA_DIR", "SETTINGS_FILE", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
		"GEMINI_API_KEY", "SENTIMENT_CACHE_MINS", "TELEGRAM_DEBUG", "PSX_MIN_INTERVAL_SECS",
	}
	for _, k := range optionals {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel 'INFO', got '%s'", cfg.LogLevel)
	}
	if cfg.MaxLogSizeMB != 10 || cfg.MaxLogBackups != 3 {
		t.Errorf("unexpected log rotation defaults %d/%d", cfg.MaxLogSizeMB, cfg.MaxLogBackups)
	}
	if !reflect.DeepEqual(cfg.PriceProviders, []string{"psx", "yahoo"}) {
		t.Errorf("unexpected providers %v", cfg.PriceProviders)
	}
	if cfg.StateBackend != BackendJSON {
		t.Errorf("Expected json backend, got %s", cfg.StateBackend)
	}
	if cfg.SettingsPath != filepath.Join("data", "settings.json") {
		t.Errorf("unexpected settings path %s", cfg.SettingsPath)
	}
	if cfg.TelegramEnabled() {
		t.Error("telegram should be disabled without credentials")
	}
	if cfg.PSXMinInterval != 0.6 || cfg.TelegramDebug {
		t.Errorf("unexpected PSX/telegram defaults %v/%v", cfg.PSXMinInterval, cfg.TelegramDebug)
	}
	if got := cfg.StatePath("ai"); got != filepath.Join("data", "ai_portfolio.json") {
		t.Errorf("unexpected state path %s", got)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("WATCHER_LOG_LEVEL", "debug")
	t.Setenv("PRICE_PROVIDERS", "Yahoo, alpaca")
	t.Setenv("STATE_BACKEND", "SQLITE")
	t.Setenv("DATA_DIR", "/tmp/psx")
	t.Setenv("MAX_LOG_SIZE_MB", "not-a-number")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("TELEGRAM_DEBUG", "true")
	t.Setenv("PSX_MIN_INTERVAL_SECS", "1.5")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "DEBUG" || cfg.MaxLogSizeMB != 10 {
		t.Errorf("unexpected log config %s/%d", cfg.LogLevel, cfg.MaxLogSizeMB)
	}
	if !reflect.DeepEqual(cfg.PriceProviders, []string{"yahoo", "alpaca"}) {
		t.Errorf("unexpected providers %v", cfg.PriceProviders)
	}
	if got := cfg.StatePath("user"); got != filepath.Join("/tmp/psx", "user_portfolio.db") {
		t.Errorf("unexpected state path %s", got)
	}
	if !cfg.TelegramEnabled() || !cfg.TelegramDebug {
		t.Error("expected telegram enabled with debug")
	}
	if cfg.PSXMinInterval != 1.5 {
		t.Errorf("expected 1.5s PSX interval, got %v", cfg.PSXMinInterval)
	}
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STATE_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown backend")
	}
	t.Setenv("STATE_BACKEND", "json")
	t.Setenv("PRICE_PROVIDERS", "psx,bloomberg")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestMaskValue(t *testing.T) {
	if got := maskValue("GEMINI_API_KEY", "abcdefgh1234"); got != "***1234" {
		t.Errorf("got %s", got)
	}
	if got := maskValue("TELEGRAM_CHAT_ID", "42"); got != "***" {
		t.Errorf("got %s", got)
	}
	if got := maskValue("DATA_DIR", "data"); got != "data" {
		t.Errorf("non-secret should not be masked, got %s", got)
	}
}

func TestSettingsNormalize(t *testing.T) {
	s := Settings{
		TradingStart:     "9am",
		TradingEnd:       "15:30",
		DailyAllowance:   -10,
		RolloverFraction: 3,
	}.Normalize()
	def := DefaultSettings()

	if s.TradingStart != def.TradingStart || s.TradingEnd != def.TradingEnd {
		t.Errorf("expected default window, got %s-%s", s.TradingStart, s.TradingEnd)
	}
	if s.PollingIntervalMins != 5 || s.DailyAllowance != 5000 || s.RolloverFraction != 0.3 || s.InitialCapital != 10000 {
		t.Errorf("expected defaults, got %+v", s)
	}
	if s.Allocator.MaxPicks != 5 || s.Scoring.ValuationMax != 30 || s.Regime.BearMultiplier != 0.7 {
		t.Error("nested tunables should be normalized to defaults")
	}
	if s.PollInterval() != 5*time.Minute {
		t.Errorf("unexpected interval %s", s.PollInterval())
	}
	if p := s.BudgetPolicy(); !p.DailyAllowance.Equal(decimal.NewFromInt(5000)) || p.RolloverFraction != 0.3 {
		t.Errorf("unexpected budget policy %+v", p)
	}
}

func TestSettingsValidate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	bad := DefaultSettings()
	bad.TradingStart = "16:00"
	bad.RolloverFraction = 2
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error")
	}
}

func TestManager_CreatesDefaultsAndPersistsUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	m, err := NewManager(WithSettingsPath(path))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file not created: %v", err)
	}
	if !reflect.DeepEqual(m.Get(), DefaultSettings().Normalize()) {
		t.Errorf("expected defaults, got %+v", m.Get())
	}

	if err := m.SetAutonomous(true); err != nil {
		t.Fatal(err)
	}
	s := m.Get()
	s.Allocator.TierCaps[models.TierOptional] = 0.25
	if err := m.Update(s); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewManager(WithSettingsPath(path))
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.Get()
	if !got.AutonomousMode || got.Allocator.TierCaps[models.TierOptional] != 0.25 {
		t.Errorf("updates not persisted: %+v", got)
	}

	bad := got
	bad.PollingIntervalMins = 0
	if err := reopened.Update(bad); err == nil {
		t.Error("expected invalid update rejected")
	}
}

func TestManager_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"autonomous_mode": true, "daily_allowance": 7000}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(WithSettingsPath(path))
	if err != nil {
		t.Fatal(err)
	}
	s := m.Get()
	if !s.AutonomousMode || s.DailyAllowance != 7000 {
		t.Errorf("file values not applied: %+v", s)
	}
	if !s.MonitorEnabled || s.TradingStart != "09:30" || s.RolloverFraction != 0.3 {
		t.Errorf("missing keys should keep defaults: %+v", s)
	}
}

func TestManager_WatchReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m, err := NewManager(WithSettingsPath(path), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Settings, 4)
	if err := m.Watch(ctx, func(s Settings) { changed <- s }); err != nil {
		t.Fatal(err)
	}

	edited := m.Get()
	edited.PollingIntervalMins = 15
	if err := writeSettingsFile(path, edited); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-changed:
		if s.PollingIntervalMins != 15 {
			t.Errorf("expected 15, got %d", s.PollingIntervalMins)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("settings change not observed")
	}
	if m.Get().PollingIntervalMins != 15 {
		t.Error("manager snapshot not updated")
	}
}
