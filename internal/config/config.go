package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PktLoc is Pakistan Standard Time. PSX does not observe DST, so a fixed zone is exact.
var PktLoc = time.FixedZone("PKT", 5*3600)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// secretVars are masked when the .env file is echoed at startup.
var secretVars = map[string]bool{
	"TELEGRAM_BOT_TOKEN":  true,
	"TELEGRAM_CHAT_ID":    true,
	"GEMINI_API_KEY":      true,
	"APCA_API_KEY_ID":     true,
	"APCA_API_SECRET_KEY": true,
}

// Config holds process-level settings read once from the environment.
// Runtime tunables live in Settings and can change while running.
type Config struct {
	Version       string
	LogLevel      string
	LogFile       string
	MaxLogSizeMB  int
	MaxLogBackups int

	TelegramBotToken string
	TelegramChatID   string
	TelegramDebug    bool

	GeminiAPIKey     string
	GeminiModel      string
	SentimentTTLMins int

	AlpacaKeyID    string
	AlpacaSecret   string
	PSXBaseURL     string
	PSXMinInterval float64 // seconds between PSX requests
	PriceProviders []string
	YahooSuffix    string

	StateBackend string
	DataDir      string
	SettingsPath string
}

// TelegramEnabled reports whether both bot credentials are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// StatePath returns the state file or database for a named portfolio.
func (c *Config) StatePath(portfolio string) string {
	ext := ".json"
	if c.StateBackend == BackendSQLite {
		ext = ".db"
	}
	return filepath.Join(c.DataDir, portfolio+"_portfolio"+ext)
}

// Load reads .env (if present) and the environment. Missing secrets are not
// fatal: the related collaborator is disabled instead.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := &Config{
		LogLevel:      strings.ToUpper(getEnv("WATCHER_LOG_LEVEL", "INFO")),
		LogFile:       getEnv("WATCHER_LOG_FILE", "watcher.log"),
		MaxLogSizeMB:  getEnvAsInt("MAX_LOG_SIZE_MB", 10),
		MaxLogBackups: getEnvAsInt("MAX_LOG_BACKUPS", 3),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramDebug:    getEnvAsBool("TELEGRAM_DEBUG", false),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		SentimentTTLMins: getEnvAsInt("SENTIMENT_CACHE_MINS", 30),

		AlpacaKeyID:    getEnv("APCA_API_KEY_ID", ""),
		AlpacaSecret:   getEnv("APCA_API_SECRET_KEY", ""),
		PSXBaseURL:     getEnv("PSX_API_BASE_URL", "https://psxterminal.com/api"),
		PSXMinInterval: getEnvAsFloat64("PSX_MIN_INTERVAL_SECS", 0.6),
		PriceProviders: getEnvAsList("PRICE_PROVIDERS", []string{"psx", "yahoo"}),
		YahooSuffix:    getEnv("YAHOO_SUFFIX", ".KA"),

		StateBackend: strings.ToLower(getEnv("STATE_BACKEND", BackendJSON)),
		DataDir:      getEnv("DATA_DIR", "data"),
	}
	cfg.SettingsPath = getEnv("SETTINGS_FILE", filepath.Join(cfg.DataDir, "settings.json"))

	if cfg.StateBackend != BackendJSON && cfg.StateBackend != BackendSQLite {
		return nil, fmt.Errorf("STATE_BACKEND must be %q or %q, got %q", BackendJSON, BackendSQLite, cfg.StateBackend)
	}
	for _, p := range cfg.PriceProviders {
		switch p {
		case "psx", "yahoo", "alpaca":
		default:
			return nil, fmt.Errorf("unknown price provider %q in PRICE_PROVIDERS", p)
		}
	}
	if cfg.MaxLogSizeMB <= 0 {
		cfg.MaxLogSizeMB = 10
	}
	if cfg.MaxLogBackups < 0 {
		cfg.MaxLogBackups = 0
	}
	if cfg.SentimentTTLMins <= 0 {
		cfg.SentimentTTLMins = 30
	}

	if !cfg.TelegramEnabled() {
		log.Println("Warning: Telegram credentials missing, notifications go to the log only")
	}
	if cfg.GeminiAPIKey == "" {
		log.Println("Warning: GEMINI_API_KEY missing, using rule-based decisions and neutral sentiment")
	}

	printEnvFile()
	return cfg, nil
}

// printEnvFile echoes the variables defined in .env with secrets masked.
func printEnvFile() {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	log.Println("--- .env File Variables ---")
	for key, val := range envMap {
		log.Printf("%s=%s", key, maskValue(key, val))
	}
	log.Println("---------------------------")
}

func maskValue(key, val string) string {
	if !secretVars[key] {
		return val
	}
	// show only last 4 chars
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}

// ReadVersion returns the contents of the version file or a dev marker.
func ReadVersion(path string) string {
	version, err := os.ReadFile(path)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
