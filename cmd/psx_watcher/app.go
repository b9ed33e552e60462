package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"psx_copilot/internal/ai"
	"psx_copilot/internal/config"
	"psx_copilot/internal/ledger"
	"psx_copilot/internal/market"
	"psx_copilot/internal/market/alpaca"
	"psx_copilot/internal/market/psx"
	"psx_copilot/internal/market/yahoo"
	"psx_copilot/internal/notifications"
	"psx_copilot/internal/storage"
	"psx_copilot/internal/storage/sqlite"
	"psx_copilot/internal/telegram"
	"psx_copilot/internal/watcher"
)

// app holds the wired collaborators for one portfolio.
type app struct {
	cfg      *config.Config
	settings *config.Manager
	store    storage.Store
	ledger   *ledger.Ledger
	bot      *telegram.Client
	watcher  *watcher.Watcher
}

// Close flushes queued Telegram messages before closing the store.
func (a *app) Close() {
	if a.bot != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := a.bot.Close(ctx); err != nil {
			log.Printf("WARN: Telegram queue not flushed: %v (%d dropped)", err, a.bot.Dropped())
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("WARN: closing state store: %v", err)
		}
	}
}

func openStore(cfg *config.Config, portfolio string) (storage.Store, error) {
	path := cfg.StatePath(portfolio)
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if cfg.StateBackend == config.BackendSQLite {
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return storage.NewFileStore(path), nil
}

// priceChain builds the providers in PRICE_PROVIDERS order. The PSX feed is
// also returned as the breadth source when configured.
func priceChain(cfg *config.Config) (market.Chain, market.SummaryProvider) {
	var chain market.Chain
	var breadth market.SummaryProvider
	for _, name := range cfg.PriceProviders {
		switch name {
		case "psx":
			c := psx.New(psx.Options{
				BaseURL:     cfg.PSXBaseURL,
				MinInterval: time.Duration(cfg.PSXMinInterval * float64(time.Second)),
			})
			chain = append(chain, c)
			breadth = c
		case "yahoo":
			chain = append(chain, yahoo.NewProvider(cfg.YahooSuffix))
		case "alpaca":
			if cfg.AlpacaKeyID == "" || cfg.AlpacaSecret == "" {
				log.Println("WARN: alpaca provider configured without APCA credentials, skipping")
				continue
			}
			chain = append(chain, alpaca.NewProvider(cfg.AlpacaKeyID, cfg.AlpacaSecret))
		}
	}
	return chain, breadth
}

func newGenerator(ctx context.Context, cfg *config.Config) ai.Generator {
	if cfg.GeminiAPIKey == "" {
		return nil
	}
	g, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Printf("WARN: Gemini disabled: %v", err)
		return nil
	}
	return g
}

// newApp wires config, storage, ledger, providers and the watcher.
// Telegram is attached when credentials are present.
func newApp(ctx context.Context, portfolio, settingsPath string, withBot bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Version = config.ReadVersion(VersionFile)
	if settingsPath == "" {
		settingsPath = cfg.SettingsPath
	}

	mgr, err := config.NewManager(config.WithSettingsPath(settingsPath))
	if err != nil {
		return nil, err
	}
	s := mgr.Get()

	a := &app{cfg: cfg, settings: mgr}

	sinks := notifications.Multi{notifications.LogSink{}}
	if withBot && cfg.TelegramEnabled() {
		bot, err := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID,
			telegram.WithDebug(cfg.TelegramDebug))
		if err != nil {
			log.Printf("WARN: Telegram disabled: %v", err)
		} else {
			a.bot = bot
			sinks = append(sinks, bot)
		}
	}

	a.store, err = openStore(cfg, portfolio)
	if err != nil {
		return nil, err
	}
	a.ledger, err = ledger.Open(ctx, a.store, ledger.Options{
		Name:           portfolio,
		InitialCapital: s.Capital(),
		Sink:           sinks,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	prices, breadth := priceChain(cfg)
	gen := newGenerator(ctx, cfg)
	a.watcher, err = watcher.New(watcher.Deps{
		Ledger:    a.ledger,
		Settings:  mgr,
		Prices:    prices,
		Breadth:   breadth,
		Generator: gen,
		Oracle:    ai.NewSentimentOracle(gen, time.Duration(cfg.SentimentTTLMins)*time.Minute),
		Version:   cfg.Version,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.bot != nil {
		a.watcher.Gate().SetAnnouncer(a.bot.Announce)
	}
	return a, nil
}
