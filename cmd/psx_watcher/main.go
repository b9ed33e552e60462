package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"psx_copilot/internal/config"
	"psx_copilot/internal/ledger"
	"psx_copilot/internal/logger"
	"psx_copilot/internal/models"
	"psx_copilot/internal/scheduler"
	"psx_copilot/internal/watcher"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const VersionFile = "version.latest"

var (
	portfolioName string
	settingsFile  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "psx_watcher",
		Short: "PSX budget allocator and trade executor",
		Long: `psx_watcher scores a PSX candidate universe, sizes buys against a daily
budget and either executes them on the paper portfolio or queues them for approval.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&portfolioName, "portfolio", "ai", "portfolio name (selects the state file)")
	root.PersistentFlags().StringVar(&settingsFile, "settings", "", "settings file (defaults to SETTINGS_FILE)")

	root.AddCommand(
		newRunCmd(),
		newCycleCmd(),
		newNewDayCmd(),
		newQueryCmd("status", "Show portfolio and budget status", "/status"),
		newQueryCmd("pending", "List recommendations awaiting approval", "/pending"),
		newQueryCmd("history", "Show recent trades", "/history"),
		newQueryCmd("market", "Show market breadth", "/market"),
		newDecisionCmd("approve", "Approve and execute a pending recommendation"),
		newDecisionCmd("deny", "Deny a pending recommendation"),
		newTradeCmd(models.SideBuy),
		newTradeCmd(models.SideSell),
		newPriceCmd(),
		newReconcileCmd(),
		newSeedCmd(),
		newCashCmd("deposit", "Add cash to the portfolio"),
		newCashCmd("withdraw", "Remove cash from the portfolio"),
		newModeCmd(),
		newConfigCmd(),
	)
	return root
}

// withApp opens the portfolio for a one-shot command.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := newApp(ctx, portfolioName, settingsFile, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the Telegram listener until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := newApp(ctx, portfolioName, settingsFile, true)
			if err != nil {
				return err
			}
			defer a.Close()
			logger.Setup(a.cfg.LogFile, int64(a.cfg.MaxLogSizeMB), a.cfg.MaxLogBackups, a.cfg.LogLevel)

			if err := a.settings.Watch(ctx, func(s config.Settings) {
				log.Printf("Settings changed: mode=%v window=%s-%s poll=%dm", s.AutonomousMode, s.TradingStart, s.TradingEnd, s.PollingIntervalMins)
			}); err != nil {
				log.Printf("WARN: settings hot reload disabled: %v", err)
			}

			if a.bot != nil {
				go a.bot.Listen(ctx, a.watcher.HandleCommand, a.watcher.HandleCallback)
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-c
				log.Println("⚠️ Watcher Shutting Down: System signal received.")
				cancel()
			}()

			s := a.settings.Get()
			log.Printf("PSX Watcher %s Initialized (portfolio=%s, mode=%s)", a.cfg.Version, portfolioName, modeName(s.AutonomousMode))
			log.Printf("Trading window %s-%s PKT, cycle every %d mins", s.TradingStart, s.TradingEnd, s.PollingIntervalMins)

			a.watcher.Scheduler().Loop(ctx, time.Minute)
			return nil
		},
	}
}

func newCycleCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one allocation cycle if the schedule allows it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				var out scheduler.Outcome
				if force {
					out = a.watcher.RunNow(ctx)
				} else {
					out = a.watcher.Tick(ctx)
				}
				if out.Err != nil {
					return fmt.Errorf("%s: %w", out.Reason, out.Err)
				}
				if !out.Ran {
					printWarn("Cycle skipped: %s", out.Reason)
					return nil
				}
				if rep := a.watcher.LastReport(); rep != nil {
					printPanel("Cycle Report", watcher.FormatReport(rep, a.ledger.Snapshot().Currency))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the trading window and cooldown")
	return cmd
}

func newNewDayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-day",
		Short: "Inject today's cash allowance once per PKT day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				added, amount, err := a.watcher.NewDay(ctx)
				if err != nil {
					return err
				}
				if !added {
					printWarn("Today's allowance was already injected")
					return nil
				}
				printOK("Added %s to cash", amount.StringFixed(2))
				return nil
			})
		},
	}
}

// newQueryCmd answers with the same text the chat command would.
func newQueryCmd(use, short, chatCmd string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				printPanel(use, a.watcher.HandleCommand(ctx, chatCmd))
				return nil
			})
		},
	}
}

func newDecisionCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				fmt.Println(a.watcher.HandleCommand(ctx, "/"+use+" "+args[0]))
				return nil
			})
		},
	}
}

// newTradeCmd places a manual order. In gated mode it is staged for
// approval instead of executed.
func newTradeCmd(side models.Side) *cobra.Command {
	var reason string
	use := strings.ToLower(string(side))
	cmd := &cobra.Command{
		Use:   use + " <symbol> <qty> [price]",
		Short: fmt.Sprintf("Place a manual %s at the given or live price", side),
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || qty <= 0 {
				return fmt.Errorf("quantity must be a positive whole number, got %q", args[1])
			}
			var price decimal.Decimal
			if len(args) == 3 {
				if price, err = decimal.NewFromString(args[2]); err != nil || !price.IsPositive() {
					return fmt.Errorf("invalid price %q", args[2])
				}
			}
			return withApp(func(ctx context.Context, a *app) error {
				p, err := a.watcher.PlaceOrder(ctx, ledger.Order{
					Symbol:   args[0],
					Side:     side,
					Quantity: qty,
					Price:    price,
					Reason:   reason,
				})
				if err != nil {
					return err
				}
				o := p.Order
				switch {
				case p.Trade != nil:
					printOK("Executed %s %d %s @ %s, cash now %s", o.Side, o.Quantity, o.Symbol,
						o.Price.StringFixed(2), a.ledger.Snapshot().Cash.StringFixed(2))
				case p.Created:
					printOK("Staged %s %d %s @ %s for approval [%s]", o.Side, o.Quantity, o.Symbol,
						o.Price.StringFixed(2), p.Proposal.ShortID())
				default:
					printWarn("A %s for %s is already pending [%s]", o.Side, o.Symbol, p.Proposal.ShortID())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "Manual order", "note stored with the trade")
	return cmd
}

func newPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price <symbol>",
		Short: "Fetch the live price of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				fmt.Println(a.watcher.HandleCommand(ctx, "/price "+args[0]))
				return nil
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay the trade history and compare it with the cash balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				rec := a.ledger.Reconcile()
				if fix && !rec.Balanced() {
					var err error
					if rec, err = a.ledger.FixCash(ctx); err != nil {
						return err
					}
					printOK("Cash corrected to %s", rec.Expected.StringFixed(2))
					return nil
				}
				body := fmt.Sprintf("Trades:   %d\nExpected: %s\nActual:   %s\nDrift:    %s",
					rec.Trades, rec.Expected.StringFixed(2), rec.Actual.StringFixed(2), rec.Drift.StringFixed(2))
				printPanel("Reconciliation", body)
				if !rec.Balanced() {
					printWarn("Cash has drifted, rerun with --fix to correct it")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite cash to the replayed value")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Replace the candidate universe with the default PSX list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				universe := models.DefaultUniverse()
				err := a.ledger.Mutate(ctx, func(tx *ledger.Tx) error {
					tx.State().Universe = universe
					tx.Touch()
					return nil
				})
				if err != nil {
					return err
				}
				printOK("Seeded %d candidates", len(universe))
				return nil
			})
		},
	}
}

func newCashCmd(use, short string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			return withApp(func(ctx context.Context, a *app) error {
				var rec models.TradeRecord
				if use == "deposit" {
					rec, err = a.ledger.Deposit(ctx, amount, reason)
				} else {
					rec, err = a.ledger.Withdraw(ctx, amount, reason)
				}
				if err != nil {
					return err
				}
				printOK("%s %s recorded, cash now %s", rec.Side, rec.Amount.StringFixed(2), a.ledger.Snapshot().Cash.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "note stored with the entry")
	return cmd
}

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mode <autonomous|gated>",
		Short:     "Switch between autonomous execution and approval gating",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"autonomous", "gated"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[0] {
			case "autonomous":
				on = true
			case "gated":
			default:
				return fmt.Errorf("unknown mode %q", args[0])
			}
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			if err := mgr.SetAutonomous(on); err != nil {
				return err
			}
			printOK("Mode set to %s", modeName(on))
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect runtime settings",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				printPanel("Settings ("+a.settings.Path()+")", a.watcher.HandleCommand(ctx, "/config"))
				return nil
			})
		},
	})
	return cfgCmd
}

func settingsManager() (*config.Manager, error) {
	path := settingsFile
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		path = cfg.SettingsPath
	}
	return config.NewManager(config.WithSettingsPath(path))
}

func modeName(autonomous bool) string {
	if autonomous {
		return "AUTONOMOUS"
	}
	return "GATED"
}
