package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/engine"
	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/pricefeed"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/server"
	"crypto-price-alerts/internal/service"
	"crypto-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() pricefeed.Source {
	return pricefeed.NewCoinGecko(pricefeed.Options{
		BaseURL:   a.Config.CoinGecko.BaseURL,
		Timeout:   a.Config.CoinGecko.RequestTimeout,
		UserAgent: a.Config.CoinGecko.UserAgent,
		Symbols:   a.Config.CoinGecko.Symbols,
	}, a.Logger)
}

func (a *App) newNotifier() (*alerting.TelegramNotifier, error) {
	if !a.Config.Telegram.Enabled {
		return nil, nil
	}
	cfg := a.Config.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIEndpoint, cfg.SendTimeout, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// buildEngine assembles the cache / state machine / evaluator trio on top of
// an open store.
func (a *App) buildEngine(store *storage.Store, notifier alerting.Notifier) (*pricecache.Cache, *engine.Machine, *engine.Evaluator) {
	cache := pricecache.New(a.newSource(), store, a.Config.CoinGecko.CacheTTL, a.Logger)
	machine := engine.NewMachine(store, store, store, notifier, a.Logger)
	evaluator := engine.NewEvaluator(store, store, cache, machine, a.Logger)
	return cache, machine, evaluator
}

// Run executes the long-running alert watcher: scheduled evaluation,
// housekeeping, the Telegram action listener, and the HTTP surface.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := a.newNotifier()
	if err != nil {
		return fmt.Errorf("configure telegram: %w", err)
	}
	if notifier == nil {
		a.Logger.Warn().Msg("telegram disabled; triggers will be recorded without delivery")
	}

	var notifierIface alerting.Notifier
	if notifier != nil {
		notifierIface = notifier
	}
	_, machine, evaluator := a.buildEngine(store, notifierIface)

	if notifier != nil && a.Config.Telegram.Polling {
		notifier.ListenActions(ctx, machine)
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, evaluator, store, store, a.Logger)

	errCh := make(chan error, 1)
	if a.Config.Server.Enabled {
		srv := server.New(a.Config.Server, a.Config.Scheduler.CheckDeadline, evaluator, a.Logger)
		go func() {
			if serveErr := srv.Run(ctx); serveErr != nil {
				errCh <- fmt.Errorf("http server: %w", serveErr)
				cancel()
			}
		}()
	}

	a.Logger.Info().Msg("starting alert watcher")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	select {
	case serveErr := <-errCh:
		return serveErr
	default:
	}

	a.Logger.Info().Msg("alert watcher stopped")
	return nil
}

// CheckOnce runs a single evaluation pass and returns its summary. Used by
// the check command.
func (a *App) CheckOnce(ctx context.Context) (engine.Summary, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return engine.Summary{}, err
	}
	defer closeStore()

	notifier, err := a.newNotifier()
	if err != nil {
		return engine.Summary{}, fmt.Errorf("configure telegram: %w", err)
	}
	var notifierIface alerting.Notifier
	if notifier != nil {
		notifierIface = notifier
	}
	_, _, evaluator := a.buildEngine(store, notifierIface)

	evalCtx, cancel := context.WithTimeout(ctx, a.Config.Scheduler.CheckDeadline)
	defer cancel()
	return evaluator.EvaluateAll(evalCtx)
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return store.InitSchema(ctx)
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command. AlertID zero means all alerts.
type ShowOptions struct {
	AlertID int64
	Limit   int
}
