package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/metrics"
	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/storage"
)

// EvalError records one alert's failure inside a batch.
type EvalError struct {
	AlertID int64  `json:"alertId"`
	Message string `json:"message"`
}

// Summary is the outcome of one evaluation batch. Incomplete marks a run
// abandoned by its deadline; alerts not reached are simply not counted, and
// transitions already written stand.
type Summary struct {
	Checked    int         `json:"checked"`
	Triggered  int         `json:"triggered"`
	Errors     []EvalError `json:"errors"`
	Incomplete bool        `json:"incomplete,omitempty"`
}

// Evaluator drives one pass over all enabled alerts. It owns no persistent
// state; prices come from the shared cache, baselines from price history, and
// transitions go through the state machine.
type Evaluator struct {
	alerts  storage.AlertStore
	prices  storage.PriceStore
	cache   *pricecache.Cache
	machine *Machine
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEvaluator constructs the evaluator.
func NewEvaluator(alerts storage.AlertStore, prices storage.PriceStore, cache *pricecache.Cache, machine *Machine, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		alerts:  alerts,
		prices:  prices,
		cache:   cache,
		machine: machine,
		logger:  logger.With().Str("component", "evaluator").Logger(),
		now:     time.Now,
	}
}

// EvaluateAll loads every enabled alert, refreshes the price cache once for
// the union of their symbols, and checks each alert independently. Per-alert
// failures land in the summary's error list; they never abort the batch. A
// store failure before the loop is fatal for the invocation.
func (e *Evaluator) EvaluateAll(ctx context.Context) (Summary, error) {
	summary := Summary{Errors: make([]EvalError, 0)}
	metrics.EvaluationsTotal.Inc()

	alerts, err := e.alerts.ListEnabledAlerts(ctx)
	if err != nil {
		return summary, fmt.Errorf("list enabled alerts: %w", err)
	}
	if len(alerts) == 0 {
		return summary, nil
	}

	symbols := uniqueSymbols(alerts)
	e.cache.Refresh(ctx, symbols)

	for _, alert := range alerts {
		if ctx.Err() != nil {
			summary.Incomplete = true
			e.logger.Warn().Int("checked", summary.Checked).Int("total", len(alerts)).
				Msg("evaluation deadline exceeded; abandoning remaining alerts")
			break
		}

		summary.Checked++
		triggered, evalErr := e.evaluateOne(ctx, alert)
		if evalErr != nil {
			metrics.EvaluationErrorsTotal.Inc()
			summary.Errors = append(summary.Errors, EvalError{AlertID: alert.ID, Message: evalErr.Error()})
			e.logger.Error().Err(evalErr).Int64("alert_id", alert.ID).Msg("alert evaluation failed")
			continue
		}
		if triggered {
			summary.Triggered++
		}
	}

	if summary.Triggered > 0 {
		e.logger.Info().Int("checked", summary.Checked).Int("triggered", summary.Triggered).Msg("evaluation pass complete")
	}
	return summary, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, alert storage.Alert) (bool, error) {
	current, ok := e.cache.Current(alert.Symbol)
	if !ok {
		// No quote yet for this symbol; not evaluable this pass.
		return false, nil
	}

	baseline, found, err := e.baselineAt(ctx, alert.Symbol, alert.WindowMinutes)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	pct := CalcPct(baseline, current)
	if alert.State != storage.StateIdle || !thresholdCrossed(pct, alert.ThresholdPct) {
		return false, nil
	}

	return e.machine.Trigger(ctx, alert, current, pct, baseline)
}

// baselineAt returns the oldest sample still inside the trailing window. The
// window edge is approximated by sampling cadence; the definition is part of
// the alert semantics and must not be tightened.
func (e *Evaluator) baselineAt(ctx context.Context, symbol string, windowMinutes int) (decimal.Decimal, bool, error) {
	cutoff := e.now().Add(-time.Duration(windowMinutes) * time.Minute)
	sample, err := e.prices.BaselineSince(ctx, symbol, cutoff)
	if err != nil {
		if err == storage.ErrNotFound {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("baseline for %s: %w", symbol, err)
	}
	return sample.Price, true, nil
}

func uniqueSymbols(alerts []storage.Alert) []string {
	seen := make(map[string]struct{}, len(alerts))
	symbols := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		if _, ok := seen[alert.Symbol]; ok {
			continue
		}
		seen[alert.Symbol] = struct{}{}
		symbols = append(symbols, alert.Symbol)
	}
	return symbols
}
