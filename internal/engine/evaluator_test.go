package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/storage"
)

func TestEvaluateAllTriggersExactlyOnce(t *testing.T) {
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(106)})
	alert := te.addAlert(t, "BTC", 5, 10)
	te.addSample("BTC", 100, 5*time.Minute)

	summary, err := te.evaluator.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if summary.Checked != 1 || summary.Triggered != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	got, _ := te.store.GetAlert(context.Background(), alert.ID)
	if got.State != storage.StateTriggered {
		t.Fatalf("alert should be triggered, state=%s", got.State)
	}
	if got.BaselinePrice == nil || !got.BaselinePrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("baseline price not recorded: %v", got.BaselinePrice)
	}
	if got.NotificationHandle == nil || *got.NotificationHandle == "" {
		t.Fatal("notification handle not recorded")
	}

	// Repeated passes must not re-fire a spent alert.
	for i := 0; i < 3; i++ {
		summary, err = te.evaluator.EvaluateAll(context.Background())
		if err != nil {
			t.Fatalf("EvaluateAll failed: %v", err)
		}
		if summary.Triggered != 0 {
			t.Fatalf("pass %d re-triggered a non-idle alert", i)
		}
	}
	if te.notifier.sendCount() != 1 {
		t.Fatalf("expected exactly one send, got %d", te.notifier.sendCount())
	}
	if n := te.store.countEvents(storage.EventTriggered); n != 1 {
		t.Fatalf("expected exactly one TRIGGERED event, got %d", n)
	}
}

func TestEvaluateAllWrongDirectionNoTrigger(t *testing.T) {
	// Price fell 6% against a +5% threshold: magnitude crosses, direction not.
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(94)})
	te.addAlert(t, "BTC", 5, 10)
	te.addSample("BTC", 100, 5*time.Minute)

	summary, err := te.evaluator.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if summary.Triggered != 0 {
		t.Fatal("wrong-direction move must not trigger")
	}

	// The same fall against a -5% threshold does trigger.
	te.addAlert(t, "BTC", -5, 10)
	summary, err = te.evaluator.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if summary.Triggered != 1 {
		t.Fatalf("expected fall alert to trigger, summary=%+v", summary)
	}
}

func TestEvaluateAllSkipsWithoutBaseline(t *testing.T) {
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(200)})
	alert := te.addAlert(t, "BTC", 5, 10)
	// Only an out-of-window sample exists.
	te.addSample("BTC", 100, 15*time.Minute)

	// The refresh during evaluation appends a fresh in-window sample, which
	// would then serve as its own baseline (pct 0). Either way: no trigger.
	summary, err := te.evaluator.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if summary.Triggered != 0 {
		t.Fatal("alert without a meaningful baseline must not trigger")
	}
	got, _ := te.store.GetAlert(context.Background(), alert.ID)
	if got.State != storage.StateIdle {
		t.Fatalf("alert should stay idle, state=%s", got.State)
	}
}

func TestBaselinePicksOldestInWindow(t *testing.T) {
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(100)})
	te.addSample("BTC", 90, 15*time.Minute)
	te.addSample("BTC", 95, 9*time.Minute)
	te.addSample("BTC", 99, 2*time.Minute)

	baseline, found, err := te.evaluator.baselineAt(context.Background(), "BTC", 10)
	if err != nil {
		t.Fatalf("baselineAt failed: %v", err)
	}
	if !found {
		t.Fatal("baseline should exist")
	}
	if !baseline.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("baseline should be the oldest in-window sample (95), got %s", baseline)
	}
}

func TestEvaluateAllPerAlertErrorDoesNotAbort(t *testing.T) {
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(106), "ETH": decimal.NewFromInt(10)})
	te.addAlert(t, "BTC", 5, 10)
	te.addAlert(t, "ETH", 5, 10)
	te.store.baselineErr = errors.New("store read failed")

	summary, err := te.evaluator.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if summary.Checked != 2 {
		t.Fatalf("both alerts should be checked, got %d", summary.Checked)
	}
	if len(summary.Errors) != 2 {
		t.Fatalf("expected per-alert errors, got %+v", summary.Errors)
	}
}

func TestEvaluateAllDeadlineReportsIncomplete(t *testing.T) {
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(106)})
	te.addAlert(t, "BTC", 5, 10)
	te.addSample("BTC", 100, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := te.evaluator.EvaluateAll(ctx)
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if !summary.Incomplete {
		t.Fatal("cancelled run must report incomplete")
	}
	if summary.Checked != 0 {
		t.Fatalf("abandoned alerts must not count as checked, got %d", summary.Checked)
	}
}

func TestConcurrentEvaluateSingleTrigger(t *testing.T) {
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(106)})
	te.addAlert(t, "BTC", 5, 10)
	te.addSample("BTC", 100, 5*time.Minute)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = te.evaluator.EvaluateAll(context.Background())
		}()
	}
	wg.Wait()

	if te.notifier.sendCount() != 1 {
		t.Fatalf("concurrent runs double-fired the notification: %d sends", te.notifier.sendCount())
	}
	if n := te.store.countEvents(storage.EventTriggered); n != 1 {
		t.Fatalf("expected exactly one TRIGGERED history record, got %d", n)
	}
}

func TestEvaluateAllNoEnabledAlerts(t *testing.T) {
	te := newTestEngine(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(100)})
	summary, err := te.evaluator.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	if summary.Checked != 0 || summary.Triggered != 0 {
		t.Fatalf("empty batch should be a no-op, got %+v", summary)
	}
}
