package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/engine"
	"crypto-price-alerts/internal/storage"
)

type stubChecker struct {
	calls       int
	hadDeadline bool
	summary     engine.Summary
	err         error
}

func (s *stubChecker) EvaluateAll(ctx context.Context) (engine.Summary, error) {
	s.calls++
	_, s.hadDeadline = ctx.Deadline()
	return s.summary, s.err
}

type stubPrices struct {
	storage.PriceStore
	removed int64
	cutoff  time.Time
	err     error
}

func (s *stubPrices) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	s.cutoff = olderThan
	return s.removed, s.err
}

func (s *stubPrices) RecordSample(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error {
	return nil
}

type stubLocker struct {
	acquired bool
	unlocked bool
	err      error
}

func (l *stubLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked = true }, true, nil
}

func serviceConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{
			Interval:        time.Minute,
			AdvisoryLockKey: 42,
			CheckDeadline:   9 * time.Second,
		},
		Retention: config.RetentionConfig{
			PriceHistory:    24 * time.Hour,
			CleanupInterval: time.Hour,
		},
	}
}

func TestProcessTickRunsEvaluationUnderDeadline(t *testing.T) {
	checker := &stubChecker{summary: engine.Summary{Checked: 2}}
	locker := &stubLocker{acquired: true}
	svc := New(serviceConfig(), nil, checker, &stubPrices{}, locker, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if checker.calls != 1 {
		t.Fatalf("checker calls = %d, want 1", checker.calls)
	}
	if !checker.hadDeadline {
		t.Error("evaluation context carried no deadline")
	}
	if !locker.unlocked {
		t.Error("advisory lock was not released")
	}
}

func TestProcessTickSkipsWhenLockHeldElsewhere(t *testing.T) {
	checker := &stubChecker{}
	svc := New(serviceConfig(), nil, checker, &stubPrices{}, &stubLocker{acquired: false}, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if checker.calls != 0 {
		t.Errorf("checker ran despite foreign lock: %d calls", checker.calls)
	}
}

func TestProcessTickSurfacesBatchFailure(t *testing.T) {
	checker := &stubChecker{err: errors.New("db down")}
	svc := New(serviceConfig(), nil, checker, &stubPrices{}, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from failed batch")
	}
}

func TestProcessTickWithoutLockerProceeds(t *testing.T) {
	checker := &stubChecker{}
	svc := New(serviceConfig(), nil, checker, &stubPrices{}, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if checker.calls != 1 {
		t.Errorf("checker calls = %d, want 1", checker.calls)
	}
}

func TestPruneOnceUsesRetentionHorizon(t *testing.T) {
	prices := &stubPrices{removed: 7}
	svc := New(serviceConfig(), nil, &stubChecker{}, prices, nil, zerolog.Nop())

	before := time.Now().UTC().Add(-24 * time.Hour)
	svc.pruneOnce(context.Background())
	after := time.Now().UTC().Add(-24 * time.Hour)

	if prices.cutoff.Before(before) || prices.cutoff.After(after) {
		t.Errorf("cutoff = %v, want ~now-24h", prices.cutoff)
	}
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := New(serviceConfig(), nil, &stubChecker{}, &stubPrices{}, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error without scheduler")
	}
}
