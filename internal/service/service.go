package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/engine"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/storage"
)

// Checker runs one evaluation pass over all enabled alerts.
type Checker interface {
	EvaluateAll(ctx context.Context) (engine.Summary, error)
}

// Service orchestrates scheduled evaluation and price-history housekeeping.
type Service struct {
	scheduler *scheduler.Scheduler
	checker   Checker
	prices    storage.PriceStore
	logger    zerolog.Logger

	locker        storage.AdvisoryLocker
	lockKey       int64
	checkDeadline time.Duration
	retention     config.RetentionConfig
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, checker Checker, prices storage.PriceStore, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:     sched,
		checker:       checker,
		prices:        prices,
		logger:        logger.With().Str("component", "service").Logger(),
		locker:        locker,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
		checkDeadline: cfg.Scheduler.CheckDeadline,
		retention:     cfg.Retention,
	}
}

// Run begins the evaluation loop and the housekeeping loop; it blocks until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	go s.housekeeping(ctx)
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单次评估。Skipped entirely when another instance holds the
// advisory lock; the per-alert claim still guards correctness either way.
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.checkDeadline)
	defer cancel()

	summary, err := s.checker.EvaluateAll(evalCtx)
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}

	event := s.logger.Info()
	if summary.Incomplete {
		event = s.logger.Warn().Bool("incomplete", true)
	}
	event.Time("tick", at).
		Int("checked", summary.Checked).
		Int("triggered", summary.Triggered).
		Int("errors", len(summary.Errors)).
		Msg("evaluation tick complete")
	return nil
}

// housekeeping prunes price history past the retention horizon on a fixed
// cadence.
func (s *Service) housekeeping(ctx context.Context) {
	interval := s.retention.CleanupInterval
	if interval <= 0 || s.prices == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOnce(ctx)
		}
	}
}

func (s *Service) pruneOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention.PriceHistory)
	removed, err := s.prices.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("price history prune failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("pruned price history")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
