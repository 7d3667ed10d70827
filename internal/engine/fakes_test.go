package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/pricecache"
	"crypto-price-alerts/internal/storage"
)

// memStore is an in-memory stand-in for the persistent store. Its conditional
// trigger claim is atomic under the mutex, mirroring the row-level guard.
type memStore struct {
	mu            sync.Mutex
	nextID        int64
	alerts        map[int64]storage.Alert
	samples       []storage.PriceSample
	events        []storage.HistoryEvent
	confirmations map[int64]string

	baselineErr error
}

func newMemStore() *memStore {
	return &memStore{
		nextID:        1,
		alerts:        make(map[int64]storage.Alert),
		confirmations: make(map[int64]string),
	}
}

func (s *memStore) CreateAlert(ctx context.Context, alert storage.Alert) (storage.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.ID = s.nextID
	s.nextID++
	alert.State = storage.StateIdle
	s.alerts[alert.ID] = alert
	return alert, nil
}

func (s *memStore) GetAlert(ctx context.Context, id int64) (storage.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return storage.Alert{}, storage.ErrNotFound
	}
	return alert, nil
}

func (s *memStore) ListEnabledAlerts(ctx context.Context) ([]storage.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alerts := make([]storage.Alert, 0, len(s.alerts))
	for id := int64(1); id < s.nextID; id++ {
		if alert, ok := s.alerts[id]; ok && alert.Enabled {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

func (s *memStore) ListAlertsByOwner(ctx context.Context, ownerID string) ([]storage.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alerts := make([]storage.Alert, 0)
	for _, alert := range s.alerts {
		if alert.OwnerID == ownerID {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

func (s *memStore) UpdateAlertConfig(ctx context.Context, alert storage.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.alerts[alert.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Symbol = alert.Symbol
	existing.ThresholdPct = alert.ThresholdPct
	existing.WindowMinutes = alert.WindowMinutes
	existing.RequiresConfirmation = alert.RequiresConfirmation
	s.alerts[alert.ID] = existing
	return nil
}

func (s *memStore) SetAlertEnabled(ctx context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	alert.Enabled = enabled
	s.alerts[id] = alert
	return nil
}

func (s *memStore) ClaimTrigger(ctx context.Context, id int64, baseline decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok || alert.State != storage.StateIdle {
		return false, nil
	}
	now := time.Now()
	alert.State = storage.StateTriggered
	alert.LastTriggeredAt = &now
	alert.BaselinePrice = &baseline
	s.alerts[id] = alert
	return true, nil
}

func (s *memStore) SetNotificationHandle(ctx context.Context, id int64, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	alert.NotificationHandle = &handle
	s.alerts[id] = alert
	return nil
}

func (s *memStore) SetAlertState(ctx context.Context, id int64, state storage.AlertState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	alert.State = state
	s.alerts[id] = alert
	return nil
}

func (s *memStore) ResetAlertRow(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	alert.State = storage.StateIdle
	alert.BaselinePrice = nil
	alert.NotificationHandle = nil
	s.alerts[id] = alert
	return nil
}

func (s *memStore) DeleteAlert(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, id)
	return nil
}

func (s *memStore) RecordSample(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, storage.PriceSample{Symbol: symbol, Price: price, ObservedAt: observedAt})
	return nil
}

// BaselineSince mirrors the SQL contract: oldest sample at or after cutoff.
func (s *memStore) BaselineSince(ctx context.Context, symbol string, cutoff time.Time) (storage.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselineErr != nil {
		return storage.PriceSample{}, s.baselineErr
	}
	var best *storage.PriceSample
	for i := range s.samples {
		sample := s.samples[i]
		if sample.Symbol != symbol || sample.ObservedAt.Before(cutoff) {
			continue
		}
		if best == nil || sample.ObservedAt.Before(best.ObservedAt) {
			best = &sample
		}
	}
	if best == nil {
		return storage.PriceSample{}, storage.ErrNotFound
	}
	return *best, nil
}

func (s *memStore) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]storage.PriceSample, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (s *memStore) AppendEvent(ctx context.Context, event storage.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.CreatedAt = time.Now()
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) ListRecentEvents(ctx context.Context, limit int) ([]storage.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.HistoryEvent(nil), s.events...), nil
}

func (s *memStore) ListEventsByAlert(ctx context.Context, alertID int64, limit int) ([]storage.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]storage.HistoryEvent, 0)
	for _, event := range s.events {
		if event.AlertID != nil && *event.AlertID == alertID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *memStore) ConfirmationExists(ctx context.Context, alertID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.confirmations[alertID]
	return ok, nil
}

func (s *memStore) CreateConfirmation(ctx context.Context, alertID int64, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confirmations[alertID]; ok {
		return false, nil
	}
	s.confirmations[alertID] = handle
	return true, nil
}

func (s *memStore) DeleteConfirmation(ctx context.Context, alertID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.confirmations, alertID)
	return nil
}

func (s *memStore) countEvents(eventType storage.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

type countingNotifier struct {
	mu    sync.Mutex
	sends int
	err   error
}

func (n *countingNotifier) Send(ctx context.Context, notice alerting.TriggerNotice) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends++
	if n.err != nil {
		return "", n.err
	}
	return fmt.Sprintf("msg-%d", n.sends), nil
}

func (n *countingNotifier) sendCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends
}

type staticSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (s *staticSource) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for symbol, price := range s.prices {
		out[symbol] = price
	}
	return out, nil
}

func (s *staticSource) set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

type testEngine struct {
	store     *memStore
	notifier  *countingNotifier
	source    *staticSource
	cache     *pricecache.Cache
	machine   *Machine
	evaluator *Evaluator
}

func newTestEngine(prices map[string]decimal.Decimal) *testEngine {
	store := newMemStore()
	notifier := &countingNotifier{}
	source := &staticSource{prices: prices}
	cache := pricecache.New(source, store, time.Millisecond, zerolog.Nop())
	machine := NewMachine(store, store, store, notifier, zerolog.Nop())
	evaluator := NewEvaluator(store, store, cache, machine, zerolog.Nop())
	return &testEngine{
		store:     store,
		notifier:  notifier,
		source:    source,
		cache:     cache,
		machine:   machine,
		evaluator: evaluator,
	}
}

func (te *testEngine) addAlert(t interface{ Fatalf(string, ...any) }, symbol string, threshold float64, windowMinutes int) storage.Alert {
	alert, err := te.store.CreateAlert(context.Background(), storage.Alert{
		Symbol:        symbol,
		ThresholdPct:  decimal.NewFromFloat(threshold),
		WindowMinutes: windowMinutes,
		Enabled:       true,
		OwnerID:       "42",
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	return alert
}

func (te *testEngine) addSample(symbol string, price float64, age time.Duration) {
	_ = te.store.RecordSample(context.Background(), symbol, decimal.NewFromFloat(price), time.Now().Add(-age))
}
