package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/metrics"
	"crypto-price-alerts/internal/storage"
)

// Machine owns the alert lifecycle: idle → triggered → confirmed, plus the
// explicit reset and delete operations. It is the single writer of alert
// state and trigger metadata.
type Machine struct {
	alerts        storage.AlertStore
	history       storage.HistoryStore
	confirmations storage.ConfirmationStore
	notifier      alerting.Notifier
	logger        zerolog.Logger
}

// NewMachine constructs the state machine. notifier may be nil, in which case
// transitions proceed without delivery.
func NewMachine(alerts storage.AlertStore, history storage.HistoryStore, confirmations storage.ConfirmationStore, notifier alerting.Notifier, logger zerolog.Logger) *Machine {
	return &Machine{
		alerts:        alerts,
		history:       history,
		confirmations: confirmations,
		notifier:      notifier,
		logger:        logger.With().Str("component", "state_machine").Logger(),
	}
}

// Trigger performs the idle→triggered transition for a threshold-crossing
// alert. The conditional claim happens before the notification send: when two
// evaluators race, exactly one claim succeeds and only that caller delivers
// the message and appends history. Delivery failure does not undo the
// transition; the alert is spent until acknowledged either way.
func (m *Machine) Trigger(ctx context.Context, alert storage.Alert, current, pct, baseline decimal.Decimal) (bool, error) {
	if alert.State != storage.StateIdle {
		return false, nil
	}

	claimed, err := m.alerts.ClaimTrigger(ctx, alert.ID, baseline)
	if err != nil {
		return false, fmt.Errorf("claim trigger for alert %d: %w", alert.ID, err)
	}
	if !claimed {
		m.logger.Debug().Int64("alert_id", alert.ID).Msg("trigger already claimed elsewhere")
		return false, nil
	}

	handle := m.send(ctx, alert, current, pct, baseline)
	if handle != "" {
		if err := m.alerts.SetNotificationHandle(ctx, alert.ID, handle); err != nil {
			m.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to record notification handle")
		}
	}

	if err := m.appendTransition(ctx, alert.ID, storage.EventTriggered, storage.StateIdle, storage.StateTriggered, map[string]any{
		"price":          current.String(),
		"percent_change": pct.String(),
		"handle":         handle,
	}); err != nil {
		m.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to append trigger history")
	}

	metrics.AlertsTriggeredTotal.Inc()
	m.logger.Info().Int64("alert_id", alert.ID).Str("symbol", alert.Symbol).
		Str("percent_change", pct.StringFixed(3)).Msg("alert triggered")
	return true, nil
}

func (m *Machine) send(ctx context.Context, alert storage.Alert, current, pct, baseline decimal.Decimal) string {
	if m.notifier == nil {
		return ""
	}
	handle, err := m.notifier.Send(ctx, alerting.TriggerNotice{
		AlertID:              alert.ID,
		Symbol:               alert.Symbol,
		OwnerID:              alert.OwnerID,
		ThresholdPct:         alert.ThresholdPct,
		WindowMinutes:        alert.WindowMinutes,
		Price:                current,
		Baseline:             baseline,
		Pct:                  pct,
		RequiresConfirmation: alert.RequiresConfirmation,
	})
	if err != nil {
		// The transition stands regardless, so the alert is not re-fired on
		// every subsequent tick.
		m.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("notification delivery failed")
		return ""
	}
	return handle
}

// Confirm acknowledges a triggered alert at most once. The confirmation
// ledger's insert-if-absent is the idempotency gate: duplicated or concurrent
// attempts observe false with no mutation.
func (m *Machine) Confirm(ctx context.Context, alertID int64, deliveryContext string) (bool, error) {
	alert, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("load alert %d: %w", alertID, err)
	}

	if alert.State != storage.StateTriggered {
		m.logger.Debug().Int64("alert_id", alertID).Str("state", string(alert.State)).Msg("confirm ignored: not triggered")
		return false, nil
	}

	inserted, err := m.confirmations.CreateConfirmation(ctx, alertID, deliveryContext)
	if err != nil {
		return false, fmt.Errorf("create confirmation for alert %d: %w", alertID, err)
	}
	if !inserted {
		m.logger.Debug().Int64("alert_id", alertID).Msg("alert already confirmed")
		return false, nil
	}

	if err := m.alerts.SetAlertState(ctx, alertID, storage.StateConfirmed); err != nil {
		return false, fmt.Errorf("set alert %d confirmed: %w", alertID, err)
	}

	if err := m.appendTransition(ctx, alertID, storage.EventConfirmed, storage.StateTriggered, storage.StateConfirmed, map[string]any{
		"handle": deliveryContext,
	}); err != nil {
		m.logger.Error().Err(err).Int64("alert_id", alertID).Msg("failed to append confirm history")
	}

	m.logger.Info().Int64("alert_id", alertID).Msg("alert confirmed")
	return true, nil
}

// Reset returns an alert from any state to idle, clearing its trigger
// metadata and confirmation row so a later qualifying move can fire again.
func (m *Machine) Reset(ctx context.Context, alertID int64) (bool, error) {
	alert, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("load alert %d: %w", alertID, err)
	}

	if err := m.confirmations.DeleteConfirmation(ctx, alertID); err != nil {
		return false, fmt.Errorf("clear confirmation for alert %d: %w", alertID, err)
	}
	if err := m.alerts.ResetAlertRow(ctx, alertID); err != nil {
		return false, fmt.Errorf("reset alert %d: %w", alertID, err)
	}

	if err := m.appendTransition(ctx, alertID, storage.EventReset, alert.State, storage.StateIdle, nil); err != nil {
		m.logger.Error().Err(err).Int64("alert_id", alertID).Msg("failed to append reset history")
	}

	m.logger.Info().Int64("alert_id", alertID).Str("old_state", string(alert.State)).Msg("alert reset")
	return true, nil
}

// Delete removes an alert unconditionally, regardless of state. The terminal
// history event is appended first so it survives with alert_id nulled and the
// symbol preserved in metadata.
func (m *Machine) Delete(ctx context.Context, alertID int64) (bool, error) {
	alert, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("load alert %d: %w", alertID, err)
	}

	oldState := alert.State
	event := storage.HistoryEvent{
		AlertID:   &alertID,
		EventType: storage.EventDeleted,
		OldState:  &oldState,
		Metadata:  mustMetadata(map[string]any{"symbol": alert.Symbol}),
	}
	if err := m.history.AppendEvent(ctx, event); err != nil {
		m.logger.Error().Err(err).Int64("alert_id", alertID).Msg("failed to append delete history")
	}

	if err := m.confirmations.DeleteConfirmation(ctx, alertID); err != nil {
		return false, fmt.Errorf("delete confirmation for alert %d: %w", alertID, err)
	}
	if err := m.alerts.DeleteAlert(ctx, alertID); err != nil {
		return false, fmt.Errorf("delete alert %d: %w", alertID, err)
	}

	m.logger.Info().Int64("alert_id", alertID).Str("symbol", alert.Symbol).Msg("alert deleted")
	return true, nil
}

// TriggerManually forces the idle→triggered transition at the given price,
// using it as its own baseline. Intended for delivery-channel testing.
func (m *Machine) TriggerManually(ctx context.Context, alertID int64, current decimal.Decimal) (bool, error) {
	alert, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("load alert %d: %w", alertID, err)
	}
	return m.Trigger(ctx, alert, current, alert.ThresholdPct, current)
}

// HandleAction dispatches a delivery-channel action into the lifecycle.
func (m *Machine) HandleAction(ctx context.Context, alertID int64, action alerting.Action, deliveryContext string) (bool, error) {
	switch action {
	case alerting.ActionConfirm:
		return m.Confirm(ctx, alertID, deliveryContext)
	case alerting.ActionDelete:
		return m.Delete(ctx, alertID)
	default:
		return false, fmt.Errorf("unknown action %q", action)
	}
}

func (m *Machine) appendTransition(ctx context.Context, alertID int64, eventType storage.EventType, oldState, newState storage.AlertState, metadata map[string]any) error {
	event := storage.HistoryEvent{
		AlertID:   &alertID,
		EventType: eventType,
		OldState:  &oldState,
		NewState:  &newState,
		Metadata:  mustMetadata(metadata),
	}
	return m.history.AppendEvent(ctx, event)
}

func mustMetadata(fields map[string]any) json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return payload
}

var _ alerting.ActionHandler = (*Machine)(nil)
