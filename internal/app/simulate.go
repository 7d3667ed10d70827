package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// SimulateAlert 用给定价格对指定告警模拟一次触发。The current price doubles as
// the baseline; the point is exercising the delivery and state transition end
// to end, not the math.
func (a *App) SimulateAlert(ctx context.Context, alertID int64, price decimal.Decimal) error {
	if alertID <= 0 {
		return errors.New("alert id must be positive")
	}
	if price.Sign() <= 0 {
		return errors.New("price must be positive")
	}

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
		return errors.New("telegram 未启用，无法模拟告警")
	}

	_, machine, _ := a.buildEngine(store, notifier)

	fired, err := machine.TriggerManually(ctx, alertID, price)
	if err != nil {
		return err
	}
	if !fired {
		return fmt.Errorf("alert %d is not idle; nothing to simulate", alertID)
	}

	a.Logger.Info().Int64("alert_id", alertID).Str("price", price.String()).Msg("simulated trigger delivered")
	return nil
}
