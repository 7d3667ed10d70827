package alerting

import (
	"context"

	"github.com/shopspring/decimal"
)

// TriggerNotice 封装触发告警的上下文。
type TriggerNotice struct {
	AlertID              int64
	Symbol               string
	OwnerID              string
	ThresholdPct         decimal.Decimal
	WindowMinutes        int
	Price                decimal.Decimal
	Baseline             decimal.Decimal
	Pct                  decimal.Decimal
	RequiresConfirmation bool
}

// Notifier delivers a trigger message and returns an opaque delivery handle
// used to correlate a later confirmation action. An empty handle with a nil
// error means the channel accepted the message without a usable id.
type Notifier interface {
	Send(ctx context.Context, notice TriggerNotice) (handle string, err error)
}

// Action is a user reaction arriving from the delivery channel.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionDelete  Action = "delete"
)

// ActionHandler receives channel-originated actions. The handler stays
// ignorant of the channel's wire format; false means nothing happened.
type ActionHandler interface {
	HandleAction(ctx context.Context, alertID int64, action Action, deliveryContext string) (bool, error)
}
