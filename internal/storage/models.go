package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	StateIdle      AlertState = "idle"
	StateTriggered AlertState = "triggered"
	StateConfirmed AlertState = "confirmed"
)

// EventType labels an immutable audit record.
type EventType string

const (
	EventCreated   EventType = "CREATED"
	EventTriggered EventType = "TRIGGERED"
	EventConfirmed EventType = "CONFIRMED"
	EventReset     EventType = "RESET"
	EventEnabled   EventType = "ENABLED"
	EventDisabled  EventType = "DISABLED"
	EventUpdated   EventType = "UPDATED"
	EventDeleted   EventType = "DELETED"
)

// MaxWindowMinutes caps the trailing comparison window at one day.
const MaxWindowMinutes = 1440

// Alert is a tracked threshold rule. ThresholdPct is signed: positive means
// the price must rise by at least that much, negative that it must fall.
type Alert struct {
	ID                   int64
	Symbol               string
	ThresholdPct         decimal.Decimal
	WindowMinutes        int
	Enabled              bool
	RequiresConfirmation bool
	OwnerID              string
	State                AlertState
	LastTriggeredAt      *time.Time
	BaselinePrice        *decimal.Decimal
	NotificationHandle   *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate checks configuration fields at the store boundary.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("alert symbol is required")
	}
	if a.Symbol != strings.ToUpper(a.Symbol) {
		return fmt.Errorf("alert symbol must be uppercase: %q", a.Symbol)
	}
	if a.ThresholdPct.IsZero() {
		return fmt.Errorf("alert threshold must be non-zero")
	}
	if a.WindowMinutes <= 0 || a.WindowMinutes > MaxWindowMinutes {
		return fmt.Errorf("alert window must be within (0, %d] minutes, got %d", MaxWindowMinutes, a.WindowMinutes)
	}
	if a.OwnerID == "" {
		return fmt.Errorf("alert owner is required")
	}
	return nil
}

// PriceSample is one append-only observation of a tracked symbol.
type PriceSample struct {
	ID         int64
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// HistoryEvent is an immutable lifecycle audit record. AlertID is nil once
// the referenced alert has been deleted.
type HistoryEvent struct {
	ID        int64
	AlertID   *int64
	EventType EventType
	OldState  *AlertState
	NewState  *AlertState
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// Confirmation is the idempotency ledger row for a confirmed trigger.
type Confirmation struct {
	ID          int64
	AlertID     int64
	ConfirmedAt time.Time
	Handle      *string
}
