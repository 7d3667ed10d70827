package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        symbol,
        threshold_pct,
        window_minutes,
        enabled,
        requires_confirmation,
        owner_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at, updated_at;`

	selectAlertSQL = `SELECT
        id, symbol, threshold_pct, window_minutes, enabled, requires_confirmation,
        owner_id, state, last_triggered_at, baseline_price, notification_handle,
        created_at, updated_at
    FROM alerts`

	getAlertSQL = selectAlertSQL + ` WHERE id = $1;`

	listEnabledAlertsSQL = selectAlertSQL + ` WHERE enabled ORDER BY id;`

	listAlertsByOwnerSQL = selectAlertSQL + ` WHERE owner_id = $1 ORDER BY created_at DESC;`

	updateAlertConfigSQL = `UPDATE alerts
    SET symbol = $2, threshold_pct = $3, window_minutes = $4,
        requires_confirmation = $5, updated_at = now()
    WHERE id = $1;`

	setAlertEnabledSQL = `UPDATE alerts
    SET enabled = $2, updated_at = now()
    WHERE id = $1;`

	claimTriggerSQL = `UPDATE alerts
    SET state = 'triggered', last_triggered_at = now(), baseline_price = $2,
        updated_at = now()
    WHERE id = $1 AND state = 'idle';`

	setNotificationHandleSQL = `UPDATE alerts
    SET notification_handle = $2, updated_at = now()
    WHERE id = $1;`

	setAlertStateSQL = `UPDATE alerts
    SET state = $2, updated_at = now()
    WHERE id = $1;`

	resetAlertSQL = `UPDATE alerts
    SET state = 'idle', baseline_price = NULL, notification_handle = NULL,
        updated_at = now()
    WHERE id = $1;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1;`
)

// AlertStore defines persistence operations for alert rows. The state machine
// is the only caller of the state-mutating operations.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
	GetAlert(ctx context.Context, id int64) (Alert, error)
	ListEnabledAlerts(ctx context.Context) ([]Alert, error)
	ListAlertsByOwner(ctx context.Context, ownerID string) ([]Alert, error)
	UpdateAlertConfig(ctx context.Context, alert Alert) error
	SetAlertEnabled(ctx context.Context, id int64, enabled bool) error
	// ClaimTrigger is the conditional idle→triggered write. It reports whether
	// this caller won the transition; only the winner may notify and append
	// history.
	ClaimTrigger(ctx context.Context, id int64, baseline decimal.Decimal) (bool, error)
	SetNotificationHandle(ctx context.Context, id int64, handle string) error
	SetAlertState(ctx context.Context, id int64, state AlertState) error
	ResetAlertRow(ctx context.Context, id int64) error
	DeleteAlert(ctx context.Context, id int64) error
}

// CreateAlert validates and persists a new alert in the idle state.
func (s *Store) CreateAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	if err := alert.Validate(); err != nil {
		return Alert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.ThresholdPct.String(),
		alert.WindowMinutes,
		alert.Enabled,
		alert.RequiresConfirmation,
		alert.OwnerID,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt, &alert.UpdatedAt); scanErr != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	alert.State = StateIdle
	return alert, nil
}

// GetAlert fetches a single alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	rows, queryErr := pool.Query(ctx, getAlertSQL, id)
	if queryErr != nil {
		return Alert{}, fmt.Errorf("get alert: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Alert{}, rows.Err()
		}
		return Alert{}, ErrNotFound
	}
	return scanAlert(rows)
}

// ListEnabledAlerts returns every alert eligible for evaluation.
func (s *Store) ListEnabledAlerts(ctx context.Context) ([]Alert, error) {
	return s.listAlerts(ctx, listEnabledAlertsSQL)
}

// ListAlertsByOwner returns the alerts belonging to one owner.
func (s *Store) ListAlertsByOwner(ctx context.Context, ownerID string) ([]Alert, error) {
	return s.listAlerts(ctx, listAlertsByOwnerSQL, ownerID)
}

func (s *Store) listAlerts(ctx context.Context, query string, args ...any) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// UpdateAlertConfig rewrites owner-editable configuration fields. State and
// trigger metadata are untouched.
func (s *Store) UpdateAlertConfig(ctx context.Context, alert Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := alert.Validate(); err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, updateAlertConfigSQL,
		alert.ID,
		alert.Symbol,
		alert.ThresholdPct.String(),
		alert.WindowMinutes,
		alert.RequiresConfirmation,
	)
	if execErr != nil {
		return fmt.Errorf("update alert config: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAlertEnabled toggles evaluation eligibility.
func (s *Store) SetAlertEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.execOnAlert(ctx, setAlertEnabledSQL, id, enabled)
}

// ClaimTrigger performs the state-guarded idle→triggered update.
func (s *Store) ClaimTrigger(ctx context.Context, id int64, baseline decimal.Decimal) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, claimTriggerSQL, id, baseline.String())
	if execErr != nil {
		return false, fmt.Errorf("claim trigger: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// SetNotificationHandle records the delivery handle after a successful send.
func (s *Store) SetNotificationHandle(ctx context.Context, id int64, handle string) error {
	return s.execOnAlert(ctx, setNotificationHandleSQL, id, handle)
}

// SetAlertState writes the lifecycle state without touching trigger metadata.
func (s *Store) SetAlertState(ctx context.Context, id int64, state AlertState) error {
	return s.execOnAlert(ctx, setAlertStateSQL, id, string(state))
}

// ResetAlertRow returns an alert to idle and clears its trigger metadata.
func (s *Store) ResetAlertRow(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, resetAlertSQL, id)
	if execErr != nil {
		return fmt.Errorf("reset alert: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAlert removes the alert row unconditionally.
func (s *Store) DeleteAlert(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertSQL, id); execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	return nil
}

func (s *Store) execOnAlert(ctx context.Context, query string, id int64, arg any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, query, id, arg)
	if execErr != nil {
		return fmt.Errorf("update alert %d: %w", id, execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlert(rows pgx.Rows) (Alert, error) {
	var (
		alert        Alert
		thresholdStr string
		lastTrig     sql.NullTime
		baselineStr  sql.NullString
		handle       sql.NullString
		state        string
	)

	if err := rows.Scan(
		&alert.ID,
		&alert.Symbol,
		&thresholdStr,
		&alert.WindowMinutes,
		&alert.Enabled,
		&alert.RequiresConfirmation,
		&alert.OwnerID,
		&state,
		&lastTrig,
		&baselineStr,
		&handle,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return Alert{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	alert.ThresholdPct = threshold
	alert.State = AlertState(state)

	if lastTrig.Valid {
		ts := lastTrig.Time
		alert.LastTriggeredAt = &ts
	}
	if baselineStr.Valid {
		baseline, convErr := decimal.NewFromString(baselineStr.String)
		if convErr != nil {
			return Alert{}, fmt.Errorf("parse baseline price: %w", convErr)
		}
		alert.BaselinePrice = &baseline
	}
	if handle.Valid {
		h := handle.String
		alert.NotificationHandle = &h
	}

	return alert, nil
}
