package storage

import (
	"context"
	"fmt"
)

const (
	confirmationExistsSQL = `SELECT 1 FROM confirmations WHERE alert_id = $1;`

	insertConfirmationSQL = `INSERT INTO confirmations (alert_id, handle)
    VALUES ($1, $2)
    ON CONFLICT (alert_id) DO NOTHING;`

	deleteConfirmationSQL = `DELETE FROM confirmations WHERE alert_id = $1;`
)

// ConfirmationStore is the idempotency ledger for trigger acknowledgements.
// A row's existence is the sole gate for confirming an alert.
type ConfirmationStore interface {
	ConfirmationExists(ctx context.Context, alertID int64) (bool, error)
	// CreateConfirmation inserts the ledger row if absent and reports whether
	// this call inserted it. Concurrent or repeated calls are safe; exactly one
	// returns true.
	CreateConfirmation(ctx context.Context, alertID int64, handle string) (bool, error)
	DeleteConfirmation(ctx context.Context, alertID int64) error
}

// ConfirmationExists reports whether the ledger holds a row for the alert.
func (s *Store) ConfirmationExists(ctx context.Context, alertID int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	rows, queryErr := pool.Query(ctx, confirmationExistsSQL, alertID)
	if queryErr != nil {
		return false, fmt.Errorf("confirmation exists: %w", queryErr)
	}
	defer rows.Close()

	exists := rows.Next()
	if rows.Err() != nil {
		return false, rows.Err()
	}
	return exists, nil
}

// CreateConfirmation inserts the row with insert-if-absent semantics.
func (s *Store) CreateConfirmation(ctx context.Context, alertID int64, handle string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var handleArg any
	if handle != "" {
		handleArg = handle
	}

	tag, execErr := pool.Exec(ctx, insertConfirmationSQL, alertID, handleArg)
	if execErr != nil {
		return false, fmt.Errorf("create confirmation: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteConfirmation removes the ledger row, if any.
func (s *Store) DeleteConfirmation(ctx context.Context, alertID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteConfirmationSQL, alertID); execErr != nil {
		return fmt.Errorf("delete confirmation: %w", execErr)
	}
	return nil
}
