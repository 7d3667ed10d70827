package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertPriceSampleSQL = `INSERT INTO price_history (symbol, price, observed_at)
    VALUES ($1, $2, $3);`

	baselineSinceSQL = `SELECT id, symbol, price, observed_at
    FROM price_history
    WHERE symbol = $1 AND observed_at >= $2
    ORDER BY observed_at ASC
    LIMIT 1;`

	listSamplesBetweenSQL = `SELECT id, symbol, price, observed_at
    FROM price_history
    WHERE symbol = $1 AND observed_at >= $2 AND observed_at < $3
    ORDER BY observed_at;`

	deleteSamplesBeforeSQL = `DELETE FROM price_history WHERE observed_at < $1;`
)

// PriceStore defines append-only price history persistence.
type PriceStore interface {
	RecordSample(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error
	// BaselineSince returns the oldest sample at or after cutoff, i.e. the
	// comparison baseline for a trailing window starting at cutoff. ErrNotFound
	// means the window holds no sample yet.
	BaselineSince(ctx context.Context, symbol string, cutoff time.Time) (PriceSample, error)
	ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// RecordSample appends one observation. Rows are never updated.
func (s *Store) RecordSample(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertPriceSampleSQL, symbol, price.String(), observedAt); execErr != nil {
		return fmt.Errorf("record price sample: %w", execErr)
	}
	return nil
}

// BaselineSince looks up the oldest in-window sample for a symbol.
func (s *Store) BaselineSince(ctx context.Context, symbol string, cutoff time.Time) (PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSample{}, err
	}

	rows, queryErr := pool.Query(ctx, baselineSinceSQL, symbol, cutoff)
	if queryErr != nil {
		return PriceSample{}, fmt.Errorf("baseline lookup: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return PriceSample{}, rows.Err()
		}
		return PriceSample{}, ErrNotFound
	}
	return scanPriceSample(rows)
}

// ListSamplesBetween lists samples for a symbol inside [from, to).
func (s *Store) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// DeleteSamplesBefore prunes history beyond the retention horizon.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample   PriceSample
		priceStr string
	)
	if err := rows.Scan(&sample.ID, &sample.Symbol, &priceStr, &sample.ObservedAt); err != nil {
		return PriceSample{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	sample.Price = price
	return sample, nil
}
