package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GetRate returns the cached rate for a currency pair on a UTC day.
func (s *SQLiteStore) GetRate(ctx context.Context, from, to, day string) (decimal.Decimal, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT rate FROM exchange_rates WHERE from_currency = ? AND to_currency = ? AND day = ?`,
		from, to, day,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get rate: %w", err)
	}
	rate, err := parseAmount(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

// LatestRateBefore returns the most recent cached rate strictly before the
// given day.
func (s *SQLiteStore) LatestRateBefore(ctx context.Context, from, to, day string) (decimal.Decimal, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT rate FROM exchange_rates
		 WHERE from_currency = ? AND to_currency = ? AND day < ?
		 ORDER BY day DESC LIMIT 1`,
		from, to, day,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get latest rate: %w", err)
	}
	rate, err := parseAmount(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

// PutRates caches a fetched rate table for a base currency under a day,
// overwriting any earlier fetch for the same day.
func (s *SQLiteStore) PutRates(ctx context.Context, from, day string, rates map[string]decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fetchedAt := time.Now().UTC().Unix()
	for to, rate := range rates {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exchange_rates (from_currency, to_currency, day, rate, fetched_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(from_currency, to_currency, day) DO UPDATE SET rate = excluded.rate, fetched_at = excluded.fetched_at`,
			from, to, day, rate.String(), fetchedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert rate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
