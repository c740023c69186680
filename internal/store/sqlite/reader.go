package sqlite

import (
	"context"
	"fmt"
	"slices"
	"time"

	"klinecore/internal/model"
)

// Latest returns the newest limit bars for symbol, ascending, and whether
// older bars exist.
func (s *Store) Latest(ctx context.Context, symbol string, limit int) ([]model.Bar, bool, error) {
	bars, err := s.query(ctx, `
		SELECT ts, open, high, low, close, volume, turnover
		FROM bars
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, limit+1)
	if err != nil {
		return nil, false, err
	}
	bars, more := cut(bars, limit)
	slices.Reverse(bars)
	return bars, more, nil
}

// Before returns up to limit bars strictly older than ts, ascending, and
// whether more older bars remain.
func (s *Store) Before(ctx context.Context, symbol string, ts int64, limit int) ([]model.Bar, bool, error) {
	bars, err := s.query(ctx, `
		SELECT ts, open, high, low, close, volume, turnover
		FROM bars
		WHERE symbol = ? AND ts < ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, ts, limit+1)
	if err != nil {
		return nil, false, err
	}
	bars, more := cut(bars, limit)
	slices.Reverse(bars)
	return bars, more, nil
}

// After returns up to limit bars strictly newer than ts, ascending, and
// whether more newer bars remain.
func (s *Store) After(ctx context.Context, symbol string, ts int64, limit int) ([]model.Bar, bool, error) {
	bars, err := s.query(ctx, `
		SELECT ts, open, high, low, close, volume, turnover
		FROM bars
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
		LIMIT ?
	`, symbol, ts, limit+1)
	if err != nil {
		return nil, false, err
	}
	bars, more := cut(bars, limit)
	return bars, more, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Bar, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSQLiteQuery(time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.metrics.ObserveStoreError("sqlite")
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Turnover); err != nil {
			s.metrics.ObserveStoreError("sqlite")
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// cut trims a limit+1 probe to limit rows and reports whether it overflowed.
func cut(bars []model.Bar, limit int) ([]model.Bar, bool) {
	if len(bars) > limit {
		return bars[:limit], true
	}
	return bars, false
}
