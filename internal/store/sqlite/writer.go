// Package sqlite stores chart bars in a SQLite database. It serves pages of
// history to the chart's pagination callback and persists bars from imports
// and the live feed.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"klinecore/internal/metrics"
	"klinecore/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Store is a SQLite-backed bar store. Writes go through one connection;
// WAL mode lets page reads proceed while a batch commits.
type Store struct {
	db      *sql.DB
	log     *slog.Logger
	metrics *metrics.Metrics
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the database with WAL mode and schema.
// m may be nil.
func Open(cfg Config, log *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Store{db: db, log: log, metrics: m}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL,
			turnover REAL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// WriteBars upserts bars in a single transaction.
func (s *Store) WriteBars(ctx context.Context, symbol string, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume, b.Turnover); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar %d: %w", b.Timestamp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Run reads bars from barCh and upserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (s *Store) Run(ctx context.Context, symbol string, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// ctx may already be cancelled on the final flush
		if err := s.WriteBars(context.Background(), symbol, batch); err != nil {
			s.metrics.ObserveStoreError("sqlite")
			s.log.Error("batch insert failed", "bars", len(batch), "error", err)
		} else {
			s.log.Debug("committed bars", "bars", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LastTimestamp returns the newest stored bar timestamp for symbol, or 0.
func (s *Store) LastTimestamp(ctx context.Context, symbol string) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("sqlite last timestamp: %w", err)
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
