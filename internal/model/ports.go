package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the chart host from concrete bar storage
// (SQLite, Parquet). Each implementation satisfies one or more of them.

// PageSource serves pages of historical bars for the data window.
// All methods return bars ordered by timestamp ascending.
type PageSource interface {
	// Latest returns the newest limit bars and whether older bars exist.
	Latest(ctx context.Context, symbol string, limit int) ([]Bar, bool, error)

	// Before returns up to limit bars strictly older than ts and whether
	// more older bars remain.
	Before(ctx context.Context, symbol string, ts int64, limit int) ([]Bar, bool, error)

	// After returns up to limit bars strictly newer than ts and whether
	// more newer bars remain.
	After(ctx context.Context, symbol string, ts int64, limit int) ([]Bar, bool, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter persists bars for a symbol.
type BarWriter interface {
	// WriteBars upserts bars in a single batch.
	WriteBars(ctx context.Context, symbol string, bars []Bar) error

	// Close releases underlying resources.
	Close() error
}

// LiveFeed delivers bar upserts as they form.
type LiveFeed interface {
	// Run pushes bars for symbol into out until ctx is cancelled.
	Run(ctx context.Context, symbol string, out func(Bar)) error
}
