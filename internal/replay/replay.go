// Package replay reads stored bars and publishes them into the live feed at a
// fixed pace, so a chart can be driven end to end without a market data source.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"klinecore/internal/model"
)

// Sink receives replayed bars.
type Sink interface {
	Publish(ctx context.Context, symbol string, bar model.Bar) error
}

// Replayer pages through a source and publishes every bar to a sink.
type Replayer struct {
	src      model.PageSource
	sink     Sink
	log      *slog.Logger
	pageSize int
}

// New creates a Replayer.
func New(src model.PageSource, sink Sink, log *slog.Logger) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{src: src, sink: sink, log: log.With("component", "replay"), pageSize: 500}
}

// Run publishes bars of symbol newer than from, one every interval (zero
// means as fast as possible). Returns the number published; a cancelled
// context stops the replay with ctx.Err().
func (r *Replayer) Run(ctx context.Context, symbol string, from int64, interval time.Duration) (int, error) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	emitted := 0
	cursor := from
	for {
		page, more, err := r.src.After(ctx, symbol, cursor, r.pageSize)
		if err != nil {
			return emitted, fmt.Errorf("replay page after %d: %w", cursor, err)
		}
		for _, b := range page {
			if tick != nil {
				select {
				case <-ctx.Done():
					r.log.Info("replay cancelled", "emitted", emitted)
					return emitted, ctx.Err()
				case <-tick:
				}
			} else if err := ctx.Err(); err != nil {
				return emitted, err
			}
			if err := r.sink.Publish(ctx, symbol, b); err != nil {
				return emitted, fmt.Errorf("replay publish: %w", err)
			}
			emitted++
			cursor = b.Timestamp
		}
		if !more || len(page) == 0 {
			break
		}
	}

	r.log.Info("replay completed", "symbol", symbol, "emitted", emitted)
	return emitted, nil
}
