package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"klinecore/internal/metrics"
	"klinecore/internal/model"
)

// Publisher publishes bars to a symbol's channel. Calls go through a circuit
// breaker so a dead server fails fast instead of stalling the caller.
type Publisher struct {
	client  *goredis.Client
	prefix  string
	breaker *CircuitBreaker
	metrics *metrics.Metrics
}

// NewPublisher creates a Publisher. m may be nil.
func NewPublisher(client *goredis.Client, prefix string, log *slog.Logger, m *metrics.Metrics) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Warn("redis publisher breaker", "from", from.String(), "to", to.String())
	}
	return &Publisher{client: client, prefix: prefix, breaker: cb, metrics: m}
}

// Publish sends bar on symbol's channel.
func (p *Publisher) Publish(ctx context.Context, symbol string, bar model.Bar) error {
	err := p.breaker.Execute(func() error {
		return p.client.Publish(ctx, Channel(p.prefix, symbol), bar.JSON()).Err()
	})
	if err != nil {
		p.metrics.ObserveStoreError("redis")
		return fmt.Errorf("redis publish %d: %w", bar.Timestamp, err)
	}
	return nil
}
