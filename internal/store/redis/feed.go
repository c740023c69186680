package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/go-redis/redis/v8"

	"klinecore/internal/metrics"
	"klinecore/internal/model"
)

var errSubscriptionClosed = errors.New("subscription closed")

// Feed is a model.LiveFeed over Redis Pub/Sub. A lost subscription is
// re-established with exponential backoff until the context ends.
type Feed struct {
	client  *goredis.Client
	prefix  string
	log     *slog.Logger
	metrics *metrics.Metrics

	// OnConnected, when set, observes subscription state changes.
	OnConnected func(bool)

	// Retry delays; zero values select 500ms and 30s.
	InitialRetry time.Duration
	MaxRetry     time.Duration
}

// NewFeed creates a Feed reading channels under prefix. m may be nil.
func NewFeed(client *goredis.Client, prefix string, log *slog.Logger, m *metrics.Metrics) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{client: client, prefix: prefix, log: log.With("component", "redis-feed"), metrics: m}
}

// Run subscribes to symbol's channel and hands every decoded bar to out.
// Malformed payloads are logged and skipped. Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, symbol string, out func(model.Bar)) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	if f.InitialRetry > 0 {
		bo.InitialInterval = f.InitialRetry
	}
	if f.MaxRetry > 0 {
		bo.MaxInterval = f.MaxRetry
	} else {
		bo.MaxInterval = 30 * time.Second
	}

	operation := func() error {
		err := f.subscribe(ctx, symbol, bo.Reset, out)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		f.metrics.ObserveStoreError("redis")
		f.log.Warn("feed retry", "error", err, "delay", delay)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// subscribe runs one subscription until it fails or ctx ends. onSubscribed
// fires once the server confirms the subscription.
func (f *Feed) subscribe(ctx context.Context, symbol string, onSubscribed func(), out func(model.Bar)) error {
	channel := Channel(f.prefix, symbol)
	pubsub := f.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	onSubscribed()
	f.connected(true)
	defer f.connected(false)
	f.log.Info("subscribed", "channel", channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis %s: %w", channel, errSubscriptionClosed)
			}
			bar, err := decodeBar(msg.Payload)
			if err != nil {
				f.log.Warn("skipping malformed bar", "channel", msg.Channel, "error", err)
				continue
			}
			out(bar)
		}
	}
}

func (f *Feed) connected(v bool) {
	if f.OnConnected != nil {
		f.OnConnected(v)
	}
}
