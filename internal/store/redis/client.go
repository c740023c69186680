// Package redis carries live bar upserts over Redis Pub/Sub: a Feed
// subscribes the chart host to a symbol's channel and a Publisher pushes bars
// into it (used by replay and external bar builders).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"klinecore/internal/model"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Channel is the Pub/Sub channel of symbol under prefix, e.g. "pub:bar:NIFTY".
func Channel(prefix, symbol string) string {
	return prefix + symbol
}

// decodeBar parses one published bar. A bar without a timestamp is invalid.
func decodeBar(payload string) (model.Bar, error) {
	var b model.Bar
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return model.Bar{}, fmt.Errorf("decode bar: %w", err)
	}
	if b.Timestamp <= 0 {
		return model.Bar{}, fmt.Errorf("decode bar: missing timestamp")
	}
	return b, nil
}
