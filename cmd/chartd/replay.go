package main

import (
	"context"

	"github.com/spf13/cobra"

	"klinecore/internal/replay"
	"klinecore/internal/store/redis"
)

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Publish stored bars to the live Redis channel at replay.interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd.Context())
		},
	}
}

func (a *app) replay(ctx context.Context) error {
	src, _, err := a.pageSource(nil)
	if err != nil {
		return err
	}
	defer src.Close()

	rdb, err := redis.Connect(ctx, redis.Config{Addr: a.cfg.Redis.Addr, Password: a.cfg.Redis.Password})
	if err != nil {
		return err
	}
	defer rdb.Close()

	pub := redis.NewPublisher(rdb, a.cfg.Redis.Channel, a.log, nil)
	n, err := replay.New(src, pub, a.log).Run(ctx, a.cfg.Symbol, a.cfg.Replay.From, a.cfg.Replay.Interval)
	a.log.Info("replay finished", "symbol", a.cfg.Symbol, "bars", n)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
