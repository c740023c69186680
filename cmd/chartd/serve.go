package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"klinecore/config"
	"klinecore/internal/chart"
	"klinecore/internal/gateway"
	"klinecore/internal/logger"
	"klinecore/internal/metrics"
	"klinecore/internal/model"
	"klinecore/internal/session"
	"klinecore/internal/store/redis"
)

const livenessInterval = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chart over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func chartConfig(cfg *config.Config) chart.Config {
	c := chart.DefaultConfig()
	c.BarSpace = cfg.Chart.BarSpace
	c.OffsetRightDistance = cfg.Chart.OffsetRightDistance
	c.MinLabelWidth = cfg.Chart.MinLabelWidth
	c.Timezone = cfg.Timezone
	return c
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	ctx = logger.WithSessionID(ctx, logger.NewSessionID(cfg.Symbol, time.Now()))
	log := logger.FromContext(ctx, a.log)

	m := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Symbol)

	src, db, err := a.pageSource(m)
	if err != nil {
		return err
	}
	defer src.Close()

	// Live bars are persisted to SQLite even when history comes from Parquet.
	if db == nil && cfg.SQLite.Path != "" {
		if db, err = a.openSQLite(m); err != nil {
			return err
		}
		defer db.Close()
	}
	var sqlDB *sql.DB
	if db != nil {
		sqlDB = db.DB()
		health.SetSQLiteOK(true)
	}

	loop := chart.NewLoop()
	store := chart.NewStore(log, chartConfig(cfg), loop.Post, m)
	store.SetTotalBarSpace(cfg.Chart.Width)
	for _, name := range cfg.Chart.Indicators {
		if _, err := store.CreateIndicator(name, "", nil); err != nil {
			log.Warn("skipping indicator", "name", name, "error", err)
		}
	}

	sess := session.New(session.Config{
		Symbol:     cfg.Symbol,
		PageSize:   cfg.Chart.PageSize,
		LiveBuffer: cfg.Chart.LiveBufferSize,
	}, loop, store, src, log, m, health)

	hub := gateway.NewHub(sess, log, m)
	hub.Attach()

	if err := sess.Load(ctx); err != nil {
		return err
	}

	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err != nil {
			return err
		}
		defer rdb.Close()
		health.SetRedisConnected(true)
	} else {
		log.Info("no redis address configured, live feed disabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })

	if rdb != nil {
		if db != nil {
			persist := make(chan model.Bar, cfg.Chart.LiveBufferSize)
			sess.SetPersist(persist)
			g.Go(func() error {
				db.Run(ctx, cfg.Symbol, persist)
				return nil
			})
		}

		feed := redis.NewFeed(rdb, cfg.Redis.Channel, log, m)
		feed.OnConnected = health.SetFeedConnected
		g.Go(func() error { return sess.RunLive(ctx, feed) })
	}

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info("gateway listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.HTTP.MetricsAddr != "" {
		g.Go(func() error { return metrics.NewServer(log, cfg.HTTP.MetricsAddr, nil, health).Run(ctx) })
	}
	g.Go(func() error { return health.RunLivenessChecker(ctx, rdb, sqlDB, livenessInterval) })

	err = g.Wait()
	log.Info("chartd stopped", "error", err)
	return err
}
