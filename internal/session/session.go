// Package session binds one chart engine to its data: it answers the
// engine's page requests from a model.PageSource and feeds live bar upserts
// from a model.LiveFeed through a lock-free ring onto the engine's loop.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"klinecore/internal/chart"
	"klinecore/internal/metrics"
	"klinecore/internal/model"
	"klinecore/internal/ringbuf"
)

const pageTimeout = 10 * time.Second

// Config configures a Session.
type Config struct {
	Symbol     string
	PageSize   int
	LiveBuffer int
}

// Session owns the loop and store of one chart.
type Session struct {
	cfg     Config
	loop    *chart.Loop
	store   *chart.Store
	src     model.PageSource
	log     *slog.Logger
	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	live      *ringbuf.Ring[model.Bar]
	scheduled atomic.Bool
	persist   chan<- model.Bar
}

// New creates a Session and registers itself as the store's page loader.
// m and health may be nil.
func New(cfg Config, loop *chart.Loop, store *chart.Store, src model.PageSource, log *slog.Logger, m *metrics.Metrics, health *metrics.HealthStatus) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	s := &Session{
		cfg:     cfg,
		loop:    loop,
		store:   store,
		src:     src,
		log:     log.With("component", "session", "symbol", cfg.Symbol),
		metrics: m,
		health:  health,
		live:    ringbuf.New[model.Bar](cfg.LiveBuffer),
	}
	store.SetLoadDataFunc(s.loadPage)
	return s
}

// Symbol is the charted symbol.
func (s *Session) Symbol() string { return s.cfg.Symbol }

// Store returns the engine. Use it only from functions run on the loop.
func (s *Session) Store() *chart.Store { return s.store }

// Post runs fn on the loop.
func (s *Session) Post(fn func()) { s.loop.Post(fn) }

// Do runs fn on the loop and waits for it.
func (s *Session) Do(ctx context.Context, fn func()) error { return s.loop.Do(ctx, fn) }

// SetPersist forwards every applied live bar to ch without blocking.
// Must be called before live bars arrive.
func (s *Session) SetPersist(ch chan<- model.Bar) { s.persist = ch }

// Load fetches the newest page and posts it as the initial window.
func (s *Session) Load(ctx context.Context) error {
	bars, more, err := s.src.Latest(ctx, s.cfg.Symbol, s.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.cfg.Symbol, err)
	}
	s.log.Info("initial page loaded", "bars", len(bars), "more", more)
	s.loop.Post(func() { s.store.AddData(bars, model.LoadInit, more) })
	return nil
}

// loadPage serves a pagination request on its own goroutine. A failed
// fetch delivers an empty page that keeps more set, so the next viewport
// change retries.
func (s *Session) loadPage(req chart.LoadRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pageTimeout)
		defer cancel()

		var (
			bars []model.Bar
			more bool
			err  error
		)
		switch req.Kind {
		case model.LoadForward:
			bars, more, err = s.src.Before(ctx, s.cfg.Symbol, req.EdgeBar.Timestamp, s.cfg.PageSize)
		case model.LoadBackward:
			bars, more, err = s.src.After(ctx, s.cfg.Symbol, req.EdgeBar.Timestamp, s.cfg.PageSize)
		default:
			err = fmt.Errorf("unsupported page kind %s", req.Kind)
		}
		if err != nil {
			s.metrics.ObserveStoreError("page")
			s.log.Warn("page load failed", "kind", req.Kind.String(), "edge", req.EdgeBar.Timestamp, "error", err)
			req.Done(nil, true)
			return
		}
		s.log.Debug("page loaded", "kind", req.Kind.String(), "bars", len(bars), "more", more)
		req.Done(bars, more)
	}()
}

// PushLive queues a live bar from the feed goroutine. Only one goroutine may
// push. The bar is applied on the loop; a full ring drops it.
func (s *Session) PushLive(b model.Bar) {
	if !s.live.Push(b) {
		s.metrics.ObserveLiveBar(true)
		s.log.Warn("live ring full, dropping bar", "timestamp", b.Timestamp)
		return
	}
	if s.scheduled.CompareAndSwap(false, true) {
		s.loop.Post(s.drainLive)
	}
}

func (s *Session) drainLive() {
	s.scheduled.Store(false)
	s.live.Drain(func(b model.Bar) {
		s.metrics.ObserveLiveBar(false)
		if !s.store.UpdateBar(b) {
			return
		}
		if s.health != nil {
			s.health.SetLastBarTime(b.Time())
		}
		if s.persist != nil {
			select {
			case s.persist <- b:
			default:
				s.log.Warn("persist queue full, bar not stored", "timestamp", b.Timestamp)
			}
		}
	})
}

// RunLive pumps feed into the engine until ctx is cancelled.
func (s *Session) RunLive(ctx context.Context, feed model.LiveFeed) error {
	return feed.Run(ctx, s.cfg.Symbol, s.PushLive)
}
