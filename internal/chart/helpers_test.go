package chart

import (
	"io"
	"log/slog"
	"testing"

	"klinecore/internal/model"
)

const minute = int64(60_000)

// 2023-11-14 22:00 UTC
const t0 = int64(1_700_000_000_000) - int64(1_700_000_000_000)%(60*minute)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestStore(t *testing.T) (*Store, *Loop) {
	t.Helper()
	loop := NewLoop()
	return NewStore(quietLog(), DefaultConfig(), loop.Post, nil), loop
}

// minuteBars returns n one-minute bars starting at start.
func minuteBars(start int64, n int) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		base := 100 + float64(i%37)
		out[i] = model.Bar{
			Timestamp: start + int64(i)*minute,
			Open:      base,
			High:      base + 2,
			Low:       base - 2,
			Close:     base + 1,
			Volume:    1000,
		}
	}
	return out
}

// loaded returns a store 800px wide holding n bars.
func loaded(t *testing.T, n int) (*Store, *Loop) {
	t.Helper()
	s, loop := newTestStore(t)
	s.SetTotalBarSpace(800)
	s.AddData(minuteBars(t0, n), model.LoadInit, false)
	return s, loop
}

func checkRange(t *testing.T, s *Store) {
	t.Helper()
	vr := s.VisibleRange()
	if vr.From < 0 || vr.From > vr.To || vr.To > s.Len() {
		t.Fatalf("range invariant broken: %+v with %d bars", vr, s.Len())
	}
}
