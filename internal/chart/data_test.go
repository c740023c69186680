package chart

import (
	"context"
	"errors"
	"testing"
	"time"

	"klinecore/internal/indicator"
	"klinecore/internal/model"
	"klinecore/internal/overlay"
)

func TestUpdateBar_AppendReplaceNoop(t *testing.T) {
	s, _ := loaded(t, 3)

	if !s.UpdateBar(model.Bar{Timestamp: t0 + 3*minute, Close: 5}) || s.Len() != 4 {
		t.Fatalf("newer bar must append, len=%d", s.Len())
	}
	if !s.UpdateBar(model.Bar{Timestamp: t0 + 3*minute, Close: 999}) || s.Len() != 4 {
		t.Fatalf("equal timestamp must replace, len=%d", s.Len())
	}
	if s.Bar(3).Close != 999 {
		t.Errorf("expected replaced close 999, got %v", s.Bar(3).Close)
	}
	before := *s.Bar(1)
	if s.UpdateBar(model.Bar{Timestamp: t0 + minute, Close: -1}) {
		t.Error("older bar must be rejected")
	}
	if s.Len() != 4 || *s.Bar(1) != before {
		t.Error("rejected upsert must not change the window")
	}
}

func TestUpdateBar_EmptyWindowAppends(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetTotalBarSpace(800)
	if !s.UpdateBar(model.Bar{Timestamp: t0}) || s.Len() != 1 {
		t.Fatal("first bar must append")
	}
	checkRange(t, s)
}

func TestUpdateBar_ScrolledViewportStaysAnchored(t *testing.T) {
	s, _ := loaded(t, 200)
	s.ScrollByDistance(800)
	before := s.VisibleRange()
	s.UpdateBar(model.Bar{Timestamp: t0 + 200*minute})
	if got := s.VisibleRange(); got.From != before.From || got.To != before.To {
		t.Errorf("history view moved from %+v to %+v", before, got)
	}
	if s.LastBarRightSideDiffBarCount() != -91 {
		t.Errorf("expected diff -91, got %v", s.LastBarRightSideDiffBarCount())
	}
}

func TestUpdateBar_RealtimeFollows(t *testing.T) {
	s, _ := loaded(t, 200)
	s.UpdateBar(model.Bar{Timestamp: t0 + 200*minute})
	if got := s.VisibleRange().To; got != 201 {
		t.Errorf("expected the new bar in view, to=%d", got)
	}
}

func TestAddData_ForwardBackward(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetTotalBarSpace(800)
	s.AddData(minuteBars(t0, 100), model.LoadInit, true)
	// overlapping pages are trimmed to strictly older/newer bars
	s.AddData(minuteBars(t0-50*minute, 60), model.LoadForward, true)
	s.AddData(minuteBars(t0+95*minute, 25), model.LoadBackward, false)

	if s.Len() != 170 {
		t.Fatalf("expected 170 bars, got %d", s.Len())
	}
	bars := s.DataList()
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp <= bars[i-1].Timestamp {
			t.Fatalf("window not strictly ascending at %d", i)
		}
	}
	if s.TimeScale().Len() != 170 {
		t.Errorf("expected all bars classified, got %d", s.TimeScale().Len())
	}
	checkRange(t, s)
}

func TestAddData_InitResetsOffset(t *testing.T) {
	s, _ := loaded(t, 200)
	s.ScrollByDistance(1000)
	s.AddData(minuteBars(t0, 50), model.LoadInit, false)
	if got := s.LastBarRightSideDiffBarCount(); got != 10 {
		t.Errorf("expected right offset reset to 10 bars, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	in := []model.Bar{{Timestamp: 3}, {Timestamp: 1}, {Timestamp: 2, Close: 1}, {Timestamp: 2, Close: 2}}
	out := normalize(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 bars, got %v", out)
	}
	if out[0].Timestamp != 1 || out[1].Close != 2 || out[2].Timestamp != 3 {
		t.Errorf("unexpected normalized window %v", out)
	}
	if in[0].Timestamp != 3 {
		t.Error("input must not be modified")
	}
}

func TestPagination_SingleInFlight(t *testing.T) {
	s, loop := newTestStore(t)
	s.SetTotalBarSpace(800)
	var reqs []LoadRequest
	s.SetLoadDataFunc(func(r LoadRequest) { reqs = append(reqs, r) })
	s.AddData(minuteBars(t0, 200), model.LoadInit, true)
	if len(reqs) != 0 {
		t.Fatalf("no request expected while the first bar is off screen, got %d", len(reqs))
	}

	s.StartScroll()
	s.Scroll(2000)
	if len(reqs) != 1 || reqs[0].Kind != model.LoadForward {
		t.Fatalf("expected one forward request, got %+v", reqs)
	}
	if reqs[0].EdgeBar.Timestamp != t0 {
		t.Errorf("expected first bar as edge, got %d", reqs[0].EdgeBar.Timestamp)
	}
	if !s.Loading() {
		t.Fatal("expected loading flag set")
	}

	s.Scroll(2100)
	if len(reqs) != 1 {
		t.Fatalf("a second request must wait for the first, got %d", len(reqs))
	}

	reqs[0].Done(minuteBars(t0-100*minute, 100), true)
	if s.Len() != 200 {
		t.Fatal("page must be merged on the loop, not inline")
	}
	loop.Drain()
	if s.Loading() || s.Len() != 300 {
		t.Fatalf("expected page merged and loading cleared, len=%d loading=%v", s.Len(), s.Loading())
	}

	reqs[0].Done(minuteBars(t0-300*minute, 100), true)
	loop.Drain()
	if s.Len() != 300 {
		t.Error("a second delivery for the same request must be ignored")
	}

	s.ScrollToDataIndex(0)
	if len(reqs) != 2 || reqs[1].EdgeBar.Timestamp != t0-100*minute {
		t.Fatalf("expected a second forward request from the new first bar, got %d", len(reqs))
	}
}

func TestPagination_InitRequestsOnlyOlder(t *testing.T) {
	for _, more := range []bool{false, true} {
		s, _ := newTestStore(t)
		s.SetTotalBarSpace(800)
		var reqs []LoadRequest
		s.SetLoadDataFunc(func(r LoadRequest) { reqs = append(reqs, r) })

		// 10 bars leave both edges in view
		s.AddData(minuteBars(t0, 10), model.LoadInit, more)
		if !more && len(reqs) != 0 {
			t.Fatalf("no more history, expected no request, got %+v", reqs)
		}
		if more && (len(reqs) != 1 || reqs[0].Kind != model.LoadForward) {
			t.Fatalf("an initial page only pages older bars, got %+v", reqs)
		}
	}
}

func TestPagination_Backward(t *testing.T) {
	s, _ := loaded(t, 200)
	var reqs []LoadRequest
	s.SetLoadDataFunc(func(r LoadRequest) { reqs = append(reqs, r) })

	s.AddData(minuteBars(t0+200*minute, 10), model.LoadBackward, true)
	if len(reqs) != 1 || reqs[0].Kind != model.LoadBackward {
		t.Fatalf("expected a backward request, got %+v", reqs)
	}
	if reqs[0].EdgeBar.Timestamp != t0+209*minute {
		t.Errorf("expected last bar as edge, got %d", reqs[0].EdgeBar.Timestamp)
	}
}

func TestPagination_NoMoreData(t *testing.T) {
	s, loop := newTestStore(t)
	s.SetTotalBarSpace(800)
	calls := 0
	s.SetLoadDataFunc(func(r LoadRequest) {
		calls++
		r.Done(nil, false)
	})
	s.AddData(minuteBars(t0, 10), model.LoadInit, true)
	loop.Drain()
	s.ScrollByDistance(100)
	loop.Drain()
	if calls != 1 {
		t.Errorf("expected no requests after an empty last page, got %d", calls)
	}
	if s.Loading() {
		t.Error("an empty page must clear the loading flag")
	}
}

func TestOverlayPoints_ReResolvedOnForwardLoad(t *testing.T) {
	s, _ := loaded(t, 10)
	byIndex, err := s.Overlays().Create(&overlay.Overlay{Name: "horizontalStraightLine", Points: []overlay.Point{{DataIndex: 5, Value: 100}}})
	if err != nil {
		t.Fatal(err)
	}
	byTime, err := s.Overlays().Create(&overlay.Overlay{Name: "priceLine", Points: []overlay.Point{{DataIndex: 2, Timestamp: t0 + 2*minute}}})
	if err != nil {
		t.Fatal(err)
	}

	s.AddData(minuteBars(t0-5*minute, 5), model.LoadForward, false)

	p := byIndex.Points[0]
	if p.DataIndex != 10 || p.Timestamp != t0+5*minute {
		t.Errorf("index-anchored point: expected index 10 at t0+5m, got %+v", p)
	}
	if q := byTime.Points[0]; q.DataIndex != 7 {
		t.Errorf("time-anchored point: expected index 7, got %+v", q)
	}

	s.AddData(minuteBars(t0+10*minute, 3), model.LoadBackward, false)
	if p := byIndex.Points[0]; p.DataIndex != 10 {
		t.Errorf("appending must not move anchors, got %+v", p)
	}
}

func TestIndicators_ResubmittedOnLoad(t *testing.T) {
	s, loop := newTestStore(t)
	s.SetTotalBarSpace(800)
	var layouts [][]string
	s.SetLayoutHook(func(r LayoutRequest) { layouts = append(layouts, r.PaneIDs) })

	inst, err := s.CreateIndicator("MA", model.CandlePaneID, []float64{3})
	if err != nil {
		t.Fatal(err)
	}
	ready := 0
	var kinds []model.LoadKind
	inst.OnDataStateChange = func(c indicator.StateChange) {
		if c.State == indicator.StateReady {
			ready++
			kinds = append(kinds, c.Kind)
		}
	}

	s.AddData(minuteBars(t0, 10), model.LoadInit, false)
	s.UpdateBar(model.Bar{Timestamp: t0 + 10*minute, Close: 50})
	layouts = nil
	s.Scheduler().Wait()
	loop.Drain()

	if ready != 1 || kinds[0] != model.LoadUpdate {
		t.Fatalf("expected exactly one ready notification tagged update, got %d %v", ready, kinds)
	}
	if inst.State() != indicator.StateReady || len(inst.Result()) != 11 {
		t.Fatalf("expected ready with 11 results, got %v / %d", inst.State(), len(inst.Result()))
	}
	if len(layouts) != 1 || layouts[0][0] != model.CandlePaneID {
		t.Errorf("expected one layout of the candle pane, got %v", layouts)
	}
}

func TestIndicators_RemoveCancels(t *testing.T) {
	s, loop := loaded(t, 50)
	inst, err := s.CreateIndicator("RSI", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if inst.PaneID != "pane_1" {
		t.Errorf("expected a new pane, got %q", inst.PaneID)
	}
	if !s.RemoveIndicator(inst.PaneID, "RSI") {
		t.Fatal("expected remove")
	}
	s.Scheduler().Wait()
	loop.Drain()
	if inst.State() == indicator.StateReady {
		t.Error("removed indicator must not become ready")
	}
	if len(s.Indicators(inst.PaneID)) != 0 {
		t.Error("expected empty pane")
	}
}

func TestCreateIndicator_Errors(t *testing.T) {
	s, _ := loaded(t, 5)
	if _, err := s.CreateIndicator("NOPE", "", nil); err == nil {
		t.Error("expected unknown template error")
	}
	if _, err := s.CreateIndicator("VOL", "vol_pane", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateIndicator("vol", "vol_pane", nil); !errors.Is(err, ErrIndicatorExists) {
		t.Errorf("expected ErrIndicatorExists, got %v", err)
	}
}

func TestOverrideIndicator(t *testing.T) {
	s, loop := loaded(t, 20)
	inst, _ := s.CreateIndicator("EMA", model.CandlePaneID, []float64{3})
	if !s.OverrideIndicator(model.CandlePaneID, "EMA", []float64{5, 10}) {
		t.Fatal("expected override")
	}
	s.Scheduler().Wait()
	loop.Drain()
	if len(inst.Figures()) != 2 {
		t.Errorf("expected two lines after override, got %v", inst.Figures())
	}
	if _, ok := inst.Result()[19]["ema2"]; !ok {
		t.Error("expected ema2 values")
	}
}

func TestClear(t *testing.T) {
	s, _ := loaded(t, 100)
	s.SetCrosshair(400, 10, model.CandlePaneID)
	s.Clear()

	if s.Len() != 0 {
		t.Fatalf("expected empty window, got %d", s.Len())
	}
	if vr := s.VisibleRange(); vr.From != 0 || vr.To != 0 {
		t.Errorf("expected empty range, got %+v", vr)
	}
	if s.Crosshair().Active || s.Crosshair().Bar != nil {
		t.Errorf("expected crosshair reset, got %+v", s.Crosshair())
	}
	if len(s.VisibleTicks()) != 0 || s.TimeScale().Len() != 0 {
		t.Error("expected ticks cleared")
	}
	if s.VisibleHighLow().HighIndex != -1 {
		t.Errorf("expected no high/low, got %+v", s.VisibleHighLow())
	}
}

func TestTimestampConversions(t *testing.T) {
	s, _ := loaded(t, 10)

	if ts, ok := s.DataIndexToTimestamp(3); !ok || ts != t0+3*minute {
		t.Errorf("in range: got %d %v", ts, ok)
	}
	if ts, ok := s.DataIndexToTimestamp(12); !ok || ts != t0+12*minute {
		t.Errorf("right extrapolation: got %d %v", ts, ok)
	}
	if ts, ok := s.DataIndexToTimestamp(-2); !ok || ts != t0-2*minute {
		t.Errorf("left extrapolation: got %d %v", ts, ok)
	}

	cases := map[int64]int{
		t0 + 90_000:       1,
		t0 + 11*minute:    11,
		t0 - minute:       -1,
		t0 - 30_000:       -1,
		t0 + 9*minute:     9,
		t0 + 9*minute + 1: 9,
	}
	for ts, want := range cases {
		if got := s.TimestampToDataIndex(ts); got != want {
			t.Errorf("TimestampToDataIndex(t0%+d) = %d, want %d", ts-t0, got, want)
		}
	}

	empty, _ := newTestStore(t)
	if _, ok := empty.DataIndexToTimestamp(0); ok {
		t.Error("empty window has no timestamps")
	}
	if empty.TimestampToDataIndex(t0) != 0 {
		t.Error("empty window maps every timestamp to 0")
	}
}

func TestOverrideIndicator_WhileComputing(t *testing.T) {
	s, loop := loaded(t, 50)
	s.Registry().Register(indicator.Template{
		Name:          "SLOWP",
		DefaultParams: []float64{1},
		Calc: func(ctx context.Context, bars []model.Bar, params []float64) ([]indicator.Result, error) {
			time.Sleep(5 * time.Millisecond)
			out := make([]indicator.Result, len(bars))
			for i := range out {
				out[i] = indicator.Result{"p": params[0]}
			}
			return out, nil
		},
	})
	inst, err := s.CreateIndicator("SLOWP", model.CandlePaneID, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 2; i <= 50; i++ {
		s.OverrideIndicator(model.CandlePaneID, "SLOWP", []float64{float64(i)})
	}
	s.UpdateBar(model.Bar{Timestamp: t0 + 50*minute, Close: 1})
	s.OverrideIndicator(model.CandlePaneID, "SLOWP", []float64{51})
	s.Scheduler().Wait()
	loop.Drain()

	if inst.State() != indicator.StateReady {
		t.Fatalf("expected ready, got %v", inst.State())
	}
	r := inst.Result()
	if len(r) != 51 || r[50]["p"] != 51 {
		t.Errorf("expected the last override over 51 bars, got %d results", len(r))
	}
}
