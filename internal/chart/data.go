package chart

import (
	"sort"

	"klinecore/internal/model"
	"klinecore/internal/overlay"
)

// LoadRequest asks the host for one more page of history.
type LoadRequest struct {
	Kind model.LoadKind // LoadForward (older) or LoadBackward (newer)
	// EdgeBar is the first bar for LoadForward and the last for LoadBackward.
	EdgeBar model.Bar
	// Done delivers the page and whether more bars exist in that direction.
	// It may be called from any goroutine; only the first call counts.
	Done func(bars []model.Bar, more bool)
}

// LoadDataFunc is the host's pagination callback. It must not block.
type LoadDataFunc func(LoadRequest)

// SetLoadDataFunc registers the pagination callback.
func (s *Store) SetLoadDataFunc(fn LoadDataFunc) { s.loadData = fn }

// Loading reports whether a page request is in flight.
func (s *Store) Loading() bool { return s.loading }

// DataList returns the data window. The slice must not be modified.
func (s *Store) DataList() []model.Bar { return s.bars }

// Len is the number of bars in the window.
func (s *Store) Len() int { return len(s.bars) }

// Bar returns bar i, or nil when i is out of range.
func (s *Store) Bar(i int) *model.Bar {
	if i < 0 || i >= len(s.bars) {
		return nil
	}
	return &s.bars[i]
}

// AddData merges a page into the window. LoadInit replaces everything,
// LoadForward prepends older bars and LoadBackward appends newer ones. more
// tells whether further pages exist in the load direction; for LoadInit that
// is the older side, since an initial page is the latest one.
func (s *Store) AddData(bars []model.Bar, kind model.LoadKind, more bool) {
	if kind == model.LoadUpdate {
		for _, b := range bars {
			s.UpdateBar(b)
		}
		return
	}
	if !s.enter("AddData") {
		return
	}
	defer s.leave()

	page := normalize(bars)
	s.loading = false
	delta := 0

	switch kind {
	case model.LoadInit:
		s.clearData()
		s.bars = page
		s.forwardMore = more
		s.ticks.Reset(s.bars)
		s.diff = s.offsetRightDistance / s.barSpace
		delta = len(page)
	case model.LoadForward:
		s.forwardMore = more
		if len(s.bars) > 0 {
			first := s.bars[0].Timestamp
			page = trimAfter(page, first)
		}
		if len(page) == 0 {
			return
		}
		s.bars = append(page, s.bars...)
		s.ticks.Reset(s.bars)
		delta = len(page)
	case model.LoadBackward:
		s.backwardMore = more
		if len(s.bars) > 0 {
			last := s.bars[len(s.bars)-1].Timestamp
			page = trimBefore(page, last)
		}
		if len(page) == 0 {
			return
		}
		s.bars = append(s.bars, page...)
		s.ticks.Append(page)
		delta = len(page)
	}

	s.log.Debug("data merged", "kind", kind.String(), "bars", delta, "total", len(s.bars), "more", more)
	s.afterMutation(kind, delta)
}

// UpdateBar upserts one bar at the end of the window: a newer timestamp
// appends, the last bar's timestamp replaces it in place, and anything older
// is ignored. Returns whether the window changed.
func (s *Store) UpdateBar(bar model.Bar) bool {
	if !s.enter("UpdateBar") {
		return false
	}
	defer s.leave()

	dc := len(s.bars)
	var lastTS int64
	if dc > 0 {
		lastTS = s.bars[dc-1].Timestamp
	}
	switch {
	case dc == 0 || bar.Timestamp > lastTS:
		s.bars = append(s.bars, bar)
		s.ticks.Append([]model.Bar{bar})
		if s.diff < 0 {
			s.diff--
		}
		s.afterMutation(model.LoadUpdate, 1)
	case bar.Timestamp == lastTS:
		s.bars[dc-1] = bar
		s.afterMutation(model.LoadUpdate, 0)
	default:
		s.log.Debug("ignoring stale bar", "timestamp", bar.Timestamp, "last", lastTS)
		s.metrics.ObserveRejectedUpsert()
		return false
	}
	return true
}

// Clear empties the window and resets all derived state.
func (s *Store) Clear() {
	if !s.enter("Clear") {
		return
	}
	defer s.leave()
	s.clearData()
	s.scheduler.CancelAll()
	s.diff = s.offsetRightDistance / s.barSpace
	s.adjustVisibleRange()
	s.metrics.ObserveLoad("clear", 0)
	s.requestLayout(s.allPanes()...)
}

func (s *Store) clearData() {
	s.bars = nil
	s.loading = false
	s.forwardMore = false
	s.backwardMore = false
	s.ticks.Clear()
	s.visibleRange = model.VisibleRange{}
	s.visibleBars = nil
	s.visibleTicks = nil
	s.highLow = model.PriceRange{HighIndex: -1, LowIndex: -1}
	s.crosshair = emptyCrosshair()
}

// afterMutation re-derives everything that depends on the window contents.
func (s *Store) afterMutation(kind model.LoadKind, delta int) {
	if delta != 0 {
		s.resolveOverlayPoints(kind, delta)
	}
	s.ticksDirty = true
	s.adjustVisibleRange()
	s.refreshCrosshair()
	s.resubmitIndicators(kind)
	s.metrics.ObserveLoad(kind.String(), len(s.bars))
	s.requestLayout(s.allPanes()...)
}

// resolveOverlayPoints keeps overlay anchors on the same bars after the
// window changed. Points without a timestamp are anchored by index, shifted
// for prepended pages, then given the timestamp of that index.
func (s *Store) resolveOverlayPoints(kind model.LoadKind, delta int) {
	s.overlays.ForEachPoint(func(_ *overlay.Overlay, p *overlay.Point) {
		if p.Timestamp != 0 {
			p.DataIndex = s.TimestampToDataIndex(p.Timestamp)
			return
		}
		if kind == model.LoadForward {
			p.DataIndex += delta
		}
		if ts, ok := s.DataIndexToTimestamp(p.DataIndex); ok {
			p.Timestamp = ts
		}
	})
}

func (s *Store) maybePaginate() {
	if s.loading || s.loadData == nil || len(s.bars) == 0 {
		return
	}
	vr := s.visibleRange
	switch {
	case vr.From == 0 && s.forwardMore:
		s.requestPage(model.LoadForward, s.bars[0])
	case vr.To == len(s.bars) && s.backwardMore:
		s.requestPage(model.LoadBackward, s.bars[len(s.bars)-1])
	}
}

func (s *Store) requestPage(kind model.LoadKind, edge model.Bar) {
	s.loading = true
	s.metrics.ObservePagination(kind.String())
	s.log.Debug("requesting page", "kind", kind.String(), "edge", edge.Timestamp)
	delivered := false
	s.loadData(LoadRequest{
		Kind:    kind,
		EdgeBar: edge,
		Done: func(bars []model.Bar, more bool) {
			s.post(func() {
				if delivered {
					s.log.Warn("page delivered twice, ignoring", "kind", kind.String())
					return
				}
				delivered = true
				s.AddData(bars, kind, more)
			})
		},
	})
}

// DataIndexToTimestamp returns the timestamp of bar i. Indices past either
// end are extrapolated with the period of the two outermost bars.
func (s *Store) DataIndexToTimestamp(i int) (int64, bool) {
	n := len(s.bars)
	switch {
	case n == 0:
		return 0, false
	case i >= 0 && i < n:
		return s.bars[i].Timestamp, true
	case n < 2:
		return 0, false
	case i >= n:
		period := s.bars[n-1].Timestamp - s.bars[n-2].Timestamp
		return s.bars[n-1].Timestamp + int64(i-n+1)*period, true
	default:
		period := s.bars[1].Timestamp - s.bars[0].Timestamp
		return s.bars[0].Timestamp + int64(i)*period, true
	}
}

// TimestampToDataIndex returns the index of the bar containing ts, i.e. the
// last bar opening at or before it. Timestamps outside the window are
// extrapolated with the edge period.
func (s *Store) TimestampToDataIndex(ts int64) int {
	n := len(s.bars)
	if n == 0 {
		return 0
	}
	first, last := s.bars[0].Timestamp, s.bars[n-1].Timestamp
	if n >= 2 {
		if ts > last {
			period := last - s.bars[n-2].Timestamp
			if period > 0 {
				return n - 1 + int((ts-last)/period)
			}
		}
		if ts < first {
			period := s.bars[1].Timestamp - first
			if period > 0 {
				return floorDiv(ts-first, period)
			}
		}
	}
	i := sort.Search(n, func(i int) bool { return s.bars[i].Timestamp > ts }) - 1
	return max(i, 0)
}

func floorDiv(a, b int64) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return int(q)
}

// normalize returns an ascending copy of bars with unique timestamps; the
// later of two duplicates wins.
func normalize(bars []model.Bar) []model.Bar {
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	w := 0
	for i := range out {
		if w > 0 && out[w-1].Timestamp == out[i].Timestamp {
			out[w-1] = out[i]
			continue
		}
		out[w] = out[i]
		w++
	}
	return out[:w]
}

// trimAfter keeps bars strictly older than ts.
func trimAfter(bars []model.Bar, ts int64) []model.Bar {
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp >= ts })
	return bars[:i]
}

// trimBefore keeps bars strictly newer than ts.
func trimBefore(bars []model.Bar, ts int64) []model.Bar {
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp > ts })
	return bars[i:]
}
