package chart

import (
	"math"
	"time"

	"klinecore/internal/actionbus"
	"klinecore/internal/model"
	"klinecore/internal/timescale"
)

// roundHalfUp rounds .5 towards positive infinity for negative values too.
func roundHalfUp(v float64) float64 { return math.Floor(v + 0.5) }

// gapBarSpace is the candle body width for a bar space: eased down as bars
// widen, floored, then made odd so a 1px wick centres on it.
func gapBarSpace(barSpace float64) float64 {
	gap := math.Floor(barSpace * (1 - 0.2*math.Atan(math.Max(4, barSpace)-4)/(math.Pi/2)))
	if int(gap)%2 == 0 {
		gap--
	}
	return math.Max(1, gap)
}

// BarSpace returns the current bar and body widths.
func (s *Store) BarSpace() model.BarSpace {
	return model.BarSpace{
		Bar:        s.barSpace,
		HalfBar:    s.barSpace / 2,
		GapBar:     s.gapBarSpace,
		HalfGapBar: math.Floor(s.gapBarSpace / 2),
	}
}

// TotalBarSpace is the drawing area width in pixels.
func (s *Store) TotalBarSpace() float64 { return s.totalBarSpace }

// VisibleRange returns the current visible window.
func (s *Store) VisibleRange() model.VisibleRange { return s.visibleRange }

// LastBarRightSideDiffBarCount is the scroll position: bars between the last
// bar's right side and the viewport's right edge.
func (s *Store) LastBarRightSideDiffBarCount() float64 { return s.diff }

// VisibleBars returns every logical slot of [RealFrom, RealTo) with its x
// centre. Slots outside the data have a nil Bar.
func (s *Store) VisibleBars() []model.VisibleBar {
	out := make([]model.VisibleBar, len(s.visibleBars))
	copy(out, s.visibleBars)
	return out
}

// VisibleHighLow returns the price extremes over the visible bars.
func (s *Store) VisibleHighLow() model.PriceRange { return s.highLow }

// VisibleTicks returns the x axis labels for the current window.
func (s *Store) VisibleTicks() []timescale.Tick {
	return append([]timescale.Tick(nil), s.visibleTicks...)
}

// DataIndexToCoordinate returns the x pixel of the centre of bar i.
func (s *Store) DataIndexToCoordinate(i int) float64 {
	dc := float64(len(s.bars))
	return math.Floor(s.totalBarSpace - (dc+s.diff-float64(i)-0.5)*s.barSpace + 0.5)
}

// CoordinateToFloatIndex is the fractional data index under x, rounded to 1e-6.
func (s *Store) CoordinateToFloatIndex(x float64) float64 {
	dc := float64(len(s.bars))
	fromRight := (s.totalBarSpace - x) / s.barSpace
	idx := dc + s.diff - fromRight
	return math.Round(idx*1e6) / 1e6
}

// CoordinateToDataIndex is the data index of the bar slot under x.
func (s *Store) CoordinateToDataIndex(x float64) int {
	return int(math.Ceil(s.CoordinateToFloatIndex(x))) - 1
}

// SetTotalBarSpace sets the drawing area width. Non-positive widths are ignored.
func (s *Store) SetTotalBarSpace(width float64) {
	if width <= 0 || width == s.totalBarSpace {
		return
	}
	if !s.enter("SetTotalBarSpace") {
		return
	}
	defer s.leave()
	s.totalBarSpace = width
	s.ticksDirty = true
	s.adjustVisibleRange()
	s.refreshCrosshair()
}

// SetBarSpace changes the bar width. Values outside [MinBarSpace, MaxBarSpace]
// and unchanged values are ignored.
func (s *Store) SetBarSpace(barSpace float64) {
	if !s.enter("SetBarSpace") {
		return
	}
	defer s.leave()
	if s.setBarSpace(barSpace, nil) {
		s.requestLayout(s.allPanes()...)
	}
}

func (s *Store) setBarSpace(barSpace float64, adjustBefore func()) bool {
	if math.IsNaN(barSpace) || barSpace < MinBarSpace || barSpace > MaxBarSpace || barSpace == s.barSpace {
		return false
	}
	s.barSpace = barSpace
	s.gapBarSpace = gapBarSpace(barSpace)
	if adjustBefore != nil {
		adjustBefore()
	}
	s.ticksDirty = true
	s.adjustVisibleRange()
	s.refreshCrosshair()
	return true
}

// SetOffsetRightDistance sets the blank space kept right of the last bar on
// init and ScrollToRealTime, and moves the viewport there.
func (s *Store) SetOffsetRightDistance(distance float64) {
	if !s.enter("SetOffsetRightDistance") {
		return
	}
	defer s.leave()
	if s.limit == limitDistance {
		distance = math.Min(s.maxOffset.Right, distance)
	}
	s.offsetRightDistance = distance
	s.diff = distance / s.barSpace
	s.adjustVisibleRange()
	s.refreshCrosshair()
	s.requestLayout(s.allPanes()...)
}

// OffsetRightDistance returns the configured right blank space in pixels.
func (s *Store) OffsetRightDistance() float64 { return s.offsetRightDistance }

// SetLeftMinVisibleBarCount switches to bar count limits and keeps at least
// n bars visible when scrolling right past the first bar.
func (s *Store) SetLeftMinVisibleBarCount(n float64) {
	s.readjust("SetLeftMinVisibleBarCount", func() {
		s.limit = limitBarCount
		s.minVisible.Left = n
	})
}

// SetRightMinVisibleBarCount switches to bar count limits and keeps at least
// n bars visible when scrolling left past the last bar.
func (s *Store) SetRightMinVisibleBarCount(n float64) {
	s.readjust("SetRightMinVisibleBarCount", func() {
		s.limit = limitBarCount
		s.minVisible.Right = n
	})
}

// SetMaxOffsetLeftDistance switches to distance limits: the first bar may sit
// at most d pixels right of the left edge.
func (s *Store) SetMaxOffsetLeftDistance(d float64) {
	s.readjust("SetMaxOffsetLeftDistance", func() {
		s.limit = limitDistance
		s.maxOffset.Left = d
	})
}

// SetMaxOffsetRightDistance switches to distance limits: the last bar may sit
// at most d pixels left of the right edge.
func (s *Store) SetMaxOffsetRightDistance(d float64) {
	s.readjust("SetMaxOffsetRightDistance", func() {
		s.limit = limitDistance
		s.maxOffset.Right = d
	})
}

// readjust applies a limit change and re-derives the range. A re-entrant
// call changes nothing.
func (s *Store) readjust(op string, apply func()) {
	if !s.enter(op) {
		return
	}
	defer s.leave()
	apply()
	s.adjustVisibleRange()
}

// SetZoomEnabled toggles Zoom.
func (s *Store) SetZoomEnabled(v bool) { s.zoomEnabled = v }

// ZoomEnabled reports whether Zoom is enabled.
func (s *Store) ZoomEnabled() bool { return s.zoomEnabled }

// SetScrollEnabled toggles Scroll.
func (s *Store) SetScrollEnabled(v bool) { s.scrollEnabled = v }

// ScrollEnabled reports whether Scroll is enabled.
func (s *Store) ScrollEnabled() bool { return s.scrollEnabled }

func (s *Store) rightOffsetBounds(dataCount float64) (lo, hi float64) {
	if s.limit == limitDistance {
		hi = s.maxOffset.Right / s.barSpace
		lo = (s.totalBarSpace-s.maxOffset.Left)/s.barSpace - dataCount
		return lo, hi
	}
	hi = s.totalBarSpace/s.barSpace - s.minVisible.Right
	lo = s.minVisible.Left - dataCount
	return lo, hi
}

// adjustVisibleRange clamps the scroll position and re-derives everything
// that depends on it. It runs after every structural or viewport change.
func (s *Store) adjustVisibleRange() {
	start := time.Now()
	dc := len(s.bars)
	barLength := s.totalBarSpace / s.barSpace

	lo, hi := s.rightOffsetBounds(float64(dc))
	if s.diff > hi {
		s.diff = hi
	}
	if s.diff < lo {
		s.diff = lo
	}

	realTo := int(roundHalfUp(s.diff + float64(dc) + 0.5))
	to := min(realTo, dc)
	to = max(to, 0)
	realFrom := int(roundHalfUp(float64(realTo)-barLength)) - 1
	from := int(roundHalfUp(float64(to)-barLength)) - 1
	from = min(max(from, 0), to)

	next := model.VisibleRange{From: from, To: to, RealFrom: realFrom, RealTo: realTo}
	prev := s.visibleRange
	s.visibleRange = next
	s.rebuildVisibleBars()

	changed := prev.From != next.From || prev.To != next.To
	if changed || s.ticksDirty {
		s.visibleTicks = s.ticks.Visible(s.totalBarSpace, s.barSpace, from, to)
		s.ticksDirty = false
	}
	s.metrics.ObserveAdjust(time.Since(start), changed)
	if changed {
		s.bus.Execute(actionbus.VisibleRangeChange, next)
	}
	s.maybePaginate()
}

func (s *Store) rebuildVisibleBars() {
	vr := s.visibleRange
	s.visibleBars = s.visibleBars[:0]
	hl := model.PriceRange{High: math.Inf(-1), HighIndex: -1, Low: math.Inf(1), LowIndex: -1}
	for i := vr.RealFrom; i < vr.RealTo; i++ {
		vb := model.VisibleBar{DataIndex: i, X: s.DataIndexToCoordinate(i)}
		if i >= 0 && i < len(s.bars) {
			b := &s.bars[i]
			vb.Bar = b
			if b.High > hl.High {
				hl.High, hl.HighIndex = b.High, i
			}
			if b.Low < hl.Low {
				hl.Low, hl.LowIndex = b.Low, i
			}
		}
		s.visibleBars = append(s.visibleBars, vb)
	}
	if hl.HighIndex < 0 {
		hl = model.PriceRange{HighIndex: -1, LowIndex: -1}
	}
	s.highLow = hl
}

// StartScroll captures the scroll position Scroll distances are measured from.
func (s *Store) StartScroll() { s.startDiff = s.diff }

// Scroll moves the viewport distance pixels from the StartScroll position.
// Positive distances reveal older bars. The realized pixel distance is
// published on the bus unless it is zero.
func (s *Store) Scroll(distance float64) {
	if !s.scrollEnabled || !s.enter("Scroll") {
		return
	}
	defer s.leave()
	s.scroll(distance)
}

func (s *Store) scroll(distance float64) {
	prev := s.diff * s.barSpace
	s.diff = s.startDiff - distance/s.barSpace
	s.adjustVisibleRange()
	s.refreshCrosshair()
	realized := roundHalfUp(prev - s.diff*s.barSpace)
	if realized != 0 {
		s.bus.Execute(actionbus.Scroll, actionbus.ScrollPayload{Distance: realized})
		s.requestLayout(s.allPanes()...)
	}
}

// ScrollByDistance scrolls distance pixels from the current position.
func (s *Store) ScrollByDistance(distance float64) {
	if !s.scrollEnabled || !s.enter("ScrollByDistance") {
		return
	}
	defer s.leave()
	s.startDiff = s.diff
	s.scroll(distance)
}

// ScrollToRealTime scrolls back to the configured right offset.
func (s *Store) ScrollToRealTime() {
	s.ScrollByDistance((s.diff - s.offsetRightDistance/s.barSpace) * s.barSpace)
}

// ScrollToDataIndex puts the right side of bar i at the right edge.
func (s *Store) ScrollToDataIndex(i int) {
	s.ScrollByDistance((s.diff + float64(len(s.bars)-1-i)) * s.barSpace)
}

// ScrollToTimestamp scrolls to the bar containing ts.
func (s *Store) ScrollToTimestamp(ts int64) {
	s.ScrollToDataIndex(s.TimestampToDataIndex(ts))
}

// Zoom scales the bar space by scale/10 around anchor. A nil anchor uses the
// crosshair x when set, else the viewport centre. The data index under the
// anchor stays put. The realized ratio is published unless it is 1.
func (s *Store) Zoom(scale float64, anchor *model.Coordinate) {
	if !s.zoomEnabled || !s.enter("Zoom") {
		return
	}
	defer s.leave()
	s.zoom(scale, anchor)
}

func (s *Store) zoom(scale float64, anchor *model.Coordinate) {
	var x float64
	switch {
	case anchor != nil:
		x = anchor.X
	case s.crosshair.Active:
		x = s.crosshair.X
	default:
		x = s.totalBarSpace / 2
	}
	floatIndex := s.CoordinateToFloatIndex(x)
	prevSpace := s.barSpace
	next := s.barSpace + scale*(s.barSpace/10)
	next = math.Min(MaxBarSpace, math.Max(MinBarSpace, next))
	s.setBarSpace(next, func() {
		s.diff += floatIndex - s.CoordinateToFloatIndex(x)
	})
	ratio := s.barSpace / prevSpace
	if ratio != 1 {
		s.bus.Execute(actionbus.Zoom, actionbus.ZoomPayload{Scale: ratio})
		s.requestLayout(s.allPanes()...)
	}
}

// ZoomAtDataIndex zooms anchored on bar i.
func (s *Store) ZoomAtDataIndex(scale float64, i int) {
	s.Zoom(scale, &model.Coordinate{X: s.DataIndexToCoordinate(i)})
}

// ZoomAtTimestamp zooms anchored on the bar containing ts.
func (s *Store) ZoomAtTimestamp(scale float64, ts int64) {
	s.ZoomAtDataIndex(scale, s.TimestampToDataIndex(ts))
}
