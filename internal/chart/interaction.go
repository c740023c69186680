package chart

import (
	"math"

	"klinecore/internal/actionbus"
	"klinecore/internal/model"
	"klinecore/internal/overlay"
)

// PaneAxis returns the y axis of paneID for a pane height in pixels. The
// candle pane spans the visible high/low; indicator panes span the visible
// values of their indicators.
func (s *Store) PaneAxis(paneID string, height float64) overlay.LinearAxis {
	if paneID == model.CandlePaneID {
		hl := s.highLow
		if hl.HighIndex < 0 {
			return overlay.LinearAxis{Height: height, Min: 0, Max: 1}
		}
		return overlay.LinearAxis{Height: height, Min: hl.Low, Max: hl.High}
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	vr := s.visibleRange
	for _, inst := range s.indicators.Get(paneID) {
		res := inst.Result()
		for i := vr.From; i < vr.To && i < len(res); i++ {
			for _, v := range res[i] {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	if math.IsInf(lo, 0) {
		return overlay.LinearAxis{Height: height, Min: 0, Max: 1}
	}
	return overlay.LinearAxis{Height: height, Min: lo, Max: hi}
}

func (s *Store) pointAt(x, y float64, axis overlay.YAxis) overlay.Point {
	idx := s.CoordinateToDataIndex(x)
	p := overlay.Point{DataIndex: idx, Value: axis.CoordinateToValue(y)}
	if ts, ok := s.DataIndexToTimestamp(idx); ok {
		p.Timestamp = ts
	}
	return p
}

// PointerMove previews the next point of an overlay being drawn, or updates
// the hovered overlay.
func (s *Store) PointerMove(paneID string, x, y float64, axis overlay.YAxis) {
	if s.overlays.Progress() != nil {
		s.overlays.MoveProgressPoint(s.pointAt(x, y, axis))
		return
	}
	info := s.overlays.HitTest(paneID, model.Coordinate{X: x, Y: y}, axis)
	if info.Overlay == nil {
		info.PaneID = paneID
	}
	s.overlays.SetHover(info, overlay.Pointer{X: x, Y: y})
}

// PointerDown places a drawing point, or presses the overlay under the pointer.
func (s *Store) PointerDown(paneID string, x, y float64, axis overlay.YAxis) {
	pt := s.pointAt(x, y, axis)
	if s.overlays.AddProgressPoint(pt, overlay.Pointer{X: x, Y: y}) {
		return
	}
	s.overlays.SetPressed(s.overlays.HitTest(paneID, model.Coordinate{X: x, Y: y}, axis), pt)
}

// PointerDrag moves the pressed overlay. Returns false when nothing is
// pressed, so the host can scroll instead.
func (s *Store) PointerDrag(x, y float64, axis overlay.YAxis) bool {
	return s.overlays.DragPressed(s.pointAt(x, y, axis))
}

// PointerUp releases the pressed overlay.
func (s *Store) PointerUp() {
	s.overlays.SetPressed(overlay.NoHit(), overlay.Point{})
}

// PointerClick updates the clicked overlay slot.
func (s *Store) PointerClick(paneID string, x, y float64, axis overlay.YAxis) {
	info := s.overlays.HitTest(paneID, model.Coordinate{X: x, Y: y}, axis)
	if info.Overlay == nil {
		info.PaneID = paneID
	}
	s.overlays.SetClick(info, overlay.Pointer{X: x, Y: y})
}

// ClickTooltipFeature publishes a click on an indicator tooltip feature icon.
func (s *Store) ClickTooltipFeature(paneID, indicatorName, featureID string) {
	s.bus.Execute(actionbus.TooltipFeatureClick, actionbus.TooltipFeaturePayload{
		PaneID:        paneID,
		IndicatorName: indicatorName,
		FeatureID:     featureID,
	})
}
