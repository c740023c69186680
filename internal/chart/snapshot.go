package chart

import (
	"klinecore/internal/indicator"
	"klinecore/internal/model"
	"klinecore/internal/overlay"
)

// Snapshot is a self-contained copy of everything a remote renderer needs to
// paint the chart. It shares no memory with the Store and may be handed to
// other goroutines.
type Snapshot struct {
	Range         model.VisibleRange `json:"range"`
	BarSpace      model.BarSpace     `json:"barSpace"`
	TotalBarSpace float64            `json:"totalBarSpace"`
	Bars          []model.VisibleBar `json:"bars"`
	HighLow       model.PriceRange   `json:"highLow"`
	Ticks         []TickLabel        `json:"ticks"`
	Crosshair     Crosshair          `json:"crosshair"`
	Indicators    []IndicatorView    `json:"indicators,omitempty"`
	Overlays      []OverlayView      `json:"overlays,omitempty"`
	Loading       bool               `json:"loading"`
	Panes         []string           `json:"panes"`
}

// TickLabel is one x axis label.
type TickLabel struct {
	DataIndex int     `json:"dataIndex"`
	X         float64 `json:"x"`
	Weight    string  `json:"weight"`
	Text      string  `json:"text"`
}

// IndicatorView is an indicator with its values over [Range.From, Range.To).
type IndicatorView struct {
	PaneID  string             `json:"paneId"`
	Name    string             `json:"name"`
	State   string             `json:"state"`
	Figures []indicator.Figure `json:"figures"`
	Values  []indicator.Result `json:"values"`
}

// OverlayView is an overlay with its points.
type OverlayView struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	PaneID  string          `json:"paneId"`
	Points  []overlay.Point `json:"points"`
	Drawing bool            `json:"drawing"`
	Hovered bool            `json:"hovered,omitempty"`
	Clicked bool            `json:"clicked,omitempty"`
}

// Snapshot copies the current render state.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Range:         s.visibleRange,
		BarSpace:      s.BarSpace(),
		TotalBarSpace: s.totalBarSpace,
		HighLow:       s.highLow,
		Crosshair:     s.crosshair,
		Loading:       s.loading,
		Panes:         s.allPanes(),
	}
	if c := s.crosshair.Bar; c != nil {
		b := *c
		snap.Crosshair.Bar = &b
	}

	snap.Bars = make([]model.VisibleBar, len(s.visibleBars))
	for i, vb := range s.visibleBars {
		if vb.Bar != nil {
			b := *vb.Bar
			vb.Bar = &b
		}
		snap.Bars[i] = vb
	}

	for _, t := range s.visibleTicks {
		snap.Ticks = append(snap.Ticks, TickLabel{
			DataIndex: t.DataIndex,
			X:         s.DataIndexToCoordinate(t.DataIndex),
			Weight:    t.Weight.String(),
			Text:      s.ticks.Format(t),
		})
	}

	vr := s.visibleRange
	s.indicators.Each(func(pane string, inst *indicator.Instance) {
		view := IndicatorView{
			PaneID:  pane,
			Name:    inst.Name(),
			State:   inst.State().String(),
			Figures: inst.Figures(),
		}
		res := inst.Result()
		for i := vr.From; i < vr.To && i < len(res); i++ {
			view.Values = append(view.Values, copyResult(res[i]))
		}
		snap.Indicators = append(snap.Indicators, view)
	})

	hover, click := s.overlays.Hover().Overlay, s.overlays.Click().Overlay
	addOverlay := func(o *overlay.Overlay) {
		snap.Overlays = append(snap.Overlays, OverlayView{
			ID:      o.ID,
			Name:    o.Name,
			PaneID:  o.PaneID,
			Points:  append([]overlay.Point(nil), o.Points...),
			Drawing: o.IsDrawing(),
			Hovered: o == hover,
			Clicked: o == click,
		})
	}
	for _, pane := range s.overlays.Panes() {
		for _, o := range s.overlays.Overlays(pane) {
			addOverlay(o)
		}
	}
	if p := s.overlays.Progress(); p != nil {
		addOverlay(p.Overlay)
	}
	return snap
}

func copyResult(r indicator.Result) indicator.Result {
	if r == nil {
		return nil
	}
	out := make(indicator.Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
