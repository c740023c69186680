// Package overlay owns user-drawn overlays (lines, price markers) placed on
// chart panes and tracks which of them is pressed, hovered, clicked or still
// being drawn.
package overlay

import (
	"math"

	"klinecore/internal/model"
)

// Drawing steps. A new overlay starts at StepStart and advances one step per
// placed point until it is StepFinished.
const (
	StepStart    = 1
	StepFinished = -1
)

// Point anchors an overlay in data space. Timestamp 0 means unset; such points
// are re-resolved by DataIndex whenever the data window shifts.
type Point struct {
	DataIndex int     `json:"dataIndex"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Value     float64 `json:"value"`
}

// Chart is the engine surface an overlay needs to place its points.
type Chart interface {
	DataIndexToCoordinate(i int) float64
	CoordinateToDataIndex(x float64) int
	DataIndexToTimestamp(i int) (int64, bool)
	TimestampToDataIndex(ts int64) int
}

// YAxis maps values to pane pixels.
type YAxis interface {
	ValueToCoordinate(v float64) float64
	CoordinateToValue(y float64) float64
}

// Event is passed to every overlay hook.
type Event struct {
	Chart       Chart
	Overlay     *Overlay
	FigureKey   string
	FigureIndex int
	X, Y        float64
}

// Hook observes a lifecycle event. Returning true tells the tracker the hook
// already handled presentation, which skips the hover redraw.
type Hook func(Event) bool

// Overlay is one drawing placed on a pane.
type Overlay struct {
	ID       string
	Name     string
	GroupID  string
	PaneID   string
	Points   []Point
	ZLevel   int
	Lock     bool
	Template Template

	OnDrawStart  Hook
	OnDrawEnd    Hook
	OnSelected   Hook
	OnDeselected Hook
	OnMouseEnter Hook
	OnMouseLeave Hook
	OnClick      Hook
	OnRemoved    Hook

	step       int
	prevZLevel int
}

// IsDrawing reports whether the overlay still needs points.
func (o *Overlay) IsDrawing() bool { return o.step != StepFinished }

// IsStart reports whether no point has been placed yet.
func (o *Overlay) IsStart() bool { return o.step == StepStart }

// Step is the current drawing step.
func (o *Overlay) Step() int { return o.step }

// setPoint writes p at the slot of the current step, growing Points.
func (o *Overlay) setPoint(p Point) {
	idx := o.step - 1
	for len(o.Points) <= idx {
		o.Points = append(o.Points, Point{})
	}
	o.Points[idx] = p
}

// nextStep advances after a placed point; the last point finishes drawing.
func (o *Overlay) nextStep() {
	if o.step >= o.Template.TotalPoints {
		o.step = StepFinished
		return
	}
	o.step++
}

func (o *Overlay) raise() {
	o.prevZLevel = o.ZLevel
	o.ZLevel = math.MaxInt32
}

func (o *Overlay) restore() {
	if o.ZLevel == math.MaxInt32 {
		o.ZLevel = o.prevZLevel
	}
}

// Coordinates resolves the overlay points to pane pixels.
func (o *Overlay) Coordinates(c Chart, axis YAxis) []model.Coordinate {
	out := make([]model.Coordinate, len(o.Points))
	for i, p := range o.Points {
		idx := p.DataIndex
		if p.Timestamp != 0 {
			idx = c.TimestampToDataIndex(p.Timestamp)
		}
		out[i] = model.Coordinate{X: c.DataIndexToCoordinate(idx), Y: axis.ValueToCoordinate(p.Value)}
	}
	return out
}

func fire(h Hook, ev Event) bool {
	if h == nil {
		return false
	}
	return h(ev)
}

// LinearAxis maps [Min, Max] onto [Height, 0] pixels.
type LinearAxis struct {
	Height float64
	Min    float64
	Max    float64
}

func (a LinearAxis) ValueToCoordinate(v float64) float64 {
	span := a.Max - a.Min
	if span == 0 {
		return a.Height / 2
	}
	return (a.Max - v) / span * a.Height
}

func (a LinearAxis) CoordinateToValue(y float64) float64 {
	if a.Height == 0 {
		return a.Min
	}
	return a.Max - y/a.Height*(a.Max-a.Min)
}
