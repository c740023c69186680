package overlay

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"klinecore/internal/model"
	"klinecore/internal/paneset"
)

var (
	ErrUnknownTemplate = errors.New("unknown overlay template")
	ErrDuplicateID     = errors.New("duplicate overlay id")
)

// FigureType tells which part of an overlay an EventInfo points at.
type FigureType string

const (
	FigureNone  FigureType = "none"
	FigurePoint FigureType = "point"
	FigureOther FigureType = "other"
)

// EventInfo is the content of one interaction slot.
type EventInfo struct {
	PaneID      string
	Overlay     *Overlay
	FigureType  FigureType
	FigureKey   string
	FigureIndex int
	AttrsIndex  int
}

// NoHit is the empty slot value.
func NoHit() EventInfo {
	return EventInfo{FigureType: FigureNone, FigureIndex: -1, AttrsIndex: -1}
}

func (e EventInfo) overlayID() string {
	if e.Overlay == nil {
		return ""
	}
	return e.Overlay.ID
}

func (e EventInfo) sameTarget(o EventInfo) bool {
	return e.overlayID() == o.overlayID() && e.FigureType == o.FigureType && e.FigureIndex == o.FigureIndex
}

// ProgressInfo is the overlay currently being drawn.
type ProgressInfo struct {
	PaneID  string
	Overlay *Overlay
}

// Pointer is the pixel position of the pointer event that caused a transition.
type Pointer struct {
	X, Y float64
}

// Manager owns the overlays of one chart: the pane-keyed permanent
// collections, the single in-progress overlay and the pressed, hover and click
// slots. It runs on the engine event loop.
type Manager struct {
	log      *slog.Logger
	chart    Chart
	registry *Registry
	redraw   func(paneIDs ...string)

	panes    *paneset.Set[*Overlay]
	progress *ProgressInfo

	pressed    EventInfo
	pressPoint Point
	hover      EventInfo
	click      EventInfo

	seq int
}

// NewManager creates a Manager. redraw receives the panes that need painting.
func NewManager(log *slog.Logger, chart Chart, reg *Registry, redraw func(paneIDs ...string)) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	if redraw == nil {
		redraw = func(...string) {}
	}
	return &Manager{
		log:      log,
		chart:    chart,
		registry: reg,
		redraw:   redraw,
		panes:    paneset.New(func(a, b *Overlay) bool { return a.ZLevel < b.ZLevel }),
		pressed:  NoHit(),
		hover:    NoHit(),
		click:    NoHit(),
	}
}

// Registry returns the template registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Create places o. Its Template is looked up by Name. With enough Points it
// goes straight into its pane; otherwise it becomes the in-progress overlay,
// replacing any previous one.
func (m *Manager) Create(o *Overlay) (*Overlay, error) {
	tmpl, ok := m.registry.Lookup(o.Name)
	if !ok {
		return nil, fmt.Errorf("create overlay %q: %w", o.Name, ErrUnknownTemplate)
	}
	o.Template = tmpl
	if o.PaneID == "" {
		o.PaneID = model.CandlePaneID
	}
	if o.ID == "" {
		m.seq++
		o.ID = "overlay_" + strconv.Itoa(m.seq)
	} else if m.Get(o.ID) != nil {
		return nil, fmt.Errorf("create overlay %q: %w", o.ID, ErrDuplicateID)
	}

	if len(o.Points) >= tmpl.TotalPoints {
		o.Points = o.Points[:tmpl.TotalPoints]
		o.step = StepFinished
		m.panes.Add(o.PaneID, o)
		m.redraw(o.PaneID)
		return o, nil
	}

	if m.progress != nil {
		m.removeProgress(Pointer{})
	}
	o.step = len(o.Points) + 1
	m.progress = &ProgressInfo{PaneID: o.PaneID, Overlay: o}
	m.log.Debug("overlay drawing started", "id", o.ID, "name", o.Name, "pane", o.PaneID)
	return o, nil
}

// Progress returns the in-progress overlay slot, or nil.
func (m *Manager) Progress() *ProgressInfo { return m.progress }

// AddProgressPoint places the point of the current drawing step. The last
// point completes the overlay. Returns false when nothing is being drawn.
func (m *Manager) AddProgressPoint(p Point, ptr Pointer) bool {
	if m.progress == nil {
		return false
	}
	o := m.progress.Overlay
	if o.IsStart() {
		fire(o.OnDrawStart, m.event(o, "", -1, ptr))
	}
	o.setPoint(p)
	o.nextStep()
	if !o.IsDrawing() {
		m.completeProgress(ptr)
		return true
	}
	m.redraw(m.progress.PaneID)
	return true
}

// MoveProgressPoint previews the point of the current drawing step.
func (m *Manager) MoveProgressPoint(p Point) bool {
	if m.progress == nil {
		return false
	}
	m.progress.Overlay.setPoint(p)
	m.redraw(m.progress.PaneID)
	return true
}

// CompleteProgress finishes the in-progress overlay if it has all its points.
func (m *Manager) CompleteProgress() bool {
	if m.progress == nil {
		return false
	}
	o := m.progress.Overlay
	if len(o.Points) < o.Template.TotalPoints {
		return false
	}
	o.step = StepFinished
	m.completeProgress(Pointer{})
	return true
}

func (m *Manager) completeProgress(ptr Pointer) {
	o := m.progress.Overlay
	paneID := m.progress.PaneID
	m.progress = nil
	m.panes.Add(paneID, o)
	fire(o.OnDrawEnd, m.event(o, "", -1, ptr))
	m.log.Debug("overlay drawing finished", "id", o.ID, "pane", paneID)
	m.redraw(paneID)
}

// Remove deletes the overlay with id, including an in-progress one.
func (m *Manager) Remove(id string) bool {
	if m.progress != nil && m.progress.Overlay.ID == id {
		m.removeProgress(Pointer{})
		return true
	}
	removed := m.panes.RemoveAll(func(_ string, o *Overlay) bool { return o.ID == id })
	m.afterRemove(removed)
	return len(removed) > 0
}

// RemoveGroup deletes every overlay of group.
func (m *Manager) RemoveGroup(group string) int {
	if m.progress != nil && m.progress.Overlay.GroupID == group {
		m.removeProgress(Pointer{})
	}
	removed := m.panes.RemoveAll(func(_ string, o *Overlay) bool { return o.GroupID == group })
	m.afterRemove(removed)
	return len(removed)
}

// Clear deletes every overlay.
func (m *Manager) Clear() {
	if m.progress != nil {
		m.removeProgress(Pointer{})
	}
	m.afterRemove(m.panes.RemoveAll(func(string, *Overlay) bool { return true }))
}

func (m *Manager) removeProgress(ptr Pointer) {
	o := m.progress.Overlay
	m.progress = nil
	m.forget(o)
	fire(o.OnRemoved, m.event(o, "", -1, ptr))
	m.redraw(o.PaneID)
}

func (m *Manager) afterRemove(removed []*Overlay) {
	if len(removed) == 0 {
		return
	}
	panes := make([]string, 0, len(removed)+1)
	for _, o := range removed {
		m.forget(o)
		fire(o.OnRemoved, m.event(o, "", -1, Pointer{}))
		panes = append(panes, o.PaneID)
	}
	m.redraw(panes...)
}

// forget clears every interaction slot referencing o.
func (m *Manager) forget(o *Overlay) {
	if m.pressed.Overlay == o {
		m.pressed = NoHit()
	}
	if m.hover.Overlay == o {
		m.hover = NoHit()
	}
	if m.click.Overlay == o {
		m.click = NoHit()
	}
}

// Get finds an overlay by id, in-progress included.
func (m *Manager) Get(id string) *Overlay {
	if m.progress != nil && m.progress.Overlay.ID == id {
		return m.progress.Overlay
	}
	for _, pane := range m.panes.Panes() {
		if o, ok := m.panes.Find(pane, func(o *Overlay) bool { return o.ID == id }); ok {
			return o
		}
	}
	return nil
}

// Overlays returns the finished overlays of pane in z order.
func (m *Manager) Overlays(pane string) []*Overlay { return m.panes.Get(pane) }

// Panes lists panes holding finished overlays.
func (m *Manager) Panes() []string { return m.panes.Panes() }

// Len is the number of finished overlays.
func (m *Manager) Len() int { return m.panes.Len() }

// ForEachPoint visits every point of every overlay, in-progress included.
func (m *Manager) ForEachPoint(fn func(o *Overlay, p *Point)) {
	visit := func(o *Overlay) {
		for i := range o.Points {
			fn(o, &o.Points[i])
		}
	}
	m.panes.Each(func(_ string, o *Overlay) { visit(o) })
	if m.progress != nil {
		visit(m.progress.Overlay)
	}
}

// Pressed returns the pressed slot.
func (m *Manager) Pressed() EventInfo { return m.pressed }

// Hover returns the hover slot.
func (m *Manager) Hover() EventInfo { return m.hover }

// Click returns the click slot.
func (m *Manager) Click() EventInfo { return m.click }

// SetPressed records the overlay under a pointer-down at data point at.
func (m *Manager) SetPressed(info EventInfo, at Point) {
	m.pressed = info
	m.pressPoint = at
}

// DragPressed moves the pressed overlay to p: a pressed control point moves
// alone, any other figure translates the whole overlay.
func (m *Manager) DragPressed(p Point) bool {
	o := m.pressed.Overlay
	if o == nil || o.Lock || o.IsDrawing() {
		return false
	}
	if m.pressed.FigureType == FigurePoint && m.pressed.FigureIndex >= 0 && m.pressed.FigureIndex < len(o.Points) {
		o.Points[m.pressed.FigureIndex] = p
	} else {
		di := p.DataIndex - m.pressPoint.DataIndex
		dv := p.Value - m.pressPoint.Value
		for i := range o.Points {
			pt := &o.Points[i]
			pt.DataIndex += di
			pt.Value += dv
			pt.Timestamp = 0
			if ts, ok := m.chart.DataIndexToTimestamp(pt.DataIndex); ok {
				pt.Timestamp = ts
			}
		}
	}
	m.pressPoint = p
	m.redraw(o.PaneID)
	return true
}

// SetHover moves the hover slot to info. Identical targets are ignored.
// Switching overlays fires OnMouseLeave on the old one, OnMouseEnter on the
// new one and raises it to the top of its pane.
func (m *Manager) SetHover(info EventInfo, ptr Pointer) {
	last := m.hover
	if last.sameTarget(info) {
		return
	}
	m.hover = info

	handled := false
	if last.overlayID() != info.overlayID() {
		if lo := last.Overlay; lo != nil {
			lo.restore()
			m.panes.Sort(lo.PaneID)
			if fire(lo.OnMouseLeave, m.event(lo, last.FigureKey, last.FigureIndex, ptr)) {
				handled = true
			}
		}
		if o := info.Overlay; o != nil {
			o.raise()
			m.panes.Sort(o.PaneID)
			if fire(o.OnMouseEnter, m.event(o, info.FigureKey, info.FigureIndex, ptr)) {
				handled = true
			}
		}
	}
	if !handled {
		m.redraw(affected(last, info)...)
	}
}

// SetClick moves the click slot to info. OnClick fires on every click of a
// finished overlay; switching overlays fires OnDeselected then OnSelected.
func (m *Manager) SetClick(info EventInfo, ptr Pointer) {
	if o := info.Overlay; o != nil && !o.IsDrawing() {
		fire(o.OnClick, m.event(o, info.FigureKey, info.FigureIndex, ptr))
	}
	last := m.click
	if last.sameTarget(info) {
		return
	}
	m.click = info
	if last.overlayID() != info.overlayID() {
		if lo := last.Overlay; lo != nil {
			fire(lo.OnDeselected, m.event(lo, last.FigureKey, last.FigureIndex, ptr))
		}
		if o := info.Overlay; o != nil {
			fire(o.OnSelected, m.event(o, info.FigureKey, info.FigureIndex, ptr))
		}
	}
	m.redraw(affected(last, info)...)
}

func affected(last, next EventInfo) []string {
	panes := make([]string, 0, 3)
	if last.PaneID != "" {
		panes = append(panes, last.PaneID)
	}
	if next.PaneID != "" && next.PaneID != last.PaneID {
		panes = append(panes, next.PaneID)
	}
	return append(panes, model.XAxisPaneID)
}

// HitTest finds the top-most finished overlay of pane under p. Control points
// win over the overlay body.
func (m *Manager) HitTest(pane string, p model.Coordinate, axis YAxis) EventInfo {
	list := m.panes.Get(pane)
	for i := len(list) - 1; i >= 0; i-- {
		o := list[i]
		coords := o.Coordinates(m.chart, axis)
		for j, c := range coords {
			if math.Hypot(p.X-c.X, p.Y-c.Y) <= pointRadius {
				return EventInfo{PaneID: pane, Overlay: o, FigureType: FigurePoint, FigureKey: "point", FigureIndex: j, AttrsIndex: -1}
			}
		}
		if o.Template.HitTest == nil {
			continue
		}
		if key, idx, ok := o.Template.HitTest(coords, p); ok {
			return EventInfo{PaneID: pane, Overlay: o, FigureType: FigureOther, FigureKey: key, FigureIndex: idx, AttrsIndex: -1}
		}
	}
	return NoHit()
}

func (m *Manager) event(o *Overlay, key string, index int, ptr Pointer) Event {
	return Event{Chart: m.chart, Overlay: o, FigureKey: key, FigureIndex: index, X: ptr.X, Y: ptr.Y}
}
