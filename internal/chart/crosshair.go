package chart

import (
	"klinecore/internal/actionbus"
	"klinecore/internal/model"
)

// Crosshair is the pointer position resolved against the data window.
// When inactive it tracks the last bar so tooltips show the latest values.
type Crosshair struct {
	Active        bool       `json:"active"`
	PaneID        string     `json:"paneId,omitempty"`
	X             float64    `json:"x"`
	Y             float64    `json:"y"`
	RealX         float64    `json:"realX"`
	RealDataIndex int        `json:"realDataIndex"`
	DataIndex     int        `json:"dataIndex"`
	Timestamp     int64      `json:"timestamp,omitempty"`
	Bar           *model.Bar `json:"bar,omitempty"`
}

func emptyCrosshair() Crosshair {
	return Crosshair{DataIndex: -1, RealDataIndex: -1}
}

// Crosshair returns the current crosshair.
func (s *Store) Crosshair() Crosshair { return s.crosshair }

// SetCrosshair moves the crosshair to (x, y) on paneID and publishes the
// change on the bus.
func (s *Store) SetCrosshair(x, y float64, paneID string) {
	if !s.enter("SetCrosshair") {
		return
	}
	defer s.leave()
	prev := s.crosshair
	s.crosshair = s.resolveCrosshair(Crosshair{Active: true, PaneID: paneID, X: x, Y: y})
	if prev.Active && prev.X == x && prev.Y == y && prev.PaneID == paneID {
		return
	}
	s.bus.Execute(actionbus.CrosshairChange, s.crosshair)
	s.requestLayout(s.allPanes()...)
}

// ClearCrosshair hides the crosshair.
func (s *Store) ClearCrosshair() {
	if !s.enter("ClearCrosshair") {
		return
	}
	defer s.leave()
	if !s.crosshair.Active {
		return
	}
	s.crosshair = s.resolveCrosshair(Crosshair{})
	s.bus.Execute(actionbus.CrosshairChange, s.crosshair)
	s.requestLayout(s.allPanes()...)
}

// refreshCrosshair re-resolves the crosshair in place without publishing.
func (s *Store) refreshCrosshair() {
	s.crosshair = s.resolveCrosshair(s.crosshair)
}

func (s *Store) resolveCrosshair(c Crosshair) Crosshair {
	dc := len(s.bars)
	if dc == 0 {
		out := emptyCrosshair()
		out.Active, out.PaneID, out.X, out.Y = c.Active, c.PaneID, c.X, c.Y
		return out
	}
	realIdx := dc - 1
	if c.Active {
		realIdx = s.CoordinateToDataIndex(c.X)
	}
	idx := min(max(realIdx, 0), dc-1)
	bar := s.bars[idx]
	c.RealDataIndex = realIdx
	c.DataIndex = idx
	c.RealX = s.DataIndexToCoordinate(realIdx)
	c.Bar = &bar
	c.Timestamp, _ = s.DataIndexToTimestamp(realIdx)
	return c
}
