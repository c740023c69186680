package gateway

import (
	"errors"
	"fmt"

	"klinecore/internal/chart"
	"klinecore/internal/model"
	"klinecore/internal/overlay"
)

// ErrUnknownCommand is returned for an unrecognised command type.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one message from a renderer. Fields are used per Type.
type Command struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`

	// pointer and crosshair
	PaneID string  `json:"paneId,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Height float64 `json:"height,omitempty"` // pane height in pixels

	// viewport
	Distance  float64           `json:"distance,omitempty"`
	Scale     float64           `json:"scale,omitempty"`
	Anchor    *model.Coordinate `json:"anchor,omitempty"`
	Width     float64           `json:"width,omitempty"`
	BarSpace  float64           `json:"barSpace,omitempty"`
	DataIndex int               `json:"dataIndex,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Timezone  string            `json:"timezone,omitempty"`

	// indicators, overlays and tooltip features
	Name      string          `json:"name,omitempty"`
	Params    []float64       `json:"params,omitempty"`
	ID        string          `json:"id,omitempty"`
	Points    []overlay.Point `json:"points,omitempty"`
	FeatureID string          `json:"featureId,omitempty"`

	Ping int64 `json:"ping,omitempty"`
}

// Apply executes c against store. It must run on the store's loop.
func (c Command) Apply(store *chart.Store) error {
	switch c.Type {
	case "resize":
		store.SetTotalBarSpace(c.Width)
	case "bar_space":
		store.SetBarSpace(c.BarSpace)
	case "offset_right":
		store.SetOffsetRightDistance(c.Distance)
	case "timezone":
		store.SetTimezone(c.Timezone)

	case "scroll_start":
		store.StartScroll()
	case "scroll":
		store.Scroll(c.Distance)
	case "scroll_by":
		store.ScrollByDistance(c.Distance)
	case "scroll_to_realtime":
		store.ScrollToRealTime()
	case "scroll_to_index":
		store.ScrollToDataIndex(c.DataIndex)
	case "scroll_to_timestamp":
		store.ScrollToTimestamp(c.Timestamp)
	case "zoom":
		store.Zoom(c.Scale, c.Anchor)

	case "crosshair":
		store.SetCrosshair(c.X, c.Y, c.paneID())
	case "crosshair_clear":
		store.ClearCrosshair()

	case "pointer_move":
		store.PointerMove(c.paneID(), c.X, c.Y, store.PaneAxis(c.paneID(), c.Height))
	case "pointer_down":
		store.PointerDown(c.paneID(), c.X, c.Y, store.PaneAxis(c.paneID(), c.Height))
	case "pointer_drag":
		store.PointerDrag(c.X, c.Y, store.PaneAxis(c.paneID(), c.Height))
	case "pointer_up":
		store.PointerUp()
	case "pointer_click":
		store.PointerClick(c.paneID(), c.X, c.Y, store.PaneAxis(c.paneID(), c.Height))

	case "indicator_add":
		if _, err := store.CreateIndicator(c.Name, c.PaneID, c.Params); err != nil {
			return err
		}
	case "indicator_override":
		if !store.OverrideIndicator(c.PaneID, c.Name, c.Params) {
			return fmt.Errorf("override indicator %q on %s: not found", c.Name, c.PaneID)
		}
	case "indicator_remove":
		if !store.RemoveIndicator(c.PaneID, c.Name) {
			return fmt.Errorf("remove indicator %q on %s: not found", c.Name, c.PaneID)
		}
	case "tooltip_feature":
		store.ClickTooltipFeature(c.paneID(), c.Name, c.FeatureID)

	case "overlay_create":
		o := &overlay.Overlay{ID: c.ID, Name: c.Name, PaneID: c.PaneID, Points: c.Points}
		if _, err := store.Overlays().Create(o); err != nil {
			return err
		}
	case "overlay_remove":
		if !store.Overlays().Remove(c.ID) {
			return fmt.Errorf("remove overlay %q: not found", c.ID)
		}

	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, c.Type)
	}
	return nil
}

func (c Command) paneID() string {
	if c.PaneID == "" {
		return model.CandlePaneID
	}
	return c.PaneID
}
