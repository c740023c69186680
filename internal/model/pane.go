package model

// Well-known pane ids. Indicator panes use any other id.
const (
	CandlePaneID = "candle_pane"
	XAxisPaneID  = "x_axis_pane"
)
