package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLCV data point of the chart's data window.
// Timestamp is the bar open time in Unix milliseconds.
type Bar struct {
	Timestamp int64   `json:"timestamp" parquet:"timestamp"`
	Open      float64 `json:"open" parquet:"open"`
	High      float64 `json:"high" parquet:"high"`
	Low       float64 `json:"low" parquet:"low"`
	Close     float64 `json:"close" parquet:"close"`
	Volume    float64 `json:"volume,omitempty" parquet:"volume,optional"`
	Turnover  float64 `json:"turnover,omitempty" parquet:"turnover,optional"`
}

// Time returns the bar timestamp as a UTC time.Time.
func (b *Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// LoadKind identifies how a batch of bars entered the data window.
type LoadKind int

const (
	// LoadInit replaces the whole window.
	LoadInit LoadKind = iota
	// LoadForward prepends an older page.
	LoadForward
	// LoadBackward appends a newer page.
	LoadBackward
	// LoadUpdate is a single-bar append or in-place replace of the last bar.
	LoadUpdate
)

func (k LoadKind) String() string {
	switch k {
	case LoadInit:
		return "init"
	case LoadForward:
		return "forward"
	case LoadBackward:
		return "backward"
	case LoadUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// VisibleRange is the window of data indices mapped onto the viewport.
// [From, To) is clamped to the data bounds and used for rendering;
// [RealFrom, RealTo) is the unclamped logical window used for pagination.
type VisibleRange struct {
	From     int `json:"from"`
	To       int `json:"to"`
	RealFrom int `json:"realFrom"`
	RealTo   int `json:"realTo"`
}

// BarSpace is the pixel width of one bar and of its body without the gap.
type BarSpace struct {
	Bar        float64 `json:"bar"`
	HalfBar    float64 `json:"halfBar"`
	GapBar     float64 `json:"gapBar"`
	HalfGapBar float64 `json:"halfGapBar"`
}

// Coordinate is a point in viewport pixels.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VisibleBar is one bar of the visible window with its resolved x centre.
type VisibleBar struct {
	DataIndex int     `json:"dataIndex"`
	X         float64 `json:"x"`
	Bar       *Bar    `json:"bar,omitempty"` // nil for logical slots past the data bounds
}

// PriceRange is the high/low extreme over the visible window.
type PriceRange struct {
	High      float64 `json:"high"`
	HighIndex int     `json:"highIndex"`
	Low       float64 `json:"low"`
	LowIndex  int     `json:"lowIndex"`
}
