// Package timescale buckets bar timestamps into calendar weight classes and
// picks the non-overlapping subset of time labels shown on the x axis.
package timescale

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"klinecore/internal/model"
)

// Weight is the calendar granularity of a tick. Larger is coarser.
type Weight int

const (
	Second Weight = 50
	Minute Weight = 60
	Hour   Weight = 70
	Day    Weight = 80
	Month  Weight = 90
	Year   Weight = 100
)

// Coarse to fine.
var weightsDesc = [...]Weight{Year, Month, Day, Hour, Minute, Second}

func (w Weight) String() string {
	switch w {
	case Year:
		return "year"
	case Month:
		return "month"
	case Day:
		return "day"
	case Hour:
		return "hour"
	case Minute:
		return "minute"
	case Second:
		return "second"
	default:
		return "unknown"
	}
}

// DefaultMinLabelWidth approximates the pixel width of a date label.
const DefaultMinLabelWidth = 60

// DateTime holds the calendar fields of a timestamp in the chart time zone.
type DateTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// Tick is a time label candidate for one data index.
type Tick struct {
	Weight    Weight   `json:"weight"`
	DataIndex int      `json:"dataIndex"`
	DateTime  DateTime `json:"-"`
	Timestamp int64    `json:"timestamp"`
}

// Classifier keeps the per-weight tick buckets of the data window.
// Not safe for concurrent use; it is owned by the chart engine.
type Classifier struct {
	log           *slog.Logger
	loc           *time.Location
	minLabelWidth float64

	buckets map[Weight][]Tick
	count   int
	lastTS  int64
	version uint64

	cache struct {
		version  uint64
		barCount int
		merged   []Tick
	}
}

// New creates a Classifier in UTC. minLabelWidth <= 0 selects DefaultMinLabelWidth.
func New(log *slog.Logger, minLabelWidth float64) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	if minLabelWidth <= 0 {
		minLabelWidth = DefaultMinLabelWidth
	}
	return &Classifier{
		log:           log,
		loc:           time.UTC,
		minLabelWidth: minLabelWidth,
		buckets:       make(map[Weight][]Tick, len(weightsDesc)),
	}
}

// SetTimezone switches the calendar used for classification. An unknown zone
// name is logged and the previous location is kept. Returns true when the
// location changed; the caller must then Reset with the current bars.
func (c *Classifier) SetTimezone(name string) bool {
	loc, err := time.LoadLocation(name)
	if err != nil {
		c.log.Warn("invalid timezone, keeping previous", "timezone", name, "current", c.loc.String(), "error", err)
		return false
	}
	if loc.String() == c.loc.String() {
		return false
	}
	c.loc = loc
	return true
}

// Location returns the active time zone.
func (c *Classifier) Location() *time.Location { return c.loc }

// Clear drops all buckets.
func (c *Classifier) Clear() {
	c.buckets = make(map[Weight][]Tick, len(weightsDesc))
	c.count = 0
	c.lastTS = 0
	c.version++
}

// Reset rebuilds all buckets from scratch.
func (c *Classifier) Reset(bars []model.Bar) {
	c.Clear()
	c.Append(bars)
}

// Append classifies bars that were appended to the end of the window.
// Existing data indices stay stable.
func (c *Classifier) Append(bars []model.Bar) {
	if len(bars) == 0 {
		return
	}
	var prev *DateTime
	if c.count > 0 {
		dt := c.dateTime(c.lastTS)
		prev = &dt
	}
	for i := range bars {
		dt := c.dateTime(bars[i].Timestamp)
		w := classify(prev, dt)
		c.buckets[w] = append(c.buckets[w], Tick{
			Weight:    w,
			DataIndex: c.count + i,
			DateTime:  dt,
			Timestamp: bars[i].Timestamp,
		})
		prev = &dt
	}
	c.count += len(bars)
	c.lastTS = bars[len(bars)-1].Timestamp
	c.version++
}

// Ticks returns a copy of the bucket for w.
func (c *Classifier) Ticks(w Weight) []Tick {
	out := make([]Tick, len(c.buckets[w]))
	copy(out, c.buckets[w])
	return out
}

// Len is the number of classified bars.
func (c *Classifier) Len() int { return c.count }

// MinSpacing is the minimum number of data indices between two labels.
func (c *Classifier) MinSpacing(totalBarSpace, barSpace float64) int {
	if barSpace <= 0 {
		return 1
	}
	n := int(math.Ceil(math.Max(totalBarSpace/10, c.minLabelWidth) / barSpace))
	if n < 1 {
		n = 1
	}
	return n
}

// Visible returns the label subset for data indices in [from, to).
func (c *Classifier) Visible(totalBarSpace, barSpace float64, from, to int) []Tick {
	merged := c.merged(c.MinSpacing(totalBarSpace, barSpace))
	start := sort.Search(len(merged), func(i int) bool { return merged[i].DataIndex >= from })
	var out []Tick
	for i := start; i < len(merged) && merged[i].DataIndex < to; i++ {
		out = append(out, merged[i])
	}
	return out
}

func (c *Classifier) merged(barCount int) []Tick {
	if c.cache.merged != nil && c.cache.version == c.version && c.cache.barCount == barCount {
		return c.cache.merged
	}
	merged := Select(c.buckets, barCount)
	c.cache.version = c.version
	c.cache.barCount = barCount
	c.cache.merged = merged
	return merged
}

// Select merges the weight buckets coarse to fine. Ticks of a coarser weight
// are always kept; a finer tick is admitted only when it is at least barCount
// indices away from its admitted left neighbour and from the next coarser tick
// on its right. Each tick of each bucket is visited once.
func Select(buckets map[Weight][]Tick, barCount int) []Tick {
	merged := make([]Tick, 0)
	for _, w := range weightsDesc {
		bucket := buckets[w]
		if len(bucket) == 0 {
			continue
		}
		next := make([]Tick, 0, len(merged)+len(bucket))
		j := 0
		for _, t := range bucket {
			for j < len(merged) && merged[j].DataIndex < t.DataIndex {
				next = append(next, merged[j])
				j++
			}
			if n := len(next); n > 0 && t.DataIndex-next[n-1].DataIndex < barCount {
				continue
			}
			if j < len(merged) && merged[j].DataIndex-t.DataIndex < barCount {
				continue
			}
			next = append(next, t)
		}
		next = append(next, merged[j:]...)
		merged = next
	}
	return merged
}

// Format renders the label text of a tick according to its weight.
func (c *Classifier) Format(t Tick) string {
	tm := time.UnixMilli(t.Timestamp).In(c.loc)
	switch t.Weight {
	case Year:
		return tm.Format("2006")
	case Month:
		return tm.Format("2006-01")
	case Day:
		return tm.Format("01-02")
	case Hour, Minute:
		return tm.Format("15:04")
	default:
		return tm.Format("15:04:05")
	}
}

func (c *Classifier) dateTime(ts int64) DateTime {
	tm := time.UnixMilli(ts).In(c.loc)
	return DateTime{
		Year:   tm.Year(),
		Month:  tm.Month(),
		Day:    tm.Day(),
		Hour:   tm.Hour(),
		Minute: tm.Minute(),
		Second: tm.Second(),
	}
}

// classify returns the coarsest field that differs from prev.
// The first bar of the window has no predecessor and counts as a year tick.
func classify(prev *DateTime, dt DateTime) Weight {
	switch {
	case prev == nil || dt.Year != prev.Year:
		return Year
	case dt.Month != prev.Month:
		return Month
	case dt.Day != prev.Day:
		return Day
	case dt.Hour != prev.Hour:
		return Hour
	case dt.Minute != prev.Minute:
		return Minute
	default:
		return Second
	}
}
