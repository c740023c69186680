package timescale

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"klinecore/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func barsAt(times ...time.Time) []model.Bar {
	bars := make([]model.Bar, len(times))
	for i, tm := range times {
		bars[i] = model.Bar{Timestamp: tm.UnixMilli(), Open: 1, High: 1, Low: 1, Close: 1}
	}
	return bars
}

func hourly(start time.Time, n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		bars[i] = model.Bar{Timestamp: start.Add(time.Duration(i) * time.Hour).UnixMilli(), Close: 1}
	}
	return bars
}

func weightAt(c *Classifier, idx int) Weight {
	for _, w := range weightsDesc {
		for _, t := range c.Ticks(w) {
			if t.DataIndex == idx {
				return w
			}
		}
	}
	return 0
}

func TestClassify_DayBoundary(t *testing.T) {
	c := New(quietLogger(), 0)
	c.Reset(barsAt(
		time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 11, 0, 1, 0, 0, time.UTC),
		time.Date(2024, 3, 11, 0, 1, 30, 0, time.UTC),
	))

	want := []Weight{Year, Hour, Day, Minute, Second}
	for i, w := range want {
		if got := weightAt(c, i); got != w {
			t.Errorf("index %d: got weight %v, want %v", i, got, w)
		}
	}
}

func TestClassify_MonthAndYear(t *testing.T) {
	c := New(quietLogger(), 0)
	c.Reset(barsAt(
		time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	))
	if got := weightAt(c, 1); got != Year {
		t.Errorf("expected year tick at 1, got %v", got)
	}
	if got := weightAt(c, 2); got != Month {
		t.Errorf("expected month tick at 2, got %v", got)
	}
}

func TestAppend_KeepsIndicesAndComparesWithLastBar(t *testing.T) {
	c := New(quietLogger(), 0)
	bars := hourly(time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC), 3) // 20h, 21h, 22h
	c.Reset(bars)
	c.Append(barsAt(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)))

	if c.Len() != 4 {
		t.Fatalf("expected 4 classified bars, got %d", c.Len())
	}
	if got := weightAt(c, 3); got != Day {
		t.Errorf("appended bar crossing midnight: got %v, want day", got)
	}
	if got := weightAt(c, 1); got != Hour {
		t.Errorf("existing index 1 should stay an hour tick, got %v", got)
	}
}

func TestSelect_MinimumSpacing(t *testing.T) {
	c := New(quietLogger(), 0)
	c.Reset(hourly(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 24*20))

	for _, barCount := range []int{1, 3, 7, 13, 50} {
		merged := Select(c.buckets, barCount)
		for i := 1; i < len(merged); i++ {
			if merged[i].DataIndex <= merged[i-1].DataIndex {
				t.Fatalf("barCount %d: ticks not ascending at %d", barCount, i)
			}
			if d := merged[i].DataIndex - merged[i-1].DataIndex; d < barCount {
				t.Fatalf("barCount %d: ticks %d and %d only %d apart",
					barCount, merged[i-1].DataIndex, merged[i].DataIndex, d)
			}
		}
	}
}

func TestSelect_PrefersCoarserWeights(t *testing.T) {
	c := New(quietLogger(), 0)
	c.Reset(hourly(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 24*5))

	merged := Select(c.buckets, 24)
	if len(merged) != 5 {
		t.Fatalf("expected one tick per day, got %d", len(merged))
	}
	for _, tk := range merged {
		if tk.Weight < Day {
			t.Errorf("tick at %d has weight %v, expected day or coarser", tk.DataIndex, tk.Weight)
		}
	}
}

func TestVisible_FiltersRange(t *testing.T) {
	c := New(quietLogger(), 0)
	c.Reset(hourly(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 100))

	ticks := c.Visible(200, 10, 30, 60)
	for _, tk := range ticks {
		if tk.DataIndex < 30 || tk.DataIndex >= 60 {
			t.Errorf("tick %d outside [30,60)", tk.DataIndex)
		}
	}
	if len(ticks) == 0 {
		t.Fatal("expected some visible ticks")
	}
}

func TestMinSpacing(t *testing.T) {
	c := New(quietLogger(), 60)
	if got := c.MinSpacing(1000, 10); got != 10 {
		t.Errorf("expected ceil(100/10)=10, got %d", got)
	}
	if got := c.MinSpacing(200, 7); got != 9 {
		t.Errorf("expected ceil(60/7)=9, got %d", got)
	}
}

func TestSetTimezone_InvalidKeepsPrevious(t *testing.T) {
	c := New(quietLogger(), 0)
	if c.SetTimezone("Not/AZone") {
		t.Fatal("invalid zone should not report a change")
	}
	if c.Location() != time.UTC {
		t.Errorf("expected UTC to be kept, got %v", c.Location())
	}
}

func TestSetTimezone_ShiftsDayBoundary(t *testing.T) {
	c := New(quietLogger(), 0)
	bars := barsAt(
		time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 19, 0, 0, 0, time.UTC), // 00:30 next day in Asia/Kolkata
	)
	c.Reset(bars)
	if got := weightAt(c, 1); got != Hour {
		t.Fatalf("UTC: expected hour tick, got %v", got)
	}
	if !c.SetTimezone("Asia/Kolkata") {
		t.Skip("tzdata not available")
	}
	c.Reset(bars)
	if got := weightAt(c, 1); got != Day {
		t.Errorf("Asia/Kolkata: expected day tick, got %v", got)
	}
}

func TestFormat(t *testing.T) {
	c := New(quietLogger(), 0)
	ts := time.Date(2024, 7, 4, 9, 30, 15, 0, time.UTC).UnixMilli()
	cases := map[Weight]string{
		Year:   "2024",
		Month:  "2024-07",
		Day:    "07-04",
		Hour:   "09:30",
		Second: "09:30:15",
	}
	for w, want := range cases {
		if got := c.Format(Tick{Weight: w, Timestamp: ts}); got != want {
			t.Errorf("%v: got %q, want %q", w, got, want)
		}
	}
}
