package parquet

import (
	"context"
	"path/filepath"
	"testing"

	"klinecore/internal/model"
)

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "NIFTY.parquet")
	in := []model.Bar{
		{Timestamp: 3000, Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 7},
		{Timestamp: 1000, Open: 1, High: 2, Low: 1, Close: 1},
	}
	if err := WriteFile(path, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Timestamp != 1000 || out[1].Volume != 7 {
		t.Fatalf("expected sorted round trip, got %+v", out)
	}
}

func TestSource_Pages(t *testing.T) {
	dir := t.TempDir()
	src := NewSource(dir)
	bars := make([]model.Bar, 25)
	for i := range bars {
		bars[i] = model.Bar{Timestamp: int64(i+1) * 1000, Close: float64(i)}
	}
	if err := WriteFile(src.Path("NIFTY"), bars); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	latest, more, err := src.Latest(ctx, "NIFTY", 10)
	if err != nil || len(latest) != 10 || !more || latest[0].Timestamp != 16000 {
		t.Fatalf("unexpected latest page: n=%d more=%v err=%v", len(latest), more, err)
	}
	older, more, _ := src.Before(ctx, "NIFTY", 6000, 10)
	if len(older) != 5 || more || older[4].Timestamp != 5000 {
		t.Fatalf("unexpected older page: %+v more=%v", older, more)
	}
	newer, more, _ := src.After(ctx, "NIFTY", 20000, 3)
	if len(newer) != 3 || !more || newer[0].Timestamp != 21000 {
		t.Fatalf("unexpected newer page: %+v more=%v", newer, more)
	}

	latest[0].Close = -1
	again, _, _ := src.Latest(ctx, "NIFTY", 10)
	if again[0].Close == -1 {
		t.Error("pages must not alias the cache")
	}

	if _, _, err := src.Latest(ctx, "MISSING", 10); err == nil {
		t.Error("expected error for a missing file")
	}
}
