package main

import (
	"context"
	"path/filepath"
	"testing"

	"klinecore/config"
	"klinecore/internal/model"
	"klinecore/internal/store/parquet"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestImportExport(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHARTD_SYMBOL", "TEST")
	t.Setenv("CHARTD_SQLITE_PATH", filepath.Join(dir, "bars.db"))
	t.Setenv("CHARTD_LOG_LEVEL", "error")

	bars := make([]model.Bar, 2500)
	for i := range bars {
		bars[i] = model.Bar{Timestamp: int64(i) * 60_000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: float64(i)}
	}
	in := filepath.Join(dir, "in.parquet")
	if err := parquet.WriteFile(in, bars); err != nil {
		t.Fatal(err)
	}

	if err := run(t, "import", "--file", in); err != nil {
		t.Fatalf("import: %v", err)
	}
	out := filepath.Join(dir, "out", "TEST.parquet")
	if err := run(t, "export", "--out", out); err != nil {
		t.Fatalf("export: %v", err)
	}

	got, err := parquet.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(bars) {
		t.Fatalf("expected %d bars, got %d", len(bars), len(got))
	}
	if got[2499] != bars[2499] {
		t.Errorf("last bar mismatch: %+v", got[2499])
	}
}

func TestImport_RequiresSource(t *testing.T) {
	t.Setenv("CHARTD_SQLITE_PATH", filepath.Join(t.TempDir(), "bars.db"))
	t.Setenv("CHARTD_LOG_LEVEL", "error")
	if err := run(t, "import"); err == nil {
		t.Fatal("expected an error without --file or parquet.path")
	}
}

func TestChartConfig(t *testing.T) {
	cfg := &config.Config{Timezone: "Asia/Kolkata"}
	cfg.Chart.BarSpace = 12
	cfg.Chart.OffsetRightDistance = 40
	cfg.Chart.MinLabelWidth = 70

	c := chartConfig(cfg)
	if c.BarSpace != 12 || c.OffsetRightDistance != 40 || c.MinLabelWidth != 70 || c.Timezone != "Asia/Kolkata" {
		t.Errorf("unexpected chart config %+v", c)
	}
	if c.MinVisibleBarCount.Left != 2 {
		t.Errorf("defaults must be kept, got %+v", c.MinVisibleBarCount)
	}
}
