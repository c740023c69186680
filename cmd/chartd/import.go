package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"klinecore/internal/model"
	"klinecore/internal/store/parquet"
)

const importBatch = 1000

func newImportCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load bars from a Parquet file into SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.importBars(cmd.Context(), file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Parquet file to import (default <parquet.path>/<symbol>.parquet)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the SQLite bars of the symbol to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.exportBars(cmd.Context(), out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination file")
	cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) importBars(ctx context.Context, file string) error {
	if file == "" {
		if a.cfg.Parquet.Path == "" {
			return fmt.Errorf("import: --file or parquet.path is required")
		}
		file = parquet.NewSource(a.cfg.Parquet.Path).Path(a.cfg.Symbol)
	}
	bars, err := parquet.ReadFile(file)
	if err != nil {
		return err
	}

	db, err := a.openSQLite(nil)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := writeBatches(ctx, db, a.cfg.Symbol, bars); err != nil {
		return fmt.Errorf("import %s: %w", file, err)
	}
	a.log.Info("import complete", "file", file, "symbol", a.cfg.Symbol, "bars", len(bars))
	return nil
}

func writeBatches(ctx context.Context, w model.BarWriter, symbol string, bars []model.Bar) error {
	for start := 0; start < len(bars); start += importBatch {
		end := min(start+importBatch, len(bars))
		if err := w.WriteBars(ctx, symbol, bars[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) exportBars(ctx context.Context, out string) error {
	db, err := a.openSQLite(nil)
	if err != nil {
		return err
	}
	defer db.Close()

	var all []model.Bar
	after := int64(-1)
	for {
		page, more, err := db.After(ctx, a.cfg.Symbol, after, importBatch)
		if err != nil {
			return err
		}
		all = append(all, page...)
		if !more || len(page) == 0 {
			break
		}
		after = page[len(page)-1].Timestamp
	}
	if err := parquet.WriteFile(out, all); err != nil {
		return err
	}
	a.log.Info("export complete", "file", out, "symbol", a.cfg.Symbol, "bars", len(all))
	return nil
}
