// Command chartd hosts a chart engine for remote renderers. It serves bar
// history from SQLite or Parquet, follows a live Redis feed and streams
// render snapshots over WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"klinecore/config"
	"klinecore/internal/logger"
	"klinecore/internal/metrics"
	"klinecore/internal/model"
	"klinecore/internal/store/parquet"
	"klinecore/internal/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "chartd",
		Short:         "Chart viewport and data coordination host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(a), newImportCmd(a), newExportCmd(a), newReplayCmd(a))
	return root
}

// pageSource opens the configured history source. Parquet wins when both
// are configured. The returned sqlite store is nil for Parquet.
func (a *app) pageSource(m *metrics.Metrics) (model.PageSource, *sqlite.Store, error) {
	if a.cfg.Parquet.Path != "" {
		a.log.Info("serving history from parquet", "dir", a.cfg.Parquet.Path)
		return parquet.NewSource(a.cfg.Parquet.Path), nil, nil
	}
	db, err := a.openSQLite(m)
	if err != nil {
		return nil, nil, err
	}
	return db, db, nil
}

func (a *app) openSQLite(m *metrics.Metrics) (*sqlite.Store, error) {
	return sqlite.Open(sqlite.Config{DBPath: a.cfg.SQLite.Path}, a.log, m)
}
