package main

import (
	"context"
	"database/sql"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/yourorg/scancache/internal/config"
	"github.com/yourorg/scancache/internal/db"
	"github.com/yourorg/scancache/internal/scanstore"
	"github.com/yourorg/scancache/internal/storage"
)

type app struct {
	configPath string
	verbose    bool

	logger  *log.Logger
	handle  *scanstore.Handle
	closers []func()
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

func newRootCmd() *cobra.Command {
	a := &app{handle: scanstore.New()}

	root := &cobra.Command{
		Use:          "scancache",
		Short:        "Inspect and maintain stored scan results",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := log.InfoLevel
			if a.verbose {
				level = log.DebugLevel
			}
			a.logger = newLogger(cmd.ErrOrStderr(), level)

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			s, closeFn, err := openStorage(cmd.Context(), cfg.Storage, a.logger)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, closeFn)
			a.handle.Use(s)
			a.logger.Debug("storage ready", "backend", a.handle.BackendName())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a TOML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(a.newPackagesCmd())
	root.AddCommand(a.newShowCmd())
	root.AddCommand(a.newAddCmd())
	root.AddCommand(a.newMigrateCmd())
	return root
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) logStats() {
	st := a.handle.Stats()
	a.logger.Info("access statistics", "reads", st.Reads, "hits", st.Hits)
}

// openStorage opens the database connection a relational backend needs and
// then the storage itself. The returned func releases the connection.
func openStorage(ctx context.Context, cfg config.Storage, logger *log.Logger) (*storage.Storage, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		conn    *sql.DB
		closeFn = func() {}
		err     error
	)
	switch cfg.Backend {
	case config.BackendPostgres:
		conn, closeFn, err = db.OpenPostgres(ctx, cfg.Postgres.URL)
	case config.BackendSQLite:
		conn, err = db.OpenSQLite(cfg.SQLite.Path)
		if err == nil {
			closeFn = func() { _ = conn.Close() }
		}
	}
	if err != nil {
		return nil, nil, err
	}

	s, err := scanstore.Open(ctx, cfg, scanstore.Deps{DB: conn, Logger: logger})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}
