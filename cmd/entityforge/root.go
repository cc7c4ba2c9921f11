package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"entityforge/internal/config"
	"entityforge/internal/definitions"
	"entityforge/internal/pg"
	"entityforge/internal/reference"
)

var (
	cfgFile string
	v       = config.New()
	cfg     config.Config
	logger  = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "entityforge",
	Short: "Reconciles PostgreSQL schema with declared entity definitions",
	Long: `entityforge keeps one table, one view and the join tables of every declared
entity type in sync with its definition, and validates record values against it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = cfg.Logger(os.Stderr)
		slog.SetDefault(logger)
		if used := v.ConfigFileUsed(); used != "" {
			logger.Debug("config file", "path", used)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./entityforge.yaml)")
	flags.String("db", "", "PostgreSQL URL")
	flags.String("schema", "", "database schema for introspection (default public)")
	flags.String("enums", "", "directory with enum catalogs (*.yaml)")
	flags.String("log-level", "", "debug | info | warn | error")
	flags.String("log-format", "", "text | json")
	flags.Bool("advisory-lock", false, "lock entity types with pg_advisory_lock")

	bind := map[string]string{
		"db_url":        "db",
		"schema":        "schema",
		"enums_dir":     "enums",
		"log.level":     "log-level",
		"log.format":    "log-format",
		"advisory_lock": "advisory-lock",
	}
	for key, flag := range bind {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(serveCmd, applyCmd, seedCmd, orphansCmd, bootstrapCmd)
}

// app — собранные зависимости одной команды.
type app struct {
	db  *sql.DB
	svc *definitions.Service
}

func openApp(ctx context.Context) (*app, error) {
	if err := cfg.RequireDB(); err != nil {
		return nil, err
	}
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		return nil, fmt.Errorf("load enums from %s: %w", cfg.EnumsDir, err)
	}
	db, err := pg.Open(ctx, cfg.DBURL, cfg.PoolOptions())
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	opts := pg.EngineOptions{UUIDDefault: cfg.UUIDDefault, Protected: cfg.ProtectedTables}
	if cfg.AdvisoryLock {
		opts.Locker = pg.NewAdvisoryLocker(db)
	}
	engine := pg.NewEngine(db, pg.NewCatalog(db, cfg.Schema), enums, opts, logger)
	svc := definitions.NewService(definitions.NewStore(db), engine, enums, logger)

	logger.Info("connected", "schema", cfg.Schema, "enums", len(enums), "advisory_lock", cfg.AdvisoryLock)
	return &app{db: db, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		logger.Warn("close db", "err", err)
	}
}
