package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"welletl/internal/config"
	"welletl/internal/curate"
	"welletl/internal/logging"
	"welletl/internal/parser/pipe"
	"welletl/internal/storage"
)

// app carries what PersistentPreRunE prepares for the subcommands.
type app struct {
	stdout, stderr io.Writer

	cfgPath        string
	dbKind         string
	databaseURL    string
	logLevel       string
	logFormat      string
	metricsBackend string

	cfg     *config.Config
	log     *zap.Logger
	runID   string
	cleanup func()
}

func newRootCommand(a *app) *cobra.Command {
	rc := &cobra.Command{
		Use:   "welletl",
		Short: "Load well reports and groundwater wells into a relational store.",
		Long: `welletl mirrors the pipe-delimited driller report export into a raw text
schema, loads the curated well tables through the header alias dictionary
and links well reports to nearby groundwater database wells.

Settings come from an optional YAML file (--config), then the environment
(WELLETL_*, METRICS_*), then flags.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rc.SetOut(a.stdout)
	rc.SetErr(a.stderr)

	pf := rc.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&a.dbKind, "db-kind", "", "database kind: postgres, sqlite or mssql")
	pf.StringVar(&a.databaseURL, "database-url", "", "database connection string (env WELLETL_DATABASE_URL)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "", "json or console")
	pf.StringVar(&a.metricsBackend, "metrics-backend", "", "none, datadog or pushgateway")

	rc.AddCommand(newSnapshotCommand(a))
	rc.AddCommand(newAliasesCommand(a))
	rc.AddCommand(newMirrorCommand(a))
	rc.AddCommand(newETLCommand(a))
	rc.AddCommand(newLinkCommand(a))
	rc.AddCommand(newMigrateCommand(a))
	return rc
}

// setup loads and validates configuration, then builds the logger and the
// metrics backend.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db-kind") {
		cfg.Database.Kind = a.dbKind
	}
	if flags.Changed("database-url") {
		cfg.Database.URL = a.databaseURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("metrics-backend") {
		cfg.Metrics.Backend = a.metricsBackend
	}

	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintln(a.stderr, iss.String())
	}
	if config.HasErrors(issues) {
		return errors.New("configuration is invalid")
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.runID = uuid.NewString()
	a.log = log.With(zap.String("run_id", a.runID), zap.String("command", cmd.Name()))
	a.cfg = cfg

	a.cleanup, err = initMetrics(cmd.Context(), cfg.Metrics, a.runID, a.log)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) readerOptions() pipe.Options {
	opt := pipe.DefaultOptions()
	opt.Encoding = a.cfg.Source.Encoding
	opt.Delimiter = a.cfg.Source.DelimiterRune()
	return opt
}

func (a *app) bounds() curate.Bounds {
	c := a.cfg.Curated
	return curate.Bounds{MinLat: c.MinLat, MaxLat: c.MaxLat, MinLon: c.MinLon, MaxLon: c.MaxLon}
}

func (a *app) storageConfig() (storage.Config, error) {
	db := a.cfg.Database
	if db.URL == "" {
		return storage.Config{}, errors.New("database url is required (--database-url or WELLETL_DATABASE_URL)")
	}
	a.log.Info("connecting",
		zap.String("kind", db.Kind),
		zap.String("url", logging.SanitizeConnectionString(db.URL)),
	)
	return storage.Config{
		Kind:           db.Kind,
		DSN:            db.URL,
		MaxConnections: db.MaxConnections,
		Logger:         a.log,
	}, nil
}

// connectContext bounds backend connects by the configured timeout.
func (a *app) connectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Database.ConnectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Database.ConnectTimeout)
}

func (a *app) openCurated(ctx context.Context) (storage.CuratedRepository, error) {
	sc, err := a.storageConfig()
	if err != nil {
		return nil, err
	}
	cctx, cancel := a.connectContext(ctx)
	defer cancel()
	repo, err := storage.NewCurated(cctx, sc)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func (a *app) openMirror(ctx context.Context) (storage.MirrorRepository, error) {
	sc, err := a.storageConfig()
	if err != nil {
		return nil, err
	}
	cctx, cancel := a.connectContext(ctx)
	defer cancel()
	return storage.NewMirror(cctx, sc)
}

// printJSON writes the command summary to stdout.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
