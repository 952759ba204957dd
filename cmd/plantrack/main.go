package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/plantrack/plantrack/internal/config"
	"github.com/plantrack/plantrack/internal/cron"
	"github.com/plantrack/plantrack/internal/mcptool"
	"github.com/plantrack/plantrack/internal/migrate"
	otelPkg "github.com/plantrack/plantrack/internal/otel"
	"github.com/plantrack/plantrack/internal/persistence"
	"github.com/plantrack/plantrack/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = otelPkg.Version

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s [serve]                  Serve the plan tools over MCP stdio (default)
  %s migrate                  Run the schema migration pipeline and exit
  %s backup                   Take a verified backup of the store
  %s prune                    Remove backups past the retention window
  %s status                   Show schema version, pending patches, backups

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  PLANTRACK_HOME              Data directory (default: ~/.plantrack)
  PLANTRACK_LOG_LEVEL         Log level override (debug, info, warn, error)
  PLANTRACK_DAILY_BACKUP      Override the daily backup toggle
`)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch commandFromArgs(flag.Args()) {
	case "help":
		printUsage()
	case "serve":
		runServe(ctx)
	case "migrate":
		os.Exit(runMigrate(ctx))
	case "backup":
		os.Exit(runBackup())
	case "prune":
		os.Exit(runPrune(ctx))
	case "status":
		os.Exit(runStatus(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Args()[0])
		printUsage()
		os.Exit(2)
	}
}

// commandFromArgs picks the subcommand; no arguments means serve.
func commandFromArgs(args []string) string {
	if len(args) == 0 {
		return "serve"
	}
	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	switch cmd {
	case "-h", "--help":
		return "help"
	case "serve", "help", "migrate", "backup", "prune", "status":
		return cmd
	}
	return "unknown"
}

func fatalStartup(logger *slog.Logger, code string, err error) {
	if logger != nil {
		logger.Error("startup failed", "code", code, "error", err)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
	os.Exit(1)
}

func runServe(ctx context.Context) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// stdout carries the MCP protocol; logs mirror to stderr only when a
	// human is attached there.
	quiet := !isatty.IsTerminal(os.Stderr.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.DataDir, cfg.LogLevel, quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "config", cfg.Fingerprint())

	provider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer provider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	// Open runs the migration pipeline before the first business query.
	store, err := persistence.Open(ctx, config.DBPath(cfg.DataDir), logger)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	housekeeper := migrate.NewHousekeeper(config.DBPath(cfg.DataDir), "",
		cfg.Workflow.BackupRetainDays, logger)
	scheduler := cron.NewScheduler(cron.Config{
		Housekeeper: housekeeper,
		Logger:      logger,
		DailyBackup: cfg.Workflow.DailyBackup,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	workspace, err := os.Getwd()
	if err != nil {
		fatalStartup(logger, "E_WORKSPACE", err)
	}
	server := mcptool.New(mcptool.Options{
		Store:     store,
		Workspace: workspace,
		Config:    cfg,
		Logger:    logger,
		Tracer:    provider.Tracer,
		Metrics:   metrics,
	})

	watcher := config.NewWatcher(cfg.DataDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				reloaded, err := config.LoadFrom(cfg.DataDir)
				if err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				server.SetConfig(reloaded)
				scheduler.SetDailyBackup(reloaded.Workflow.DailyBackup)
				logger.Info("config reloaded", "config", reloaded.Fingerprint())
			}
		}()
	}

	logger.Info("startup phase", "phase", "serving", "workspace", workspace)
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatalStartup(logger, "E_SERVE", err)
	}
}

// cliLogger builds the logger for one-shot subcommands: file plus stderr.
func cliLogger(cfg config.Config) (*slog.Logger, func()) {
	logger, closer, err := telemetry.NewLogger(cfg.DataDir, cfg.LogLevel, false)
	if err != nil {
		return slog.Default(), func() {}
	}
	return logger, func() { _ = closer.Close() }
}

func runMigrate(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger, done := cliLogger(cfg)
	defer done()

	res, err := migrate.Ensure(ctx, migrate.Options{
		DBPath: config.DBPath(cfg.DataDir),
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		return 1
	}
	switch {
	case res.Fresh:
		fmt.Printf("initialized fresh store at schema version %d\n", res.ToVersion)
	case res.NoOp:
		fmt.Printf("store already at schema version %d\n", res.ToVersion)
	default:
		fmt.Printf("migrated schema version %d -> %d\n", res.FromVersion, res.ToVersion)
		if res.Backup != nil {
			fmt.Printf("backup: %s\n", res.Backup.Path)
		}
	}
	return 0
}

func runBackup() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	dbPath := config.DBPath(cfg.DataDir)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "no store at %s\n", dbPath)
		return 1
	}
	backup, err := migrate.CreateBackup(dbPath, "", migrate.TriggerManual)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		return 1
	}
	fmt.Printf("backup: %s\nsha256: %s\n", backup.Path, backup.Checksum)
	return 0
}

func runPrune(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger, done := cliLogger(cfg)
	defer done()

	housekeeper := migrate.NewHousekeeper(config.DBPath(cfg.DataDir), "",
		cfg.Workflow.BackupRetainDays, logger)
	removed := housekeeper.Prune(ctx)
	fmt.Printf("pruned %d backup(s) older than %d days\n", removed, cfg.Workflow.BackupRetainDays)
	return 0
}

func runStatus(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	dbPath := config.DBPath(cfg.DataDir)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Printf("store:   %s (absent)\n", dbPath)
		fmt.Printf("shipped: schema version %d\n", migrate.Shipped().Latest())
		return 0
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer db.Close()

	version, err := migrate.CurrentVersion(ctx, db)
	switch {
	case errors.Is(err, migrate.ErrStoreUninitialized):
		fmt.Printf("store:   %s (no schema ledger)\n", dbPath)
	case err != nil:
		fmt.Fprintf(os.Stderr, "read schema version: %v\n", err)
		return 1
	default:
		fmt.Printf("store:   %s\n", dbPath)
		fmt.Printf("schema:  version %d (%d pending patch(es))\n",
			version, len(migrate.Shipped().Pending(version)))
	}

	backupDir := migrate.DefaultBackupDir(dbPath)
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		fmt.Printf("backups: none\n")
		return 0
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	fmt.Printf("backups: %d in %s\n", len(names), backupDir)
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	return 0
}
