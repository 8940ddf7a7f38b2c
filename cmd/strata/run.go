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
	"syscall"

	"github.com/mattjoyce/strata/internal/api"
	"github.com/mattjoyce/strata/internal/config"
	"github.com/mattjoyce/strata/internal/events"
	"github.com/mattjoyce/strata/internal/executor"
	"github.com/mattjoyce/strata/internal/inspect"
	"github.com/mattjoyce/strata/internal/lock"
	"github.com/mattjoyce/strata/internal/log"
	"github.com/mattjoyce/strata/internal/metrics"
	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/runstate"
	"github.com/mattjoyce/strata/internal/scheduler"
	"github.com/mattjoyce/strata/internal/snapshot"
	"github.com/mattjoyce/strata/internal/stage"
	"github.com/mattjoyce/strata/internal/storage"
)

// project bundles the persistent collaborators of a loaded configuration.
type project struct {
	cfg   *config.Config
	db    *sql.DB
	store *runlog.Store
	snaps *snapshot.FSManager
}

// openProject opens the run log and the snapshot manager.
func openProject(ctx context.Context, cfg *config.Config) (*project, error) {
	snaps, err := snapshot.NewFSManager(cfg.DataDir, cfg.HistoryDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot manager: %w", err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", cfg.State.Path, err)
	}
	return &project{cfg: cfg, db: db, store: runlog.New(db), snaps: snaps}, nil
}

func (p *project) Close() error {
	return p.db.Close()
}

// newOrchestrator wires the pipeline for cfg. recorder and observer may be nil.
func newOrchestrator(cfg *config.Config, opts orchestrator.Options, snaps orchestrator.Snapshotter, recorder orchestrator.Recorder, observer orchestrator.Observer) (*orchestrator.Orchestrator, error) {
	runner := executor.New(executor.Options{
		WorkDir:      cfg.ProjectRoot,
		GracePeriod:  cfg.Stages.GracePeriod,
		StreamOutput: cfg.Stages.StreamOutput || opts.Verbose,
	})
	deps := orchestrator.Deps{
		Detector:    runstate.NewDetector(cfg.DataDir),
		Snapshotter: snaps,
		Discoverer:  stage.NewFinder(cfg.StageOptions(), discoveryLogger(log.WithComponent("discovery"))),
		Runner:      runner,
		Recorder:    recorder,
		Observer:    observer,
	}
	return orchestrator.New(opts, deps)
}

func runPipeline(args []string) int {
	var configPath, stagesDir string
	var noBackup, dryRun, verbose, verboseShort, jsonOut bool

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to strata.yaml")
	fs.StringVar(&stagesDir, "stages-dir", "", "Directory containing stage scripts")
	fs.BoolVar(&noBackup, "no-backup", false, "Skip the data directory snapshot")
	fs.BoolVar(&dryRun, "dry-run", false, "Show what would run without changing anything")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging and streamed stage output")
	fs.BoolVar(&verboseShort, "v", false, "Debug logging and streamed stage output")
	fs.BoolVar(&jsonOut, "json", false, "Print the run report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", fs.Arg(0))
		printRunHelp()
		return 1
	}
	isVerbose := verbose || verboseShort

	cfg, err := loadConfig(configPath, isVerbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if stagesDir != "" {
		cfg.StagesDir = cfg.ResolveStagesDir(stagesDir)
	}
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := orchestrator.Options{
		StagesDir: cfg.StagesDir,
		Backup:    cfg.Backup.Enabled && !noBackup,
		DryRun:    dryRun,
		Verbose:   isVerbose,
		Source:    "cli",
	}

	var orch *orchestrator.Orchestrator
	if dryRun {
		// Dry runs take no lock and open no run log.
		snaps, err := snapshot.NewFSManager(cfg.DataDir, cfg.HistoryDir)
		if err != nil {
			logger.Error("failed to set up snapshots", "error", err)
			return 1
		}
		orch, err = newOrchestrator(cfg, opts, snaps, nil, nil)
		if err != nil {
			logger.Error("failed to build orchestrator", "error", err)
			return 1
		}
	} else {
		pidLock, err := lock.AcquirePIDLock(cfg.LockPath())
		if err != nil {
			logger.Error("failed to acquire lock (is another run in progress?)", "path", cfg.LockPath(), "error", err)
			return 1
		}
		defer pidLock.Release()

		proj, err := openProject(ctx, cfg)
		if err != nil {
			logger.Error("failed to open project", "error", err)
			return 1
		}
		defer proj.Close()

		orch, err = newOrchestrator(cfg, opts, proj.snaps, proj.store, nil)
		if err != nil {
			logger.Error("failed to build orchestrator", "error", err)
			return 1
		}
	}

	report, runErr := orch.Run(ctx)

	printer := inspect.NewPrinter(os.Stdout)
	if jsonOut {
		if err := printer.JSON(report); err != nil {
			logger.Error("failed to render report", "error", err)
			return 1
		}
	} else {
		printer.Report(report)
	}

	if runErr != nil {
		logRunError(logger, runErr)
		return 1
	}
	return 0
}

// logRunError emits the single top-level error line for a failed run.
func logRunError(logger *slog.Logger, err error) {
	var stageErr *executor.StageError
	switch {
	case errors.As(err, &stageErr):
		logger.Error("stage failed", "stage", stageErr.Stage, "exit_code", stageErr.ExitCode, "error", err)
	case errors.Is(err, orchestrator.ErrNoStages):
		logger.Error("nothing to run", "error", err)
	case errors.Is(err, stage.ErrInvalidUnit), errors.Is(err, stage.ErrManifest):
		logger.Error("stage discovery failed", "error", err)
	case errors.Is(err, snapshot.ErrSnapshotExists):
		logger.Error("snapshot failed", "error", err)
	case errors.Is(err, context.Canceled):
		logger.Error("run interrupted", "error", err)
	default:
		logger.Error("run failed", "error", err)
	}
}

func runDaemon(args []string) int {
	var configPath, cronExpr, listen string
	var noAPI, runOnStart, verbose, verboseShort bool

	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to strata.yaml")
	fs.StringVar(&cronExpr, "cron", "", "Cron expression (overrides schedule.cron)")
	jitter := fs.Duration("jitter", -1, "Random delay added to each run (overrides schedule.jitter)")
	fs.BoolVar(&runOnStart, "run-on-start", false, "Run once immediately")
	fs.StringVar(&listen, "listen", "", "API listen address (overrides api.listen)")
	fs.BoolVar(&noAPI, "no-api", false, "Do not start the API server")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&verboseShort, "v", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath, verbose || verboseShort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cronExpr != "" {
		cfg.Schedule.Cron = cronExpr
	}
	if *jitter >= 0 {
		cfg.Schedule.Jitter = *jitter
	}
	if runOnStart {
		cfg.Schedule.RunOnStart = true
	}
	if listen != "" {
		cfg.API.Listen = listen
	}
	if noAPI {
		cfg.API.Listen = ""
	}

	logger := log.WithComponent("main")
	if cfg.Schedule.Cron == "" {
		logger.Error("no schedule: set schedule.cron or pass --cron")
		return 1
	}
	schedule, err := scheduler.Parse(cfg.Schedule.Cron)
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		return 1
	}

	// The daemon is the project's only writer for as long as it lives.
	pidLock, err := lock.AcquirePIDLock(cfg.LockPath())
	if err != nil {
		logger.Error("failed to acquire lock (another instance may be running)", "path", cfg.LockPath(), "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proj, err := openProject(ctx, cfg)
	if err != nil {
		logger.Error("failed to open project", "error", err)
		return 1
	}
	defer proj.Close()

	collector := metrics.New()
	hub := events.NewHub(256)

	orch, err := newOrchestrator(cfg, orchestrator.Options{
		StagesDir: cfg.StagesDir,
		Backup:    cfg.Backup.Enabled,
		Source:    "daemon",
	}, proj.snaps, proj.store, orchestrator.Observers(collector, events.NewObserver(hub)))
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		return 1
	}

	sched := scheduler.New(schedule, scheduler.RunnerFunc(func(ctx context.Context) error {
		_, err := orch.Run(ctx)
		return err
	}), scheduler.Options{
		Jitter:     cfg.Schedule.Jitter,
		RunOnStart: cfg.Schedule.RunOnStart,
	}, log.Get())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)

	sched.Start(ctx)

	if cfg.API.Listen != "" {
		server := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, api.Deps{
			Runs:      proj.store,
			Snapshots: proj.snaps,
			Schedule:  sched,
			Events:    hub,
			Metrics:   collector.Handler(),
		}, log.Get())
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	logger.Info("strata daemon running (press Ctrl+C to stop)", "cron", cfg.Schedule.Cron, "stages_dir", cfg.StagesDir)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}

	// Canceling interrupts an in-flight stage; Stop then waits for the run to unwind.
	cancel()
	sched.Stop()
	logger.Info("strata daemon stopped")
	return code
}

func runServe(args []string) int {
	var configPath, listen string
	var verbose, verboseShort bool

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to strata.yaml")
	fs.StringVar(&listen, "listen", "", "Listen address (overrides api.listen)")
	fs.BoolVar(&verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&verboseShort, "v", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath, verbose || verboseShort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if listen != "" {
		cfg.API.Listen = listen
	}
	logger := log.WithComponent("main")
	if cfg.API.Listen == "" {
		logger.Error("no listen address: set api.listen or pass --listen")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proj, err := openProject(ctx, cfg)
	if err != nil {
		logger.Error("failed to open project", "error", err)
		return 1
	}
	defer proj.Close()

	server := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, api.Deps{
		Runs:      proj.store,
		Snapshots: proj.snaps,
		Metrics:   metrics.New().Handler(),
	}, log.Get())
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server failed", "error", err)
		return 1
	}
	return 0
}
