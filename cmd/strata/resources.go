package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/strata/internal/inspect"
	"github.com/mattjoyce/strata/internal/lock"
	"github.com/mattjoyce/strata/internal/log"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
	"github.com/mattjoyce/strata/internal/stage"
)

// --- NOUN DISPATCHERS ---

func runStagesNoun(args []string) int {
	if len(args) < 1 {
		printStagesNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printStagesNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata stages list [--config PATH] [--stages-dir DIR] [--json]")
			fmt.Println("Show the stages a run would execute, in order, without running them.")
			return 0
		}
		return runStagesList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown stages action: %s\n", action)
		return 1
	}
}

func runSnapshotNoun(args []string) int {
	if len(args) < 1 {
		printSnapshotNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSnapshotNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata snapshot list [--config PATH] [--json]")
			return 0
		}
		return runSnapshotList(actionArgs)
	case "create":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata snapshot create [--config PATH]")
			fmt.Println("Archive the data directory now, outside of a run.")
			return 0
		}
		return runSnapshotCreate(actionArgs)
	case "restore":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata snapshot restore <name> --to DIR [--config PATH]")
			fmt.Println("Copy an archive into DIR, which must be absent or empty.")
			return 0
		}
		return runSnapshotRestore(actionArgs)
	case "verify":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata snapshot verify <name> [--config PATH]")
			fmt.Println("Check an archive against the digests recorded when it was created.")
			return 0
		}
		return runSnapshotVerify(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown snapshot action: %s\n", action)
		return 1
	}
}

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata history list [--config PATH] [--limit N] [--json]")
			return 0
		}
		return runHistoryList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata history show <run_id> [--config PATH] [--output] [--json]")
			fmt.Println("Show one run and its stage log. A unique run id prefix is enough.")
			return 0
		}
		return runHistoryShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

func printStagesNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: strata stages <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printSnapshotNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: strata snapshot <action>")
	fmt.Fprintln(w, "Actions: list, create, restore, verify")
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: strata history <action>")
	fmt.Fprintln(w, "Actions: list, show")
}

// --- ACTION IMPLEMENTATIONS ---

func runStagesList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	stagesDir := fs.String("stages-dir", "", "Directory containing stage scripts")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	dir := cfg.StagesDir
	if *stagesDir != "" {
		dir = cfg.ResolveStagesDir(*stagesDir)
	}

	units, err := stage.Discover(dir, cfg.StageOptions(), discoveryLogger(log.WithComponent("discovery")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stage discovery failed: %v\n", err)
		return 1
	}

	printer := inspect.NewPrinter(os.Stdout)
	if *jsonOut {
		if err := printer.JSON(units); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		return 0
	}
	printer.Stages(units)
	return 0
}

func runSnapshotList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	snaps, err := snapshot.NewFSManager(cfg.DataDir, cfg.HistoryDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	list, err := snaps.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list snapshots: %v\n", err)
		return 1
	}
	if list == nil {
		list = []snapshot.Snapshot{}
	}

	printer := inspect.NewPrinter(os.Stdout)
	if *jsonOut {
		if err := printer.JSON(list); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		return 0
	}
	printer.Snapshots(list)
	return 0
}

func runSnapshotCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	pidLock, err := lock.AcquirePIDLock(cfg.LockPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire lock: %v\n", err)
		return 1
	}
	defer pidLock.Release()

	ctx := context.Background()
	proj, err := openProject(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer proj.Close()

	snap, err := proj.snaps.Create(ctx, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Snapshot failed: %v\n", err)
		return 1
	}
	if snap == nil {
		fmt.Printf("Nothing to archive: %s is missing or empty.\n", cfg.DataDir)
		return 0
	}
	if err := proj.store.RecordSnapshot(ctx, "", snap); err != nil {
		fmt.Fprintf(os.Stderr, "Snapshot %s created but not recorded: %v\n", snap.Name, err)
		return 1
	}
	fmt.Printf("Created snapshot %s (%d files)\n", snap.Name, len(snap.Files))
	return 0
}

func runSnapshotRestore(args []string) int {
	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true, "--to": true, "-to": true})

	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	to := fs.String("to", "", "Destination directory (must be absent or empty)")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 || *to == "" {
		fmt.Fprintln(os.Stderr, "Usage: strata snapshot restore <name> --to DIR [--config PATH]")
		return 1
	}
	name := positionals[0]

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	dst, err := filepath.Abs(*to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	snaps, err := snapshot.NewFSManager(cfg.DataDir, cfg.HistoryDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	// Restoring over the live data directory must not race a run.
	if filepath.Clean(dst) == filepath.Clean(cfg.DataDir) {
		pidLock, err := lock.AcquirePIDLock(cfg.LockPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to acquire lock: %v\n", err)
			return 1
		}
		defer pidLock.Release()
	}

	if err := snaps.Restore(context.Background(), name, dst); err != nil {
		switch {
		case errors.Is(err, snapshot.ErrNotFound), errors.Is(err, snapshot.ErrInvalidName):
			fmt.Fprintf(os.Stderr, "No such snapshot: %s\n", name)
		case errors.Is(err, snapshot.ErrDestinationNotEmpty):
			fmt.Fprintf(os.Stderr, "Refusing to restore: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Restore failed: %v\n", err)
		}
		return 1
	}
	fmt.Printf("Restored %s to %s\n", name, dst)
	return 0
}

func runSnapshotVerify(args []string) int {
	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true})

	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: strata snapshot verify <name> [--config PATH]")
		return 1
	}
	name := positionals[0]

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	proj, err := openProject(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer proj.Close()

	want, err := proj.store.SnapshotDigests(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot verify %s: %v\n", name, err)
		return 1
	}
	if err := proj.snaps.Verify(ctx, name, want); err != nil {
		fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
		return 1
	}
	fmt.Printf("Snapshot %s verified (%d files)\n", name, len(want))
	return 0
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	limit := fs.Int("limit", 20, "Maximum number of runs to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be a positive integer")
		return 1
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	proj, err := openProject(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer proj.Close()

	runs, err := proj.store.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}
	if runs == nil {
		runs = []runlog.Run{}
	}

	printer := inspect.NewPrinter(os.Stdout)
	if *jsonOut {
		if err := printer.JSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		return 0
	}
	printer.Runs(runs)
	return 0
}

func runHistoryShow(args []string) int {
	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true})

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	withOutput := fs.Bool("output", false, "Include captured stdout and stderr")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: strata history show <run_id> [--config PATH] [--output] [--json]")
		return 1
	}
	runID := positionals[0]

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	proj, err := openProject(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer proj.Close()

	run, err := proj.store.GetRun(ctx, runID)
	if err != nil {
		switch {
		case errors.Is(err, runlog.ErrRunNotFound):
			fmt.Fprintf(os.Stderr, "No run matches %q\n", runID)
		case errors.Is(err, runlog.ErrAmbiguousRunID):
			fmt.Fprintf(os.Stderr, "Run id %q is ambiguous; use more characters\n", runID)
		default:
			fmt.Fprintf(os.Stderr, "Failed to read run: %v\n", err)
		}
		return 1
	}

	printer := inspect.NewPrinter(os.Stdout)
	if *jsonOut {
		if err := printer.JSON(run); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		return 0
	}
	printer.Run(run, *withOutput)
	return 0
}
