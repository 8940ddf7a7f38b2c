package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/strata/internal/config"
	"github.com/mattjoyce/strata/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	// A bare invocation or one that starts with a flag is a pipeline run.
	if len(cliArgs) == 0 || (strings.HasPrefix(cliArgs[0], "-") && cliArgs[0] != "--version" && !isHelpToken(cliArgs[0])) {
		return runPipeline(cliArgs)
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "stages":
		return runStagesNoun(args)
	case "snapshot":
		return runSnapshotNoun(args)
	case "history":
		return runHistoryNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- VERBS ---
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runPipeline(args)
	case "daemon":
		if hasHelpFlag(args) {
			printDaemonHelp()
			return 0
		}
		return runDaemon(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: strata version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("strata %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`strata - ordered data-pipeline runner with snapshot protection

Usage:
  strata [run] [flags]
  strata <noun> <action> [flags]

Pipeline:
  run               Snapshot data/, then run every stage in order (default)
  daemon            Run the pipeline on a cron schedule, serving the API
  serve             Serve the read-only API over the run log

Resources (Nouns):
  stages    list                  Show stages in execution order
  snapshot  list|create|restore|verify
  history   list|show             Past runs and their stage logs
  config    check|show|lock       Validate, print or lock the configuration

General:
  version           Show version information
  help              Show this help message

Use 'strata <noun> help' or 'strata <command> --help' for flags.
`)
}

func printRunHelp() {
	fmt.Println("Usage: strata run [--config PATH] [--stages-dir DIR] [--no-backup] [--dry-run] [-v|--verbose] [--json]")
	fmt.Println("Snapshot the data directory, then execute each stage in order, stopping at the first failure.")
	fmt.Println("")
	fmt.Println("  --dry-run      Show what would run; touches no files and spawns no stages")
	fmt.Println("  --no-backup    Skip the snapshot of the data directory")
	fmt.Println("  --stages-dir   Override stages_dir from the config")
}

func printDaemonHelp() {
	fmt.Println("Usage: strata daemon [--config PATH] [--cron EXPR] [--jitter DUR] [--run-on-start] [--listen ADDR] [--no-api] [-v]")
	fmt.Println("Run the pipeline on a schedule. Runs never overlap; ticks missed during a long run are skipped.")
	fmt.Println("EXPR is a 5-field cron expression or a descriptor such as @daily or '@every 6h'.")
}

func printServeHelp() {
	fmt.Println("Usage: strata serve [--config PATH] [--listen ADDR] [-v]")
	fmt.Println("Serve /healthz, /runs, /runs/{id}, /snapshots and /metrics without running anything.")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitFlagsAndPositionals lets positionals appear before flags, which
// flag.Parse alone would not allow.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

// loadConfig discovers and loads the configuration, then sets up logging.
func loadConfig(configPath string, verbose bool) (*config.Config, error) {
	path, err := config.DiscoverConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log.Setup(level, cfg.Log.Format)
	if path != "" {
		log.Debug("configuration loaded", "path", path)
	} else {
		log.Debug("no config file found, using defaults", "project_root", cfg.ProjectRoot)
	}
	return cfg, nil
}

// discoveryLogger adapts slog to the level-string callback stage discovery uses.
func discoveryLogger(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		}
	}
}
