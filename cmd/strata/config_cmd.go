package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/strata/internal/config"
	"github.com/mattjoyce/strata/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata config check [--config PATH] [--json] [--strict]")
			fmt.Println("Validate the configuration and stage layout.")
			fmt.Println("Exit codes: 0 valid, 1 errors, 2 warnings only with --strict.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata config show [--config PATH] [--json]")
			fmt.Println("Print the effective configuration after defaults and environment overrides.")
			return 0
		}
		return runConfigShow(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: strata config lock [--config PATH] [--dry-run] [-v]")
			fmt.Println("Write a .checksums file next to the config. A locked config refuses to load once edited.")
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: strata config <action>")
	fmt.Fprintln(w, "Actions: check, show, lock")
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	strict := fs.Bool("strict", false, "Treat warnings as failures")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, cfg.StageOptions()).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	switch {
	case !result.Valid:
		return 1
	case *strict && len(result.Warnings) > 0:
		return 2
	default:
		return 0
	}
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
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

	shown := *cfg
	if shown.API.Token != "" {
		shown.API.Token = "<redacted>"
	}

	if *jsonOut {
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if cfg.SourcePath != "" {
		fmt.Printf("# %s\n", cfg.SourcePath)
	} else {
		fmt.Println("# defaults (no strata.yaml found)")
	}
	data, err := yaml.Marshal(shown)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to strata.yaml")
	dryRun := fs.Bool("dry-run", false, "Show what would be written")
	verbose := fs.Bool("v", false, "Print each file hash")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.SourcePath == "" {
		fmt.Fprintln(os.Stderr, "No config file to lock: create strata.yaml or pass --config")
		return 1
	}

	report, err := config.GenerateChecksumsWithReport(filepath.Dir(cfg.SourcePath), []string{filepath.Base(cfg.SourcePath)}, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	for _, f := range report.Files {
		if !f.Exists {
			fmt.Printf("  missing  %s\n", f.Filename)
			continue
		}
		if *verbose {
			fmt.Printf("  %s  %s\n", f.Hash, f.Filename)
		}
	}
	if *dryRun {
		fmt.Printf("Dry run: would write %s\n", report.ChecksumPath)
		return 0
	}
	fmt.Printf("Locked %s (%s)\n", cfg.SourcePath, report.ChecksumPath)
	return 0
}
