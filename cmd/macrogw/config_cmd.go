package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/mattjoyce/macrogw/internal/config"
	"github.com/mattjoyce/macrogw/internal/doctor"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.FgHiBlack)
)

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := resolveConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		printDoctorReport(result)
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func printDoctorReport(r *doctor.Result) {
	if color.NoColor {
		fmt.Print(doctor.FormatHuman(r))
		return
	}

	switch {
	case !r.Valid:
		fmt.Print(errorColor.Sprintf("✗ Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings)))
	case len(r.Warnings) > 0:
		fmt.Print(warnColor.Sprintf("! Configuration valid (%d warning(s))\n", len(r.Warnings)))
	default:
		fmt.Println(okColor.Sprint("✓ Configuration valid."))
		return
	}

	for _, e := range r.Errors {
		fmt.Print(errorColor.Sprint(doctor.FormatIssue("ERROR", e)))
	}
	for _, w := range r.Warnings {
		fmt.Print(warnColor.Sprint(doctor.FormatIssue("WARN ", w)))
	}
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	// Loading would fail verification on exactly the edits being authorized,
	// so only the path is resolved here.
	path, err := lockTarget(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config: %v\n", err)
		return 1
	}

	dir := filepath.Dir(path)
	report, err := config.Lock(dir, []string{filepath.Base(path)}, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
		return 1
	}

	if verbose || verboseShort {
		for _, f := range report.Files {
			if f.Exists {
				fmt.Printf("  HASH %s: %s\n", f.Filename, dimColor.Sprint(f.Hash))
				continue
			}
			fmt.Printf("  SKIP %s: not found\n", f.Filename)
		}
	}

	if dryRun {
		fmt.Printf("Dry run: would write %s (no files written)\n", report.ChecksumPath)
		return 0
	}
	fmt.Print(okColor.Sprintf("Locked configuration: %s\n", report.ChecksumPath))
	return 0
}

func lockTarget(configPath string) (string, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return "", err
		}
		configPath = discovered
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		abs = filepath.Join(abs, config.ConfigFileName)
		if _, err := os.Stat(abs); err != nil {
			return "", err
		}
	}
	return abs, nil
}
