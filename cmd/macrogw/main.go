package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/macrogw/internal/api"
	"github.com/mattjoyce/macrogw/internal/config"
	"github.com/mattjoyce/macrogw/internal/dispatch"
	"github.com/mattjoyce/macrogw/internal/events"
	"github.com/mattjoyce/macrogw/internal/lock"
	"github.com/mattjoyce/macrogw/internal/log"
	"github.com/mattjoyce/macrogw/internal/macro"
	"github.com/mattjoyce/macrogw/internal/tui/watch"
	"github.com/mattjoyce/macrogw/internal/webhook"
)

const version = "0.3.0"

// eventBufferSize is how many events the hub keeps for Last-Event-ID replay.
const eventBufferSize = 256

// shutdownGrace bounds how long start waits for engines after a signal.
const shutdownGrace = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "job":
		os.Exit(runJobNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "watch":
		os.Exit(runWatch(args))
	case "doctor":
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("macrogw version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`macrogw - webhook-triggered browser automation gateway

Usage:
  macrogw <noun> <action> [flags]

Core Resources (Nouns):
  system    Gateway lifecycle and live monitoring
  config    Configuration validation and integrity
  job       Running engine jobs

System Commands:
  system start      Start the gateway service in foreground
  system watch      Live TUI of running jobs and events

Config Commands:
  config check      Validate configuration and host environment
  config lock       Authorize current config (write .checksums)

Job Commands:
  job list          List running jobs
  job kill <id>     Terminate a running job

General:
  version           Show version information
  help              Show this help message

Use 'macrogw <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

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
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printJobListHelp()
			return 0
		}
		return runJobList(actionArgs)
	case "kill":
		if hasHelpFlag(actionArgs) {
			printJobKillHelp()
			return 0
		}
		return runJobKill(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
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

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: macrogw system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: macrogw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: macrogw job <action> [flags]")
	fmt.Fprintln(w, "Actions: list, kill")
}

func printSystemStartHelp() {
	fmt.Println("Usage: macrogw system start [--config PATH]")
	fmt.Println("Start the gateway in the foreground. Without a config file the")
	fmt.Println("environment is used (API_PORT, API_KEY, MACRO_DIR, ENGINE_SCRIPT).")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: macrogw system watch [flags]")
	fmt.Println()
	fmt.Println("Live view of gateway health, running engine jobs and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Printf("  --api-url URL    Gateway API URL (default: %s)\n", defaultAPIURL)
	fmt.Println("  --api-key KEY    API key (or MACROGW_API_KEY / API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select job")
	fmt.Println("  x                Terminate selected job")
	fmt.Println("  r                Refresh")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: macrogw config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration, macro directory and engine executables.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: macrogw config lock [--config PATH] [--dry-run] [-v|--verbose]")
	fmt.Println("Authorize the current configuration by regenerating its BLAKE3 .checksums.")
}

func printJobListHelp() {
	fmt.Println("Usage: macrogw job list [--api-url URL] [--api-key KEY] [--json]")
	fmt.Println("List jobs whose engine is still running.")
}

func printJobKillHelp() {
	fmt.Println("Usage: macrogw job kill <id> [--api-url URL] [--api-key KEY]")
	fmt.Println("Terminate a running job by numeric id or job uuid.")
}

// --- ACTION IMPLEMENTATIONS ---

// resolveConfig loads the config at path, or a discovered one. With no path
// and nothing discovered it falls back to environment-only configuration.
func resolveConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.Discover()
		if errors.Is(err, config.ErrNoConfig) {
			return config.FromEnv()
		}
		if err != nil {
			return nil, err
		}
		path = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", path)
	}
	return config.Load(path)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("macrogw starting", "version", version, "config", cfg.SourcePath)

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer func() { _ = pidLock.Release() }()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	maxBody, err := config.ParseSize(cfg.API.MaxBodySize)
	if err != nil {
		logger.Error("invalid api.max_body_size", "value", cfg.API.MaxBodySize, "error", err)
		return 1
	}

	hub := events.NewHub(eventBufferSize)
	macros := macro.NewRepository(cfg.Macros.Dir, cfg.Macros.Extension)
	sender := webhook.NewSender(cfg.Webhook, version)
	disp := dispatch.New(cfg, macros, sender, hub)

	apiServer := api.New(api.Config{
		Listen:      cfg.API.Listen,
		APIKey:      cfg.API.APIKey,
		KeyHeader:   cfg.API.KeyHeader,
		MaxBodySize: maxBody,
		Engines:     cfg.EngineNames(),
	}, disp, hub, log.WithComponent("api"))

	logger.Info("macro repository", "dir", macros.Dir(), "engines", cfg.EngineNames(), "default_engine", cfg.DefaultEngine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("macrogw running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exit = 1
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownGrace)
	defer stop()
	if err := disp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engines still running at shutdown", "error", err)
	}

	logger.Info("macrogw stopped")
	return exit
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", defaultAPIURL, "Gateway API URL")
	apiKey := fs.String("api-key", envAPIKey(), "API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or MACROGW_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
